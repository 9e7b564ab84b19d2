package publisher

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/azogue/pvpcbill/internal/config"
)

func parseRequiredAcks(v string) (sarama.RequiredAcks, error) {
	switch strings.ToLower(v) {
	case "none", "no_response", "0":
		return sarama.NoResponse, nil
	case "leader", "local", "wait_for_local", "1":
		return sarama.WaitForLocal, nil
	case "all", "wait_for_all", "-1":
		return sarama.WaitForAll, nil
	default:
		return sarama.WaitForAll, fmt.Errorf("invalid kafka requiredAcks: %s", v)
	}
}

func parseCompression(codec string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(codec) {
	case "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "", "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionSnappy, fmt.Errorf("invalid kafka compression codec: %s", codec)
	}
}

// saramaConfig translates the producer settings into a Sarama config.
func saramaConfig(cfg config.ProducerConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	acks, err := parseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = acks

	compression, err := parseCompression(cfg.CompressionCodec)
	if err != nil {
		return nil, err
	}
	sc.Producer.Compression = compression
	// zstd needs a broker protocol version that knows it.
	if compression == sarama.CompressionZSTD {
		sc.Version = sarama.V2_1_0_0
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Flush.Bytes = cfg.FlushBytes
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Retry.Backoff = cfg.RetryBackoff
	sc.Producer.Return.Successes = cfg.ReturnSuccesses
	// Without returned errors failed deliveries are only logged by Sarama
	// and never reach the retry queue.
	sc.Producer.Return.Errors = cfg.ReturnErrors

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka producer config: %w", err)
	}
	return sc, nil
}
