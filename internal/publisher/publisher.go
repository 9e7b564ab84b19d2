// internal/publisher/publisher.go
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/model"
)

var (
	// ErrQueueFull is returned by Publish when the queue has no room left.
	ErrQueueFull = errors.New("publisher: queue full")
	// ErrStopped is returned by Publish after Stop.
	ErrStopped = errors.New("publisher: stopped")
)

// Kafka record headers.
const (
	HeaderBillID        = "bill_id"
	HeaderIdentifier    = "identifier"
	HeaderOriginalTopic = "original_topic"
	HeaderRetryCount    = "retry_count"
)

// delivery travels in ProducerMessage.Metadata.
type delivery struct {
	billID  string
	retries int
	dlq     bool
}

// Stats is a snapshot of the publisher counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Retried  uint64 `json:"retried"`
	DLQ      uint64 `json:"dlq"`
	Pending  int    `json:"pending"`
}

// Publisher sends computed bills to Kafka through an async producer, with a
// retry queue and a dead-letter topic for deliveries that keep failing.
type Publisher struct {
	topic           string
	dlqTopic        string
	returnSuccesses bool
	cfg             config.PublisherConfig
	logger          *zap.Logger
	metrics         *metrics.Metrics

	producer  sarama.AsyncProducer
	queue     chan model.Bill
	retryChan chan *sarama.ProducerMessage

	workerWg       sync.WaitGroup
	retryWorkerWg  sync.WaitGroup
	notifyWg       sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	stateMu  sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// New connects a Sarama async producer to the configured brokers.
func New(kcfg config.KafkaConfig, pcfg config.PublisherConfig, logger *zap.Logger, m *metrics.Metrics) (*Publisher, error) {
	sc, err := saramaConfig(kcfg.Producer)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(kcfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("error creating Sarama AsyncProducer: %w", err)
	}
	return NewWithProducer(producer, kcfg, pcfg, logger, m), nil
}

// NewWithProducer wraps an existing producer. The publisher owns it from now on
// and closes it in Stop.
func NewWithProducer(producer sarama.AsyncProducer, kcfg config.KafkaConfig, pcfg config.PublisherConfig, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	p := &Publisher{
		topic:           kcfg.Topic,
		dlqTopic:        kcfg.DLQTopic,
		returnSuccesses: kcfg.Producer.ReturnSuccesses,
		cfg:             pcfg,
		logger:          logger,
		metrics:         m,
		producer:        producer,
		queue:           make(chan model.Bill, max(pcfg.QueueCapacity, 1)),
		retryChan:       make(chan *sarama.ProducerMessage, max(pcfg.Retry.ChannelCapacity, 1)),
		shutdownCtx:     shutdownCtx,
		shutdownCancel:  shutdownCancel,
	}

	p.notifyWg.Add(1)
	go p.handleProducerNotifications()
	return p
}

// Start launches the publishing and retry worker pools.
func (p *Publisher) Start() {
	p.logger.Info("Starting bill publisher",
		zap.String("topic", p.topic),
		zap.Int("num_workers", p.cfg.NumWorkers),
		zap.Int("queue_capacity", cap(p.queue)),
		zap.Int("retry_channel_capacity", cap(p.retryChan)),
		zap.Int("num_retry_workers", p.cfg.Retry.NumWorkers),
	)

	for i := 0; i < max(p.cfg.NumWorkers, 1); i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}
	for i := 0; i < p.cfg.Retry.NumWorkers; i++ {
		p.retryWorkerWg.Add(1)
		go p.retryWorker(i)
	}
}

// Publish queues a bill without blocking.
func (p *Publisher) Publish(ctx context.Context, bill model.Bill) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- bill:
		p.metrics.SetPublishPending(len(p.queue))
		return nil
	default:
		p.count(func(s *Stats) { s.Dropped++ })
		return ErrQueueFull
	}
}

// Stop drains the queue, hands pending retries to the dead-letter topic and
// closes the producer once every notification has been handled.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping bill publisher")

		p.stateMu.Lock()
		p.stopped = true
		close(p.queue)
		p.stateMu.Unlock()
		p.workerWg.Wait()

		p.shutdownCancel()
		p.retryWorkerWg.Wait()

		for drained := false; !drained; {
			select {
			case msg := <-p.retryChan:
				p.sendToDLQ(msg)
			default:
				drained = true
			}
		}

		p.producer.AsyncClose()
		p.notifyWg.Wait()
		p.metrics.SetPublishPending(0)
		p.logger.Info("Bill publisher stopped", zap.Any("stats", p.Stats()))
	})
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Pending = len(p.queue) + len(p.retryChan)
	return s
}

func (p *Publisher) worker(id int) {
	defer p.workerWg.Done()
	p.logger.Debug("Publish worker started", zap.Int("worker_id", id))

	for bill := range p.queue {
		p.metrics.SetPublishPending(len(p.queue))
		p.processBill(bill)
	}
	p.logger.Debug("Queue closed, publish worker exiting", zap.Int("worker_id", id))
}

// processBill encodes a bill and hands it to the producer, keyed by CUPS so that
// the bills of one supply point keep their order.
func (p *Publisher) processBill(bill model.Bill) {
	billID := uuid.NewString()
	value, err := json.Marshal(bill)
	if err != nil {
		p.logger.Error("Failed to marshal bill to JSON", zap.String("bill_id", billID), zap.Error(err))
		p.count(func(s *Stats) { s.Dropped++ })
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(bill.Contract.CUPS),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderBillID), Value: []byte(billID)},
			{Key: []byte(HeaderIdentifier), Value: []byte(bill.Identifier())},
		},
		Metadata: delivery{billID: billID},
	}

	// The producer input is unbuffered: block until the dispatcher takes it.
	select {
	case p.producer.Input() <- msg:
		p.count(func(s *Stats) { s.Accepted++ })
		p.logger.Debug("Bill sent to Kafka producer input", zap.String("bill_id", billID))
	case <-p.shutdownCtx.Done():
		p.logger.Warn("Publisher shutting down. Dropping bill.",
			zap.String("bill_id", billID),
			zap.String("topic", p.topic),
		)
		p.count(func(s *Stats) { s.Dropped++ })
	}
}

func (p *Publisher) handleProducerNotifications() {
	defer p.notifyWg.Done()

	successes, errs := p.producer.Successes(), p.producer.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			if p.returnSuccesses {
				p.count(func(s *Stats) { s.Sent++ })
				p.metrics.IncPublish(metrics.PublishSent)
				p.logger.Debug("Message successfully sent to Kafka",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
				)
			}
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.count(func(s *Stats) { s.Failed++ })
			p.metrics.IncPublish(metrics.PublishFailed)
			p.logger.Error("Failed to produce message to Kafka",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err),
			)
			if d, _ := perr.Msg.Metadata.(delivery); d.dlq {
				p.logger.Error("Dead-letter delivery failed. Bill lost.", zap.String("bill_id", d.billID))
				continue
			}
			p.sendToRetryQueue(perr.Msg)
		}
	}
	p.logger.Debug("Producer notification channels closed")
}

func (p *Publisher) sendToRetryQueue(msg *sarama.ProducerMessage) {
	if p.shutdownCtx.Err() != nil {
		p.logger.Error("Publisher shutting down. Abandoning failed message.", zap.String("topic", msg.Topic))
		return
	}
	select {
	case p.retryChan <- msg:
		p.logger.Debug("Message sent to retry queue", zap.String("topic", msg.Topic))
	default:
		p.logger.Error("Retry queue full. Dropping failed message.", zap.String("topic", msg.Topic))
		p.count(func(s *Stats) { s.Dropped++ })
	}
}

func (p *Publisher) retryWorker(id int) {
	defer p.retryWorkerWg.Done()
	p.logger.Debug("Retry worker started", zap.Int("retry_worker_id", id))

	for {
		select {
		case msg := <-p.retryChan:
			p.retryMessage(msg)
		case <-p.shutdownCtx.Done():
			p.logger.Debug("Shutdown signal received, retry worker exiting", zap.Int("retry_worker_id", id))
			return
		}
	}
}

// backoff is the exponential delay before attempt n+1, capped and with up to 10% jitter.
func (p *Publisher) backoff(retries int) time.Duration {
	rc := p.cfg.Retry
	d := time.Duration(float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(retries)))
	if rc.MaxBackoff > 0 && d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	if jitter := int64(d / 10); jitter > 0 {
		d += time.Duration(rand.Int63n(jitter))
	}
	return d
}

func (p *Publisher) retryMessage(msg *sarama.ProducerMessage) {
	d, _ := msg.Metadata.(delivery)
	if d.retries >= p.cfg.Retry.MaxRetries {
		p.logger.Warn("Message exceeded max retry attempts. Sending to DLQ.",
			zap.String("topic", msg.Topic),
			zap.String("bill_id", d.billID),
			zap.Int("retry_count", d.retries),
		)
		p.sendToDLQ(msg)
		return
	}

	wait := p.backoff(d.retries)
	p.logger.Info("Retrying message",
		zap.String("topic", msg.Topic),
		zap.String("bill_id", d.billID),
		zap.Int("attempt", d.retries+1),
		zap.Duration("backoff", wait),
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		d.retries++
		msg.Metadata = d
		select {
		case p.producer.Input() <- msg:
			p.count(func(s *Stats) { s.Retried++ })
			p.metrics.IncPublish(metrics.PublishRetried)
		case <-p.shutdownCtx.Done():
			p.logger.Info("Shutdown received before retry was accepted. Sending to DLQ.", zap.String("bill_id", d.billID))
			p.sendToDLQ(msg)
		}
	case <-p.shutdownCtx.Done():
		p.logger.Info("Shutdown received during message retry. Sending to DLQ.", zap.String("bill_id", d.billID))
		p.sendToDLQ(msg)
	}
}

// sendToDLQ publishes a persistently failed message to the dead-letter topic.
func (p *Publisher) sendToDLQ(msg *sarama.ProducerMessage) {
	d, _ := msg.Metadata.(delivery)
	if p.dlqTopic == "" {
		p.logger.Error("No DLQ topic configured. Dropping failed message.", zap.String("bill_id", d.billID))
		p.count(func(s *Stats) { s.Dropped++ })
		return
	}

	headers := append([]sarama.RecordHeader(nil), msg.Headers...)
	headers = append(headers,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(msg.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(fmt.Sprint(d.retries))},
	)
	dlqMessage := &sarama.ProducerMessage{
		Topic:    p.dlqTopic,
		Key:      msg.Key,
		Value:    msg.Value,
		Headers:  headers,
		Metadata: delivery{billID: d.billID, retries: d.retries, dlq: true},
	}

	// The producer stays open until Stop has drained every retry, so this send
	// always completes.
	p.producer.Input() <- dlqMessage
	p.count(func(s *Stats) { s.DLQ++ })
	p.metrics.IncPublish(metrics.PublishDLQ)
	p.logger.Info("Message sent to DLQ",
		zap.String("dlq_topic", p.dlqTopic),
		zap.String("original_topic", msg.Topic),
		zap.String("bill_id", d.billID),
	)
}

func (p *Publisher) count(f func(*Stats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}
