package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	ESIOS     ESIOSConfig     `mapstructure:"esios"`
	Store     StoreConfig     `mapstructure:"store"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// File is the config file in use, empty when running on defaults and environment.
	File string `mapstructure:"-"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
}

// KafkaConfig defines Kafka producer settings. Publishing is off unless Enabled.
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	DLQTopic string         `mapstructure:"dlq_topic"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig defines Sarama producer settings.
type ProducerConfig struct {
	RequiredAcks     string        `mapstructure:"required_acks"`
	CompressionCodec string        `mapstructure:"compression_codec"`
	FlushFrequency   time.Duration `mapstructure:"flush_frequency"`
	FlushMessages    int           `mapstructure:"flush_messages"`
	FlushBytes       int           `mapstructure:"flush_bytes"`
	RetryMax         int           `mapstructure:"retry_max"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ReturnSuccesses  bool          `mapstructure:"return_successes"`
	ReturnErrors     bool          `mapstructure:"return_errors"`
}

// PublisherConfig defines the bill publisher's internal queues.
type PublisherConfig struct {
	QueueCapacity int         `mapstructure:"queue_capacity"`
	NumWorkers    int         `mapstructure:"num_workers"`
	Retry         RetryConfig `mapstructure:"retry"`
}

// RetryConfig defines settings for the retry mechanism.
type RetryConfig struct {
	ChannelCapacity   int           `mapstructure:"channel_capacity"`
	NumWorkers        int           `mapstructure:"num_workers"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// ESIOSConfig defines the PVPC price client.
type ESIOSConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        uint64        `mapstructure:"max_retries"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// StoreConfig defines the local price cache. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// BillingConfig defines regulatory tables and contract defaults.
type BillingConfig struct {
	TablesPath       string          `mapstructure:"tables_path"`
	BatchConcurrency int             `mapstructure:"batch_concurrency"`
	Defaults         ContractDefault `mapstructure:"defaults"`
}

// ContractDefault fills the contract fields a request or command line leaves out.
type ContractDefault struct {
	CUPS               string  `mapstructure:"cups"`
	Tariff             string  `mapstructure:"tariff"`
	TaxZone            string  `mapstructure:"tax_zone"`
	ContractedPowerKW  float64 `mapstructure:"contracted_power_kw"`
	AnnualRentalFee    float64 `mapstructure:"annual_rental_fee"`
	ElectricityTaxRate float64 `mapstructure:"electricity_tax_rate"`
	SocialDiscount     bool    `mapstructure:"social_discount"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from config.yaml in configPath (or the working
// directory) and from environment variables, SERVER_PORT overriding server.port.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var used string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.File = used

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit_per_second", 50)
	v.SetDefault("server.max_body_bytes", 8<<20)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "pvpc-bills")
	v.SetDefault("kafka.dlq_topic", "pvpc-bills-dlq")
	v.SetDefault("kafka.producer.required_acks", "leader")
	v.SetDefault("kafka.producer.compression_codec", "snappy")
	v.SetDefault("kafka.producer.flush_frequency", 500*time.Millisecond)
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.retry_backoff", 100*time.Millisecond)
	v.SetDefault("kafka.producer.return_successes", false)
	v.SetDefault("kafka.producer.return_errors", true)

	v.SetDefault("publisher.queue_capacity", 1000)
	v.SetDefault("publisher.num_workers", 4)
	v.SetDefault("publisher.retry.channel_capacity", 1000)
	v.SetDefault("publisher.retry.num_workers", 2)
	v.SetDefault("publisher.retry.max_retries", 5)
	v.SetDefault("publisher.retry.initial_backoff", 200*time.Millisecond)
	v.SetDefault("publisher.retry.max_backoff", 10*time.Second)
	v.SetDefault("publisher.retry.backoff_multiplier", 2.0)

	v.SetDefault("esios.base_url", "https://api.esios.ree.es")
	v.SetDefault("esios.timeout", 10*time.Second)
	v.SetDefault("esios.requests_per_second", 5.0)
	v.SetDefault("esios.burst", 2)
	v.SetDefault("esios.max_retries", 3)
	v.SetDefault("esios.retry_interval", 500*time.Millisecond)
	v.SetDefault("esios.concurrency", 4)

	v.SetDefault("store.path", "")

	v.SetDefault("billing.tables_path", "")
	v.SetDefault("billing.batch_concurrency", 4)
	v.SetDefault("billing.defaults.cups", model.DefaultCUPS)
	v.SetDefault("billing.defaults.tariff", tariff.General.Key())
	v.SetDefault("billing.defaults.tax_zone", tariff.PeninsulaBaleares.Code())
	v.SetDefault("billing.defaults.contracted_power_kw", model.DefaultContractedPowerKW)
	v.SetDefault("billing.defaults.annual_rental_fee", model.DefaultAnnualRentalFee)
	v.SetDefault("billing.defaults.electricity_tax_rate", model.DefaultElectricityTaxRate)
	v.SetDefault("billing.defaults.social_discount", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the values the services cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers must be specified")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic must be specified")
		}
		if c.Publisher.QueueCapacity <= 0 {
			return fmt.Errorf("publisher queue_capacity must be positive")
		}
		if c.Publisher.NumWorkers <= 0 {
			return fmt.Errorf("publisher num_workers must be positive")
		}
	}
	if c.Billing.BatchConcurrency <= 0 {
		return fmt.Errorf("billing batch_concurrency must be positive")
	}
	if _, err := c.Billing.Defaults.Contract(); err != nil {
		return fmt.Errorf("billing defaults: %w", err)
	}
	return nil
}

// Contract builds the default contract.
func (d ContractDefault) Contract() (model.Contract, error) {
	t, err := tariff.ParseType(d.Tariff)
	if err != nil {
		return model.Contract{}, err
	}
	zone, err := tariff.ParseTaxZone(d.TaxZone)
	if err != nil {
		return model.Contract{}, err
	}
	c := model.Contract{
		Tariff:             t,
		ContractedPowerKW:  d.ContractedPowerKW,
		WithSocialDiscount: d.SocialDiscount,
		TaxZone:            zone,
		AnnualRentalFee:    d.AnnualRentalFee,
		ElectricityTaxRate: d.ElectricityTaxRate,
		CUPS:               d.CUPS,
	}
	if err := c.Validate(); err != nil {
		return model.Contract{}, err
	}
	return c, nil
}

// Tables returns the regulatory tables: the embedded ones, or the file at TablesPath.
func (b BillingConfig) Tables() (*tariff.Tables, error) {
	if b.TablesPath == "" {
		return tariff.DefaultTables(), nil
	}
	return tariff.LoadTables(b.TablesPath)
}
