// Package config loads the service configuration from a YAML file and
// the environment, with sane defaults for single-node development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the event service.
type Config struct {
	ServiceName string `mapstructure:"service_name"`

	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Bus         BusConfig         `mapstructure:"bus"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Export      ExportConfig      `mapstructure:"export"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type BusConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxConcurrentEvents int           `mapstructure:"max_concurrent_events"`
	BufferSize          int           `mapstructure:"buffer_size"`
	BatchProcessing     bool          `mapstructure:"batch_processing"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
}

type StreamConfig struct {
	MaxBufferSize      int           `mapstructure:"max_buffer_size"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
	PersistenceEnabled bool          `mapstructure:"persistence_enabled"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

type PersistenceConfig struct {
	DSN                  string        `mapstructure:"dsn"`
	RetentionDays        int           `mapstructure:"retention_days"`
	BatchSize            int           `mapstructure:"batch_size"`
	FlushInterval        time.Duration `mapstructure:"flush_interval"`
	EnableCompression    bool          `mapstructure:"enable_compression"`
	CompressionThreshold int           `mapstructure:"compression_threshold"`
	ArchiveEnabled       bool          `mapstructure:"archive_enabled"`
}

type MonitoringConfig struct {
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	RetentionDays     int           `mapstructure:"retention_days"`
	MaxHistory        int           `mapstructure:"max_history"`
	MaxErrorRate      float64       `mapstructure:"max_error_rate"`
	MaxAvgLatency     time.Duration `mapstructure:"max_avg_latency"`
	MaxQueueSize      int           `mapstructure:"max_queue_size"`
	MaxHeapBytes      uint64        `mapstructure:"max_heap_bytes"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	ReportInterval    time.Duration `mapstructure:"report_interval"`
}

type ProcessorConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

type RegistryConfig struct {
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MailboxSize      int           `mapstructure:"mailbox_size"`
}

type IngestConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sink    string `mapstructure:"sink"` // "amqp" or "channel"
	AMQPURL string `mapstructure:"amqp_url"`
}

type ExportConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Sink         string   `mapstructure:"sink"` // "channel", "amqp" or "kafka"
	AMQPURL      string   `mapstructure:"amqp_url"`
	Exchange     string   `mapstructure:"exchange"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoadConfig reads configuration from the optional file at path and the
// JOBFINDERS_EVENTS_* environment, layered over defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JOBFINDERS_EVENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "jobfinders-event-service")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("bus.max_retries", 3)
	v.SetDefault("bus.retry_delay", time.Second)
	v.SetDefault("bus.timeout", 30*time.Second)
	v.SetDefault("bus.max_concurrent_events", 100)
	v.SetDefault("bus.buffer_size", 1000)
	v.SetDefault("bus.batch_processing", false)
	v.SetDefault("bus.batch_size", 10)
	v.SetDefault("bus.batch_timeout", 100*time.Millisecond)

	v.SetDefault("stream.max_buffer_size", 1000)
	v.SetDefault("stream.flush_interval", 5*time.Second)
	v.SetDefault("stream.persistence_enabled", true)
	v.SetDefault("stream.retry_attempts", 3)
	v.SetDefault("stream.retry_delay", time.Second)

	v.SetDefault("persistence.dsn", "")
	v.SetDefault("persistence.retention_days", 90)
	v.SetDefault("persistence.batch_size", 100)
	v.SetDefault("persistence.flush_interval", 5*time.Second)
	v.SetDefault("persistence.enable_compression", true)
	v.SetDefault("persistence.compression_threshold", 1024)
	v.SetDefault("persistence.archive_enabled", true)

	v.SetDefault("monitoring.metrics_interval", 30*time.Second)
	v.SetDefault("monitoring.health_interval", time.Minute)
	v.SetDefault("monitoring.retention_days", 7)
	v.SetDefault("monitoring.max_history", 2880)
	v.SetDefault("monitoring.max_error_rate", 0.05)
	v.SetDefault("monitoring.max_avg_latency", 500*time.Millisecond)
	v.SetDefault("monitoring.max_queue_size", 5000)
	v.SetDefault("monitoring.max_heap_bytes", uint64(1<<30))
	v.SetDefault("monitoring.max_processing_time", 2*time.Second)
	v.SetDefault("monitoring.report_interval", 30*time.Second)

	v.SetDefault("processor.queue_capacity", 1024)

	v.SetDefault("registry.eviction_interval", 15*time.Minute)
	v.SetDefault("registry.idle_timeout", 30*time.Minute)
	v.SetDefault("registry.mailbox_size", 2048)

	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.sink", "channel")
	v.SetDefault("ingest.amqp_url", "")

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.sink", "channel")
	v.SetDefault("export.amqp_url", "")
	v.SetDefault("export.exchange", "jobfinders.events")
	v.SetDefault("export.kafka_brokers", []string{})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name must not be empty")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}

	if c.Ingest.Enabled && c.Ingest.Sink == "amqp" && c.Ingest.AMQPURL == "" {
		return fmt.Errorf("ingest.amqp_url is required for the amqp ingest sink")
	}
	if c.Export.Enabled {
		switch c.Export.Sink {
		case "amqp":
			if c.Export.AMQPURL == "" {
				return fmt.Errorf("export.amqp_url is required for the amqp export sink")
			}
		case "kafka":
			if len(c.Export.KafkaBrokers) == 0 {
				return fmt.Errorf("export.kafka_brokers is required for the kafka export sink")
			}
		case "channel":
		default:
			return fmt.Errorf("export.sink %q is not supported", c.Export.Sink)
		}
	}

	if c.Monitoring.MaxErrorRate < 0 || c.Monitoring.MaxErrorRate > 1 {
		return fmt.Errorf("monitoring.max_error_rate must be within [0, 1]")
	}
	return nil
}
