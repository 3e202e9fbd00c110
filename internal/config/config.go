// Package config loads monitor settings from flags, a YAML file and
// XWM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/retry"
	"xrpl-wash-monitor/internal/rules"
	"xrpl-wash-monitor/internal/xrpl"
)

// EnvPrefix prefixes every environment override, e.g. XWM_STORAGE_BACKEND.
const EnvPrefix = "XWM"

// Source kinds.
const (
	SourceXRPL  = "xrpl"
	SourceKafka = "kafka"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
)

// Config is the full monitor configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Source    string          `mapstructure:"source"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Detection DetectionConfig `mapstructure:"detection"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StreamConfig configures the rippled websocket.
type StreamConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

// KafkaConfig configures the replay source and the alerts topic.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Group       string   `mapstructure:"group"`
	Topic       string   `mapstructure:"topic"`
	FromOldest  bool     `mapstructure:"from_oldest"`
	AlertsTopic string   `mapstructure:"alerts_topic"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	Migrate       bool   `mapstructure:"migrate"`
}

// DetectionConfig configures the window, the pipeline and rule thresholds.
type DetectionConfig struct {
	Horizon           int64         `mapstructure:"horizon"`
	Workers           int           `mapstructure:"workers"`
	ShardQueue        int           `mapstructure:"shard_queue"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	IdleHorizon       int64         `mapstructure:"idle_horizon"`
	TxTypes           []string      `mapstructure:"tx_types"`
	ValidateAddresses bool          `mapstructure:"validate_addresses"`

	MaxPairTrades    int     `mapstructure:"max_pair_trades"`
	NetVolumeEpsilon float64 `mapstructure:"net_volume_epsilon"`
	MinFee           float64 `mapstructure:"min_fee"`
	VolumeEpsilon    float64 `mapstructure:"volume_epsilon"`
	SyncBand         int64   `mapstructure:"sync_band"`
	SpoofMinTrades   int     `mapstructure:"spoof_min_trades"`
}

// DispatchConfig configures the side-effect queue and its retries.
type DispatchConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       time.Duration `mapstructure:"jitter"`
}

// NotifyConfig enables alert channels. A channel is off when its
// destination is empty.
type NotifyConfig struct {
	SMTP           SMTPConfig    `mapstructure:"smtp"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	Kafka          bool          `mapstructure:"kafka"`
	LogFile        string        `mapstructure:"log_file"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default so that environment
// overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	th := rules.DefaultThresholds()
	ws := xrpl.DefaultWSConfig()
	rp := retry.DefaultPolicy()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("source", SourceXRPL)

	v.SetDefault("stream.url", "wss://xrplcluster.com")
	v.SetDefault("stream.reconnect_delay", ws.ReconnectDelay)
	v.SetDefault("stream.max_reconnect_delay", ws.MaxReconnectDelay)
	v.SetDefault("stream.ping_interval", ws.PingInterval)
	v.SetDefault("stream.read_timeout", ws.ReadTimeout)
	v.SetDefault("stream.buffer_size", ws.BufferSize)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group", "xrpl-wash-monitor")
	v.SetDefault("kafka.topic", "xrpl.transactions")
	v.SetDefault("kafka.from_oldest", true)
	v.SetDefault("kafka.alerts_topic", "xrpl.alerts")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.sqlite_path", "wash_trading.db")
	v.SetDefault("storage.migrate", true)

	v.SetDefault("detection.horizon", int64(1800))
	v.SetDefault("detection.workers", 4)
	v.SetDefault("detection.shard_queue", 256)
	v.SetDefault("detection.sweep_interval", time.Minute)
	v.SetDefault("detection.idle_horizon", int64(3600))
	v.SetDefault("detection.tx_types", []string{"Payment"})
	v.SetDefault("detection.validate_addresses", true)
	v.SetDefault("detection.max_pair_trades", th.MaxPairTrades)
	v.SetDefault("detection.net_volume_epsilon", th.NetVolumeEpsilon)
	v.SetDefault("detection.min_fee", th.MinFee)
	v.SetDefault("detection.volume_epsilon", th.VolumeEpsilon)
	v.SetDefault("detection.sync_band", th.SyncBand)
	v.SetDefault("detection.spoof_min_trades", th.SpoofMinTrades)

	v.SetDefault("dispatch.queue_size", 4096)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.call_timeout", 10*time.Second)
	v.SetDefault("dispatch.drain_timeout", 10*time.Second)
	v.SetDefault("dispatch.max_attempts", rp.MaxAttempts)
	v.SetDefault("dispatch.base_delay", rp.BaseDelay)
	v.SetDefault("dispatch.max_delay", rp.MaxDelay)
	v.SetDefault("dispatch.jitter", rp.Jitter)

	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.to", []string{})
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_timeout", 10*time.Second)
	v.SetDefault("notify.kafka", false)
	v.SetDefault("notify.log_file", "")

	v.SetDefault("metrics.addr", ":9090")
}

// BindEnv enables XWM_SECTION_KEY overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults and environment bindings to v, reads the config
// file when one is set, and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
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

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	switch c.Source {
	case SourceXRPL:
		if c.Stream.URL == "" {
			errs = append(errs, errors.New("stream.url required for source xrpl"))
		}
	case SourceKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" || c.Kafka.Group == "" {
			errs = append(errs, errors.New("kafka.brokers, kafka.topic and kafka.group required for source kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn required"))
		}
	case BackendClickHouse:
		if c.Storage.ClickHouseDSN == "" {
			errs = append(errs, errors.New("storage.clickhouse_dsn required"))
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Detection.Horizon <= 0 {
		errs = append(errs, errors.New("detection.horizon must be positive"))
	}
	if c.Detection.Workers <= 0 {
		errs = append(errs, errors.New("detection.workers must be positive"))
	}
	if len(c.Detection.TxTypes) == 0 {
		errs = append(errs, errors.New("detection.tx_types must not be empty"))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Notify.Kafka && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("notify.kafka needs kafka.brokers"))
	}
	if c.Notify.SMTP.Host != "" && (c.Notify.SMTP.From == "" || len(c.Notify.SMTP.To) == 0) {
		errs = append(errs, errors.New("notify.smtp needs from and to"))
	}

	return errors.Join(errs...)
}

// Thresholds returns the rule thresholds.
func (c *Config) Thresholds() rules.Thresholds {
	d := c.Detection
	return rules.Thresholds{
		MaxPairTrades:    d.MaxPairTrades,
		NetVolumeEpsilon: d.NetVolumeEpsilon,
		MinFee:           d.MinFee,
		VolumeEpsilon:    d.VolumeEpsilon,
		SyncBand:         d.SyncBand,
		SpoofMinTrades:   d.SpoofMinTrades,
	}
}

// RetryPolicy returns the per-sink retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	d := c.Dispatch
	return retry.Policy{
		MaxAttempts: d.MaxAttempts,
		BaseDelay:   d.BaseDelay,
		MaxDelay:    d.MaxDelay,
		Jitter:      d.Jitter,
	}
}

// WSConfig returns the websocket client configuration.
func (c *Config) WSConfig() xrpl.WSClientConfig {
	ws := xrpl.DefaultWSConfig()
	s := c.Stream
	ws.ReconnectDelay = s.ReconnectDelay
	ws.MaxReconnectDelay = s.MaxReconnectDelay
	ws.PingInterval = s.PingInterval
	ws.ReadTimeout = s.ReadTimeout
	ws.BufferSize = s.BufferSize
	return ws
}
