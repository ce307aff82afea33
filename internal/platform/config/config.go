// Package config loads runtime settings through viper. Every key has a default,
// so the binary starts with no config file and no environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: server.addr reads ASSETDESK_SERVER_ADDR.
const EnvPrefix = "ASSETDESK"

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Renewals RenewalsConfig
	Audit    AuditConfig
	Logging  LoggingConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
}

// DatabaseConfig selects Postgres. An empty URL keeps records in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig selects the shared snapshot store. An empty URL keeps the
// due-soon snapshot in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SnapshotKey  string
}

// KafkaConfig enables due-soon notifications and the audit outbox relay.
type KafkaConfig struct {
	Brokers      []string
	ClientID     string
	DueSoonTopic string
	AuditTopic   string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// RenewalsConfig tunes the due-soon window and the background refresh.
type RenewalsConfig struct {
	PollInterval    time.Duration
	RefreshTimeout  time.Duration
	LookaheadMonths int
	GraceDays       int
	Timezone        string
	Location        *time.Location
}

// AuditConfig controls how audit events leave the request path.
type AuditConfig struct {
	Async              bool
	BufferSize         int
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.snapshot_key", "assetdesk:renewals:due-soon")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "assetdesk")
	v.SetDefault("kafka.due_soon_topic", "renewals.due-soon")
	v.SetDefault("kafka.audit_topic", "assetdesk.audit")

	v.SetDefault("renewals.poll_interval", 20*time.Second)
	v.SetDefault("renewals.refresh_timeout", 10*time.Second)
	v.SetDefault("renewals.lookahead_months", 2)
	v.SetDefault("renewals.grace_days", 1)
	v.SetDefault("renewals.timezone", "Local")

	v.SetDefault("audit.async", false)
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("audit.outbox_poll_interval", 2*time.Second)
	v.SetDefault("audit.outbox_batch_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// BindEnv enables ASSETDESK_* environment overrides for every dotted key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v and validates it. Callers set up the
// config file and flags on v beforehand.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	BindEnv(v)

	cfg := Config{
		Server: ServerConfig{
			Addr:              v.GetString("server.addr"),
			ReadHeaderTimeout: v.GetDuration("server.read_header_timeout"),
			RequestTimeout:    v.GetDuration("server.request_timeout"),
			ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:             strings.TrimSpace(v.GetString("database.url")),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:          strings.TrimSpace(v.GetString("redis.url")),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			SnapshotKey:  v.GetString("redis.snapshot_key"),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(v.GetStringSlice("kafka.brokers")),
			ClientID:     v.GetString("kafka.client_id"),
			DueSoonTopic: v.GetString("kafka.due_soon_topic"),
			AuditTopic:   v.GetString("kafka.audit_topic"),
		},
		Renewals: RenewalsConfig{
			PollInterval:    v.GetDuration("renewals.poll_interval"),
			RefreshTimeout:  v.GetDuration("renewals.refresh_timeout"),
			LookaheadMonths: v.GetInt("renewals.lookahead_months"),
			GraceDays:       v.GetInt("renewals.grace_days"),
			Timezone:        v.GetString("renewals.timezone"),
		},
		Audit: AuditConfig{
			Async:              v.GetBool("audit.async"),
			BufferSize:         v.GetInt("audit.buffer_size"),
			OutboxPollInterval: v.GetDuration("audit.outbox_poll_interval"),
			OutboxBatchSize:    v.GetInt("audit.outbox_batch_size"),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Renewals.PollInterval <= 0 {
		return fmt.Errorf("renewals.poll_interval must be positive, got %s", c.Renewals.PollInterval)
	}
	if c.Renewals.RefreshTimeout <= 0 {
		return fmt.Errorf("renewals.refresh_timeout must be positive, got %s", c.Renewals.RefreshTimeout)
	}
	if c.Renewals.LookaheadMonths < 0 {
		return fmt.Errorf("renewals.lookahead_months must not be negative")
	}
	if c.Renewals.GraceDays < 0 {
		return fmt.Errorf("renewals.grace_days must not be negative")
	}
	loc, err := time.LoadLocation(c.Renewals.Timezone)
	if err != nil {
		return fmt.Errorf("renewals.timezone: %w", err)
	}
	c.Renewals.Location = loc
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit.buffer_size must be positive")
	}
	if c.Kafka.Enabled() && (c.Kafka.DueSoonTopic == "" || c.Kafka.AuditTopic == "") {
		return fmt.Errorf("kafka topics must be set when kafka.brokers is configured")
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
