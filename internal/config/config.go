// Package config loads and validates ingestion service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// ServerConfig controls the admin HTTP server. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig configures the shared HTTP fetch client.
type FetchConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	ConnectTimeoutSec   int    `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSec      int    `mapstructure:"read_timeout_seconds"`
	RequestTimeoutSec   int    `mapstructure:"request_timeout_seconds"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BackoffBaseMs       int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	MaxBodyBytes        int    `mapstructure:"max_body_bytes"`
	MaxIdleConns        int    `mapstructure:"max_idle_conns"`
	IdleTimeoutSec      int    `mapstructure:"idle_timeout_seconds"`
	ConnLifetimeSeconds int    `mapstructure:"conn_lifetime_seconds"`
}

// DedupConfig configures the membership filter backend.
type DedupConfig struct {
	RedisURL      string  `mapstructure:"redis_url"`
	ErrorRate     float64 `mapstructure:"error_rate"`
	Capacity      int64   `mapstructure:"capacity"`
	PoolSize      int     `mapstructure:"pool_size"`
	MinIdleConns  int     `mapstructure:"min_idle_conns"`
	DialTimeoutMs int     `mapstructure:"dial_timeout_ms"`
}

// SchedulerConfig governs the periodic feed driver.
type SchedulerConfig struct {
	TickSeconds   int `mapstructure:"tick_seconds"`
	DrainGraceSec int `mapstructure:"drain_grace_seconds"`
}

// RegistryConfig selects where feed configurations live.
type RegistryConfig struct {
	Provider string `mapstructure:"provider"` // "postgres" or "memory"
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SinkConfig selects where accepted records go.
type SinkConfig struct {
	Provider  string `mapstructure:"provider"` // "postgres", "pubsub" or "memory"
	DSN       string `mapstructure:"dsn"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig controls optional raw-payload archival.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"` // "gcs", "local" or "none"
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOTTLEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.user_agent", "bottlen-ingest/0.1")
	v.SetDefault("fetch.connect_timeout_seconds", 5)
	v.SetDefault("fetch.read_timeout_seconds", 10)
	v.SetDefault("fetch.request_timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base_ms", 1000)
	v.SetDefault("fetch.backoff_max_ms", 8000)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetch.max_idle_conns", 500)
	v.SetDefault("fetch.idle_timeout_seconds", 90)
	v.SetDefault("fetch.conn_lifetime_seconds", 600)
	v.SetDefault("dedup.redis_url", "redis://localhost:6379/0")
	v.SetDefault("dedup.error_rate", 0.01)
	v.SetDefault("dedup.capacity", 300_000)
	v.SetDefault("dedup.pool_size", 20)
	v.SetDefault("dedup.min_idle_conns", 5)
	v.SetDefault("dedup.dial_timeout_ms", 5000)
	v.SetDefault("scheduler.tick_seconds", 10)
	v.SetDefault("scheduler.drain_grace_seconds", 30)
	v.SetDefault("registry.provider", "memory")
	v.SetDefault("registry.max_conns", 10)
	v.SetDefault("sink.provider", "memory")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "raw")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.RequestTimeoutSec <= 0 {
		return fmt.Errorf("fetch.request_timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Dedup.ErrorRate <= 0 || c.Dedup.ErrorRate >= 1 {
		return fmt.Errorf("dedup.error_rate must be in (0, 1)")
	}
	if c.Dedup.Capacity <= 0 {
		return fmt.Errorf("dedup.capacity must be > 0")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	}
	switch c.Registry.Provider {
	case "memory":
	case "postgres":
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown registry provider: %s", c.Registry.Provider)
	}
	switch c.Sink.Provider {
	case "memory":
	case "postgres":
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required for the postgres provider")
		}
	case "pubsub":
		if c.Sink.ProjectID == "" || c.Sink.TopicName == "" {
			return fmt.Errorf("sink.project_id and sink.topic_name are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown sink provider: %s", c.Sink.Provider)
	}
	switch c.Archive.Provider {
	case "none":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs provider")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	return nil
}

// Tick converts the scheduler period into a duration.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// DrainGrace is how long shutdown waits for in-flight runs.
func (c Config) DrainGrace() time.Duration {
	return time.Duration(c.Scheduler.DrainGraceSec) * time.Second
}
