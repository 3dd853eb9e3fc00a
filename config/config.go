package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Presence   PresenceConfig   `yaml:"presence"`
	Queue      QueueConfig      `yaml:"queue"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PresenceConfig controls how liveness is derived from telemetry.
type PresenceConfig struct {
	WindowSeconds int           `yaml:"window_seconds"`
	Window        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// QueueConfig controls command queue admission and redelivery.
type QueueConfig struct {
	MaxPendingPerDevice      int           `yaml:"max_pending_per_device"`
	VisibilityTimeoutSeconds int           `yaml:"visibility_timeout_seconds"`
	VisibilityTimeout        time.Duration `yaml:"-"`
	SweepIntervalSeconds     int           `yaml:"sweep_interval_seconds"`
	SweepInterval            time.Duration `yaml:"-"`
	PollBatchSize            int           `yaml:"poll_batch_size"`
	MaxParamsBytes           int           `yaml:"max_params_bytes"`
}

// PushConfig holds the VAPID keys for operator web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Presence.WindowSeconds <= 0 {
		cfg.Presence.WindowSeconds = 120
	}
	cfg.Presence.Window = time.Duration(cfg.Presence.WindowSeconds) * time.Second

	if cfg.Queue.VisibilityTimeoutSeconds <= 0 {
		cfg.Queue.VisibilityTimeoutSeconds = 300
	}
	cfg.Queue.VisibilityTimeout = time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second

	if cfg.Queue.SweepIntervalSeconds <= 0 {
		cfg.Queue.SweepIntervalSeconds = 30
	}
	cfg.Queue.SweepInterval = time.Duration(cfg.Queue.SweepIntervalSeconds) * time.Second

	if cfg.Queue.MaxPendingPerDevice <= 0 {
		cfg.Queue.MaxPendingPerDevice = 100
	}
	if cfg.Queue.PollBatchSize <= 0 {
		cfg.Queue.PollBatchSize = 10
	}
	if cfg.Queue.MaxParamsBytes <= 0 {
		cfg.Queue.MaxParamsBytes = 16 * 1024
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
