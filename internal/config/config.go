// Package config loads the environment values spec.md §6 names the
// core consumes, via github.com/spf13/viper (a teacher dependency the
// teacher's own binaries never call). Defaults are set the way
// internal/optimization/optimizer.go's DefaultOptimizerConfig and
// internal/workers/pool.go's DefaultPoolConfig construct their typed
// default values, just sourced from viper instead of literal structs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is every value the core's processes (cmd/apiserver,
// cmd/worker) read from the environment. Nothing else in the core
// touches os.Getenv directly (spec.md §9's "explicit runtime context
// threaded through workers" redesign flag).
type Config struct {
	Environment string // "development" (default) or "production"
	LogLevel    string

	DatabaseURL string // also backs the queue table; see SPEC_FULL.md §6

	APIAddr     string
	MetricsAddr string

	WorkerTimeout     time.Duration
	ProgressThrottle  time.Duration
	HeartbeatInterval time.Duration
	ReaperInterval    time.Duration
	StaleThreshold    time.Duration // always 3x HeartbeatInterval (no env override), spec.md §4.9

	LogRetentionDays  int
	LogRetentionCount int

	NumWorkers     int
	QueuePollEvery time.Duration
}

// Load reads environment variables (with ENV_VAR and matching
// lowercase-dotted viper key both bound) into a Config, applying
// defaults for anything unset. It never panics on a missing value;
// only DatabaseURL is required, checked by the caller via Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	setDefaults(v)

	bindEnv(v, "database_url", "DATABASE_URL")
	bindEnv(v, "queue_url", "QUEUE_URL")
	bindEnv(v, "api_addr", "API_ADDR")
	bindEnv(v, "metrics_addr", "METRICS_ADDR")
	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnv(v, "environment", "ENVIRONMENT")
	bindEnv(v, "worker_timeout", "WORKER_TIMEOUT")
	bindEnv(v, "progress_throttle", "PROGRESS_THROTTLE")
	bindEnv(v, "heartbeat_interval", "HEARTBEAT_INTERVAL")
	bindEnv(v, "reaper_interval", "REAPER_INTERVAL")
	bindEnv(v, "log_retention_days", "LOG_RETENTION_DAYS")
	bindEnv(v, "log_retention_count", "LOG_RETENTION_COUNT")
	bindEnv(v, "num_workers", "NUM_WORKERS")
	bindEnv(v, "queue_poll_interval", "QUEUE_POLL_INTERVAL")

	dbURL := v.GetString("database_url")
	if dbURL == "" {
		// QUEUE_URL is accepted as a fallback: spec.md §6 notes the
		// queue lives alongside the job tables in the same store.
		dbURL = v.GetString("queue_url")
	}

	heartbeat := v.GetDuration("heartbeat_interval")
	cfg := &Config{
		Environment:       v.GetString("environment"),
		LogLevel:          v.GetString("log_level"),
		DatabaseURL:       dbURL,
		APIAddr:           v.GetString("api_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		WorkerTimeout:     v.GetDuration("worker_timeout"),
		ProgressThrottle:  v.GetDuration("progress_throttle"),
		HeartbeatInterval: heartbeat,
		ReaperInterval:    v.GetDuration("reaper_interval"),
		StaleThreshold:    heartbeat * 3,
		LogRetentionDays:  v.GetInt("log_retention_days"),
		LogRetentionCount: v.GetInt("log_retention_count"),
		NumWorkers:        v.GetInt("num_workers"),
		QueuePollEvery:    v.GetDuration("queue_poll_interval"),
	}
	return cfg, nil
}

// Validate checks the values no default can sensibly cover.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL (or QUEUE_URL) must be set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("worker_timeout", 30*time.Minute)
	v.SetDefault("progress_throttle", 500*time.Millisecond)
	v.SetDefault("heartbeat_interval", 10*time.Second)
	v.SetDefault("reaper_interval", 60*time.Second)
	v.SetDefault("log_retention_days", 30)
	v.SetDefault("log_retention_count", 10000)
	v.SetDefault("num_workers", 4)
	v.SetDefault("queue_poll_interval", 1*time.Second)
}

func bindEnv(v *viper.Viper, key, envVar string) {
	_ = v.BindEnv(key, envVar)
}
