package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/saga"
	"github.com/xraph/saga/queue"
)

// Config is the sagad configuration. It is read from sagad.yaml (or the
// file given with --config) and overridden by SAGA_ environment variables,
// e.g. SAGA_STORE_DRIVER or SAGA_ENGINE_CONCURRENCY.
type Config struct {
	Listen         string   `mapstructure:"listen"`
	Dev            bool     `mapstructure:"dev"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	// Services maps a collaborator name to its base URL. Ignored in dev
	// mode, where in-memory collaborators are used.
	Services map[string]string `mapstructure:"services"`

	Engine EngineConfig `mapstructure:"engine"`

	Audit struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"audit"`

	Relay struct {
		Enabled bool   `mapstructure:"enabled"`
		Topic   string `mapstructure:"topic"`
	} `mapstructure:"relay"`

	Tenants []TenantLimit `mapstructure:"tenants"`
}

// EngineConfig mirrors saga.Config.
type EngineConfig struct {
	Concurrency         int           `mapstructure:"concurrency"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	LeaseTTL            time.Duration `mapstructure:"lease_ttl"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	DeadWorkerThreshold time.Duration `mapstructure:"dead_worker_threshold"`
	WorkflowTimeout     time.Duration `mapstructure:"workflow_timeout"`
	StepMaxAttempts     int           `mapstructure:"step_max_attempts"`
	StepAttemptTimeout  time.Duration `mapstructure:"step_attempt_timeout"`
	StepDeadline        time.Duration `mapstructure:"step_deadline"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	BackoffJitter       float64       `mapstructure:"backoff_jitter"`
	HealthWarnAfter     time.Duration `mapstructure:"health_warn_after"`
	HealthCriticalAfter time.Duration `mapstructure:"health_critical_after"`
	UnhealthyAttempts   int           `mapstructure:"unhealthy_attempts"`
	SweepSchedule       string        `mapstructure:"sweep_schedule"`
}

// TenantLimit configures admission for one tenant. An empty tenant id sets
// the default for tenants without their own entry.
type TenantLimit struct {
	TenantID       string  `mapstructure:"tenant_id"`
	Type           string  `mapstructure:"type"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`
	MaxConcurrency int     `mapstructure:"max_concurrency"`
}

func setDefaults(v *viper.Viper) {
	d := saga.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("dev", false)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.topic", "saga.lifecycle")

	v.SetDefault("engine.concurrency", d.Concurrency)
	v.SetDefault("engine.poll_interval", d.PollInterval)
	v.SetDefault("engine.shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("engine.lease_ttl", d.LeaseTTL)
	v.SetDefault("engine.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("engine.dead_worker_threshold", d.DeadWorkerThreshold)
	v.SetDefault("engine.workflow_timeout", d.WorkflowTimeout)
	v.SetDefault("engine.step_max_attempts", d.StepMaxAttempts)
	v.SetDefault("engine.step_attempt_timeout", d.StepAttemptTimeout)
	v.SetDefault("engine.step_deadline", d.StepDeadline)
	v.SetDefault("engine.backoff_initial", d.BackoffInitial)
	v.SetDefault("engine.backoff_max", d.BackoffMax)
	v.SetDefault("engine.backoff_jitter", d.BackoffJitter)
	v.SetDefault("engine.health_warn_after", d.HealthWarnAfter)
	v.SetDefault("engine.health_critical_after", d.HealthCriticalAfter)
	v.SetDefault("engine.unhealthy_attempts", d.UnhealthyAttempts)
	v.SetDefault("engine.sweep_schedule", d.SweepSchedule)
}

// loadConfig reads path, or sagad.yaml from the working directory or
// /etc/sagad when path is empty. A missing default file is not an error.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sagad")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sagad")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Engine.Concurrency <= 0 {
		return errors.New("config: engine.concurrency must be positive")
	}
	return nil
}

// SagaConfig converts the engine section.
func (c *Config) SagaConfig() saga.Config {
	e := c.Engine
	return saga.Config{
		Concurrency:         e.Concurrency,
		PollInterval:        e.PollInterval,
		ShutdownTimeout:     e.ShutdownTimeout,
		LeaseTTL:            e.LeaseTTL,
		HeartbeatInterval:   e.HeartbeatInterval,
		DeadWorkerThreshold: e.DeadWorkerThreshold,
		WorkflowTimeout:     e.WorkflowTimeout,
		StepMaxAttempts:     e.StepMaxAttempts,
		StepAttemptTimeout:  e.StepAttemptTimeout,
		StepDeadline:        e.StepDeadline,
		BackoffInitial:      e.BackoffInitial,
		BackoffMax:          e.BackoffMax,
		BackoffJitter:       e.BackoffJitter,
		HealthWarnAfter:     e.HealthWarnAfter,
		HealthCriticalAfter: e.HealthCriticalAfter,
		UnhealthyAttempts:   e.UnhealthyAttempts,
		SweepSchedule:       e.SweepSchedule,
	}
}

// TenantConfigs converts the tenants section for the admission manager.
func (c *Config) TenantConfigs() []queue.TenantConfig {
	out := make([]queue.TenantConfig, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		out = append(out, queue.TenantConfig{
			Type:           t.Type,
			TenantID:       t.TenantID,
			RateLimit:      t.RateLimit,
			RateBurst:      t.RateBurst,
			MaxConcurrency: t.MaxConcurrency,
		})
	}
	return out
}

func newLogger(c *Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
