package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "2h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all stride configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Store selects the execution-context backend: memory or redis.
	Store      string   `yaml:"store"`
	ContextTTL Duration `yaml:"context_ttl"`

	// SweepSchedule is a cron expression for pruning expired contexts.
	SweepSchedule string `yaml:"sweep_schedule"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis-backed context store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		Store:         "memory",
		ContextTTL:    Duration(24 * time.Hour),
		SweepSchedule: "@every 10m",
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "stride",
		},
	}
}

func strideDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stride"
	}
	return filepath.Join(home, ".stride")
}

func settingsPath() string {
	return filepath.Join(strideDir(), "settings.yaml")
}

func loadConfig(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = settingsPath()
	}

	// Layer 2: settings.yaml (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STRIDE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRIDE_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("STRIDE_CONTEXT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ContextTTL = Duration(d)
		}
	}
	if v := os.Getenv("STRIDE_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if v := os.Getenv("STRIDE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("STRIDE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STRIDE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("STRIDE_REDIS_PREFIX"); v != "" {
		cfg.Redis.Prefix = v
	}

	return cfg
}
