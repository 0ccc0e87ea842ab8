package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`
	Workers       int    `mapstructure:"WORKERS"`
	KnowledgeFile string `mapstructure:"KNOWLEDGE_FILE"`
	PatternStore  string `mapstructure:"PATTERN_STORE"`
	ApplyLearning bool   `mapstructure:"APPLY_LEARNING"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "") // "" -> console in development, JSON otherwise
	v.SetDefault("WORKERS", 4)
	v.SetDefault("KNOWLEDGE_FILE", "") // "" -> embedded tables
	v.SetDefault("PATTERN_STORE", "patterns.json")
	v.SetDefault("APPLY_LEARNING", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("LOG_FORMAT")
	v.BindEnv("WORKERS")
	v.BindEnv("KNOWLEDGE_FILE")
	v.BindEnv("PATTERN_STORE")
	v.BindEnv("APPLY_LEARNING")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedLogFormat returns the effective log format. If LOG_FORMAT is
// explicitly set, it is returned. Otherwise development gets human
// console output and everything else gets JSON.
func (c *Config) ResolvedLogFormat() string {
	if c.LogFormat != "" {
		return c.LogFormat
	}
	if c.IsDev() {
		return "console"
	}
	return "json"
}
