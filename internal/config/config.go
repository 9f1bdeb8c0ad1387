// Package config loads runtime settings from the environment, with an
// optional .env-style config file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Host string
	Port int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DeepSeekAPIKey string
	GLMAPIKey      string
	QwenAPIKey     string

	JWTSecret string

	RateLimitRPS   float64
	RateLimitBurst int

	UpstreamTimeout time.Duration

	AccountingWorkers int
	AccountingQueue   int
}

// Load reads configuration from the environment. Every key has a
// development default except the provider API keys, which simply stay
// empty and leave their model uncredentialed.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("UPSTREAM_TIMEOUT", "60s")
	v.SetDefault("ACCOUNTING_WORKERS", 4)
	v.SetDefault("ACCOUNTING_QUEUE", 256)

	// Local development overrides, ignored when absent.
	v.SetConfigName("modelgate")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	timeout, err := time.ParseDuration(v.GetString("UPSTREAM_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Host:              v.GetString("HOST"),
		Port:              v.GetInt("PORT"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		DeepSeekAPIKey:    v.GetString("DEEPSEEK_API_KEY"),
		GLMAPIKey:         v.GetString("GLM_API_KEY"),
		QwenAPIKey:        v.GetString("QWEN_API_KEY"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		RateLimitRPS:      v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:    v.GetInt("RATE_LIMIT_BURST"),
		UpstreamTimeout:   timeout,
		AccountingWorkers: v.GetInt("ACCOUNTING_WORKERS"),
		AccountingQueue:   v.GetInt("ACCOUNTING_QUEUE"),
	}
	return cfg, nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
