package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment variable, e.g. SCRY_SERVER_PORT.
const envPrefix = "SCRY"

// defaults lists every known key. Keys without a useful default are still
// registered so environment variables bind during Unmarshal.
var defaults = map[string]any{
	"server.port":                   8080,
	"server.log_level":              "info",
	"server.log_format":             "json",
	"server.shutdown_timeout":       10 * time.Second,
	"server.submit_rate_per_minute": 30,
	"server.submit_burst":           5,

	"database.url":               "",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.auto_migrate":      true,

	"storage.driver": "postgres",

	"auth.jwt_secret":             "",
	"auth.token_lifetime_minutes": 60,

	"llm.provider":        "groq",
	"llm.api_key":         "",
	"llm.base_url":        "",
	"llm.model":           "llama-3.3-70b-versatile",
	"llm.temperature":     0.7,
	"llm.max_tokens":      2000,
	"llm.request_timeout": 60 * time.Second,
	"llm.token_budget":    14000,
	"llm.budget_window":   60 * time.Second,
	"llm.max_attempts":    2,
	"llm.backoff_base":    2 * time.Second,
	"llm.backoff_max":     10 * time.Second,

	"kafka.enabled":  false,
	"kafka.brokers":  []string{},
	"kafka.topic":    "ai-task-events",
	"kafka.group_id": "ai-service-notifications",

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,
	"redis.ttl":      7 * 24 * time.Hour,

	"workers.count":            2,
	"workers.queue_size":       100,
	"workers.requeue_interval": time.Minute,

	"realtime.send_buffer":     64,
	"realtime.ping_interval":   54 * time.Second,
	"realtime.allowed_origins": []string{},
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-section rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Storage.Driver == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("config validation failed: database.url is required for the postgres driver")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("config validation failed: kafka.brokers is required when kafka is enabled")
	}
	if cfg.Storage.Driver == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("config validation failed: redis.addr is required for the redis driver")
	}

	return nil
}
