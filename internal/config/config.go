package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Workers  WorkersConfig  `mapstructure:"workers" validate:"required"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// SubmitRatePerMinute bounds job submissions per user; zero disables the throttle.
	SubmitRatePerMinute int `mapstructure:"submit_rate_per_minute" validate:"gte=0"`
	SubmitBurst         int `mapstructure:"submit_burst" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects the backends for jobs and notifications.
type StorageConfig struct {
	// Driver selects the job store: postgres, redis or memory.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres redis memory"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig configures the completion client and its rate limiting and retry.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider" validate:"required,oneof=groq gemini"`
	APIKey         string        `mapstructure:"api_key" validate:"required"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model          string        `mapstructure:"model" validate:"required"`
	Temperature    float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// TokenBudget is the estimated cost allowed per BudgetWindow.
	TokenBudget  int           `mapstructure:"token_budget" validate:"gt=0"`
	BudgetWindow time.Duration `mapstructure:"budget_window" validate:"gt=0"`

	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0,lte=10"`
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
}

// KafkaConfig configures the job event topic. When disabled an in-process
// bus is used instead.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" validate:"required"`
	GroupID string   `mapstructure:"group_id" validate:"required"`
}

// RedisConfig configures the redis job store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// WorkersConfig sizes the job executor pool.
type WorkersConfig struct {
	Count           int           `mapstructure:"count" validate:"required,gt=0"`
	QueueSize       int           `mapstructure:"queue_size" validate:"required,gt=0"`
	RequeueInterval time.Duration `mapstructure:"requeue_interval" validate:"gt=0"`
}

// RealtimeConfig tunes WebSocket delivery.
type RealtimeConfig struct {
	// SendBuffer is the number of queued messages per connection before
	// the connection is treated as failed.
	SendBuffer     int           `mapstructure:"send_buffer" validate:"gt=0"`
	PingInterval   time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}
