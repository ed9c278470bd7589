// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Session       SessionConfig           `mapstructure:"session"`
	RateLimit     RateLimitConfig         `mapstructure:"rate_limit"`
	Catalog       CatalogConfig           `mapstructure:"catalog"`
	WhatsApp      WhatsAppConfig          `mapstructure:"whatsapp"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	// BusinessName is used in greeting and completion templates.
	BusinessName string `mapstructure:"business_name"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	SQLite        SQLiteConfig        `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// APIsConfig holds settings for the AI interpreter.
type APIsConfig struct {
	GenAI GenAIConfig `mapstructure:"genai"`
}

type GenAIConfig struct {
	// Provider is "http" for the GenAI gateway or "gemini" for the Gemini API.
	Provider         string `mapstructure:"provider"`
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	Timeout          int    `mapstructure:"timeout"` // milliseconds
	MaxRetries       int    `mapstructure:"max_retries"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	Cooldown         int    `mapstructure:"cooldown"` // milliseconds
	HistoryTurns     int    `mapstructure:"history_turns"`
}

// SessionConfig controls the session coordinator.
type SessionConfig struct {
	Store           string `mapstructure:"store"`            // memory, redis, postgres
	IdleTimeout     int    `mapstructure:"idle_timeout"`     // milliseconds
	LockTimeout     int    `mapstructure:"lock_timeout"`     // milliseconds
	BusyPolicy      string `mapstructure:"busy_policy"`      // block, reject
	LockMode        string `mapstructure:"lock_mode"`        // optimistic, serialized
	DedupWindow     int    `mapstructure:"dedup_window"`     // milliseconds
	CleanupInterval int    `mapstructure:"cleanup_interval"` // milliseconds
}

type RateLimitConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	PerMinute   int  `mapstructure:"per_minute"`
	PerHour     int  `mapstructure:"per_hour"`
	MinInterval int  `mapstructure:"min_interval"` // milliseconds
}

type CatalogConfig struct {
	Source         string `mapstructure:"source"` // sqlite, postgres
	MenuFile       string `mapstructure:"menu_file"`
	SearchEnabled  bool   `mapstructure:"search_enabled"`
	SearchIndex    string `mapstructure:"search_index"`
	CacheTTL       int    `mapstructure:"cache_ttl"` // milliseconds
	MaxTableNumber int    `mapstructure:"max_table_number"`
}

type WhatsAppConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	APIBase          string `mapstructure:"api_base"`
	APIVersion       string `mapstructure:"api_version"`
	PhoneNumberID    string `mapstructure:"phone_number_id"`
	AccessToken      string `mapstructure:"access_token"`
	VerifyToken      string `mapstructure:"verify_token"`
	AppSecret        string `mapstructure:"app_secret"`
	MaxMessageLength int    `mapstructure:"max_message_length"`
	Timeout          int    `mapstructure:"timeout"` // milliseconds
	MaxRetries       int    `mapstructure:"max_retries"`
	Concurrency      int    `mapstructure:"concurrency"`
	MarkRead         bool   `mapstructure:"mark_read"`
}

// NotificationConfig holds settings for the order confirmation worker.
type NotificationConfig struct {
	AWS struct {
		Region   string `mapstructure:"region"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
