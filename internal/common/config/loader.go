// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	BusyPolicyBlock  = "block"
	BusyPolicyReject = "reject"

	LockModeOptimistic = "optimistic"
	LockModeSerialized = "serialized"

	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
	ProviderNone   = "none"

	CatalogSQLite   = "sqlite"
	CatalogPostgres = "postgres"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and lets environment variables override any key.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory.
func loadEnvFile() string {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that are conventionally provided as
// plain environment variables rather than nested keys.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty := func(dst *string, envKey string) {
		if *dst == "" {
			if val := os.Getenv(envKey); val != "" {
				*dst = val
			}
		}
	}

	setIfEmpty(&cfg.APIs.GenAI.APIKey, "GENAI_API_KEY")
	if cfg.APIs.GenAI.Provider == ProviderGemini {
		setIfEmpty(&cfg.APIs.GenAI.APIKey, "GEMINI_API_KEY")
	}

	setIfEmpty(&cfg.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	setIfEmpty(&cfg.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")
	setIfEmpty(&cfg.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	setIfEmpty(&cfg.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")

	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "order-workers"
	}
	if cfg.App.BusinessName == "" {
		cfg.App.BusinessName = "Hef Cafe"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Redis.KeyPrefix == "" {
		cfg.Database.Redis.KeyPrefix = "orderbot"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/menu.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	g := &cfg.APIs.GenAI
	if g.Provider == "" {
		g.Provider = ProviderHTTP
	}
	if g.Model == "" {
		g.Model = "gemini-2.0-flash"
	}
	if g.Timeout == 0 {
		g.Timeout = 8000
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 1
	}
	if g.FailureThreshold == 0 {
		g.FailureThreshold = 5
	}
	if g.Cooldown == 0 {
		g.Cooldown = 60000
	}
	if g.HistoryTurns == 0 {
		g.HistoryTurns = 4
	}

	s := &cfg.Session
	if s.Store == "" {
		s.Store = StoreMemory
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 30 * 60 * 1000
	}
	if s.LockTimeout == 0 {
		s.LockTimeout = 10000
	}
	if s.BusyPolicy == "" {
		s.BusyPolicy = BusyPolicyBlock
	}
	if s.LockMode == "" {
		s.LockMode = LockModeOptimistic
	}
	if s.DedupWindow == 0 {
		s.DedupWindow = 5 * 60 * 1000
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = 5 * 60 * 1000
	}

	r := &cfg.RateLimit
	if r.PerMinute == 0 {
		r.PerMinute = 10
	}
	if r.PerHour == 0 {
		r.PerHour = 100
	}
	if r.MinInterval == 0 {
		r.MinInterval = 2000
	}

	c := &cfg.Catalog
	if c.Source == "" {
		c.Source = CatalogSQLite
	}
	if c.MenuFile == "" {
		c.MenuFile = "configs/menu.yaml"
	}
	if c.SearchIndex == "" {
		c.SearchIndex = "menu_items"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 10 * 60 * 1000
	}
	if c.MaxTableNumber == 0 {
		c.MaxTableNumber = 7
	}

	w := &cfg.WhatsApp
	if w.APIBase == "" {
		w.APIBase = "https://graph.facebook.com"
	}
	if w.APIVersion == "" {
		w.APIVersion = "v18.0"
	}
	if w.MaxMessageLength == 0 {
		w.MaxMessageLength = 4000
	}
	if w.Timeout == 0 {
		w.Timeout = 10000
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 3
	}
	if w.Concurrency == 0 {
		w.Concurrency = 8
	}

	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "us-east-1"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for session.store=redis")
		}
	case StorePostgres:
		if err := requirePostgres(cfg, "session.store=postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("session.store must be memory, redis or postgres, got %q", cfg.Session.Store)
	}

	if cfg.Session.BusyPolicy != BusyPolicyBlock && cfg.Session.BusyPolicy != BusyPolicyReject {
		return fmt.Errorf("session.busy_policy must be block or reject, got %q", cfg.Session.BusyPolicy)
	}
	if cfg.Session.LockMode != LockModeOptimistic && cfg.Session.LockMode != LockModeSerialized {
		return fmt.Errorf("session.lock_mode must be optimistic or serialized, got %q", cfg.Session.LockMode)
	}

	switch cfg.APIs.GenAI.Provider {
	case ProviderHTTP:
		if cfg.APIs.GenAI.BaseURL == "" {
			return fmt.Errorf("apis.genai.base_url is required for provider http")
		}
	case ProviderGemini:
		if cfg.APIs.GenAI.APIKey == "" {
			return fmt.Errorf("apis.genai.api_key is required for provider gemini")
		}
	case ProviderNone:
	default:
		return fmt.Errorf("apis.genai.provider must be http, gemini or none, got %q", cfg.APIs.GenAI.Provider)
	}

	switch cfg.Catalog.Source {
	case CatalogSQLite:
		if cfg.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for catalog.source=sqlite")
		}
	case CatalogPostgres:
		if err := requirePostgres(cfg, "catalog.source=postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("catalog.source must be sqlite or postgres, got %q", cfg.Catalog.Source)
	}

	if cfg.Catalog.SearchEnabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when catalog.search_enabled")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.WhatsApp.Enabled {
		if cfg.WhatsApp.PhoneNumberID == "" || cfg.WhatsApp.AccessToken == "" {
			return fmt.Errorf("whatsapp.phone_number_id and whatsapp.access_token are required")
		}
		if cfg.WhatsApp.VerifyToken == "" {
			return fmt.Errorf("whatsapp.verify_token is required")
		}
	}

	return nil
}

func requirePostgres(cfg *Config, reason string) error {
	p := cfg.Database.Postgres
	if p.Host == "" || p.Database == "" || p.User == "" {
		return fmt.Errorf("database.postgres host, database and user are required for %s", reason)
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
