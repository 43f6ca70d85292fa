// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Unipile    UnipileConfig    `json:"unipile"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
	ProxyHeader     string        `json:"proxy_header"`
}

type SecurityConfig struct {
	// Webhook endpoint authentication (shared secret header)
	WebhookSecret       string `json:"webhook_secret"`
	WebhookSecretHeader string `json:"webhook_secret_header"`

	// CORS
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`
}

// DispatcherConfig controls the polling worker that turns due queue entries
// into provider calls
type DispatcherConfig struct {
	WorkerID        string        `json:"worker_id"`
	PollInterval    time.Duration `json:"poll_interval"`
	BatchLimit      int           `json:"batch_limit"`
	SendTimeout     time.Duration `json:"send_timeout"`
	ClaimTimeout    time.Duration `json:"claim_timeout"` // claimed entries older than this are reclaimed
	ReclaimInterval time.Duration `json:"reclaim_interval"`
	MaxAttempts     int           `json:"max_attempts"`
	BackoffBase     time.Duration `json:"backoff_base"`
	BackoffCap      time.Duration `json:"backoff_cap"`
}

type UnipileConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled  bool          `json:"enabled"`
	Provider string        `json:"provider"`
	RedisURL string        `json:"redis_url"`
	RedisDB  int           `json:"redis_db"`
	LockTTL  time.Duration `json:"lock_ttl"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
}

// LoadProductionConfig loads configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "sendqueue-worker"
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "sendqueue"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
		},
		Security: SecurityConfig{
			WebhookSecret:       getEnvString("WEBHOOK_SECRET", ""),
			WebhookSecretHeader: getEnvString("WEBHOOK_SECRET_HEADER", "X-Webhook-Secret"),
			AllowedOrigins:      getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.atherial.io"}),
			AllowedMethods:      getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:      getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}),
			GlobalRateLimit:     getEnvInt("GLOBAL_RATE_LIMIT", 1000),
			RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Dispatcher: DispatcherConfig{
			WorkerID:        getEnvString("DISPATCHER_WORKER_ID", hostname),
			PollInterval:    getEnvDuration("DISPATCHER_POLL_INTERVAL", 30*time.Second),
			BatchLimit:      getEnvInt("DISPATCHER_BATCH_LIMIT", 10),
			SendTimeout:     getEnvDuration("DISPATCHER_SEND_TIMEOUT", 45*time.Second),
			ClaimTimeout:    getEnvDuration("DISPATCHER_CLAIM_TIMEOUT", 10*time.Minute),
			ReclaimInterval: getEnvDuration("DISPATCHER_RECLAIM_INTERVAL", 5*time.Minute),
			MaxAttempts:     getEnvInt("DISPATCHER_MAX_ATTEMPTS", 5),
			BackoffBase:     getEnvDuration("DISPATCHER_BACKOFF_BASE", 2*time.Minute),
			BackoffCap:      getEnvDuration("DISPATCHER_BACKOFF_CAP", 4*time.Hour),
		},
		Unipile: UnipileConfig{
			BaseURL: getEnvString("UNIPILE_BASE_URL", "https://api.unipile.com"),
			APIKey:  getEnvString("UNIPILE_API_KEY", ""),
			Timeout: getEnvDuration("UNIPILE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			FilePath:   getEnvString("LOG_FILE_PATH", "data/dispatcher.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:  getEnvBool("CACHE_ENABLED", false),
			Provider: getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL: getEnvString("REDIS_URL", "redis://localhost:6379"),
			RedisDB:  getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("CACHE_LOCK_TTL", 2*time.Minute),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("DEPLOYMENT_ENV", "production"),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	// Validate webhook authentication
	if cfg.Security.WebhookSecret == "" {
		errors = append(errors, "WEBHOOK_SECRET is required")
	}

	// Validate dispatcher configuration
	if cfg.Dispatcher.PollInterval <= 0 {
		errors = append(errors, "DISPATCHER_POLL_INTERVAL must be positive")
	}
	if cfg.Dispatcher.BatchLimit <= 0 {
		errors = append(errors, "DISPATCHER_BATCH_LIMIT must be positive")
	}
	if cfg.Dispatcher.MaxAttempts <= 0 {
		errors = append(errors, "DISPATCHER_MAX_ATTEMPTS must be positive")
	}
	if cfg.Dispatcher.ClaimTimeout < cfg.Dispatcher.SendTimeout {
		errors = append(errors, "DISPATCHER_CLAIM_TIMEOUT must not be shorter than DISPATCHER_SEND_TIMEOUT")
	}

	// Validate provider configuration
	if cfg.Unipile.BaseURL == "" {
		errors = append(errors, "UNIPILE_BASE_URL is required")
	}
	if cfg.Unipile.APIKey == "" && cfg.Deployment.Environment == "production" {
		errors = append(errors, "UNIPILE_API_KEY is required in production")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *ProductionConfig) IsProduction() bool {
	return c.Deployment.Environment == "production"
}
