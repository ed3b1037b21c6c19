package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
	StoreSupabase = "supabase"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Store         StoreConfig         `json:"store"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Supabase      SupabaseConfig      `json:"supabase"`
	Monitor       MonitorConfig       `json:"monitor"`
	Notifications NotificationsConfig `json:"notifications"`
	Auth          AuthConfig          `json:"auth"`
	Logging       LoggingConfig       `json:"logging"`
	Tracing       TracingConfig       `json:"tracing"`
	Metrics       MetricsConfig       `json:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// StoreConfig selects the persistence gateway
type StoreConfig struct {
	Driver string `json:"driver"`
}

// DatabaseConfig contains database connection configuration
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
	MigrationsPath  string        `json:"migrations_path"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SupabaseConfig contains managed store credentials
type SupabaseConfig struct {
	URL            string `json:"url"`
	ServiceRoleKey string `json:"service_role_key"`
}

// MonitorConfig tunes the monitoring engine
type MonitorConfig struct {
	FlushInterval        time.Duration `json:"flush_interval"`
	MaxQueueSize         int           `json:"max_queue_size"`
	DedupTTL             time.Duration `json:"dedup_ttl"`
	RulePollInterval     time.Duration `json:"rule_poll_interval"`
	RuleLookback         time.Duration `json:"rule_lookback"`
	AlertCooldown        time.Duration `json:"alert_cooldown"`
	CriticalModules      []string      `json:"critical_modules"`
	ModuleThreshold      int           `json:"module_threshold"`
	RejectionThreshold   int           `json:"rejection_threshold"`
	RejectionWindow      time.Duration `json:"rejection_window"`
	StatsFallbackWindow  time.Duration `json:"stats_fallback_window"`
	GatewayTimeout       time.Duration `json:"gateway_timeout"`
	BreakerFailureLimit  int           `json:"breaker_failure_limit"`
	BreakerResetInterval time.Duration `json:"breaker_reset_interval"`
}

// NotificationsConfig contains notification sink configuration
type NotificationsConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
	TeamsWebhookURL string `json:"teams_webhook_url"`
	DetailsBaseURL  string `json:"details_base_url"`
}

// AuthConfig contains authentication configuration for the admin endpoints
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret"`
	JWTExpiration time.Duration `json:"jwt_expiration"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Environment    string  `json:"environment"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Store: StoreConfig{
			Driver: getEnvString("STORE_DRIVER", StoreMemory),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "errwatch"),
			User:            getEnvString("DB_USER", "errwatch"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Supabase: SupabaseConfig{
			URL:            getEnvString("SUPABASE_URL", ""),
			ServiceRoleKey: getEnvString("SUPABASE_SERVICE_ROLE_KEY", ""),
		},
		Monitor: MonitorConfig{
			FlushInterval:        getEnvDuration("MONITOR_FLUSH_INTERVAL", 5*time.Second),
			MaxQueueSize:         getEnvInt("MONITOR_MAX_QUEUE_SIZE", 50),
			DedupTTL:             getEnvDuration("MONITOR_DEDUP_TTL", 5*time.Second),
			RulePollInterval:     getEnvDuration("MONITOR_RULE_POLL_INTERVAL", 30*time.Second),
			RuleLookback:         getEnvDuration("MONITOR_RULE_LOOKBACK", time.Minute),
			AlertCooldown:        getEnvDuration("MONITOR_ALERT_COOLDOWN", 5*time.Minute),
			CriticalModules:      getEnvList("MONITOR_CRITICAL_MODULES", []string{"wallet", "payment", "auth", "orders"}),
			ModuleThreshold:      getEnvInt("MONITOR_MODULE_THRESHOLD", 3),
			RejectionThreshold:   getEnvInt("MONITOR_REJECTION_THRESHOLD", 5),
			RejectionWindow:      getEnvDuration("MONITOR_REJECTION_WINDOW", time.Hour),
			StatsFallbackWindow:  getEnvDuration("MONITOR_STATS_FALLBACK_WINDOW", 24*time.Hour),
			GatewayTimeout:       getEnvDuration("MONITOR_GATEWAY_TIMEOUT", 10*time.Second),
			BreakerFailureLimit:  getEnvInt("MONITOR_BREAKER_FAILURE_LIMIT", 5),
			BreakerResetInterval: getEnvDuration("MONITOR_BREAKER_RESET_INTERVAL", 30*time.Second),
		},
		Notifications: NotificationsConfig{
			SlackWebhookURL: getEnvString("SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("SLACK_CHANNEL", ""),
			TeamsWebhookURL: getEnvString("TEAMS_WEBHOOK_URL", ""),
			DetailsBaseURL:  getEnvString("ALERT_DETAILS_BASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnvString("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres, StoreMySQL:
		if c.Database.Password == "" {
			return fmt.Errorf("database password is required for store driver %s", c.Store.Driver)
		}
	case StoreSupabase:
		if c.Supabase.URL == "" || c.Supabase.ServiceRoleKey == "" {
			return fmt.Errorf("supabase url and service role key are required")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Monitor.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}
	if c.Monitor.FlushInterval <= 0 || c.Monitor.RulePollInterval <= 0 {
		return fmt.Errorf("flush and rule poll intervals must be positive")
	}
	if c.Monitor.DedupTTL <= 0 || c.Monitor.AlertCooldown <= 0 {
		return fmt.Errorf("dedup ttl and alert cooldown must be positive")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	return nil
}

// DatabaseURL returns the database connection URL for the configured driver
func (c *Config) DatabaseURL() string {
	if c.Store.Driver == StoreMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			c.Database.User,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
		)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
