package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the registry
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Fetch     FetchConfig     `yaml:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	PublicURL    string        `yaml:"public_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings. Leave Host empty to run
// without a cache.
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// AuthConfig holds credential verification settings. Provider/Issuer/
// Audience configure federated identity tokens; TokenCacheTTL bounds how
// long a resolved API token principal may be served from cache.
type AuthConfig struct {
	Provider         string        `yaml:"provider"`
	Issuer           string        `yaml:"issuer"`
	Audience         string        `yaml:"audience"`
	JWKSPath         string        `yaml:"jwks_path"`
	KeyCacheTTL      time.Duration `yaml:"key_cache_ttl"`
	KeyNegativeTTL   time.Duration `yaml:"key_negative_ttl"`
	KeyFetchTimeout  time.Duration `yaml:"key_fetch_timeout"`
	TokenCacheTTL    time.Duration `yaml:"token_cache_ttl"`
	FederatedEnabled bool          `yaml:"federated_enabled"`
}

// FetchConfig bounds artifact verification fetches.
type FetchConfig struct {
	SizeLimit      int64         `yaml:"size_limit"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	MaxRedirects   int           `yaml:"max_redirects"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	UserAgent      string        `yaml:"user_agent"`
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
	PublishCost       int  `yaml:"publish_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("ATOLL_SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("ATOLL_SERVER_PORT", 8080),
			PublicURL:    getEnv("ATOLL_PUBLIC_URL", "http://localhost:8080"),
			ReadTimeout:  getEnvDuration("ATOLL_SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("ATOLL_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("ATOLL_SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("ATOLL_DB_HOST", "localhost"),
			Port:     getEnvInt("ATOLL_DB_PORT", 5432),
			User:     getEnv("ATOLL_DB_USER", "atoll"),
			Password: getEnv("ATOLL_DB_PASSWORD", "password"),
			DBName:   getEnv("ATOLL_DB_NAME", "atoll"),
			SSLMode:  getEnv("ATOLL_DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:        getEnv("ATOLL_REDIS_HOST", ""),
			Port:        getEnvInt("ATOLL_REDIS_PORT", 6379),
			Password:    getEnv("ATOLL_REDIS_PASSWORD", ""),
			DB:          getEnvInt("ATOLL_REDIS_DB", 0),
			SnapshotTTL: getEnvDuration("ATOLL_SNAPSHOT_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Provider:         getEnv("ATOLL_OIDC_PROVIDER", "github"),
			Issuer:           getEnv("ATOLL_OIDC_ISSUER", "https://token.actions.githubusercontent.com"),
			Audience:         getEnv("ATOLL_OIDC_AUDIENCE", "atoll-registry"),
			JWKSPath:         getEnv("ATOLL_OIDC_JWKS_PATH", "/.well-known/jwks"),
			KeyCacheTTL:      getEnvDuration("ATOLL_OIDC_KEY_CACHE_TTL", 15*time.Minute),
			KeyNegativeTTL:   getEnvDuration("ATOLL_OIDC_KEY_NEGATIVE_TTL", time.Minute),
			KeyFetchTimeout:  getEnvDuration("ATOLL_OIDC_KEY_FETCH_TIMEOUT", 10*time.Second),
			TokenCacheTTL:    getEnvDuration("ATOLL_TOKEN_CACHE_TTL", 5*time.Minute),
			FederatedEnabled: getEnvBool("ATOLL_OIDC_ENABLED", true),
		},
		Fetch: FetchConfig{
			SizeLimit:      getEnvInt64("ATOLL_FETCH_SIZE_LIMIT", 256<<20),
			HTTPTimeout:    getEnvDuration("ATOLL_FETCH_HTTP_TIMEOUT", 30*time.Second),
			PublishTimeout: getEnvDuration("ATOLL_PUBLISH_TIMEOUT", 5*time.Minute),
			MaxRedirects:   getEnvInt("ATOLL_FETCH_MAX_REDIRECTS", 10),
			MaxConcurrent:  getEnvInt("ATOLL_FETCH_MAX_CONCURRENT", 8),
			UserAgent:      getEnv("ATOLL_FETCH_USER_AGENT", "atoll-registry/1.0"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("ATOLL_RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("ATOLL_RATE_LIMIT_RPM", 100),
			Burst:             getEnvInt("ATOLL_RATE_LIMIT_BURST", 20),
			PublishCost:       getEnvInt("ATOLL_RATE_LIMIT_PUBLISH_COST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("ATOLL_LOG_LEVEL", "info"),
			Format: getEnv("ATOLL_LOG_FORMAT", "json"),
		},
	}
}

// Load builds configuration from the environment, then overlays the YAML
// file at path when one is given. File values win over environment values.
func Load(path string) (*Config, error) {
	cfg := LoadFromEnv()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWKSURL returns the signing-key endpoint derived from the issuer.
func (a *AuthConfig) JWKSURL() string {
	return a.Issuer + a.JWKSPath
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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
