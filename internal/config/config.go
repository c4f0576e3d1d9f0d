package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the copilotmeter server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	Refresh  RefreshConfig
	API      APIConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

// DatabaseConfig describes the single connection each store owns.
// URL wins over the individual DB_* parts when both are set.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	ConnectMaxAttempts    int
	ConnectInitialBackoff time.Duration
	ConnectMaxBackoff     time.Duration
}

type RedisConfig struct {
	URL string
}

type GitHubConfig struct {
	BaseURL         string
	Timeout         time.Duration
	TeamDepth       int
	TeamConcurrency int
	RequestsPerHour int
}

// RefreshConfig controls the background refresh. TenantTimeout bounds the
// refresh of one tenant; zero disables the bound.
type RefreshConfig struct {
	Schedule      string
	TenantTimeout time.Duration
	OnStart       bool
}

// APIConfig holds the bcrypt hashes of the API keys. The read key is
// optional and grants read-only access.
type APIConfig struct {
	AdminKeyHash      string
	ReadKeyHash       string
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("COPILOTMETER_PORT", 8080),
			Env:      envString("COPILOTMETER_ENV", "development"),
			LogLevel: envString("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                   os.Getenv("DATABASE_URL"),
			Host:                  os.Getenv("DB_HOST"),
			Port:                  envInt("DB_PORT", 5432),
			User:                  os.Getenv("DB_USER"),
			Password:              os.Getenv("DB_PASSWORD"),
			Name:                  os.Getenv("DB_NAME"),
			ConnectMaxAttempts:    envInt("DB_CONNECT_MAX_ATTEMPTS", 5),
			ConnectInitialBackoff: envDuration("DB_CONNECT_INITIAL_BACKOFF", 500*time.Millisecond),
			ConnectMaxBackoff:     envDuration("DB_CONNECT_MAX_BACKOFF", 10*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		GitHub: GitHubConfig{
			BaseURL:         strings.TrimRight(envString("GITHUB_API_URL", "https://api.github.com"), "/"),
			Timeout:         envDuration("GITHUB_TIMEOUT", 30*time.Second),
			TeamDepth:       envInt("GITHUB_TEAM_DEPTH", 1),
			TeamConcurrency: envInt("GITHUB_TEAM_CONCURRENCY", 1),
			RequestsPerHour: envInt("GITHUB_REQUESTS_PER_HOUR", 5000),
		},
		Refresh: RefreshConfig{
			Schedule:      envString("REFRESH_SCHEDULE", "@every 1h"),
			TenantTimeout: envDuration("REFRESH_TENANT_TIMEOUT", 5*time.Minute),
			OnStart:       envBool("REFRESH_ON_START", true),
		},
		API: APIConfig{
			AdminKeyHash:      os.Getenv("ADMIN_API_KEY_HASH"),
			ReadKeyHash:       os.Getenv("READ_API_KEY_HASH"),
			RequestsPerMinute: envInt("API_REQUESTS_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DSN returns the connection string for the database.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	return u.String()
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("DATABASE_URL or DB_HOST, DB_USER and DB_NAME are required")
		}
	}
	if c.Database.ConnectMaxAttempts < 1 {
		return fmt.Errorf("DB_CONNECT_MAX_ATTEMPTS must be at least 1, got %d", c.Database.ConnectMaxAttempts)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !strings.HasPrefix(c.GitHub.BaseURL, "http://") && !strings.HasPrefix(c.GitHub.BaseURL, "https://") {
		return fmt.Errorf("GITHUB_API_URL must start with http:// or https://, got %q", c.GitHub.BaseURL)
	}
	if c.GitHub.TeamDepth < 0 {
		return fmt.Errorf("GITHUB_TEAM_DEPTH must not be negative, got %d", c.GitHub.TeamDepth)
	}
	if c.GitHub.TeamConcurrency < 1 {
		return fmt.Errorf("GITHUB_TEAM_CONCURRENCY must be at least 1, got %d", c.GitHub.TeamConcurrency)
	}

	if c.Refresh.Schedule == "" {
		return fmt.Errorf("REFRESH_SCHEDULE must not be empty")
	}
	if c.Refresh.TenantTimeout < 0 {
		return fmt.Errorf("REFRESH_TENANT_TIMEOUT must not be negative, got %s", c.Refresh.TenantTimeout)
	}

	if c.API.AdminKeyHash == "" {
		return fmt.Errorf("ADMIN_API_KEY_HASH is required")
	}
	if !strings.HasPrefix(c.API.AdminKeyHash, "$2") {
		return fmt.Errorf("ADMIN_API_KEY_HASH must be a bcrypt hash")
	}
	if c.API.ReadKeyHash != "" && !strings.HasPrefix(c.API.ReadKeyHash, "$2") {
		return fmt.Errorf("READ_API_KEY_HASH must be a bcrypt hash")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
