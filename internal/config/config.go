package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageType controls the refresh-history storage backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
	StorageOff    StorageType = "off"
)

// RelayConfig contains all runtime configuration for the forwarding relay.
type RelayConfig struct {
	ListenAddr      string
	AgentURL        string
	ForwardPath     string
	ForwardTimeout  time.Duration
	CORSAllowOrigin string
	AllowInsecure   bool
	AdminAddr       string
	LogLevel        string
}

// Config contains all runtime configuration for the dashboard service.
type Config struct {
	// Core
	ListenAddr string
	RelayURL   string
	LogLevel   string

	// Refresh pipeline
	RefreshInterval time.Duration
	QueryTimeout    time.Duration

	// Agent client retry + rate limiting
	QueryRetryAttempts int
	QueryRetryBackoff  time.Duration
	QueryRateLimit     float64
	QueryBurst         int

	// History storage
	Storage          StorageType
	StoragePath      string
	StorageMaxCycles int

	// Theme preference persistence
	PrefsFile string

	// Relay health probing
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// Events
	EventBuffer int

	// Chat
	ChatSessionTTL time.Duration
}

// LoadRelay parses env vars and returns a validated RelayConfig.
func LoadRelay() (RelayConfig, error) {
	cfg := RelayConfig{
		ListenAddr:      getEnvString("RELAY_LISTEN_ADDR", ":3001"),
		AgentURL:        getEnvString("AGENT_URL", ""),
		ForwardPath:     getEnvString("RELAY_FORWARD_PATH", "/"),
		ForwardTimeout:  getEnvDuration("RELAY_FORWARD_TIMEOUT", 90*time.Second),
		CORSAllowOrigin: getEnvString("CORS_ALLOW_ORIGIN", "*"),
		AllowInsecure:   getEnvBool("RELAY_ALLOW_INSECURE", false),
		AdminAddr:       getEnvString("RELAY_ADMIN_ADDR", ""),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// Validate checks relay configuration constraints.
func (c RelayConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("RELAY_LISTEN_ADDR must not be empty")
	}

	if c.AgentURL == "" {
		return fmt.Errorf("AGENT_URL is required")
	}
	u, err := url.Parse(c.AgentURL)
	if err != nil {
		return fmt.Errorf("invalid AGENT_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid AGENT_URL: missing host")
	}
	switch u.Scheme {
	case "https":
		// ok
	case "http":
		if !c.AllowInsecure {
			return fmt.Errorf("AGENT_URL must use https (set RELAY_ALLOW_INSECURE=true to permit http)")
		}
	default:
		return fmt.Errorf("invalid AGENT_URL scheme: %q", u.Scheme)
	}

	if !strings.HasPrefix(c.ForwardPath, "/") {
		return fmt.Errorf("RELAY_FORWARD_PATH must start with /")
	}
	if c.ForwardTimeout <= 0 {
		return fmt.Errorf("RELAY_FORWARD_TIMEOUT must be > 0")
	}

	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Load parses env vars and returns a validated dashboard Config.
func Load() (Config, error) {
	cfg := Config{
		// Core
		ListenAddr: getEnvString("LISTEN_ADDR", ":8080"),
		RelayURL:   getEnvString("RELAY_URL", "http://127.0.0.1:3001"),
		LogLevel:   getEnvString("LOG_LEVEL", "info"),

		// Refresh pipeline
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 5*time.Minute),
		QueryTimeout:    getEnvDuration("QUERY_TIMEOUT", 90*time.Second),

		// Agent client
		QueryRetryAttempts: getEnvInt("QUERY_RETRY_ATTEMPTS", 1),
		QueryRetryBackoff:  getEnvDuration("QUERY_RETRY_BACKOFF", 500*time.Millisecond),
		QueryRateLimit:     getEnvFloat("QUERY_RATE_LIMIT", 4),
		QueryBurst:         getEnvInt("QUERY_BURST", 8),

		// Storage
		Storage:          StorageType(getEnvString("STORAGE", string(StorageSQLite))),
		StoragePath:      getEnvString("SQLITE_PATH", "pulse-history.db"),
		StorageMaxCycles: getEnvInt("STORAGE_MAX_CYCLES", 1000),

		// Prefs
		PrefsFile: getEnvString("PREFS_FILE", "pulse-prefs.json"),

		// Health check
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),

		// Events
		EventBuffer: getEnvInt("EVENT_BUFFER", 64),

		// Chat
		ChatSessionTTL: getEnvDuration("CHAT_SESSION_TTL", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks dashboard configuration constraints.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid RELAY_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid RELAY_URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid RELAY_URL: missing host")
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be > 0")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be > 0")
	}

	if c.QueryRetryAttempts < 1 {
		return fmt.Errorf("QUERY_RETRY_ATTEMPTS must be >= 1")
	}
	if c.QueryRetryBackoff < 0 {
		return fmt.Errorf("QUERY_RETRY_BACKOFF must be >= 0")
	}
	if c.QueryRateLimit <= 0 {
		return fmt.Errorf("QUERY_RATE_LIMIT must be > 0")
	}
	if c.QueryBurst < 1 {
		return fmt.Errorf("QUERY_BURST must be >= 1")
	}

	switch c.Storage {
	case StorageSQLite, StorageMemory, StorageOff:
		// ok
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be sqlite|memory|off)", c.Storage)
	}
	if c.Storage == StorageSQLite && c.StoragePath == "" {
		return fmt.Errorf("SQLITE_PATH must not be empty when STORAGE=sqlite")
	}
	if c.StorageMaxCycles < 10 {
		return fmt.Errorf("STORAGE_MAX_CYCLES must be >= 10")
	}

	if c.PrefsFile == "" {
		return fmt.Errorf("PREFS_FILE must not be empty")
	}

	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}

	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be >= 1")
	}

	if c.ChatSessionTTL <= 0 {
		return fmt.Errorf("CHAT_SESSION_TTL must be > 0")
	}

	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q (must be debug|info|warn|error)", level)
	}
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
