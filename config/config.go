package config

import (
	"os"
	"strconv"
	"sync"
)

// Config holds all application configuration, per spec.md §6's
// Configuration surface.
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Session lifecycle tunables (spec.md §4.8, §6)
	AuthTimeoutMs          int
	ReconnectGracePeriodMs int
	IdleSessionTimeoutMs   int
	RelaunchDedupMs        int
	KillGracePeriodMs      int
	CrashThresholdMs       int
	FailureThreshold       int

	// Session registry storage
	RegistryDatabasePath string

	// Default adapter for sessions that don't request one explicitly
	DefaultAdapter string

	// opencode HTTP+SSE adapter endpoint, when enabled
	OpencodeBaseURL string

	// OAuth settings
	AuthMode              string
	OAuthClientID         string
	OAuthClientSecret     string
	OAuthIssuerURL        string
	OAuthRedirectURI      string
	OAuthExpectedUsername string
	OAuthJWKSURL          string

	// Debug settings
	DebugModules string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton).
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables.
func load() *Config {
	return &Config{
		Port: getEnvInt("PORT", 12345),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		AuthTimeoutMs:          getEnvInt("AB_AUTH_TIMEOUT_MS", 5000),
		ReconnectGracePeriodMs: getEnvInt("AB_RECONNECT_GRACE_PERIOD_MS", 15000),
		IdleSessionTimeoutMs:   getEnvInt("AB_IDLE_SESSION_TIMEOUT_MS", 30*60*1000),
		RelaunchDedupMs:        getEnvInt("AB_RELAUNCH_DEDUP_MS", 2000),
		KillGracePeriodMs:      getEnvInt("AB_KILL_GRACE_PERIOD_MS", 5000),
		CrashThresholdMs:       getEnvInt("AB_CRASH_THRESHOLD_MS", 2000),
		FailureThreshold:       getEnvInt("AB_FAILURE_THRESHOLD", 5),

		RegistryDatabasePath: getEnv("AB_REGISTRY_DB_PATH", "./agentbroker.sqlite"),
		DefaultAdapter:       getEnv("AB_DEFAULT_ADAPTER", "acp"),
		OpencodeBaseURL:      getEnv("AB_OPENCODE_BASE_URL", ""),

		AuthMode:              getEnv("AB_AUTH_MODE", "none"),
		OAuthClientID:         getEnv("AB_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:     getEnv("AB_OAUTH_CLIENT_SECRET", ""),
		OAuthIssuerURL:        getEnv("AB_OAUTH_ISSUER_URL", ""),
		OAuthRedirectURI:      getEnv("AB_OAUTH_REDIRECT_URI", ""),
		OAuthExpectedUsername: getEnv("AB_EXPECTED_USERNAME", ""),
		OAuthJWKSURL:          getEnv("AB_OAUTH_JWKS_URL", ""),

		DebugModules: getEnv("DEBUG", ""),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
