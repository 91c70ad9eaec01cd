package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Storage
	RedisURL string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// Redirect relay. A single externally-owned HTTPS endpoint forwards
	// code/state back to this service's callback handler.
	RedirectURL string

	// State parameter signing
	StateSecret string

	// Scheduler
	FetchInterval    time.Duration
	MinFetchInterval time.Duration
	RefreshDebounce  time.Duration
	WindowBehind     time.Duration
	WindowAhead      time.Duration

	// Calendar
	Timezone string

	LogLevel string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		RedisURL: getEnv("REDIS_URL", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		RedirectURL: getEnv("OAUTH_REDIRECT_URL", "https://relay.calswitch.io/oauth/callback"),
		StateSecret: getEnv("OAUTH_STATE_SECRET", ""),

		FetchInterval:    time.Duration(getEnvInt("FETCH_INTERVAL_SEC", 120)) * time.Second,
		MinFetchInterval: time.Duration(getEnvInt("MIN_FETCH_INTERVAL_SEC", 60)) * time.Second,
		RefreshDebounce:  time.Duration(getEnvInt("REFRESH_DEBOUNCE_SEC", 3)) * time.Second,
		WindowBehind:     time.Duration(getEnvInt("WINDOW_BEHIND_HOURS", 12)) * time.Hour,
		WindowAhead:      time.Duration(getEnvInt("WINDOW_AHEAD_HOURS", 48)) * time.Hour,

		Timezone: getEnv("TIMEZONE", "UTC"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

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

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
