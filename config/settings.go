package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the single immutable configuration surface of the service.
// It is loaded exactly once from the environment; components receive it by
// reference and never mutate it.
type Settings struct {
	APIPort string

	// Resolution engine.
	ResolverTimeout      time.Duration
	ResolverReadTimeout  time.Duration
	ResolverMaxRedirects int
	ResolverUserAgent    string

	// Dispatcher.
	MaxGroupSize  int
	RetryDelay    time.Duration // long-horizon retry, ~24h
	RetryJitter   time.Duration // perturbation, up to +/- this value
	MaxAttempts   int
	PumpInterval  time.Duration
	RetryQueueKey string

	// Queue partitions (Pub/Sub topics).
	TopicPIDResolution string
	TopicPIDMR         string

	// Auth.
	JWTSecret     string
	TokenLifespan time.Duration

	// UptimeRobot.
	UptimeRobotAPIKey  string
	UptimeRobotBaseURL string
}

var (
	settings     *Settings
	settingsOnce sync.Once
)

// GetSettings loads the settings on first use and returns the same
// instance afterwards.
func GetSettings() *Settings {
	settingsOnce.Do(func() {
		godotenv.Load()
		settings = &Settings{
			APIPort:              getEnv("API_PORT", "9000"),
			ResolverTimeout:      getEnvDuration("PIDRESOLVER_TIMEOUT_SECONDS", 5*time.Second),
			ResolverReadTimeout:  getEnvDuration("PIDRESOLVER_READ_TIMEOUT_SECONDS", 15*time.Second),
			ResolverMaxRedirects: getEnvInt("PIDRESOLVER_MAX_REDIR", 10),
			ResolverUserAgent:    getEnv("PIDRESOLVER_USER_AGENT", "pid-monitor/1.0"),
			MaxGroupSize:         getEnvInt("MAX_GROUP_SIZE", 10),
			RetryDelay:           getEnvDuration("RETRY_DELAY_HOURS", 24*time.Hour),
			RetryJitter:          getEnvDuration("RETRY_JITTER_HOURS", time.Hour),
			MaxAttempts:          2,
			PumpInterval:         getEnvDuration("RETRY_PUMP_INTERVAL_SECONDS", time.Minute),
			RetryQueueKey:        "pidresolver:retry",
			TopicPIDResolution:   getEnv("TOPIC_PID_RESOLUTION", "pid-resolution"),
			TopicPIDMR:           getEnv("TOPIC_PIDMR", "pidmr"),
			JWTSecret:            getEnv("JWT_SECRET_KEY", "pidmonitor-secret"),
			TokenLifespan:        getEnvDuration("JWT_TOKEN_EXPIRE_MIN", 30*time.Minute),
			UptimeRobotAPIKey:    os.Getenv("UPTIMEROBOT_API_KEY"),
			UptimeRobotBaseURL:   getEnv("UPTIMEROBOT_BASE_URL", "https://api.uptimerobot.com/v2"),
		}
	})
	return settings
}

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// getEnvDuration reads an integer env value whose unit is encoded in the
// key suffix (_SECONDS, _MIN, _HOURS).
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	switch {
	case hasSuffix(key, "_SECONDS"):
		return time.Duration(n) * time.Second
	case hasSuffix(key, "_MIN"):
		return time.Duration(n) * time.Minute
	case hasSuffix(key, "_HOURS"):
		return time.Duration(n) * time.Hour
	}
	return fallback
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
