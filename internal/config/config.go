// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all tunables for the session server. Values come from the
// environment (godotenv autoload in main picks up a .env file) with
// defaults matching the shipped game client.
type Config struct {
	Port string

	// MaxSessions caps the number of concurrently tracked sessions.
	MaxSessions int
	// SessionCapacity is the default participant cap for created lobbies.
	// Auto-matched sessions are always capacity 2.
	SessionCapacity int
	// ChatLogCap bounds each session's chat log; oldest entries evicted.
	ChatLogCap int

	// LoadingDelay is how long a session sits in Loading before the
	// scheduled transition to Playing fires.
	LoadingDelay time.Duration

	// IdentityTTL is how long an idle username reservation survives.
	IdentityTTL time.Duration
	// IdentitySweepEvery is the expiry sweep interval.
	IdentitySweepEvery time.Duration

	// ProbeEvery is the per-connection latency probe interval.
	ProbeEvery time.Duration
}

// Load reads the environment into a Config, falling back to defaults for
// anything unset or unparsable.
func Load() Config {
	return Config{
		Port:               envStr("PORT", "8080"),
		MaxSessions:        envInt("MAX_SESSIONS", 20),
		SessionCapacity:    envInt("SESSION_CAPACITY", 4),
		ChatLogCap:         envInt("CHAT_LOG_CAP", 100),
		LoadingDelay:       envDur("LOADING_DELAY", 3*time.Second),
		IdentityTTL:        envDur("IDENTITY_TTL", 5*time.Minute),
		IdentitySweepEvery: envDur("IDENTITY_SWEEP_EVERY", time.Minute),
		ProbeEvery:         envDur("PROBE_EVERY", 2*time.Second),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
