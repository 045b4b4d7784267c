package layercake

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process-wide toggles from §6, read once at startup.
// Defaults match the spec's documented defaults exactly.
type Config struct {
	AllowAnonymous        bool
	RequireAPIKey         bool
	APIKeys               map[string]struct{}
	NodeExecutionTimeout  time.Duration
	EventBufferSize       int
	IdleChannelGCInterval time.Duration
	InactiveSessionCutoff time.Duration
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() Config {
	return Config{
		AllowAnonymous:        true,
		RequireAPIKey:         false,
		APIKeys:               map[string]struct{}{},
		NodeExecutionTimeout:  5 * time.Minute,
		EventBufferSize:       1024,
		IdleChannelGCInterval: 60 * time.Second,
		InactiveSessionCutoff: 3600 * time.Second,
	}
}

// LoadConfigFromEnv overlays LAYERCAKE_*-prefixed environment variables onto
// the documented defaults, following the teacher's EnvOr precedence idiom.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("LAYERCAKE_ALLOW_ANONYMOUS"); v != "" {
		cfg.AllowAnonymous = parseBoolOr(v, cfg.AllowAnonymous)
	}
	if v := os.Getenv("LAYERCAKE_REQUIRE_API_KEY"); v != "" {
		cfg.RequireAPIKey = parseBoolOr(v, cfg.RequireAPIKey)
	}
	if v := os.Getenv("LAYERCAKE_API_KEYS"); v != "" {
		cfg.APIKeys = parseKeySet(v)
	}
	if v := os.Getenv("LAYERCAKE_NODE_EXECUTION_TIMEOUT"); v != "" {
		cfg.NodeExecutionTimeout = parseDurationOr(v, cfg.NodeExecutionTimeout)
	}
	if v := os.Getenv("LAYERCAKE_EVENT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBufferSize = n
		}
	}
	if v := os.Getenv("LAYERCAKE_IDLE_CHANNEL_GC_INTERVAL"); v != "" {
		cfg.IdleChannelGCInterval = parseDurationOr(v, cfg.IdleChannelGCInterval)
	}
	if v := os.Getenv("LAYERCAKE_INACTIVE_SESSION_CUTOFF"); v != "" {
		cfg.InactiveSessionCutoff = parseDurationOr(v, cfg.InactiveSessionCutoff)
	}

	return cfg
}

func parseBoolOr(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseKeySet(v string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, k := range strings.Split(v, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// HasAPIKey reports whether key is one of the configured API keys.
func (c Config) HasAPIKey(key string) bool {
	_, ok := c.APIKeys[key]
	return ok
}
