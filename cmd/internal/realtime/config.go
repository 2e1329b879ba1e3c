package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig tunes the websocket gateway.
type GatewayConfig struct {
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// LoadGatewayConfigFromEnv reads ARBITER_WS_* variables. Invalid values fall
// back to defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		DevInsecure:      envBool("ARBITER_WS_DEV_INSECURE", false),
		OriginRequired:   envBool("ARBITER_WS_ORIGIN_REQUIRED", false),
		AllowedOrigins:   envCSV("ARBITER_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WriteTimeout:     envDuration("ARBITER_WS_WRITE_TIMEOUT", defaultWriteTimeout),
		ReadIdleTimeout:  envDuration("ARBITER_WS_READ_IDLE_TIMEOUT", defaultReadIdle),
		HeartbeatEvery:   envDuration("ARBITER_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout: envDuration("ARBITER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		RateEvents:       envInt("ARBITER_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:       envDuration("ARBITER_WS_RATE_WINDOW", rateLimitWindow),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
