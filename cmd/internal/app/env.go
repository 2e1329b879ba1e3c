package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvBool reads a bool env var with a default. Unparseable values mean def.
func EnvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(EnvString(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	n, err := strconv.Atoi(EnvString(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// EnvInt32 reads a non-negative int32 env var with a default.
func EnvInt32(key string, def int32) int32 {
	n, err := strconv.ParseInt(EnvString(key, ""), 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// EnvDuration reads a positive duration env var with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(EnvString(key, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
