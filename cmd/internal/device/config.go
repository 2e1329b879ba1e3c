package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/reconcile"
)

// EnvPrefix is prepended to every variable the client reads.
const EnvPrefix = "ARBITER_"

// ErrConfig is returned for unusable client configuration.
var ErrConfig = errors.New("device: invalid config")

// Config is the terminal client configuration.
type Config struct {
	// DataDir holds the SQLite flag store and the device id file.
	DataDir  string `env:"DATA_DIR"`
	DeviceID string `env:"DEVICE_ID"`
	// Credential is a secondary credential source, used when the store has none.
	Credential string `env:"CREDENTIAL"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	MediaPath    string        `env:"MEDIA_PATH" envDefault:"/ws"`
	MetricsAddr  string        `env:"METRICS_ADDR"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"pretty"`

	Arbitration arbitration.Config
	Reconcile   reconcile.Config
}

// LoadConfig reads ARBITER_* variables. DataDir defaults to the user config
// directory.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("%w: no data dir: %v", ErrConfig, err)
		}
		cfg.DataDir = filepath.Join(base, "arbiter")
	}
	if cfg.PollInterval < time.Second {
		return Config{}, fmt.Errorf("%w: %sPOLL_INTERVAL must be at least 1s", ErrConfig, EnvPrefix)
	}
	if !strings.HasPrefix(cfg.MediaPath, "/") {
		cfg.MediaPath = "/" + cfg.MediaPath
	}
	return cfg, nil
}

// StorePath is the SQLite file backing the flag store.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "arbiter.db")
}

// MediaURL derives the websocket URL of the media gateway from the server URL.
func (c Config) MediaURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.Reconcile.ServerURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.MediaPath
}
