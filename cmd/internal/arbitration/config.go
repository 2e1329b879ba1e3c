package arbitration

import "time"

const (
	DefaultExpiryWindow     = 5 * time.Minute
	DefaultRequestTimeout   = 10 * time.Second
	DefaultMediaStopTimeout = 3 * time.Second
)

// Config tunes the machine. Zero values fall back to the defaults.
type Config struct {
	ExpiryWindow     time.Duration `env:"EXPIRY_WINDOW" envDefault:"5m"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MediaStopTimeout time.Duration `env:"MEDIA_STOP_TIMEOUT" envDefault:"3s"`
}

func (c Config) withDefaults() Config {
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = DefaultExpiryWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MediaStopTimeout <= 0 {
		c.MediaStopTimeout = DefaultMediaStopTimeout
	}
	return c
}
