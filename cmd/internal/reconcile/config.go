package reconcile

import (
	"strings"
	"time"

	sessionv1 "arbiter/contracts/session/v1"
)

// Config locates the reconciliation endpoints.
type Config struct {
	ServerURL       string        `env:"SERVER_URL" envDefault:"http://127.0.0.1:8080"`
	ReclaimPath     string        `env:"RECLAIM_PATH" envDefault:"/session/reclaim"`
	ReactivatePath  string        `env:"REACTIVATE_PATH" envDefault:"/session/reactivate"`
	ProbePath       string        `env:"PROBE_PATH" envDefault:"/me"`
	ProbeMaxElapsed time.Duration `env:"PROBE_MAX_ELAPSED" envDefault:"5s"`
}

func (c Config) withDefaults() Config {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ReclaimPath == "" {
		c.ReclaimPath = sessionv1.PathReclaim
	}
	if c.ReactivatePath == "" {
		c.ReactivatePath = sessionv1.PathReactivate
	}
	if c.ProbePath == "" {
		c.ProbePath = sessionv1.PathMe
	}
	if c.ProbeMaxElapsed <= 0 {
		c.ProbeMaxElapsed = 5 * time.Second
	}
	return c
}
