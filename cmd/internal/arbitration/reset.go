package arbitration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ResetReason tells reset hooks why session-scoped state is being rebuilt.
type ResetReason string

const (
	// ResetReclaimed follows a successful reclaim; a new credential is installed.
	ResetReclaimed ResetReason = "reclaimed"
	// ResetReactivated follows a successful reactivation.
	ResetReactivated ResetReason = "reactivated"
	// ResetEvicted follows a purge; hooks should route to the unauthenticated surface.
	ResetEvicted ResetReason = "evicted"
)

// ResetFunc rebuilds one subsystem from the current durable state.
type ResetFunc func(ctx context.Context, reason ResetReason) error

type resetHook struct {
	name string
	fn   ResetFunc
}

// Resetter is the explicit replacement for a full process reload.
// Hooks run in registration order; a failing hook does not stop the others.
type Resetter struct {
	log *slog.Logger

	mu    sync.Mutex
	hooks []resetHook
}

// NewResetter constructs an empty Resetter.
func NewResetter(log *slog.Logger) *Resetter {
	if log == nil {
		log = slog.Default()
	}
	return &Resetter{log: log}
}

// Register adds a hook. Nil hooks are ignored.
func (r *Resetter) Register(name string, fn ResetFunc) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, resetHook{name: name, fn: fn})
}

// Reset runs every hook and joins their errors.
func (r *Resetter) Reset(ctx context.Context, reason ResetReason) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	hooks := append([]resetHook(nil), r.hooks...)
	r.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx, reason); err != nil {
			r.log.Error("arbitration.reset.hook.fail", "hook", h.name, "reason", string(reason), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
