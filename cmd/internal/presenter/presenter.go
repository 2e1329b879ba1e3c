// Package presenter renders the recovery surfaces of the arbitration machine
// and turns user intents into machine calls.
package presenter

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"arbiter/cmd/internal/arbitration"
)

// ErrNoSurface is returned by intents when no recovery surface is mounted.
var ErrNoSurface = errors.New("presenter: no recovery surface")

// Renderer draws surfaces. Calls are serialized by the Presenter.
type Renderer interface {
	Mount(Modal)
	Update(Modal)
	Unmount(Modal)
}

// Controller is the part of the machine the presenter drives.
type Controller interface {
	Reclaim(ctx context.Context) error
	Reactivate(ctx context.Context) error
	Dismiss(ctx context.Context) error
}

// Presenter observes machine views and keeps at most one surface mounted.
type Presenter struct {
	ctrl Controller
	r    Renderer
	log  *slog.Logger

	mu      sync.Mutex
	current Modal
	mounts  int
	seq     uint64
}

var _ arbitration.Observer = (*Presenter)(nil)

func New(ctrl Controller, r Renderer, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	return &Presenter{ctrl: ctrl, r: r, log: log}
}

// StateChanged implements arbitration.Observer.
func (p *Presenter) StateChanged(v arbitration.View) {
	next := ModalFor(v)

	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Seq != 0 {
		if v.Seq <= p.seq {
			p.log.Debug("presenter.view.stale", "seq", v.Seq, "last", p.seq)
			return
		}
		p.seq = v.Seq
	}

	prev := p.current
	switch {
	case next.Surface == SurfaceNone:
		if prev.Surface == SurfaceNone {
			return
		}
		if next.SuccessText != "" && prev.Surface != SurfaceLanding {
			// Confirmation is shown on the closing surface before it goes away.
			done := prev
			done.SuccessText = next.SuccessText
			done.ErrorText = ""
			done.Actions = append([]Action(nil), prev.Actions...)
			for i := range done.Actions {
				done.Actions[i].Enabled = false
			}
			p.r.Update(done)
			prev = done
		}
		p.r.Unmount(prev)
		p.current = Modal{}

	case next.Surface == prev.Surface:
		p.r.Update(next)
		p.current = next

	default:
		if prev.Surface != SurfaceNone {
			p.r.Unmount(prev)
		}
		p.r.Mount(next)
		p.mounts++
		p.current = next
		p.log.Debug("presenter.mount", "surface", next.Surface.String())
	}
}

// Continue runs the primary action of the mounted surface.
func (p *Presenter) Continue(ctx context.Context) error {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if a, ok := cur.Action(ActionContinue); ok && !a.Enabled {
		return arbitration.ErrInFlight
	}
	switch cur.Surface {
	case SurfaceTerminal:
		return p.ctrl.Reclaim(ctx)
	case SurfaceRecoverable:
		return p.ctrl.Reactivate(ctx)
	default:
		return ErrNoSurface
	}
}

// Close runs the close (X) action: the session is abandoned.
func (p *Presenter) Close(ctx context.Context) error {
	p.mu.Lock()
	surface := p.current.Surface
	p.mu.Unlock()

	if surface != SurfaceTerminal && surface != SurfaceRecoverable {
		return ErrNoSurface
	}
	return p.ctrl.Dismiss(ctx)
}

// OutsideClick is a no-op: recovery surfaces close only through their actions.
func (p *Presenter) OutsideClick() {}

// Current returns the mounted modal.
func (p *Presenter) Current() Modal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Mounts counts how many times a surface was mounted.
func (p *Presenter) Mounts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mounts
}
