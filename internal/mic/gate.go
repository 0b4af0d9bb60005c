package mic

import (
	"context"
	log "log/slog"
	"sync"

	"kiosk/internal/domain"
)

// Prober checks that an input device can be opened.
type Prober interface {
	Probe(ctx context.Context) error
}

// Gate tracks the microphone permission and mirrors it into the Machine's
// blocked flag.
type Gate struct {
	prober  Prober
	machine *Machine

	mu    sync.Mutex
	state domain.PermissionState
}

func NewGate(prober Prober, machine *Machine) *Gate {
	return &Gate{
		prober:  prober,
		machine: machine,
		state:   domain.PermissionUnknown,
	}
}

// RequestAccess probes the device once and records the outcome.
func (g *Gate) RequestAccess(ctx context.Context) domain.PermissionState {
	err := g.prober.Probe(ctx)

	state := domain.PermissionGranted
	if err != nil {
		state = domain.PermissionDenied
		log.Warn("Microphone permission denied", "err", err)
	} else {
		log.Info("Microphone permission granted")
	}

	g.set(state)
	return state
}

// Reevaluate re-probes after a capture failure. A device that still probes
// fine keeps the permission granted.
func (g *Gate) Reevaluate(ctx context.Context) domain.PermissionState {
	log.Debug("Re-evaluating microphone permission")
	return g.RequestAccess(ctx)
}

func (g *Gate) State() domain.PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) set(state domain.PermissionState) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()

	if g.machine != nil {
		g.machine.SetBlocked(state != domain.PermissionGranted)
	}
}
