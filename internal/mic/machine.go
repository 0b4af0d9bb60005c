package mic

import (
	"errors"
	log "log/slog"
	"sync"

	"kiosk/internal/domain"
)

// OwnerState is where a single owner is in its idle -> recording -> processing cycle.
type OwnerState string

const (
	StateIdle       OwnerState = "idle"
	StateRecording  OwnerState = "recording"
	StateProcessing OwnerState = "processing"
)

var (
	ErrMicBlocked       = errors.New("microphone is blocked")
	ErrMicInUse         = errors.New("microphone is held by another owner")
	ErrOwnerBusy        = errors.New("owner is still processing its last recording")
	ErrAlreadyRecording = errors.New("owner is already recording")
	ErrNotRecording     = errors.New("owner is not recording")
	ErrUnknownOwner     = errors.New("unknown owner")
)

// Machine arbitrates the single microphone between owners. Only an owner in
// StateRecording holds the device.
type Machine struct {
	mu      sync.Mutex
	blocked bool
	owners  map[domain.Owner]OwnerState
}

// NewMachine starts blocked; the permission gate unblocks it once access is granted.
func NewMachine() *Machine {
	return &Machine{
		blocked: true,
		owners: map[domain.Owner]OwnerState{
			domain.OwnerCommand: StateIdle,
			domain.OwnerClip:    StateIdle,
		},
	}
}

func (m *Machine) SetBlocked(blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked != blocked {
		log.Debug("Microphone blocked flag changed", "blocked", blocked)
	}
	m.blocked = blocked
}

func (m *Machine) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

// Acquire moves owner from idle to recording.
func (m *Machine) Acquire(owner domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.owners[owner]
	if !ok {
		return ErrUnknownOwner
	}
	if m.blocked {
		return ErrMicBlocked
	}
	switch state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateProcessing:
		return ErrOwnerBusy
	}
	for other, s := range m.owners {
		if other != owner && s == StateRecording {
			return ErrMicInUse
		}
	}

	m.owners[owner] = StateRecording
	return nil
}

// Stopped releases the microphone and parks owner in processing until Done.
func (m *Machine) Stopped(owner domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.owners[owner]
	if !ok {
		return ErrUnknownOwner
	}
	if state != StateRecording {
		return ErrNotRecording
	}
	m.owners[owner] = StateProcessing
	return nil
}

// Reset returns owner to idle from any state. Used on abort and capture or
// encoder failure; it never touches the blocked flag.
func (m *Machine) Reset(owner domain.Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[owner]; ok {
		m.owners[owner] = StateIdle
	}
}

// Done ends the processing phase of owner.
func (m *Machine) Done(owner domain.Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[owner] == StateProcessing {
		m.owners[owner] = StateIdle
	}
}

func (m *Machine) State(owner domain.Owner) OwnerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[owner]
}

// Snapshot returns a copy of every owner's state.
func (m *Machine) Snapshot() map[domain.Owner]OwnerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.Owner]OwnerState, len(m.owners))
	for o, s := range m.owners {
		out[o] = s
	}
	return out
}
