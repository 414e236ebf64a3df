package core

import "errors"

// ErrRunInFlight is returned when a run is requested while another run
// holds the gate.
var ErrRunInFlight = errors.New("a provisioning run is already in progress")

// RunGate serializes provisioning runs. Runs mutate global server state
// (users, protections), so only one may execute at a time.
type RunGate struct {
	slot chan struct{}
}

// NewRunGate returns a gate with a single slot.
func NewRunGate() *RunGate {
	g := &RunGate{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

// TryAcquire claims the gate without blocking. It returns ErrRunInFlight
// if another run holds it.
func (g *RunGate) TryAcquire() error {
	select {
	case <-g.slot:
		return nil
	default:
		return ErrRunInFlight
	}
}

// Release returns the gate. Calling Release without a matching acquire is
// a programming error and panics.
func (g *RunGate) Release() {
	select {
	case g.slot <- struct{}{}:
	default:
		panic("core: RunGate released while free")
	}
}
