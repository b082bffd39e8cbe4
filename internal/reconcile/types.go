package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/dokzlo13/hueni/internal/ledger"
	"github.com/dokzlo13/hueni/internal/light"
	"github.com/dokzlo13/hueni/internal/transit"
)

// Bridge is the light side of a cycle.
type Bridge interface {
	LightState(ctx context.Context, lightID string) (light.State, error)
	SetLightState(ctx context.Context, lightID string, st light.State) error
}

// Transit is the departure side of a cycle.
type Transit interface {
	NextDepartures(ctx context.Context, stopCode, routeCode, direction string) (*transit.Departures, error)
}

// Journal records what the reconciler did. Failures are logged, never fatal.
type Journal interface {
	Append(eventType ledger.EventType, runID, lightID string, payload map[string]any) error
}

// Phase is the driver state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
)

// Status is a point-in-time view of the driver for the health endpoint.
type Status struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Cycles    int64     `json:"cycles"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Active    []string  `json:"active_lights"`
}

// statusTracker guards Status for readers outside the cycle goroutine.
type statusTracker struct {
	mu     sync.RWMutex
	status Status
}

func (t *statusTracker) update(fn func(*Status)) {
	t.mu.Lock()
	fn(&t.status)
	t.mu.Unlock()
}

func (t *statusTracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.Active = append([]string{}, t.status.Active...)
	return s
}
