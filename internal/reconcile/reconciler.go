// Package reconcile drives the lights from transit departures: every cycle it evaluates
// the rules of each monitor, applies the collated states and restores every other light
// to its natural state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/hueni/internal/ledger"
	"github.com/dokzlo13/hueni/internal/light"
	"github.com/dokzlo13/hueni/internal/rules"
)

const instrumentationName = "github.com/dokzlo13/hueni/internal/reconcile"

// Options configures a Reconciler.
type Options struct {
	MergeMode             rules.MergeMode
	TransitionTime        uint16               // Applied to triggered lights without their own transition
	RestoreTransitionTime uint16               // Used when going back to natural state
	Interval              time.Duration        // Sleep between cycles
	Duration              time.Duration        // Total run length, 0 runs until cancelled
	RateLimitRPS          float64              // Bridge calls per second, 0 or less disables pacing
	ShutdownTimeout       time.Duration        // Bound for the final restore
	Journal               Journal              // Optional
	Meter                 metric.MeterProvider // Defaults to the global provider
}

// Reconciler owns the cycle and the driver loop around it.
type Reconciler struct {
	bridge   Bridge
	transit  Transit
	natural  *light.NaturalStore
	monitors []Monitor
	opts     Options

	limiter  *rate.Limiter
	runID    string
	deadline time.Time

	tracer   trace.Tracer
	commands metric.Int64Counter
	cycles   metric.Int64Counter

	status statusTracker
}

// New creates a reconciler for the resolved monitors.
func New(bridge Bridge, tr Transit, natural *light.NaturalStore, monitors []Monitor, opts Options) *Reconciler {
	if opts.Interval == 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), max(1, int(opts.RateLimitRPS)))
	}

	r := &Reconciler{
		bridge:   bridge,
		transit:  tr,
		natural:  natural,
		monitors: monitors,
		opts:     opts,
		limiter:  limiter,
		runID:    uuid.NewString(),
		tracer:   otel.Tracer(instrumentationName),
	}
	r.commands, r.cycles = newCounters(opts.Meter)
	r.status.update(func(s *Status) {
		s.RunID = r.runID
		s.Phase = PhaseIdle
	})
	return r
}

func newCounters(mp metric.MeterProvider) (metric.Int64Counter, metric.Int64Counter) {
	meter := mp.Meter(instrumentationName)
	commands, err := meter.Int64Counter("hueni.light.commands",
		metric.WithDescription("Light state commands sent to the bridge"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create command counter")
		commands, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("hueni.light.commands")
	}
	cycles, err := meter.Int64Counter("hueni.cycles",
		metric.WithDescription("Completed reconciliation cycles"))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create cycle counter")
		cycles, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("hueni.cycles")
	}
	return commands, cycles
}

// RunID identifies this process run in logs and the ledger.
func (r *Reconciler) RunID() string {
	return r.runID
}

// Status returns a snapshot of the driver state.
func (r *Reconciler) Status() Status {
	return r.status.snapshot()
}

// Cycle runs one reconciliation pass. It reports stop once the configured run duration
// has elapsed; any error also means the driver has to stop.
func (r *Reconciler) Cycle(ctx context.Context) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.cycle",
		trace.WithAttributes(attribute.String("run_id", r.runID)))
	defer span.End()

	var triggered []rules.Rule
	for _, m := range r.monitors {
		deps, err := r.transit.NextDepartures(ctx, m.StopID, m.Route.Code, m.Direction)
		if err != nil {
			span.RecordError(err)
			return true, fmt.Errorf("failed to fetch departures for route %s at stop %s: %w", m.Route.Code, m.StopID, err)
		}

		matched := rules.Evaluate(deps.Times, m.Rules)
		log.Debug().
			Str("stop", m.StopID).
			Str("route", m.Route.Code).
			Str("direction", m.Direction).
			Ints("departures", deps.Times).
			Int("triggered", len(matched)).
			Msg("Evaluated departures")
		triggered = append(triggered, matched...)
	}

	collated := rules.Collate(triggered, r.opts.MergeMode)
	span.SetAttributes(
		attribute.Int("rules.triggered", len(triggered)),
		attribute.Int("lights.targeted", len(collated)),
	)

	active, err := r.apply(ctx, collated)
	if err != nil {
		span.RecordError(err)
		return true, err
	}
	if err := r.restore(ctx, rules.Targets(triggered)); err != nil {
		span.RecordError(err)
		return true, err
	}

	now := time.Now()
	r.status.update(func(s *Status) {
		s.Cycles++
		s.LastCycle = now
		s.LastError = ""
		s.Active = active
	})
	r.cycles.Add(ctx, 1)
	r.record(ledger.EventCycleCompleted, "", map[string]any{
		"triggered": len(triggered),
		"active":    active,
	})

	return r.expired(now), nil
}

// apply sends every collated state, powered on and with the default transition. It
// returns the ids of the lights it set.
func (r *Reconciler) apply(ctx context.Context, collated map[string]light.State) ([]string, error) {
	ids := make([]string, 0, len(collated))
	for id := range collated {
		ids = append(ids, id)
	}
	light.SortIDs(ids)

	active := make([]string, 0, len(ids))
	for _, id := range ids {
		if !r.natural.Has(id) {
			log.Warn().Str("light", id).Msg("Light has no natural state, skipping")
			continue
		}

		st := collated[id].Clone()
		st.On = light.Ptr(true)
		if st.TransitionTime == nil {
			st.TransitionTime = light.Ptr(r.opts.TransitionTime)
		}

		if err := r.set(ctx, id, st, "apply"); err != nil {
			return nil, err
		}
		active = append(active, id)
		r.record(ledger.EventLightApplied, id, map[string]any{"state": st})
	}
	return active, nil
}

// restore puts every captured light that no rule targets back to natural state,
// skipping lights that already look natural.
func (r *Reconciler) restore(ctx context.Context, targets map[string]struct{}) error {
	for _, id := range r.natural.IDs() {
		if _, ok := targets[id]; ok {
			continue
		}
		natural, _ := r.natural.Get(id)

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		live, err := r.bridge.LightState(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read light %s: %w", id, err)
		}
		if looksNatural(live, natural) {
			continue
		}

		st := restoreCommand(natural, r.opts.RestoreTransitionTime)
		if err := r.set(ctx, id, st, "restore"); err != nil {
			return err
		}
		r.record(ledger.EventLightRestored, id, map[string]any{"state": st})
	}
	return nil
}

// RestoreAll sends every captured light its natural state without comparing first.
// It keeps going past failures and returns them joined.
func (r *Reconciler) RestoreAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.natural.IDs() {
		natural, _ := r.natural.Get(id)
		st := restoreCommand(natural, r.opts.RestoreTransitionTime)
		if err := r.set(ctx, id, st, "restore_all"); err != nil {
			log.Error().Err(err).Str("light", id).Msg("Failed to restore light")
			errs = append(errs, err)
			continue
		}
		r.record(ledger.EventLightRestored, id, map[string]any{"state": st, "final": true})
	}
	return errors.Join(errs...)
}

func (r *Reconciler) set(ctx context.Context, id string, st light.State, kind string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := r.bridge.SetLightState(ctx, id, st); err != nil {
		return fmt.Errorf("failed to %s light %s: %w", kind, id, err)
	}
	r.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	log.Debug().Str("light", id).Str("kind", kind).Msg("Light state sent")
	return nil
}

// Run drives cycles until ctx is cancelled, the run duration elapses or a cycle fails,
// then restores every light. Only a cycle failure is returned.
func (r *Reconciler) Run(ctx context.Context) (err error) {
	if r.opts.Duration > 0 {
		r.deadline = time.Now().Add(r.opts.Duration)
	}
	r.status.update(func(s *Status) { s.Phase = PhaseRunning })
	r.record(ledger.EventRunStarted, "", map[string]any{"monitors": len(r.monitors), "lights": r.natural.Len()})

	log.Info().
		Str("run_id", r.runID).
		Int("monitors", len(r.monitors)).
		Dur("interval", r.opts.Interval).
		Dur("duration", r.opts.Duration).
		Str("merge", r.opts.MergeMode.String()).
		Msg("Reconciler started")

	reason := "cancelled"
	defer func() { r.shutdown(reason, err) }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.expired(time.Now()) {
			reason = "duration elapsed"
			return nil
		}

		stop, cycleErr := r.Cycle(ctx)
		if cycleErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			reason = "cycle failed"
			r.status.update(func(s *Status) { s.LastError = cycleErr.Error() })
			return cycleErr
		}
		if stop {
			reason = "duration elapsed"
			return nil
		}

		timer := time.NewTimer(r.wait(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Reconciler) shutdown(reason string, runErr error) {
	r.status.update(func(s *Status) { s.Phase = PhaseStopping })
	log.Info().Str("reason", reason).Msg("Reconciler stopping, restoring natural light state")

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()

	if err := r.RestoreAll(ctx); err != nil {
		log.Error().Err(err).Msg("Final restore incomplete")
	}

	payload := map[string]any{"reason": reason}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	r.record(ledger.EventRunStopped, "", payload)

	r.status.update(func(s *Status) {
		s.Phase = PhaseStopped
		s.Active = nil
	})
	log.Info().Str("run_id", r.runID).Msg("Reconciler stopped")
}

func (r *Reconciler) expired(now time.Time) bool {
	return !r.deadline.IsZero() && !now.Before(r.deadline)
}

// wait is the sleep before the next cycle, cut short by the run deadline.
func (r *Reconciler) wait(now time.Time) time.Duration {
	wait := r.opts.Interval
	if !r.deadline.IsZero() {
		if remaining := r.deadline.Sub(now); remaining < wait {
			wait = max(remaining, 0)
		}
	}
	return wait
}

func (r *Reconciler) record(eventType ledger.EventType, lightID string, payload map[string]any) {
	if r.opts.Journal == nil {
		return
	}
	if err := r.opts.Journal.Append(eventType, r.runID, lightID, payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record ledger event")
	}
}

// looksNatural reports whether no restore is needed. Two lights that are off look the
// same whatever their other attributes.
func looksNatural(live, natural light.State) bool {
	if isOff(natural) && isOff(live) {
		return true
	}
	return live.CoreEqual(natural)
}

// restoreCommand is the state sent to return a light to natural. The bridge rejects
// color and brightness changes for lights being switched off, so those only get power.
func restoreCommand(natural light.State, transition uint16) light.State {
	st := natural.Clone()
	if isOff(natural) {
		st = light.State{On: light.Ptr(false)}
	}
	st.TransitionTime = light.Ptr(transition)
	return st
}

func isOff(s light.State) bool {
	return s.On != nil && !*s.On
}

