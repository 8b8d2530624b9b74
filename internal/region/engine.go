// Package region implements the region trigger engine (spec §4.5): it
// consumes beacon region notifications and drives a single owned
// presentation engine with exactly-once semantics per region occupancy.
package region

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/fieldgate/credcore/internal/beacon"
	"github.com/fieldgate/credcore/internal/presentation"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// MetricsRecorder receives region-initiated trigger events. Satisfied by
// *credmetrics.Collector; accepted as a narrow interface so this package
// never imports prometheus directly.
type MetricsRecorder interface {
	RecordRegionTrigger(regionID, trigger string)
}

// WithMetrics wires m into the engine's trigger events.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine owns exactly one presentation.Engine (spec §3 invariant, §9
// "cyclic owner→client back-reference"): the child notifies this engine's
// observers only via the callback/state-channel it was constructed with,
// never via a strong reference back to this Engine.
type Engine struct {
	regionID beacon.RegionID
	child    *presentation.Engine
	logger   *slog.Logger
	metrics  MetricsRecorder

	occupancy atomic.Int32
	guard     atomic.Bool

	eventsCh  chan beacon.Event
	triggerCh chan struct{}
}

// NewEngine constructs a region engine for regionID, owning child. The
// caller is responsible for running child.Run on its own goroutine (e.g.
// alongside this Engine's Run, from an errgroup in cmd/credcore).
func NewEngine(regionID beacon.RegionID, child *presentation.Engine, opts ...Option) *Engine {
	e := &Engine{
		regionID:  regionID,
		child:     child,
		logger:    slog.Default(),
		eventsCh:  make(chan beacon.Event, 16),
		triggerCh: make(chan struct{}, 1),
	}
	e.occupancy.Store(int32(beacon.OccupancyUnknown))

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Occupancy returns the engine's current region occupancy. Safe for
// concurrent use.
func (e *Engine) Occupancy() beacon.Occupancy {
	return beacon.Occupancy(e.occupancy.Load())
}

// PresentationGuardActive reports whether a presentation attempt has been
// initiated (and possibly completed) for the current inside-period.
func (e *Engine) PresentationGuardActive() bool {
	return e.guard.Load()
}

// Dispatch delivers a beacon region notification. Non-blocking: a full
// queue drops the event and logs, matching the command-queue discipline
// used throughout this module.
func (e *Engine) Dispatch(ev beacon.Event) {
	select {
	case e.eventsCh <- ev:
	default:
		e.logger.Warn("region: event queue full, dropping region event")
	}
}

// Trigger requests a manual presentation attempt regardless of occupancy
// (spec §4.5).
func (e *Engine) Trigger() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
		e.logger.Warn("region: trigger queue full, dropping manual trigger")
	}
}

// Run executes the region engine's serialized event-dispatch loop until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.eventsCh:
			e.handleEvent(ev)
		case <-e.triggerCh:
			e.handleManualTrigger()
		}
	}
}

// handleEvent applies spec §4.5's action table. Filtering by region
// identifier is mandatory: notifications for any other region are ignored.
func (e *Engine) handleEvent(ev beacon.Event) {
	if ev.Region != e.regionID {
		return
	}

	switch ev.Kind {
	case beacon.EventEntered:
		e.enter()
	case beacon.EventExited:
		e.exit()
	case beacon.EventStateDetermined:
		switch ev.Determined {
		case beacon.OccupancyInside:
			e.enter()
		case beacon.OccupancyOutside:
			e.exit()
		case beacon.OccupancyUnknown:
			e.occupancy.Store(int32(beacon.OccupancyUnknown))
		}
	}
}

// enter implements the "entered while not currently inside" and
// "state_determined=inside" actions. It is idempotent with respect to
// duplicate entered events within a single inside-period: the guard is
// only set, and present_credential only invoked, once per period.
func (e *Engine) enter() {
	e.occupancy.Store(int32(beacon.OccupancyInside))
	if e.guard.CompareAndSwap(false, true) {
		if e.metrics != nil {
			e.metrics.RecordRegionTrigger(e.regionID.String(), "entered")
		}
		e.child.Present()
	}
}

// exit implements the "exited"/"state_determined=outside" actions:
// cancels any in-progress presentation attempt and clears the guard for
// the next inside-period.
func (e *Engine) exit() {
	e.occupancy.Store(int32(beacon.OccupancyOutside))
	e.child.Cancel()
	e.guard.Store(false)
}

// handleManualTrigger clears the guard and invokes present_credential
// regardless of current occupancy (spec §4.5), then re-arms the guard so a
// region re-entry during the resulting attempt does not double-trigger it.
func (e *Engine) handleManualTrigger() {
	e.guard.Store(true)
	if e.metrics != nil {
		e.metrics.RecordRegionTrigger(e.regionID.String(), "manual")
	}
	e.child.Present()
}
