// Package credmetrics exposes Prometheus instrumentation for the
// presentation and region engines.
package credmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "credcore"
)

// Label names.
const (
	labelRestoreID = "restore_identifier"
	labelRegion    = "region_id"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelOutcome   = "outcome"
	labelTrigger   = "trigger"
)

// -------------------------------------------------------------------------
// Collector — Prometheus credcore metrics
// -------------------------------------------------------------------------

// Collector holds all credcore Prometheus metrics.
//
//   - ActiveEngines tracks currently-constructed presentation engines.
//   - Attempts counts completed presentation attempts by terminal outcome.
//   - StateTransitions counts presentation FSM transitions for alerting.
//   - AuthFailures flags reader-verification and decryption failures.
//   - RegionTriggers counts region-engine-initiated presentation attempts.
type Collector struct {
	// ActiveEngines tracks the number of presentation engines currently
	// constructed, labeled by restore identifier (empty string for
	// unscoped engines).
	ActiveEngines *prometheus.GaugeVec

	// Attempts counts completed presentation attempts, labeled by the
	// terminal outcome ("success" or "failure").
	Attempts *prometheus.CounterVec

	// StateTransitions counts presentation.Engine FSM state transitions.
	StateTransitions *prometheus.CounterVec

	// AuthFailures counts reader-authentication failures (nonce mismatch,
	// decryption failure, reported AUTH_FAILED).
	AuthFailures *prometheus.CounterVec

	// RegionTriggers counts presentation attempts initiated by the region
	// engine, labeled by region and trigger kind ("entered" or "manual").
	RegionTriggers *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveEngines,
		c.Attempts,
		c.StateTransitions,
		c.AuthFailures,
		c.RegionTriggers,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		ActiveEngines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "active_engines",
			Help:      "Number of currently constructed presentation engines.",
		}, []string{labelRestoreID}),

		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "attempts_total",
			Help:      "Total completed presentation attempts by terminal outcome.",
		}, []string{labelOutcome}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "state_transitions_total",
			Help:      "Total presentation engine FSM state transitions.",
		}, []string{labelFromState, labelToState}),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "auth_failures_total",
			Help:      "Total reader authentication failures (nonce mismatch, decryption, AUTH_FAILED).",
		}, []string{}),

		RegionTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "triggers_total",
			Help:      "Total presentation attempts initiated by the region engine.",
		}, []string{labelRegion, labelTrigger}),
	}
}

// -------------------------------------------------------------------------
// Engine Lifecycle
// -------------------------------------------------------------------------

// RegisterEngine increments the active engines gauge for restoreID.
func (c *Collector) RegisterEngine(restoreID string) {
	c.ActiveEngines.WithLabelValues(restoreID).Inc()
}

// UnregisterEngine decrements the active engines gauge for restoreID.
func (c *Collector) UnregisterEngine(restoreID string) {
	c.ActiveEngines.WithLabelValues(restoreID).Dec()
}

// -------------------------------------------------------------------------
// Attempts
// -------------------------------------------------------------------------

// RecordAttempt increments the attempts counter for the given outcome.
// outcome is "success" or "failure".
func (c *Collector) RecordAttempt(outcome string) {
	c.Attempts.WithLabelValues(outcome).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels.
func (c *Collector) RecordStateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// Authentication
// -------------------------------------------------------------------------

// IncAuthFailures increments the authentication failure counter.
func (c *Collector) IncAuthFailures() {
	c.AuthFailures.WithLabelValues().Inc()
}

// -------------------------------------------------------------------------
// Region Triggers
// -------------------------------------------------------------------------

// RecordRegionTrigger increments the region trigger counter. trigger is
// "entered" or "manual".
func (c *Collector) RecordRegionTrigger(regionID, trigger string) {
	c.RegionTriggers.WithLabelValues(regionID, trigger).Inc()
}
