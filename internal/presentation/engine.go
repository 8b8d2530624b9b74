// Package presentation implements the GATT credential presentation engine
// (spec §4.4): a connection-oriented mutual-authentication state machine
// that scans for a reader, connects, negotiates framed messaging over a
// single characteristic, performs challenge/response authentication, and
// transmits an encrypted credential, with bounded retries and strict
// timeouts.
package presentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldgate/credcore/internal/cryptutil"
	"github.com/fieldgate/credcore/internal/transport"
	"github.com/fieldgate/credcore/internal/wire"
)

// activeRestoreIDs enforces "at most one presentation engine instance
// active per process" (spec §3) scoped by RestoreIdentifier, rather than as
// a bare package-level singleton — see DESIGN.md for why.
var (
	activeMu         sync.Mutex
	activeRestoreIDs = map[string]*Engine{}
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger overrides the engine's logger. device_id, device_key, nonce_M,
// iv, and the decrypted credential are never passed to it (spec §7
// sensitive-data policy).
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStateChanges registers a channel that receives a best-effort copy of
// every observable StateChange (spec §9 "observable-object pattern"). Sends
// are non-blocking: a slow or absent reader never stalls the engine.
func WithStateChanges(ch chan<- StateChange) Option {
	return func(e *Engine) { e.changes = ch }
}

// MetricsRecorder receives engine lifecycle and outcome events. Failures are
// counted by terminal outcome and as authentication failures, never by
// secret value; they are not broken down by error taxonomy bucket. Satisfied by
// *credmetrics.Collector; accepted as a narrow interface so this package
// never imports prometheus directly.
type MetricsRecorder interface {
	RegisterEngine(restoreID string)
	UnregisterEngine(restoreID string)
	RecordAttempt(outcome string)
	RecordStateTransition(from, to string)
	IncAuthFailures()
}

// WithMetrics wires m into the engine's lifecycle and outcome events.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

type command int

const (
	cmdPresent command = iota
	cmdCancel
)

// Engine is the credential presentation state machine. All of its state is
// owned by the single goroutine running Run; State, Snapshot, Present,
// Cancel, and Resuming are the only methods safe to call from other
// goroutines.
type Engine struct {
	cfg        Config
	transport  transport.Transport
	onComplete func(Result)
	changes    chan<- StateChange
	logger     *slog.Logger
	metrics    MetricsRecorder

	cmdCh chan command

	state atomic.Uint32

	// pendingStart mirrors the Run goroutine's view of whether the engine is
	// waiting on a power-on event before it can start scanning. It is the
	// one piece of ephemeral state read from another goroutine (Resuming,
	// for a platform wake handler deciding whether to re-arm a restored
	// engine), so unlike the fields below it is atomic rather than
	// goroutine-confined.
	pendingStart atomic.Bool

	mu       sync.Mutex
	snapshot StateChange

	// Fields below are touched exclusively by the Run goroutine.
	presenting     bool
	attempts       int
	peripheral     transport.Peripheral
	service        transport.Service
	characteristic transport.Characteristic
	nonceM         []byte
	pendingResult  *Result
	selfDisconnects int

	scanTimer           *time.Timer
	connectTimer        *time.Timer
	responseTimer       *time.Timer
	subscribeDelayTimer *time.Timer
	retryTimer          *time.Timer
}

// NewEngine constructs an Engine bound to transport t. onComplete is
// invoked exactly once per terminal transition, on the engine's own
// goroutine — it must not block.
func NewEngine(cfg Config, t transport.Transport, onComplete func(Result), opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		transport:  t,
		onComplete: onComplete,
		logger:     slog.Default(),
		cmdCh:      make(chan command, 4),
	}
	e.state.Store(uint32(StateIdle))
	e.snapshot = StateChange{State: StateIdle}

	for _, opt := range opts {
		opt(e)
	}

	if cfg.RestoreIdentifier != "" {
		activeMu.Lock()
		if _, exists := activeRestoreIDs[cfg.RestoreIdentifier]; exists {
			activeMu.Unlock()
			return nil, ErrAlreadyConstructed
		}
		activeRestoreIDs[cfg.RestoreIdentifier] = e
		activeMu.Unlock()
	}

	if e.metrics != nil {
		e.metrics.RegisterEngine(cfg.RestoreIdentifier)
	}

	return e, nil
}

// Close releases the RestoreIdentifier slot this engine claimed at
// construction. Callers should cancel Run's context first.
func (e *Engine) Close() {
	if e.metrics != nil {
		e.metrics.UnregisterEngine(e.cfg.RestoreIdentifier)
	}
	if e.cfg.RestoreIdentifier == "" {
		return
	}
	activeMu.Lock()
	delete(activeRestoreIDs, e.cfg.RestoreIdentifier)
	activeMu.Unlock()
}

// State returns the engine's current state. Safe for concurrent use.
func (e *Engine) State() State { return State(e.state.Load()) }

// Snapshot returns a copy of the current observable state record.
func (e *Engine) Snapshot() StateChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Present requests a presentation attempt. If the engine is already
// non-terminal, the request is ignored and logged (spec §7 caller errors).
func (e *Engine) Present() {
	select {
	case e.cmdCh <- cmdPresent:
	default:
		e.logger.Warn("presentation: command queue full, dropping present request")
	}
}

// Cancel requests cancellation. It is idempotent and legal from any state
// (spec §4.4).
func (e *Engine) Cancel() {
	select {
	case e.cmdCh <- cmdCancel:
	default:
		e.logger.Warn("presentation: command queue full, dropping cancel request")
	}
}

// Run executes the engine's single serial ordering domain (spec §5) until
// ctx is cancelled. It must be called exactly once, typically from an
// errgroup alongside the owning region engine.
func (e *Engine) Run(ctx context.Context) {
	events := e.transport.Events()

	for {
		select {
		case <-ctx.Done():
			e.doCancel()
			return
		case cmd := <-e.cmdCh:
			e.handleCommand(cmd)
		case ev := <-events:
			e.handleTransportEvent(ev)
		case <-timerC(e.scanTimer):
			e.handleTimeout(StateScanning, ErrScanTimeout)
		case <-timerC(e.connectTimer):
			e.handleTimeout(StateConnecting, ErrConnectTimeout)
		case <-timerC(e.responseTimer):
			e.handleResponseTimeout()
		case <-timerC(e.subscribeDelayTimer):
			e.handleSubscribeDelayElapsed()
		case <-timerC(e.retryTimer):
			e.retryTimer = nil
			e.startScan()
		}
	}
}

// timerC returns t.C, or nil (which blocks forever in a select) if t is
// nil — lets one select statement serve every phase of an attempt without
// a case per possible absent timer.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (e *Engine) handleCommand(cmd command) {
	switch cmd {
	case cmdPresent:
		e.present()
	case cmdCancel:
		e.doCancel()
	}
}

func (e *Engine) present() {
	if e.presenting {
		e.logger.Info("presentation: present_credential ignored, attempt already in progress", "state", e.State())
		return
	}
	e.presenting = true
	e.attempts = 0
	e.beginAttempt()
}

// beginAttempt starts a fresh attempt, honoring the background-lifecycle
// pending_start rule (spec §5): if the radio is not yet powered on, the
// engine records pending_start and waits for a power-on event (see
// restore.go).
func (e *Engine) beginAttempt() {
	if e.transport.PowerState() != transport.PowerOn {
		e.pendingStart.Store(true)
		e.publish(StateIdle, nil)
		return
	}
	e.pendingStart.Store(false)
	e.startScan()
}

func (e *Engine) startScan() {
	e.clearTimers()
	if err := e.transport.Scan(context.Background(), e.cfg.ServiceUUID); err != nil {
		e.failAttempt(err, true)
		return
	}
	e.scanTimer = time.NewTimer(e.cfg.ScanTimeout)
	e.publish(StateScanning, nil)
}

func (e *Engine) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPowerState:
		e.handlePowerState(ev.Power)

	case transport.EventDiscovered:
		if e.State() != StateScanning {
			return
		}
		e.peripheral = ev.Peripheral
		e.transitionVia(EventDiscovered)

	case transport.EventScanFailed:
		if e.State() != StateScanning {
			return
		}
		e.failAttempt(fmt.Errorf("%w: %v", ErrScanTimeout, ev.Err), true)

	case transport.EventConnected:
		if e.State() != StateConnecting {
			return
		}
		e.transitionVia(EventConnected)

	case transport.EventConnectFailed:
		if e.State() != StateConnecting {
			return
		}
		e.failAttempt(fmt.Errorf("%w: %v", ErrConnectFailed, ev.Err), true)

	case transport.EventServicesDiscovered:
		if e.State() != StateDiscoveringServices {
			return
		}
		e.service = ev.Service
		e.transitionVia(EventServicesDiscovered)

	case transport.EventServiceDiscoveryFailed:
		if e.State() != StateDiscoveringServices {
			return
		}
		e.failAttempt(fmt.Errorf("%w: %v", ErrServiceFailed, ev.Err), true)

	case transport.EventCharacteristicsDiscovered:
		if e.State() != StateDiscoveringCharacteristics {
			return
		}
		e.characteristic = ev.Characteristic
		e.transitionVia(EventCharacteristicsDiscovered)

	case transport.EventCharacteristicDiscoveryFailed:
		if e.State() != StateDiscoveringCharacteristics {
			return
		}
		e.failAttempt(fmt.Errorf("%w: %v", ErrCharFailed, ev.Err), true)

	case transport.EventSubscribed:
		if e.State() != StateSubscribing {
			return
		}
		e.transitionVia(EventSubscribed)

	case transport.EventSubscribeFailed:
		if e.State() != StateSubscribing {
			return
		}
		e.failAttempt(fmt.Errorf("%w: %v", ErrSubscribeFailed, ev.Err), true)

	case transport.EventNotification:
		e.handleNotification(ev.Data)

	case transport.EventDisconnected:
		// A disconnect we requested ourselves (cleanup, cancel) echoes
		// back on this same event stream; absorb exactly one such echo
		// per request so it isn't mistaken for an unexpected disconnection
		// of a later attempt against the same peripheral identity.
		if e.selfDisconnects > 0 {
			e.selfDisconnects--
			return
		}
		if e.State() == StateIdle || e.State().Terminal() {
			return
		}
		e.failAttempt(ErrConnectFailed, true)
	}
}

// handleNotification implements the exactly-once response gating (spec
// §4.4): empty bodies are ignored, and a notification is only accepted
// while the engine is actually awaiting one (Authenticating or
// SendingCredential) — state has already moved on by the time a duplicate
// arrives, so no separate "resolved" flag is needed.
func (e *Engine) handleNotification(data []byte) {
	if len(data) == 0 {
		return
	}

	switch e.State() {
	case StateAuthenticating:
		e.handleAuthResponse(data)
	case StateSendingCredential:
		e.handleCredentialResponse(data)
	}
}

func (e *Engine) handleAuthResponse(data []byte) {
	nonceR, err := wire.ParseAuthResponse(data, e.cfg.DeviceKey, e.nonceM)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncAuthFailures()
		}
		if errors.Is(err, wire.ErrNonceMismatch) {
			// Security-fatal: immediate disconnect, no retry (spec §4.4,
			// §7).
			e.cleanupAttempt()
			e.transitionToFailed(ErrReaderVerificationFailed)
			return
		}
		e.failAttempt(err, true)
		return
	}
	_ = nonceR // not retained and not used in further protocol steps.
	e.transitionVia(EventAuthOK)
}

func (e *Engine) handleCredentialResponse(data []byte) {
	result, err := wire.ParseCredentialResponse(data)
	if err != nil {
		e.failAttempt(err, true)
		return
	}
	// Per spec §9 open question: REJECTED/EXPIRED/REVOKED/INVALID_FORMAT
	// still complete the attempt — success==false is still a completion,
	// not a retryable failure.
	e.pendingResult = &Result{Success: result.Success, Message: result.Message}
	e.transitionVia(EventCredentialResponded)
}

func (e *Engine) handlePowerState(power transport.PowerState) {
	switch power {
	case transport.PowerOn:
		if e.pendingStart.Load() {
			e.pendingStart.Store(false)
			e.startScan()
		}
	case transport.PowerOff, transport.PowerUnauthorized, transport.PowerUnsupported, transport.PowerResetting:
		if e.State() != StateIdle && !e.State().Terminal() {
			e.failAttempt(ErrPoweredOff, false)
		}
	}
}

// transitionVia applies the pure FSM table to the current state and
// executes the resulting side effects. Unlisted (state, event) pairs are
// silently ignored.
func (e *Engine) transitionVia(event Event) {
	result := ApplyEvent(e.State(), event)
	if !result.Changed {
		return
	}
	for _, action := range result.Actions {
		if err := e.executeAction(action); err != nil {
			e.failAttempt(err, isRetryable(err))
			return
		}
	}
	e.publish(result.NewState, nil)
}

// isRetryable reports whether an error from executeAction is a transient
// failure rather than a sign of configuration corruption. Per spec §7,
// InvalidKeySize/InvalidIVSize should be treated as fatal without retry;
// CipherFailure and RandomFailure are transient and remain retryable.
func isRetryable(err error) bool {
	return !errors.Is(err, cryptutil.ErrInvalidKeySize) && !errors.Is(err, cryptutil.ErrInvalidIVSize)
}

func (e *Engine) executeAction(action Action) error {
	ctx := context.Background()

	switch action {
	case ActionStartConnect:
		e.stopTimer(&e.scanTimer)
		if err := e.transport.Connect(ctx, e.peripheral); err != nil {
			return err
		}
		e.connectTimer = time.NewTimer(e.cfg.ConnectionTimeout)

	case ActionDiscoverServices:
		e.stopTimer(&e.connectTimer)
		if err := e.transport.DiscoverServices(ctx, e.peripheral, e.cfg.ServiceUUID); err != nil {
			return err
		}

	case ActionDiscoverCharacteristics:
		if err := e.transport.DiscoverCharacteristics(ctx, e.service, e.cfg.CharacteristicUUID); err != nil {
			return err
		}

	case ActionSubscribe:
		if err := e.transport.Subscribe(ctx, e.characteristic); err != nil {
			return err
		}

	case ActionArmSubscribeDelay:
		e.subscribeDelayTimer = time.NewTimer(SubscribeDelay)

	case ActionSendAuthRequest:
		e.stopTimer(&e.subscribeDelayTimer)
		req, err := wire.BuildAuthRequest(e.cfg.DeviceID, e.cfg.DeviceKey)
		if err != nil {
			return err
		}
		e.nonceM = req.NonceM
		if err := e.transport.WriteWithoutResponse(e.characteristic, req.Bytes); err != nil {
			return err
		}
		e.responseTimer = time.NewTimer(e.cfg.ResponseTimeout)

	case ActionSendCredential:
		e.stopTimer(&e.responseTimer)
		frame, err := wire.BuildCredential(e.cfg.DeviceKey, e.cfg.Credential)
		if err != nil {
			return err
		}
		if err := e.transport.WriteWithoutResponse(e.characteristic, frame); err != nil {
			return err
		}
		e.responseTimer = time.NewTimer(e.cfg.ResponseTimeout)

	case ActionEmitResult:
		e.stopTimer(&e.responseTimer)
		result := *e.pendingResult
		e.pendingResult = nil
		e.completeAttempt(result)
	}

	return nil
}

func (e *Engine) handleTimeout(expectedState State, timeoutErr error) {
	if e.State() != expectedState {
		return // late-fire protection (spec §5)
	}
	e.failAttempt(timeoutErr, true)
}

func (e *Engine) handleResponseTimeout() {
	if e.State() != StateAuthenticating && e.State() != StateSendingCredential {
		return // late-fire protection (spec §5)
	}
	e.failAttempt(ErrResponseTimeout, true)
}

func (e *Engine) handleSubscribeDelayElapsed() {
	if e.State() != StateSubscribing {
		return
	}
	e.transitionVia(EventSubscribeDelayElapsed)
}

// failAttempt implements the retry policy (spec §4.4, §7). Non-retryable
// failures (crypto configuration corruption, security-fatal nonce
// mismatch, radio power loss) go straight to Failed. Retryable failures
// clean up, and either back off and rescan, or exhaust into Failed.
func (e *Engine) failAttempt(err error, retryable bool) {
	e.cleanupAttempt()

	if !retryable {
		e.transitionToFailed(err)
		return
	}

	e.attempts++
	if e.attempts >= e.cfg.RetryMax {
		e.transitionToFailed(err)
		return
	}

	e.logger.Info("presentation: attempt failed, retrying", "attempt", e.attempts, "error", err)
	e.retryTimer = time.NewTimer(e.cfg.RetryBackoff)
}

// failureMessage extracts the spec-mandated user-facing message for err: a
// *wire.ReaderError's bare Message (e.g. "Authentication failed"), never the
// wire-level "wire: reader error 0x.." wrapper text.
func failureMessage(err error) string {
	var readerErr *wire.ReaderError
	if errors.As(err, &readerErr) {
		return readerErr.Message
	}
	return err.Error()
}

func (e *Engine) transitionToFailed(err error) {
	e.presenting = false
	e.pendingStart.Store(false)
	result := Result{Success: false, Message: failureMessage(err)}
	e.publish(StateFailed, &result)
	if e.metrics != nil {
		e.metrics.RecordAttempt("failure")
	}
	if e.onComplete != nil {
		e.onComplete(result)
	}
}

func (e *Engine) completeAttempt(result Result) {
	e.presenting = false
	e.cleanupAttempt()
	e.publish(StateComplete, &result)
	if e.metrics != nil {
		if result.Success {
			e.metrics.RecordAttempt("success")
		} else {
			e.metrics.RecordAttempt("failure")
		}
	}
	if e.onComplete != nil {
		e.onComplete(result)
	}
}

// doCancel implements the idempotent Cancel semantics (spec §4.4): cancels
// all timers, unsubscribes (best-effort via disconnect), clears ephemeral
// state, and sets state to Idle, discarding any pending retry or
// pending_start.
func (e *Engine) doCancel() {
	if e.State() == StateIdle && !e.presenting {
		return // already idle: no-op, per idempotent-cancel property
	}
	e.presenting = false
	e.pendingStart.Store(false)
	e.cleanupAttempt()
	e.publish(StateIdle, nil)
}

// cleanupAttempt is invoked on every terminal transition, retry boundary,
// and cancel (spec §4.4 "Cleanup"). It cancels all timers, requests
// disconnect, and zeroes ephemeral state including nonce_M.
func (e *Engine) cleanupAttempt() {
	e.clearTimers()
	if e.peripheral != (transport.Peripheral{}) {
		e.selfDisconnects++
		e.transport.Disconnect(e.peripheral)
	}
	e.peripheral = transport.Peripheral{}
	e.service = transport.Service{}
	e.characteristic = transport.Characteristic{}
	e.nonceM = nil
	e.pendingResult = nil
}

func (e *Engine) clearTimers() {
	e.stopTimer(&e.scanTimer)
	e.stopTimer(&e.connectTimer)
	e.stopTimer(&e.responseTimer)
	e.stopTimer(&e.subscribeDelayTimer)
	e.stopTimer(&e.retryTimer)
}

// stopTimer stops *t if armed and clears it, draining a possible pending
// fire so a subsequent Reset on the same timer cannot double-fire — the
// same idiom session.go uses for its tx/detect timers.
func (e *Engine) stopTimer(t **time.Timer) {
	if *t == nil {
		return
	}
	if !(*t).Stop() {
		select {
		case <-(*t).C:
		default:
		}
	}
	*t = nil
}

func (e *Engine) publish(state State, result *Result) {
	from := State(e.state.Load())
	e.state.Store(uint32(state))
	if e.metrics != nil && from != state {
		e.metrics.RecordStateTransition(from.String(), state.String())
	}

	sc := StateChange{
		State:      state,
		LastResult: result,
	}
	sc.ConnectedPeripheralName = e.peripheral.Name
	sc.DiscoveredServiceUUID = e.service.UUID
	sc.DiscoveredCharacteristicUUID = e.characteristic.UUID

	e.mu.Lock()
	e.snapshot = sc
	e.mu.Unlock()

	if e.changes != nil {
		select {
		case e.changes <- sc:
		default:
		}
	}
}
