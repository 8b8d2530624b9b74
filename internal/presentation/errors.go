package presentation

import "errors"

// Transport-layer errors (spec §7 taxonomy: transport errors).
var (
	ErrPoweredOff      = errors.New("presentation: radio powered off")
	ErrUnauthorized    = errors.New("presentation: radio unauthorized")
	ErrUnsupported     = errors.New("presentation: radio unsupported")
	ErrScanTimeout     = errors.New("presentation: no reader found")
	ErrConnectTimeout  = errors.New("presentation: connection timed out")
	ErrConnectFailed   = errors.New("presentation: connection failed")
	ErrServiceFailed   = errors.New("presentation: service discovery failed")
	ErrCharFailed      = errors.New("presentation: characteristic discovery failed")
	ErrSubscribeFailed = errors.New("presentation: subscribe failed")
	ErrResponseTimeout = errors.New("presentation: response timeout")
)

// Security-fatal error (spec §7): never retried.
var ErrReaderVerificationFailed = errors.New("presentation: reader verification failed")

// Caller error (spec §7): present_credential invoked while already
// non-terminal and not mid-retry.
var ErrAlreadyInProgress = errors.New("presentation: already in progress")

// ErrAlreadyConstructed guards the "at most one presentation engine
// instance active per process" invariant (spec §3) at the constructor,
// rather than as a package-level singleton (see DESIGN.md).
var ErrAlreadyConstructed = errors.New("presentation: an engine instance is already active for this restore identifier")
