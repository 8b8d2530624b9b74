package presentation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Default timeout and retry values (spec §6 configuration surface).
const (
	DefaultScanTimeout       = 30 * time.Second
	DefaultConnectionTimeout = 5 * time.Second
	DefaultResponseTimeout   = 3 * time.Second
	DefaultRetryMax          = 3
	DefaultRetryBackoff      = 1 * time.Second

	// SubscribeDelay is the fixed post-subscribe wait before AUTH_REQUEST
	// is sent (spec §4.4, §9 open question: retained as-is).
	SubscribeDelay = 100 * time.Millisecond

	deviceIDLen  = 16
	deviceKeyLen = 16
)

var (
	ErrInvalidDeviceIDLen  = errors.New("presentation: device_id must be 16 bytes")
	ErrInvalidDeviceKeyLen = errors.New("presentation: device_key must be 16 bytes")
)

// Config is the client configuration (spec §3, §6), immutable for the life
// of a single presentation engine instance.
type Config struct {
	ServiceUUID        uuid.UUID
	CharacteristicUUID uuid.UUID

	DeviceID   []byte
	DeviceKey  []byte
	Credential string

	ScanTimeout       time.Duration
	ConnectionTimeout time.Duration
	ResponseTimeout   time.Duration

	RetryMax     int
	RetryBackoff time.Duration

	// RestoreIdentifier enables background-wake continuity: a
	// platform-initiated re-instantiation bearing the same identifier is
	// re-bound to the in-flight session (spec §9).
	RestoreIdentifier string
}

// WithDefaults returns a copy of c with zero-valued timeout/retry fields
// replaced by their spec-mandated defaults.
func (c Config) WithDefaults() Config {
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Validate enforces the fixed-length identity fields (spec §3).
func (c Config) Validate() error {
	if len(c.DeviceID) != deviceIDLen {
		return ErrInvalidDeviceIDLen
	}
	if len(c.DeviceKey) != deviceKeyLen {
		return ErrInvalidDeviceKeyLen
	}
	return nil
}
