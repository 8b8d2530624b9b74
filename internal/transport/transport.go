// Package transport defines the GATT capability the credential presentation
// engine consumes (spec §4.3). It is a pure interface boundary: all real
// radio I/O lives outside this module; the engine only ever sees the
// Transport interface and the Event stream it produces.
package transport

import (
	"context"

	"github.com/google/uuid"
)

// PowerState mirrors the platform radio power states the engine must react
// to (spec §4.3, §5 background lifecycle).
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

var powerStateNames = [...]string{"Unknown", "Resetting", "Unsupported", "Unauthorized", "Off", "On"}

func (p PowerState) String() string {
	if int(p) < 0 || int(p) >= len(powerStateNames) {
		return "Unknown"
	}
	return powerStateNames[p]
}

// Peripheral identifies a discovered reader. Name is observable-state-only,
// never used for control flow (spec §6).
type Peripheral struct {
	ID   string
	Name string
}

// Service identifies a discovered GATT service on a connected peripheral.
type Service struct {
	Peripheral Peripheral
	UUID       uuid.UUID
}

// Characteristic identifies a discovered GATT characteristic within a
// service.
type Characteristic struct {
	Service Service
	UUID    uuid.UUID
}

// EventKind tags the variant of an Event.
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventScanFailed
	EventConnected
	EventConnectFailed
	EventServicesDiscovered
	EventServiceDiscoveryFailed
	EventCharacteristicsDiscovered
	EventCharacteristicDiscoveryFailed
	EventSubscribed
	EventSubscribeFailed
	EventNotification
	EventDisconnected
	EventPowerState
)

// Event is a single completion or notification delivered from the transport
// to the engine, serialized onto the engine's ordering domain (spec §5).
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind           EventKind
	Peripheral     Peripheral
	Service        Service
	Characteristic Characteristic
	Data           []byte
	Err            error
	Power          PowerState
}

// Transport is the capability the presentation engine consumes. All
// commands are asynchronous; their outcomes are delivered on Events(), never
// returned synchronously, except for the rare operation that can fail
// before any asynchronous work begins (a disconnected or misconfigured
// transport). The transport never cancels the engine; only the engine
// cancels itself (spec §4.3).
type Transport interface {
	// Events returns the serialized event stream for this transport
	// instance. It is valid for the lifetime of the Transport.
	Events() <-chan Event

	Scan(ctx context.Context, serviceUUID uuid.UUID) error
	Connect(ctx context.Context, p Peripheral) error
	DiscoverServices(ctx context.Context, p Peripheral, serviceUUID uuid.UUID) error
	DiscoverCharacteristics(ctx context.Context, s Service, characteristicUUID uuid.UUID) error
	Subscribe(ctx context.Context, c Characteristic) error
	WriteWithoutResponse(c Characteristic, data []byte) error
	Disconnect(p Peripheral)

	PowerState() PowerState
}
