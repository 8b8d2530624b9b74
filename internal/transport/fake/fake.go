// Package fake provides a deterministic, scriptable in-memory
// implementation of transport.Transport for use by presentation and region
// engine tests and by the `credcore simulate` command. No real radio I/O is
// performed; every operation's outcome is driven by the embedded Script.
package fake

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/credcore/internal/transport"
)

// Script describes how a fake Transport should answer each operation. A
// nil function means "succeed with a canned value"; a non-nil WriteReply
// lets the caller compute the reader's response to each outgoing write
// (used to script AUTH_RESPONSE / CREDENTIAL_RESPONSE / ERROR replies).
type Script struct {
	Peripheral transport.Peripheral
	Service    uuid.UUID

	ScanFails       bool
	ScanNeverFires  bool // never emits EventDiscovered; used to test scan timeout
	ConnectFails    bool
	ServicesFail    bool
	CharsFail       bool
	SubscribeFails  bool
	InitialPower    transport.PowerState

	// WriteReply, if set, is invoked for every WriteWithoutResponse call and
	// its return value (if non-nil) is delivered as an EventNotification
	// after ReplyDelay.
	WriteReply func(characteristicUUID uuid.UUID, data []byte) []byte
	ReplyDelay time.Duration
}

// Transport is the fake transport.Transport implementation.
type Transport struct {
	script Script
	events chan transport.Event
	power  transport.PowerState
}

// New constructs a fake Transport driven by script.
func New(script Script) *Transport {
	power := script.InitialPower
	if power == transport.PowerUnknown {
		power = transport.PowerOn
	}
	return &Transport{
		script: script,
		events: make(chan transport.Event, 16),
		power:  power,
	}
}

func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) PowerState() transport.PowerState { return t.power }

// SetPowerState lets tests and the simulator drive power transitions.
func (t *Transport) SetPowerState(p transport.PowerState) {
	t.power = p
	t.emit(transport.Event{Kind: transport.EventPowerState, Power: p})
}

func (t *Transport) emit(ev transport.Event) {
	t.events <- ev
}

func (t *Transport) Scan(ctx context.Context, serviceUUID uuid.UUID) error {
	if t.script.ScanNeverFires {
		return nil
	}
	go func() {
		if t.script.ScanFails {
			t.emit(transport.Event{Kind: transport.EventScanFailed, Err: errScan})
			return
		}
		t.emit(transport.Event{Kind: transport.EventDiscovered, Peripheral: t.script.Peripheral})
	}()
	return nil
}

func (t *Transport) Connect(ctx context.Context, p transport.Peripheral) error {
	go func() {
		if t.script.ConnectFails {
			t.emit(transport.Event{Kind: transport.EventConnectFailed, Peripheral: p, Err: errConnect})
			return
		}
		t.emit(transport.Event{Kind: transport.EventConnected, Peripheral: p})
	}()
	return nil
}

func (t *Transport) DiscoverServices(ctx context.Context, p transport.Peripheral, serviceUUID uuid.UUID) error {
	svc := transport.Service{Peripheral: p, UUID: serviceUUID}
	go func() {
		if t.script.ServicesFail {
			t.emit(transport.Event{Kind: transport.EventServiceDiscoveryFailed, Service: svc, Err: errServiceDiscovery})
			return
		}
		t.emit(transport.Event{Kind: transport.EventServicesDiscovered, Service: svc})
	}()
	return nil
}

func (t *Transport) DiscoverCharacteristics(ctx context.Context, s transport.Service, characteristicUUID uuid.UUID) error {
	ch := transport.Characteristic{Service: s, UUID: characteristicUUID}
	go func() {
		if t.script.CharsFail {
			t.emit(transport.Event{Kind: transport.EventCharacteristicDiscoveryFailed, Characteristic: ch, Err: errCharacteristicDiscovery})
			return
		}
		t.emit(transport.Event{Kind: transport.EventCharacteristicsDiscovered, Characteristic: ch})
	}()
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, c transport.Characteristic) error {
	go func() {
		if t.script.SubscribeFails {
			t.emit(transport.Event{Kind: transport.EventSubscribeFailed, Characteristic: c, Err: errSubscribe})
			return
		}
		t.emit(transport.Event{Kind: transport.EventSubscribed, Characteristic: c})
	}()
	return nil
}

func (t *Transport) WriteWithoutResponse(c transport.Characteristic, data []byte) error {
	if t.script.WriteReply == nil {
		return nil
	}
	go func() {
		reply := t.script.WriteReply(c.UUID, data)
		if reply == nil {
			return
		}
		if t.script.ReplyDelay > 0 {
			time.Sleep(t.script.ReplyDelay)
		}
		t.emit(transport.Event{Kind: transport.EventNotification, Characteristic: c, Data: reply})
	}()
	return nil
}

func (t *Transport) Disconnect(p transport.Peripheral) {
	go func() {
		t.emit(transport.Event{Kind: transport.EventDisconnected, Peripheral: p})
	}()
}
