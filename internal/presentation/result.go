package presentation

import "github.com/google/uuid"

// Result is the terminal outcome of a presentation attempt (spec §3),
// delivered via the completion callback.
type Result struct {
	Success bool
	Message string
}

// StateChange is the observable-state record published on every transition
// (spec §6, §9 "observable-object pattern"). It is for observers only and
// MUST NOT be used for control flow.
type StateChange struct {
	State State

	ConnectedPeripheralName      string
	DiscoveredServiceUUID        uuid.UUID
	DiscoveredCharacteristicUUID uuid.UUID
	LastResult                   *Result
}
