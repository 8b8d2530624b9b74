// Package beacon defines the identity and observation types shared by the
// region trigger engine and the ranging deduplicator. It holds no behavior
// beyond small value-type helpers.
package beacon

import "github.com/google/uuid"

// RegionID is the 128-bit region identifier a beacon advertises.
type RegionID = uuid.UUID

// Region is the beacon identity constraint (spec §3): a fixed identifier and
// an opaque display name, constant for the life of the process.
type Region struct {
	ID   RegionID
	Name string
}

// Proximity is the platform's coarse distance classification for an
// observation.
type Proximity int

const (
	ProximityUnknown Proximity = iota
	ProximityImmediate
	ProximityNear
	ProximityFar
)

var proximityNames = [...]string{"Unknown", "Immediate", "Near", "Far"}

func (p Proximity) String() string {
	if int(p) < 0 || int(p) >= len(proximityNames) {
		return "Unknown"
	}
	return proximityNames[p]
}

// Observation is a single beacon sighting. Negative Accuracy means
// "unusable" per spec §3.
type Observation struct {
	UUID      uuid.UUID
	Major     uint16
	Minor     uint16
	RSSI      int
	Accuracy  float64
	Proximity Proximity
}

// DedupKey identifies the physical beacon an Observation refers to,
// independent of any individual sighting's accuracy or RSSI.
type DedupKey struct {
	UUID  uuid.UUID
	Major uint16
	Minor uint16
}

// Key returns o's dedup key.
func (o Observation) Key() DedupKey {
	return DedupKey{UUID: o.UUID, Major: o.Major, Minor: o.Minor}
}

// Occupancy is the region engine's tri-state view of region presence
// (spec §3). Transitions are driven solely by platform region
// notifications; Inside is authoritative regardless of prior state.
type Occupancy int

const (
	OccupancyUnknown Occupancy = iota
	OccupancyInside
	OccupancyOutside
)

var occupancyNames = [...]string{"Unknown", "Inside", "Outside"}

func (o Occupancy) String() string {
	if int(o) < 0 || int(o) >= len(occupancyNames) {
		return "Unknown"
	}
	return occupancyNames[o]
}

// EventKind distinguishes the three region notification kinds the engine
// consumes (spec §4.5).
type EventKind int

const (
	EventEntered EventKind = iota
	EventExited
	EventStateDetermined
)

// Event is a single beacon region notification. Determined is only
// meaningful when Kind == EventStateDetermined.
type Event struct {
	Region     RegionID
	Kind       EventKind
	Determined Occupancy
}
