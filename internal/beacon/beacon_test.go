package beacon_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/fieldgate/credcore/internal/beacon"
)

func TestObservationKeyIgnoresAccuracyAndRSSI(t *testing.T) {
	id := uuid.New()
	a := beacon.Observation{UUID: id, Major: 1, Minor: 2, RSSI: -60, Accuracy: 1.0}
	b := beacon.Observation{UUID: id, Major: 1, Minor: 2, RSSI: -90, Accuracy: 9.0}

	if a.Key() != b.Key() {
		t.Fatalf("expected equal dedup keys, got %+v and %+v", a.Key(), b.Key())
	}
}

func TestProximityStringUnknownForOutOfRange(t *testing.T) {
	if got := beacon.Proximity(99).String(); got != "Unknown" {
		t.Fatalf("String() = %q, want Unknown", got)
	}
}

func TestOccupancyStringUnknownForOutOfRange(t *testing.T) {
	if got := beacon.Occupancy(99).String(); got != "Unknown" {
		t.Fatalf("String() = %q, want Unknown", got)
	}
}
