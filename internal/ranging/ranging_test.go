package ranging_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/fieldgate/credcore/internal/beacon"
	"github.com/fieldgate/credcore/internal/ranging"
)

func obs(u uuid.UUID, major, minor uint16, accuracy float64) beacon.Observation {
	return beacon.Observation{UUID: u, Major: major, Minor: minor, Accuracy: accuracy}
}

func TestDeduplicatePrefersLowestNonNegativeAccuracy(t *testing.T) {
	id := uuid.New()
	in := []beacon.Observation{
		obs(id, 1, 1, 5.0),
		obs(id, 1, 1, 1.5),
		obs(id, 1, 1, 3.0),
	}

	out := ranging.Deduplicate(in)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].Accuracy != 1.5 {
		t.Fatalf("accuracy = %v, want 1.5", out[0].Accuracy)
	}
}

func TestDeduplicateKeepsNegativeOnlyWhenNoUsableEntry(t *testing.T) {
	id := uuid.New()
	in := []beacon.Observation{
		obs(id, 2, 2, -1),
		obs(id, 2, 2, -5),
	}

	out := ranging.Deduplicate(in)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].Accuracy >= 0 {
		t.Fatalf("accuracy = %v, want a negative (unusable) value retained", out[0].Accuracy)
	}
}

func TestDeduplicateDropsNegativeWhenUsableEntryExists(t *testing.T) {
	id := uuid.New()
	in := []beacon.Observation{
		obs(id, 3, 3, -1),
		obs(id, 3, 3, 2.0),
	}

	out := ranging.Deduplicate(in)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].Accuracy != 2.0 {
		t.Fatalf("accuracy = %v, want 2.0", out[0].Accuracy)
	}
}

func TestDeduplicateDistinctKeysAllRetained(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	in := []beacon.Observation{
		obs(u1, 1, 1, 3.0),
		obs(u2, 1, 1, 1.0),
		obs(u1, 1, 2, 2.0),
	}

	out := ranging.Deduplicate(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Accuracy > out[i].Accuracy {
			t.Fatalf("output not sorted ascending by accuracy: %+v", out)
		}
	}
}
