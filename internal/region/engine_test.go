package region_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/fieldgate/credcore/internal/beacon"
	"github.com/fieldgate/credcore/internal/presentation"
	"github.com/fieldgate/credcore/internal/region"
	"github.com/fieldgate/credcore/internal/transport/fake"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newCountingHarness wires a region.Engine to a presentation.Engine whose
// completion callback posts to presentCh once per terminal transition,
// against a transport that never discovers a peripheral (so every attempt
// runs until its scan timeout, giving the test a stable window to dispatch
// region events against).
func newCountingHarness(t *testing.T) (engine *region.Engine, regionID uuid.UUID, presentCh chan struct{}) {
	t.Helper()

	regionID = uuid.New()
	presentCh = make(chan struct{}, 64)

	cfg := presentation.Config{
		ServiceUUID:        uuid.New(),
		CharacteristicUUID: uuid.New(),
		DeviceID:           make([]byte, 16),
		DeviceKey:          make([]byte, 16),
		Credential:         "x",
		ScanTimeout:        20 * time.Millisecond,
		ConnectionTimeout:  20 * time.Millisecond,
		ResponseTimeout:    20 * time.Millisecond,
		RetryMax:           1,
		RetryBackoff:       5 * time.Millisecond,
	}

	tr := fake.New(fake.Script{ScanNeverFires: true})
	child, err := presentation.NewEngine(cfg, tr, func(presentation.Result) {
		presentCh <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}

	engine = region.NewEngine(regionID, child)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go child.Run(ctx)
	go engine.Run(ctx)

	return engine, regionID, presentCh
}

func TestExactlyOnceGuardWithinInsidePeriod(t *testing.T) {
	engine, regionID, presentCh := newCountingHarness(t)

	// Five duplicate "entered" events within one inside-period must
	// produce exactly one present_credential invocation, whose single
	// attempt (RetryMax 1) fails at its 20ms scan timeout.
	for i := 0; i < 5; i++ {
		engine.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventEntered})
	}
	time.Sleep(30 * time.Millisecond)

	if got := drain(presentCh); got != 1 {
		t.Fatalf("present_credential completions = %d after one timed-out attempt, want 1", got)
	}
	if !engine.PresentationGuardActive() {
		t.Fatal("expected presentation guard to be set after entering")
	}
}

func TestRegionCyclingTwoDistinctPeriods(t *testing.T) {
	engine, regionID, presentCh := newCountingHarness(t)

	engine.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventEntered})
	time.Sleep(10 * time.Millisecond)

	engine.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventExited})
	time.Sleep(10 * time.Millisecond)

	if engine.PresentationGuardActive() {
		t.Fatal("expected presentation guard to clear on exit")
	}
	if engine.Occupancy() != beacon.OccupancyOutside {
		t.Fatalf("occupancy = %v, want Outside", engine.Occupancy())
	}

	engine.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventEntered})
	time.Sleep(10 * time.Millisecond)

	if !engine.PresentationGuardActive() {
		t.Fatal("expected presentation guard to be set after the second entry")
	}

	// Let the fresh attempt's scan time out so its terminal callback fires
	// before the test ends; the completions are drained, not counted.
	time.Sleep(40 * time.Millisecond)
	drain(presentCh)
}

func TestRegionFiltering(t *testing.T) {
	engine, _, _ := newCountingHarness(t)
	otherRegion := uuid.New()

	engine.Dispatch(beacon.Event{Region: otherRegion, Kind: beacon.EventEntered})
	time.Sleep(20 * time.Millisecond)

	if engine.Occupancy() != beacon.OccupancyUnknown {
		t.Fatalf("occupancy = %v, want Unknown (event was for a different region)", engine.Occupancy())
	}
	if engine.PresentationGuardActive() {
		t.Fatal("expected presentation guard to remain clear for a non-matching region")
	}
}

func TestManualTriggerIgnoresOccupancy(t *testing.T) {
	engine, _, presentCh := newCountingHarness(t)

	if engine.Occupancy() != beacon.OccupancyUnknown {
		t.Fatalf("occupancy = %v, want Unknown before any event", engine.Occupancy())
	}

	engine.Trigger()
	time.Sleep(10 * time.Millisecond)

	if !engine.PresentationGuardActive() {
		t.Fatal("manual trigger did not arm the presentation guard")
	}

	time.Sleep(30 * time.Millisecond)
	if got := drain(presentCh); got == 0 {
		t.Fatal("manual trigger's attempt never completed")
	}
}

type stubMetrics struct {
	mu       sync.Mutex
	triggers []string
}

func (s *stubMetrics) RecordRegionTrigger(_, trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
}

func TestMetricsRecordedOnTrigger(t *testing.T) {
	regionID := uuid.New()
	presentCh := make(chan struct{}, 4)

	cfg := presentation.Config{
		ServiceUUID:        uuid.New(),
		CharacteristicUUID: uuid.New(),
		DeviceID:           make([]byte, 16),
		DeviceKey:          make([]byte, 16),
		Credential:         "x",
		ScanTimeout:        20 * time.Millisecond,
		ConnectionTimeout:  20 * time.Millisecond,
		ResponseTimeout:    20 * time.Millisecond,
		RetryMax:           1,
		RetryBackoff:       5 * time.Millisecond,
	}

	tr := fake.New(fake.Script{ScanNeverFires: true})
	child, err := presentation.NewEngine(cfg, tr, func(presentation.Result) {
		presentCh <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer child.Close()

	m := &stubMetrics{}
	engine := region.NewEngine(regionID, child, region.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go child.Run(ctx)
	go engine.Run(ctx)

	engine.Dispatch(beacon.Event{Region: regionID, Kind: beacon.EventEntered})
	time.Sleep(10 * time.Millisecond)

	m.mu.Lock()
	triggers := append([]string(nil), m.triggers...)
	m.mu.Unlock()

	if len(triggers) != 1 || triggers[0] != "entered" {
		t.Fatalf("triggers = %v, want [entered]", triggers)
	}
}

func drain(ch chan struct{}) int {
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			return count
		}
	}
}
