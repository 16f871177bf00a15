package behavior

import (
	"testing"

	"github.com/asgard/sentry/internal/config"
)

func TestLoiteringDetection(t *testing.T) {
	cfg := config.Default()
	store := NewStore(cfg)
	a := NewAnalyzer(store)

	const trackID = 1
	// Oscillate within a tiny radius for >31s of samples, one per second.
	for i := 0; i <= 31; i++ {
		x := float32(0.5)
		y := float32(0.5)
		if i%2 == 0 {
			x += 0.001
		}
		store.UpdateHistory(trackID, x, y, uint64(i)*1000)
	}

	bits, threat := a.Analyze(trackID)
	if bits&FlagLoitering == 0 {
		t.Fatalf("expected LOITERING flag set, bits=%b", bits)
	}
	if threat < 0.3 {
		t.Fatalf("threat = %v, want >= 0.3", threat)
	}
}

func TestRunningDetection(t *testing.T) {
	cfg := config.Default()
	store := NewStore(cfg)
	a := NewAnalyzer(store)

	const trackID = 2
	// Move at ~5 m/s (above the 3.0 m/s threshold) for 1.2s continuously.
	// metersPerUnit=10 by default, so 0.05 normalized units / 0.1s step.
	x := float32(0.1)
	for i := 0; i <= 12; i++ {
		store.UpdateHistory(trackID, x, 0.5, uint64(i)*100)
		x += 0.05
	}

	bits, _ := a.Analyze(trackID)
	if bits&FlagRunning == 0 {
		t.Fatalf("expected RUNNING flag set, bits=%b", bits)
	}
}

func TestNoDetectorsFireForStationaryShortHistory(t *testing.T) {
	cfg := config.Default()
	store := NewStore(cfg)
	a := NewAnalyzer(store)

	store.UpdateHistory(3, 0.5, 0.5, 0)
	bits, threat := a.Analyze(3)
	if bits != 0 {
		t.Fatalf("expected no flags on first sample, got %b", bits)
	}
	if threat != 0 {
		t.Fatalf("expected threat=0, got %v", threat)
	}
}

func TestConcealmentDetection(t *testing.T) {
	cfg := config.Default()
	cfg.ConcealmentPauseMs = 3000
	cfg.ConcealmentVelocityThreshold = 0.1
	store := NewStore(cfg)
	a := NewAnalyzer(store)

	const trackID = 4
	// Approach, then sit motionless for >3s (a concealment pause).
	store.UpdateHistory(trackID, 0.1, 0.5, 0)
	store.UpdateHistory(trackID, 0.3, 0.5, 1000)
	for i := 2; i <= 6; i++ {
		store.UpdateHistory(trackID, 0.3, 0.5, uint64(i)*1000)
	}

	bits, _ := a.Analyze(trackID)
	if bits&FlagConcealment == 0 {
		t.Fatalf("expected CONCEALMENT flag set, bits=%b", bits)
	}
}

func TestClearRemovesHistory(t *testing.T) {
	store := NewStore(config.Default())
	store.UpdateHistory(5, 0.1, 0.1, 0)
	if store.Len() != 1 {
		t.Fatalf("expected 1 history")
	}
	store.Clear(5)
	if store.Len() != 0 {
		t.Fatalf("expected history cleared")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.MaxHistories = 2
	store := NewStore(cfg)

	store.UpdateHistory(1, 0.1, 0.1, 0)
	store.UpdateHistory(2, 0.1, 0.1, 100)
	store.UpdateHistory(3, 0.1, 0.1, 200) // should evict track 1 (oldest)

	if store.Len() != 2 {
		t.Fatalf("expected capacity-bounded store, got len=%d", store.Len())
	}
	if _, ok := store.histories[1]; ok {
		t.Fatalf("expected track 1 evicted as LRU")
	}
}
