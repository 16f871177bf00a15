package trajectory

import (
	"testing"

	"github.com/asgard/sentry/internal/config"
)

func TestConfidenceNonIncreasing(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, nil)

	traj := p.Predict(TrackState{
		TrackID: 1, X: 0.5, Y: 0.5, VX: 0.01, VY: 0.01, Confidence: 1.0,
	})

	for i := 1; i < len(traj.States); i++ {
		if traj.States[i].Confidence > traj.States[i-1].Confidence {
			t.Fatalf("confidence increased at step %d: %v -> %v", i, traj.States[i-1].Confidence, traj.States[i].Confidence)
		}
	}
}

func TestBoundaryClampHalvesConfidence(t *testing.T) {
	cfg := config.Default()
	cfg.HorizonMs = 1000
	cfg.StepMs = 500
	p := New(cfg, nil)

	traj := p.Predict(TrackState{
		TrackID: 1, X: 0.99, Y: 0.5, VX: 1.0, VY: 0, Confidence: 1.0,
	})

	found := false
	for i := 1; i < len(traj.States); i++ {
		if traj.States[i].X == 1.0 {
			found = true
			ratio := traj.States[i].Confidence / traj.States[i-1].Confidence
			if ratio > 0.51 {
				t.Fatalf("expected ~0.5x confidence multiplier on exit, got ratio %v", ratio)
			}
		}
	}
	if !found {
		t.Fatalf("expected trajectory to clamp to the boundary")
	}
}

func TestBranchingSymmetry(t *testing.T) {
	cfg := config.Default()
	cfg.BranchRotationDeg = 30
	cfg.HorizonMs = 1000
	cfg.StepMs = 500
	p := New(cfg, nil)

	branches := p.PredictBranches(TrackState{
		TrackID: 1, X: 0.5, Y: 0.5, VX: 0.02, VY: 0.0, Confidence: 1.0,
	}, 3)

	if len(branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(branches))
	}

	sum := float32(0)
	for _, b := range branches {
		sum += b.Probability
	}
	if diff := sum - 1.0; diff > 1e-4 || diff < -1e-4 {
		t.Fatalf("branch probabilities sum to %v, want 1±1e-4", sum)
	}

	// center (smallest perturbation) should have the highest probability
	maxProb := float32(0)
	for _, b := range branches {
		if b.Probability > maxProb {
			maxProb = b.Probability
		}
	}
	others := 0
	for _, b := range branches {
		if b.Probability != maxProb {
			others++
		}
	}
	if others != 2 {
		t.Fatalf("expected exactly one max (center) and two equal others, got probs %+v", branches)
	}

	// the two non-max branches (left/right) should be equal within tolerance
	var side []float32
	for _, b := range branches {
		if b.Probability != maxProb {
			side = append(side, b.Probability)
		}
	}
	if len(side) == 2 {
		if diff := side[0] - side[1]; diff > 1e-4 || diff < -1e-4 {
			t.Fatalf("left/right branch probabilities should match: %v vs %v", side[0], side[1])
		}
	}
}

func TestPredictBranchesExcludesUnperturbedSeed(t *testing.T) {
	cfg := config.Default()
	cfg.BranchRotationDeg = 15
	cfg.HorizonMs = 1000
	cfg.StepMs = 500
	p := New(cfg, nil)

	ts := TrackState{TrackID: 1, X: 0.5, Y: 0.5, VX: 0.03, VY: 0.01, Confidence: 1.0}
	branches := p.PredictBranches(ts, 3)

	if len(branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(branches))
	}

	// None of the chosen branches may carry the exact unperturbed
	// velocity: that state is already represented by the caller's own
	// baseline trajectory and must not be duplicated here, or a
	// downstream merge step collapses it away instead of producing a
	// genuinely distinct alternative (spec §4.3's "most distinct").
	unperturbed := p.Predict(ts)
	for _, b := range branches {
		if len(b.Trajectory.States) == 0 || len(unperturbed.States) == 0 {
			continue
		}
		last := b.Trajectory.States[len(b.Trajectory.States)-1]
		baseLast := unperturbed.States[len(unperturbed.States)-1]
		if last.X == baseLast.X && last.Y == baseLast.Y {
			t.Fatalf("branch %+v duplicates the unperturbed baseline trajectory", b)
		}
	}
}

func TestDetectCollision(t *testing.T) {
	cfg := config.Default()
	cfg.HorizonMs = 2000
	cfg.StepMs = 200
	p := New(cfg, nil)

	// Closing speed of 1.0 units/s against an 0.8 unit gap meets exactly
	// at t=800ms, which lands on a sample boundary for a 200ms step.
	a := p.Predict(TrackState{TrackID: 1, X: 0.1, Y: 0.5, VX: 0.5, VY: 0, Confidence: 1})
	b := p.Predict(TrackState{TrackID: 2, X: 0.9, Y: 0.5, VX: -0.5, VY: 0, Confidence: 1})

	idx, prob, found := DetectCollision(a, b, 0.05)
	if !found {
		t.Fatalf("expected a collision to be detected")
	}
	if idx < 0 || idx >= len(a.States) {
		t.Fatalf("collision index out of range: %d", idx)
	}
	if prob <= 0 {
		t.Fatalf("expected positive collision probability, got %v", prob)
	}
}

func TestDetectZoneEntry(t *testing.T) {
	cfg := config.Default()
	cfg.HorizonMs = 3000
	cfg.StepMs = 500
	p := New(cfg, nil)

	// Step size (0.05 units per 500ms at 0.1 units/s) stays well inside
	// the zone's 0.05-radius disc so the sampled trajectory cannot jump
	// over it; x=0.25 lands exactly on the t=1500ms sample.
	traj := p.Predict(TrackState{TrackID: 1, X: 0.1, Y: 0.5, VX: 0.1, VY: 0, Confidence: 1})
	_, _, found := DetectZoneEntry(traj, 0.25, 0.5, 0.05)
	if !found {
		t.Fatalf("expected zone entry to be detected")
	}
}
