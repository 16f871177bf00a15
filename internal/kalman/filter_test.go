package kalman

import (
	"math"
	"testing"
)

func TestPredictThenUpdateConverges(t *testing.T) {
	f := New(Measurement{CX: 0.2, CY: 0.2, Area: 0.06, Aspect: 0.66})

	for i := 0; i < 20; i++ {
		if err := f.Predict(0.1); err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if err := f.Update(Measurement{CX: 0.2, CY: 0.2, Area: 0.06, Aspect: 0.66}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	cx, cy, _, _, vx, vy, _ := f.State()
	if diff := cx - 0.2; diff > 0.01 || diff < -0.01 {
		t.Errorf("cx = %v, want ~0.2", cx)
	}
	if diff := cy - 0.2; diff > 0.01 || diff < -0.01 {
		t.Errorf("cy = %v, want ~0.2", cy)
	}
	if vx > 0.01 || vx < -0.01 || vy > 0.01 || vy < -0.01 {
		t.Errorf("velocity should settle near 0 for a stationary target, got vx=%v vy=%v", vx, vy)
	}
}

func TestResetVelocityZeroesVelocityAndInflatesCov(t *testing.T) {
	f := New(Measurement{CX: 0.5, CY: 0.5, Area: 0.1, Aspect: 1})
	f.state.SetVec(4, 100)
	f.cov.SetSym(4, 4, 1)
	f.ResetVelocity()
	_, _, _, _, vx, vy, vArea := f.State()
	if vx != 0 || vy != 0 || vArea != 0 {
		t.Fatalf("velocity not zeroed: %v %v %v", vx, vy, vArea)
	}
	for i := 4; i < stateDim; i++ {
		if got := f.cov.At(i, i); got != 1e4 {
			t.Fatalf("cov[%d][%d] = %v, want 1e4 after reset", i, i, got)
		}
	}
}

func TestIsFiniteDetectsNaN(t *testing.T) {
	f := New(Measurement{CX: 0, CY: 0, Area: 0.01, Aspect: 1})
	if !f.IsFinite() {
		t.Fatalf("fresh filter should be finite")
	}
	f.state.SetVec(0, math.NaN())
	if f.IsFinite() {
		t.Fatalf("filter with a NaN state component should not be finite")
	}
}
