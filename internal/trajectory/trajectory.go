// Package trajectory implements spec §4.3: future-position prediction
// per track under a selected motion model, confidence decay, boundary
// clamping, and branch generation.
//
// The motion model is the one-method Model interface (Step only; it
// has no initial-covariance or process-noise hooks), injected in the
// interface-injection style of
// internal/orbital/vision.VisionProcessor and
// internal/security/mitigation.FirewallBackend.
package trajectory

import (
	"math"
	"sort"

	"github.com/asgard/sentry/internal/config"
)

// PredictedState is one future sample along a trajectory (spec §3).
type PredictedState struct {
	TMs          uint64
	X, Y         float32
	VX, VY       float32
	Confidence   float32
	BehaviorBits uint32
	Threat       float32
}

// Trajectory is a track's predicted future (spec §3).
type Trajectory struct {
	TrackID      uint32
	States       []PredictedState
	OverallConf  float32
}

// Model is the polymorphic motion-model capability (spec §9): given a
// state and a dt, produce the next state. Selected at construction;
// the hot loop calls Step through this Go interface, one dynamic
// dispatch per step.
type Model interface {
	// Step advances (x,y,vx,vy) by dt seconds, constant-velocity by
	// default; other variants (constant-acceleration, social-force)
	// may curve the velocity.
	Step(x, y, vx, vy float32, dt float64) (nx, ny, nvx, nvy float32)
}

// ConstantVelocity is the canonical default model (spec §4.3): the
// Kalman-driven posterior state is fed in as the initial (x,y,vx,vy)
// and this model simply extrapolates it linearly.
type ConstantVelocity struct{}

func (ConstantVelocity) Step(x, y, vx, vy float32, dt float64) (nx, ny, nvx, nvy float32) {
	return x + vx*float32(dt), y + vy*float32(dt), vx, vy
}

// ConstantAcceleration curves velocity by a fixed acceleration vector.
type ConstantAcceleration struct {
	AX, AY float32
}

func (m ConstantAcceleration) Step(x, y, vx, vy float32, dt float64) (nx, ny, nvx, nvy float32) {
	d := float32(dt)
	nvx = vx + m.AX*d
	nvy = vy + m.AY*d
	nx = x + vx*d + 0.5*m.AX*d*d
	ny = y + vy*d + 0.5*m.AY*d*d
	return
}

// Predictor produces trajectories per track.
type Predictor struct {
	cfg   config.Config
	model Model
}

// New creates a predictor using model (defaults to ConstantVelocity if nil).
func New(cfg config.Config, model Model) *Predictor {
	if model == nil {
		model = ConstantVelocity{}
	}
	return &Predictor{cfg: cfg, model: model}
}

// SetConfig hot-swaps the configuration.
func (p *Predictor) SetConfig(cfg config.Config) {
	p.cfg = cfg
}

// TrackState is the minimal per-track input the predictor needs:
// current position/velocity, confidence, and behavior annotation
// (carried forward unchanged along the trajectory, since the behavior
// analyzer only evaluates the present, not the future).
type TrackState struct {
	TrackID      uint32
	X, Y         float32
	VX, VY       float32
	Confidence   float32
	BehaviorBits uint32
	Threat       float32
	NowMs        uint64
}

// Predict produces ⌈H/Δ⌉ future states for one track (spec §4.3).
func (p *Predictor) Predict(ts TrackState) Trajectory {
	n := p.cfg.TrajectoryLength()
	states := make([]PredictedState, 0, n)

	x, y, vx, vy := ts.X, ts.Y, ts.VX, ts.VY
	conf := ts.Confidence
	dtSec := float64(p.cfg.StepMs) / 1000.0
	decay := p.cfg.UncertaintyGrowth * dtSec

	t := ts.NowMs
	for i := 0; i < n; i++ {
		if i > 0 {
			x, y, vx, vy = p.model.Step(x, y, vx, vy, dtSec)
			conf = conf * float32(1-decay)
			if conf < 0 {
				conf = 0
			}
			t += p.cfg.StepMs
		}

		cx, cy, clamped := clamp01(x, y)
		x, y = cx, cy
		if clamped {
			conf *= 0.5
		}

		states = append(states, PredictedState{
			TMs:          t,
			X:            x,
			Y:            y,
			VX:           vx,
			VY:           vy,
			Confidence:   conf,
			BehaviorBits: ts.BehaviorBits,
			Threat:       ts.Threat,
		})
	}

	overall := ts.Confidence
	if len(states) > 0 {
		overall = states[len(states)-1].Confidence
	}

	return Trajectory{TrackID: ts.TrackID, States: states, OverallConf: overall}
}

func clamp01(x, y float32) (cx, cy float32, clamped bool) {
	cx, cy = x, y
	if cx < 0 {
		cx, clamped = 0, true
	} else if cx > 1 {
		cx, clamped = 1, true
	}
	if cy < 0 {
		cy, clamped = 0, true
	} else if cy > 1 {
		cy, clamped = 1, true
	}
	return cx, cy, clamped
}

// Branch is one alternative future with its relative probability.
type Branch struct {
	Trajectory  Trajectory
	Probability float32
}

// candidate is a perturbed-velocity branch seed considered by
// PredictBranches before diversity selection.
type candidate struct {
	vx, vy float32
	norm   float64 // perturbation norm vs. the unperturbed velocity
}

// farthestPointSelect greedily selects k candidates from cands
// (already sorted ascending by norm) maximizing diversity: the first
// pick is the least-perturbed candidate, then each subsequent pick
// maximizes its minimum velocity-space distance to the already-chosen
// set (standard farthest-point sampling).
func farthestPointSelect(cands []candidate, k int) []candidate {
	if k >= len(cands) {
		return cands
	}
	if k <= 0 {
		return nil
	}

	chosen := make([]candidate, 0, k)
	used := make([]bool, len(cands))

	chosen = append(chosen, cands[0])
	used[0] = true

	for len(chosen) < k {
		bestIdx := -1
		bestMinDist := -1.0
		for i, c := range cands {
			if used[i] {
				continue
			}
			minDist := math.Inf(1)
			for _, s := range chosen {
				dx := float64(c.vx - s.vx)
				dy := float64(c.vy - s.vy)
				d := math.Hypot(dx, dy)
				if d < minDist {
					minDist = d
				}
			}
			if minDist > bestMinDist {
				bestMinDist = minDist
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		chosen = append(chosen, cands[bestIdx])
	}
	return chosen
}

// PredictBranches emits k alternative trajectories (spec §4.3): the
// initial velocity is perturbed by rotations {-θ,0,+θ} and magnitudes
// {0.5v, v, 1.5v}, keeping the k most distinct, with probabilities
// proportional to softmax(-perturbation norm). The zero-rotation,
// 1.0-magnitude seed is excluded: it reproduces the unperturbed
// velocity the caller already tracks as its own baseline branch.
func (p *Predictor) PredictBranches(ts TrackState, k int) []Branch {
	if k <= 0 {
		return nil
	}
	thetaRad := p.cfg.BranchRotationDeg * math.Pi / 180

	baseVX, baseVY := float64(ts.VX), float64(ts.VY)
	rotations := []float64{-thetaRad, 0, thetaRad}
	magnitudes := []float64{0.5, 1.0, 1.5}

	var candidates []candidate
	for _, rot := range rotations {
		cosT, sinT := math.Cos(rot), math.Sin(rot)
		rvx := baseVX*cosT - baseVY*sinT
		rvy := baseVX*sinT + baseVY*cosT
		for _, mag := range magnitudes {
			vx := rvx * mag
			vy := rvy * mag
			dvx := vx - baseVX
			dvy := vy - baseVY
			norm := math.Hypot(dvx, dvy)
			if norm < 1e-9 {
				// The unperturbed (rotation=0, magnitude=1.0) seed
				// reproduces the caller's own baseline trajectory,
				// already emitted separately as the timeline's
				// primary branch; including it here would give
				// farthestPointSelect a first pick indistinguishable
				// from primary, which mergeSimilar then collapses
				// away instead of yielding a genuinely alternate one.
				continue
			}
			candidates = append(candidates, candidate{vx: float32(vx), vy: float32(vy), norm: norm})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].norm < candidates[j].norm })
	if k > len(candidates) {
		k = len(candidates)
	}
	// "Most distinct" (spec §4.3) is a diversity selection, not a
	// smallest-norm one: greedily farthest-point-sample in velocity
	// space, seeded by the least-perturbed candidate, so that e.g.
	// k=3 against {-θ,0,+θ}×{0.5v,v,1.5v} yields one representative
	// per rotation rather than three clustered near zero perturbation.
	chosen := farthestPointSelect(candidates, k)

	// softmax of negative norm
	maxLogit := math.Inf(-1)
	for _, c := range chosen {
		if -c.norm > maxLogit {
			maxLogit = -c.norm
		}
	}
	sumExp := 0.0
	weights := make([]float64, len(chosen))
	for i, c := range chosen {
		w := math.Exp(-c.norm - maxLogit)
		weights[i] = w
		sumExp += w
	}

	branches := make([]Branch, 0, len(chosen))
	for i, c := range chosen {
		branchTs := ts
		branchTs.VX, branchTs.VY = c.vx, c.vy
		prob := float32(weights[i] / sumExp)
		branches = append(branches, Branch{
			Trajectory:  p.Predict(branchTs),
			Probability: prob,
		})
	}
	return branches
}

// DetectCollision scans aligned time indices of two trajectories and
// returns the earliest index where the distance drops below dThr,
// along with the event probability = min(a.conf, b.conf) at that index.
func DetectCollision(a, b Trajectory, dThr float32) (idx int, probability float32, found bool) {
	n := len(a.States)
	if len(b.States) < n {
		n = len(b.States)
	}
	for i := 0; i < n; i++ {
		sa, sb := a.States[i], b.States[i]
		dx := sa.X - sb.X
		dy := sa.Y - sb.Y
		d := float32(math.Hypot(float64(dx), float64(dy)))
		if d < dThr {
			p := sa.Confidence
			if sb.Confidence < p {
				p = sb.Confidence
			}
			return i, p, true
		}
	}
	return 0, 0, false
}

// DetectZoneEntry scans a trajectory against a disc zone (cx,cy,r) and
// returns the earliest index at which the trajectory enters it.
func DetectZoneEntry(traj Trajectory, cx, cy, r float32) (idx int, probability float32, found bool) {
	for i, s := range traj.States {
		dx := s.X - cx
		dy := s.Y - cy
		d := float32(math.Hypot(float64(dx), float64(dy)))
		if d < r {
			return i, s.Confidence, true
		}
	}
	return 0, 0, false
}
