// Package eventpredictor implements spec §4.4: combining per-track
// trajectories with scene context (protected zones, incident history,
// time-of-day risk) into a typed, probability-weighted event set.
//
// The typed-event + composite-score shape mirrors
// internal/security/threat/detector.go's Threat struct (Type,
// Severity, dedup key) and internal/security/scanner/analyzer.go's
// anomaly-to-severity mapping.
package eventpredictor

import (
	"math"

	"github.com/asgard/sentry/internal/behavior"
	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/scene"
	"github.com/asgard/sentry/internal/tracker"
	"github.com/asgard/sentry/internal/trajectory"
)

// Type enumerates the predictable event kinds (spec §4.4).
type Type int

const (
	TypeLoitering Type = iota
	TypeTheft
	TypeAssault
	TypeCollision
	TypeTrespassing
)

func (t Type) String() string {
	switch t {
	case TypeLoitering:
		return "loitering"
	case TypeTheft:
		return "theft"
	case TypeAssault:
		return "assault"
	case TypeCollision:
		return "collision"
	case TypeTrespassing:
		return "trespassing"
	default:
		return "unknown"
	}
}

// Severity is total over the enum (spec §4.4): every event type has a
// baseline that escalation only ever raises, never past Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var baselineSeverity = map[Type]Severity{
	TypeLoitering:   SeverityLow,
	TypeTheft:       SeverityHigh,
	TypeAssault:     SeverityCritical,
	TypeCollision:   SeverityCritical,
	TypeTrespassing: SeverityMedium,
}

// PredictedEvent is one retained event (spec §3).
type PredictedEvent struct {
	Type         Type
	TMs          uint64
	Probability  float32
	Severity     Severity
	TrackIDs     [4]uint32
	NumTracks    int
	X, Y         float32
	Description  string
}

// TrackInput bundles one track's baseline trajectory with the class
// and behavior bitset the event rules need (spec §4.4's input tuple).
type TrackInput struct {
	TrackID      uint32
	Class        tracker.Class
	BehaviorBits uint32
	Trajectory   trajectory.Trajectory
}

// Predictor evaluates the per-type rules over a frame's tracks.
type Predictor struct {
	cfg       config.Config
	discarded int
}

// New creates an event predictor.
func New(cfg config.Config) *Predictor {
	return &Predictor{cfg: cfg}
}

// SetConfig hot-swaps the configuration.
func (p *Predictor) SetConfig(cfg config.Config) { p.cfg = cfg }

// Discarded returns the number of candidate events the most recent
// Predict call rejected for falling below event_threshold.
func (p *Predictor) Discarded() int { return p.discarded }

// Predict implements predict(trajectories, scene_context) -> events
// (spec §4.4): per-type rule evaluation, composite scoring, threshold
// discard, and severity assignment.
func (p *Predictor) Predict(tracks []TrackInput, sc scene.Context) []PredictedEvent {
	p.discarded = 0
	var out []PredictedEvent

	for _, ti := range tracks {
		if ev, ok := p.loitering(ti, sc); ok {
			out = append(out, ev)
		}
		if ev, ok := p.theftOrTrespass(ti, sc); ok {
			out = append(out, ev)
		}
	}

	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			if ev, ok := p.pairwise(tracks[i], tracks[j], sc); ok {
				out = append(out, ev)
			}
		}
	}

	return out
}

// loitering: overall confidence high AND predicted dwell (longest
// sub-interval within a 2m disc) >= event_loiter_dwell_ms.
func (p *Predictor) loitering(ti TrackInput, sc scene.Context) (PredictedEvent, bool) {
	traj := ti.Trajectory
	if traj.OverallConf < 0.5 || len(traj.States) == 0 {
		return PredictedEvent{}, false
	}

	longestMs, cx, cy, atIdx := longestDwell(traj, p.cfg.LoiteringRadiusMeters, p.cfg.MetersPerNormalizedUnit)
	if longestMs < p.cfg.EventLoiterDwellMs {
		return PredictedEvent{}, false
	}

	behaviorMatch := 0.0
	if ti.BehaviorBits&behavior.FlagLoitering != 0 {
		behaviorMatch = 1.0
	}
	zoneProx := zoneProximity(sc, cx, cy)
	density := incidentDensityScore(p.cfg, sc, cx, cy, traj.States[atIdx].TMs)

	score := p.composite(float64(traj.OverallConf), behaviorMatch, zoneProx, density)
	if score < p.cfg.EventThreshold {
		p.discarded++
		return PredictedEvent{}, false
	}

	return PredictedEvent{
		Type:        TypeLoitering,
		TMs:         traj.States[atIdx].TMs,
		Probability: float32(score),
		Severity:    p.severity(TypeLoitering, sc, density),
		TrackIDs:    [4]uint32{ti.TrackID},
		NumTracks:   1,
		X:           cx,
		Y:           cy,
		Description: "predicted extended dwell",
	}, true
}

// theftOrTrespass: zone entry drives both theft (protected==theft,
// concealment/unusual-movement behavior, rapid exit within the zone's
// timeout) and trespassing (protected==trespassing, entry alone).
func (p *Predictor) theftOrTrespass(ti TrackInput, sc scene.Context) (PredictedEvent, bool) {
	traj := ti.Trajectory
	for _, z := range sc.Zones {
		entryIdx, entryProb, entered := trajectory.DetectZoneEntry(traj, z.CX, z.CY, z.Radius)
		if !entered {
			continue
		}

		switch z.Protected {
		case scene.ProtectedEventTrespassing:
			density := incidentDensityScore(p.cfg, sc, z.CX, z.CY, traj.States[entryIdx].TMs)
			score := p.composite(float64(entryProb), 1.0, 1.0, density)
			if score < p.cfg.EventThreshold {
				p.discarded++
				continue
			}
			return PredictedEvent{
				Type:        TypeTrespassing,
				TMs:         traj.States[entryIdx].TMs,
				Probability: float32(score),
				Severity:    p.severity(TypeTrespassing, sc, density),
				TrackIDs:    [4]uint32{ti.TrackID},
				NumTracks:   1,
				X:           z.CX,
				Y:           z.CY,
				Description: "zone entry: " + z.ID,
			}, true

		case scene.ProtectedEventTheft:
			suspicious := ti.BehaviorBits&behavior.FlagConcealment != 0 ||
				ti.BehaviorBits&behavior.FlagUnusualMovement != 0
			if !suspicious {
				continue
			}
			if !rapidExitWithin(traj, entryIdx, z, p.cfg.StepMs) {
				continue
			}
			density := incidentDensityScore(p.cfg, sc, z.CX, z.CY, traj.States[entryIdx].TMs)
			score := p.composite(float64(entryProb), 1.0, 1.0, density)
			if score < p.cfg.EventThreshold {
				p.discarded++
				continue
			}
			return PredictedEvent{
				Type:        TypeTheft,
				TMs:         traj.States[entryIdx].TMs,
				Probability: float32(score),
				Severity:    p.severity(TypeTheft, sc, density),
				TrackIDs:    [4]uint32{ti.TrackID},
				NumTracks:   1,
				X:           z.CX,
				Y:           z.CY,
				Description: "zone entry with concealment: " + z.ID,
			}, true
		}
	}
	return PredictedEvent{}, false
}

// pairwise evaluates the two-track rules (assault, collision).
func (p *Predictor) pairwise(a, b TrackInput, sc scene.Context) (PredictedEvent, bool) {
	// Collision: both classes in {vehicle, person}, distance <= collision_distance_threshold.
	classOK := isVehicleOrPerson(a.Class) && isVehicleOrPerson(b.Class)
	if classOK {
		idx, prob, found := trajectory.DetectCollision(a.Trajectory, b.Trajectory, float32(p.cfg.CollisionDistanceThresh))
		if found {
			x, y := midpoint(a.Trajectory, b.Trajectory, idx)
			density := incidentDensityScore(p.cfg, sc, x, y, a.Trajectory.States[idx].TMs)
			score := p.composite(float64(prob), 1.0, zoneProximity(sc, x, y), density)
			if score >= p.cfg.EventThreshold {
				return PredictedEvent{
					Type:        TypeCollision,
					TMs:         a.Trajectory.States[idx].TMs,
					Probability: float32(score),
					Severity:    p.severity(TypeCollision, sc, density),
					TrackIDs:    [4]uint32{a.TrackID, b.TrackID},
					NumTracks:   2,
					X:           x,
					Y:           y,
					Description: "predicted collision",
				}, true
			}
			p.discarded++
		}
	}

	// Assault: converge below the aggressive distance, one has been
	// running for the preceding >=1s (the carried running flag already
	// encodes running_duration_ms continuity, spec §4.2).
	idx, prob, found := trajectory.DetectCollision(a.Trajectory, b.Trajectory, float32(p.cfg.AggressiveDistanceThresh))
	if found && (a.BehaviorBits&behavior.FlagRunning != 0 || b.BehaviorBits&behavior.FlagRunning != 0) {
		x, y := midpoint(a.Trajectory, b.Trajectory, idx)
		density := incidentDensityScore(p.cfg, sc, x, y, a.Trajectory.States[idx].TMs)
		score := p.composite(float64(prob), 1.0, zoneProximity(sc, x, y), density)
		if score >= p.cfg.EventThreshold {
			return PredictedEvent{
				Type:        TypeAssault,
				TMs:         a.Trajectory.States[idx].TMs,
				Probability: float32(score),
				Severity:    p.severity(TypeAssault, sc, density),
				TrackIDs:    [4]uint32{a.TrackID, b.TrackID},
				NumTracks:   2,
				X:           x,
				Y:           y,
				Description: "predicted aggressive convergence",
			}, true
		}
		p.discarded++
	}

	return PredictedEvent{}, false
}

func (p *Predictor) composite(trajConf, behaviorMatch, zoneProximity, incidentDensity float64) float64 {
	cfg := p.cfg
	score := cfg.WeightTrajectory*trajConf +
		cfg.WeightBehavior*behaviorMatch +
		cfg.WeightContext*zoneProximity +
		cfg.WeightHistory*incidentDensity
	if score > 1 {
		score = 1
	}
	return score
}

// severity maps the type baseline plus escalation from recent
// incident density and time-of-day multiplier (spec §4.4).
func (p *Predictor) severity(t Type, sc scene.Context, densityScore float64) Severity {
	sev := baselineSeverity[t]
	escalation := densityScore * sc.TimeOfDayMultiplier()
	if escalation >= 1.0 && sev < SeverityCritical {
		sev++
	}
	if escalation >= 1.4 && sev < SeverityCritical {
		sev++
	}
	return sev
}

func isVehicleOrPerson(c tracker.Class) bool {
	return c == tracker.ClassVehicle || c == tracker.ClassPerson
}

func midpoint(a, b trajectory.Trajectory, idx int) (x, y float32) {
	sa, sb := a.States[idx], b.States[idx]
	return (sa.X + sb.X) / 2, (sa.Y + sb.Y) / 2
}

func zoneProximity(sc scene.Context, x, y float32) float64 {
	best := 0.0
	for _, z := range sc.Zones {
		dx := float64(x - z.CX)
		dy := float64(y - z.CY)
		d := math.Hypot(dx, dy)
		r := float64(z.Radius)
		if r <= 0 {
			continue
		}
		prox := 1 - d/r
		if prox < 0 {
			prox = 0
		}
		if prox > best {
			best = prox
		}
	}
	return best
}

func incidentDensityScore(cfg config.Config, sc scene.Context, x, y float32, nowMs uint64) float64 {
	count := sc.IncidentDensity(x, y, nowMs, 24*3600*1000, cfg.HistoryRadiusMeters, cfg.MetersPerNormalizedUnit)
	score := float64(count) / 5.0
	if score > 1 {
		score = 1
	}
	return score
}

// longestDwell returns the longest sub-interval (in ms) during which
// all predicted positions stay within radiusMeters of each other, and
// the representative position/index at its start.
func longestDwell(traj trajectory.Trajectory, radiusMeters, metersPerUnit float64) (longestMs uint64, cx, cy float32, atIdx int) {
	n := len(traj.States)
	if n == 0 {
		return 0, 0, 0, 0
	}
	start := 0
	for end := 0; end < n; end++ {
		for start < end && !withinRadius(traj.States, start, end, radiusMeters, metersPerUnit) {
			start++
		}
		span := traj.States[end].TMs - traj.States[start].TMs
		if span > longestMs {
			longestMs = span
			cx, cy = traj.States[start].X, traj.States[start].Y
			atIdx = start
		}
	}
	return longestMs, cx, cy, atIdx
}

func withinRadius(states []trajectory.PredictedState, start, end int, radiusMeters, metersPerUnit float64) bool {
	for i := start; i <= end; i++ {
		for j := i + 1; j <= end; j++ {
			dx := float64(states[i].X-states[j].X) * metersPerUnit
			dy := float64(states[i].Y-states[j].Y) * metersPerUnit
			if math.Hypot(dx, dy) >= radiusMeters {
				return false
			}
		}
	}
	return true
}

// rapidExitWithin reports whether the trajectory leaves z within
// z.ExitTimeoutMs of entering it at entryIdx.
func rapidExitWithin(traj trajectory.Trajectory, entryIdx int, z scene.Zone, stepMs uint64) bool {
	entryMs := traj.States[entryIdx].TMs
	for i := entryIdx + 1; i < len(traj.States); i++ {
		s := traj.States[i]
		if s.TMs-entryMs > z.ExitTimeoutMs {
			return false
		}
		if !z.Contains(s.X, s.Y) {
			return true
		}
	}
	return false
}
