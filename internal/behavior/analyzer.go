package behavior

import (
	"math"

	"github.com/asgard/sentry/internal/config"
)

// Flag bits correspond one-to-one with the detectors (spec §4.2).
const (
	FlagLoitering uint32 = 1 << iota
	FlagRunning
	FlagUnusualMovement
	FlagConcealment
)

// Analyzer mutates a track's behavior bitset and threat score from its
// rolling position history.
type Analyzer struct {
	store *Store
}

// NewAnalyzer wraps a history Store.
func NewAnalyzer(store *Store) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze computes the behavior bitset and threat score for trackID
// from its history, having already been recorded via UpdateHistory for
// this tick. The caller is expected to assign the results onto the
// track (spec §4.2: "analyze(&mut track) mutates the track's behavior
// bitset and threat").
func (a *Analyzer) Analyze(trackID uint32) (behaviorBits uint32, threat float32) {
	h, ok := a.store.histories[trackID]
	if !ok {
		return 0, 0
	}
	cfg := a.store.cfg

	loiter, dwellBonus := detectLoitering(h, cfg)
	running := detectRunning(h, cfg)
	unusual := detectUnusualMovement(h, cfg)
	concealed := detectConcealment(h, cfg)

	if loiter {
		behaviorBits |= FlagLoitering
	}
	if running {
		behaviorBits |= FlagRunning
	}
	if unusual {
		behaviorBits |= FlagUnusualMovement
	}
	if concealed {
		behaviorBits |= FlagConcealment
	}

	score := 0.0
	if loiter {
		score += cfg.WeightLoitering
	}
	if running {
		score += cfg.WeightRunning
	}
	if unusual {
		score += cfg.WeightUnusual
	}
	if dwellBonus {
		score += cfg.WeightDwellBonus
	}
	if concealed {
		score += cfg.WeightConcealment
	}

	return behaviorBits, float32(clamp01(score))
}

// detectLoitering implements spec §4.2's loitering rule: within the
// dwell window, the max pairwise distance (scaled to meters) stays
// below loitering_radius_meters AND mean speed stays below threshold.
// dwellSaturated additionally reports whether the window itself spans
// at least the full dwell time (the dwell-time-bonus weight).
func detectLoitering(h *history, cfg config.Config) (loitering bool, dwellSaturated bool) {
	win := h.window(cfg.LoiteringDwellTimeMs)
	if len(win) < 2 {
		return false, false
	}

	span := win[len(win)-1].tMs - win[0].tMs
	dwellSaturated = span >= cfg.LoiteringDwellTimeMs
	if !dwellSaturated {
		return false, false
	}

	maxDist := 0.0
	for i := 0; i < len(win); i++ {
		for j := i + 1; j < len(win); j++ {
			dx := float64(win[i].x-win[j].x) * cfg.MetersPerNormalizedUnit
			dy := float64(win[i].y-win[j].y) * cfg.MetersPerNormalizedUnit
			d := math.Hypot(dx, dy)
			if d > maxDist {
				maxDist = d
			}
		}
	}

	meanSpeed := meanSpeedOf(win)

	loitering = maxDist < cfg.LoiteringRadiusMeters && meanSpeed < cfg.LoiteringVelocityThreshold
	return loitering, dwellSaturated
}

// detectRunning implements spec §4.2's running rule: speed has
// continuously exceeded the threshold for at least running_duration_ms.
func detectRunning(h *history, cfg config.Config) bool {
	if h.count == 0 {
		return false
	}
	latest := h.at(h.count - 1)
	runStart := latest.tMs
	for i := h.count - 1; i >= 0; i-- {
		s := h.at(i)
		if s.speed < cfg.RunningVelocityThreshold {
			break
		}
		runStart = s.tMs
	}
	duration := latest.tMs - runStart
	return latest.speed >= cfg.RunningVelocityThreshold && duration >= cfg.RunningDurationMs
}

// detectUnusualMovement implements spec §4.2's zigzag rule: count of
// heading changes greater than zigzag_threshold across consecutive
// triples within the window, compared to zigzag_count_threshold.
func detectUnusualMovement(h *history, cfg config.Config) bool {
	win := h.window(cfg.LoiteringDwellTimeMs)
	if len(win) < 3 {
		return false
	}

	count := 0
	for i := 0; i+2 < len(win); i++ {
		h1 := headingDeg(win[i], win[i+1])
		h2 := headingDeg(win[i+1], win[i+2])
		delta := angleDiff(h1, h2)
		if delta > cfg.ZigzagThresholdDeg {
			count++
		}
	}
	return count >= cfg.ZigzagCountThreshold
}

// detectConcealment is a proxy for crouching/hiding behavior: a near-
// total velocity drop (speed below concealment_velocity_threshold)
// sustained for at least concealment_pause_ms within the dwell window,
// distinguishing a deliberate pause from loitering's broader wander.
func detectConcealment(h *history, cfg config.Config) bool {
	win := h.window(cfg.LoiteringDwellTimeMs)
	if len(win) < 2 {
		return false
	}

	pauseStart := win[0].tMs
	longest := uint64(0)
	inPause := win[0].speed < cfg.ConcealmentVelocityThreshold
	if inPause {
		pauseStart = win[0].tMs
	}
	for i := 1; i < len(win); i++ {
		if win[i].speed < cfg.ConcealmentVelocityThreshold {
			if !inPause {
				pauseStart = win[i-1].tMs
				inPause = true
			}
			if d := win[i].tMs - pauseStart; d > longest {
				longest = d
			}
		} else {
			inPause = false
		}
	}
	return longest >= cfg.ConcealmentPauseMs
}

func headingDeg(a, b sample) float64 {
	return math.Atan2(float64(b.y-a.y), float64(b.x-a.x)) * 180 / math.Pi
}

func angleDiff(a, b float64) float64 {
	d := math.Mod(b-a+540, 360) - 180
	if d < 0 {
		d = -d
	}
	return d
}

func meanSpeedOf(win []sample) float64 {
	if len(win) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range win {
		sum += s.speed
	}
	return sum / float64(len(win))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
