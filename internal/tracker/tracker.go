package tracker

import (
	"sort"
	"sync"

	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/errs"
	"github.com/asgard/sentry/internal/geometry"
	"github.com/asgard/sentry/internal/kalman"
)

// Tracker associates detections into persistent tracks. It owns every
// Track for the lifetime of the process (spec §3 "Ownership").
type Tracker struct {
	mu         sync.Mutex
	cfg        config.Config
	nextID     uint32
	tracks     []*Track
	stats      *errs.Counters
	lastTickMs uint64
	hasTicked  bool
}

// New creates a tracker with the given configuration.
func New(cfg config.Config, stats *errs.Counters) *Tracker {
	if stats == nil {
		stats = &errs.Counters{}
	}
	return &Tracker{cfg: cfg, nextID: 1, stats: stats}
}

// SetConfig hot-swaps the configuration, applied at the top of the
// next Update call (the caller already validated it per §10).
func (t *Tracker) SetConfig(cfg config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// dtSeconds converts a millisecond delta into seconds for the KF.
func dtSeconds(prevMs, curMs uint64) float64 {
	if curMs <= prevMs {
		return 0
	}
	return float64(curMs-prevMs) / 1000.0
}

// Update runs the three-stage pipeline of spec §4.1 — predict,
// associate, apply — and returns the confirmed tracks for this tick.
func (t *Tracker) Update(detections []Detection, tMs uint64) []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Idempotence (§8): re-delivering the same tick (identical t_ms as
	// the previous call) must not re-age tracks or double-advance
	// since_update; return the already-computed confirmed set as-is.
	if t.hasTicked && tMs == t.lastTickMs {
		return t.confirmedLocked()
	}

	valid := t.filterValid(detections)

	t.predict(tMs)
	matches, unmatchedTracks, unmatchedDets := t.associate(valid)
	t.apply(valid, tMs, matches, unmatchedTracks, unmatchedDets)
	t.deleteExpired()

	t.lastTickMs = tMs
	t.hasTicked = true

	return t.confirmedLocked()
}

// filterValid drops detections whose bbox fails §3's invariants,
// incrementing the input-invalid counter (§7 InputInvalid).
func (t *Tracker) filterValid(detections []Detection) []Detection {
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if err := d.BBox.Validate(); err != nil {
			t.stats.Incr(errs.KindInputInvalid)
			continue
		}
		out = append(out, d)
	}
	return out
}

// predict advances every existing track's Kalman state by one step.
func (t *Tracker) predict(tMs uint64) {
	for _, tr := range t.tracks {
		dt := dtSeconds(tr.LastSeenMs, tMs)
		if dt <= 0 {
			dt = float64(t.cfg.FramePeriod) / 1e9
		}
		if err := tr.kf.Predict(dt); err != nil {
			tr.kf.ResetVelocity()
		}
		if !tr.kf.IsFinite() {
			tr.kf.ResetVelocity()
		}
		tr.predictedBBox = tr.BBox()
		tr.Age++
	}
}

type matchPair struct {
	trackIdx int
	detIdx   int
}

// associate builds the gated IoU cost matrix and solves the minimum-
// cost assignment, per spec §4.1.
func (t *Tracker) associate(detections []Detection) (matches []matchPair, unmatchedTracks, unmatchedDets []int) {
	nTracks := len(t.tracks)
	nDets := len(detections)

	if nTracks == 0 || nDets == 0 {
		for i := 0; i < nTracks; i++ {
			unmatchedTracks = append(unmatchedTracks, i)
		}
		for j := 0; j < nDets; j++ {
			unmatchedDets = append(unmatchedDets, j)
		}
		return matches, unmatchedTracks, unmatchedDets
	}

	cost := make([][]float64, nTracks)
	for i, tr := range t.tracks {
		cost[i] = make([]float64, nDets)
		for j, d := range detections {
			iou := geometry.IoU(tr.predictedBBox, d.BBox)
			if iou < t.cfg.IoUThreshold {
				cost[i][j] = 1e18 // gated out
			} else {
				cost[i][j] = float64(1 - iou)
			}
		}
	}

	assignment := solveHungarian(cost)

	assignedDet := make([]bool, nDets)
	assignedTrack := make([]bool, nTracks)

	// Deterministic tie-break: iterate tracks by ascending track_id,
	// detections by ascending index (already the column order).
	order := make([]int, nTracks)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return t.tracks[order[a]].TrackID < t.tracks[order[b]].TrackID
	})

	for _, i := range order {
		j := assignment[i]
		if j < 0 || j >= nDets {
			continue
		}
		if cost[i][j] >= 1e18 {
			continue // gated
		}
		matches = append(matches, matchPair{trackIdx: i, detIdx: j})
		assignedDet[j] = true
		assignedTrack[i] = true
	}

	for i := 0; i < nTracks; i++ {
		if !assignedTrack[i] {
			unmatchedTracks = append(unmatchedTracks, i)
		}
	}
	for j := 0; j < nDets; j++ {
		if !assignedDet[j] {
			unmatchedDets = append(unmatchedDets, j)
		}
	}
	return matches, unmatchedTracks, unmatchedDets
}

// apply performs the KF update for matched pairs, ages unmatched
// tracks, and allocates new tracks for unmatched detections.
func (t *Tracker) apply(detections []Detection, tMs uint64, matches []matchPair, unmatchedTracks, unmatchedDets []int) {
	for _, m := range matches {
		tr := t.tracks[m.trackIdx]
		d := detections[m.detIdx]
		meas := kalman.Measurement{
			CX:     float64(d.BBox.X + d.BBox.W/2),
			CY:     float64(d.BBox.Y + d.BBox.H/2),
			Area:   float64(d.BBox.Area()),
			Aspect: float64(d.BBox.Aspect()),
		}
		if err := tr.kf.Update(meas); err != nil {
			tr.kf.ResetVelocity()
		}
		if !tr.kf.IsFinite() {
			tr.kf.ResetVelocity()
		}
		tr.Hits++
		tr.SinceUpdate = 0
		tr.LastSeenMs = tMs
		tr.Class = d.Class
	}

	for _, idx := range unmatchedTracks {
		t.tracks[idx].SinceUpdate++
	}

	for _, idx := range unmatchedDets {
		d := detections[idx]
		meas := kalman.Measurement{
			CX:     float64(d.BBox.X + d.BBox.W/2),
			CY:     float64(d.BBox.Y + d.BBox.H/2),
			Area:   float64(d.BBox.Area()),
			Aspect: float64(d.BBox.Aspect()),
		}
		nt := &Track{
			TrackID:     t.nextID,
			Class:       d.Class,
			kf:          kalman.New(meas),
			Hits:        1,
			Age:         1,
			SinceUpdate: 0,
			FirstSeenMs: tMs,
			LastSeenMs:  tMs,
		}
		nt.predictedBBox = nt.BBox()
		t.nextID++
		t.tracks = append(t.tracks, nt)
	}

	if len(t.tracks) > t.cfg.MaxTracks && t.cfg.MaxTracks > 0 {
		t.evictLowestPriority()
	}
}

// evictLowestPriority drops the stalest unconfirmed tracks first when
// over the resource cap (§7 ResourceExhausted).
func (t *Tracker) evictLowestPriority() {
	over := len(t.tracks) - t.cfg.MaxTracks
	if over <= 0 {
		return
	}
	sort.Slice(t.tracks, func(i, j int) bool {
		a, b := t.tracks[i], t.tracks[j]
		if a.Confirmed(t.cfg.MinHits) != b.Confirmed(t.cfg.MinHits) {
			return !a.Confirmed(t.cfg.MinHits) // unconfirmed sorts first (evicted first)
		}
		return a.SinceUpdate > b.SinceUpdate
	})
	t.tracks = t.tracks[over:]
	for i := 0; i < over; i++ {
		t.stats.Incr(errs.KindResourceExhausted)
	}
}

// deleteExpired removes tracks whose since_update exceeds max_age.
func (t *Tracker) deleteExpired() {
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.SinceUpdate > t.cfg.MaxAge {
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept
}

// confirmedLocked returns the confirmed-track set (caller holds t.mu).
func (t *Tracker) confirmedLocked() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		if tr.Confirmed(t.cfg.MinHits) {
			out = append(out, tr)
		}
	}
	return out
}

// AllTracks returns every live track (confirmed or not), for the
// behavior analyzer and timeline engine to consume.
func (t *Tracker) AllTracks() []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Count returns the number of live tracks.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
