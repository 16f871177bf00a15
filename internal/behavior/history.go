// Package behavior implements spec §4.2: rolling per-track position
// history, loitering/running/unusual-movement detection, and a
// weighted threat score.
//
// The bounded-map-with-eviction idiom is grounded on
// internal/security/mitigation/responder.go's RateLimiter and
// internal/security/threat/detector.go's recentThreats dedup map.
package behavior

import (
	"math"

	"github.com/asgard/sentry/internal/config"
)

const historyCapacity = 60

// sample is one (x,y,t_ms) position observation plus its derived speed.
type sample struct {
	x, y  float32
	tMs   uint64
	speed float64 // meters/second, 0 for the first sample
}

// history is a ring buffer of up to historyCapacity samples for one track.
type history struct {
	buf          [historyCapacity]sample
	head         int // next write index
	count        int
	lastUpdateMs uint64
}

func newHistory() *history {
	return &history{}
}

// push appends a new position sample, computing its speed from the
// immediately preceding sample.
func (h *history) push(x, y float32, tMs uint64, metersPerUnit float64) {
	var speed float64
	if h.count > 0 {
		prev := h.at(h.count - 1)
		dtMs := float64(tMs) - float64(prev.tMs)
		if dtMs > 0 {
			dx := float64(x-prev.x) * metersPerUnit
			dy := float64(y-prev.y) * metersPerUnit
			dist := math.Hypot(dx, dy)
			speed = dist / (dtMs / 1000.0)
		}
	}

	h.buf[h.head] = sample{x: x, y: y, tMs: tMs, speed: speed}
	h.head = (h.head + 1) % historyCapacity
	if h.count < historyCapacity {
		h.count++
	}
	h.lastUpdateMs = tMs
}

// at returns the i-th oldest sample still in the buffer (0 == oldest).
func (h *history) at(i int) sample {
	var start int
	if h.count < historyCapacity {
		start = 0
	} else {
		start = h.head
	}
	idx := (start + i) % historyCapacity
	return h.buf[idx]
}

// window returns the samples whose timestamp is within windowMs of the
// latest sample, oldest first.
func (h *history) window(windowMs uint64) []sample {
	if h.count == 0 {
		return nil
	}
	latest := h.at(h.count - 1).tMs
	var cutoff uint64
	if latest > windowMs {
		cutoff = latest - windowMs
	}
	out := make([]sample, 0, h.count)
	for i := 0; i < h.count; i++ {
		s := h.at(i)
		if s.tMs >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// Store owns the per-track histories. It does not own the Track
// itself (spec §3 "the history store must not own the track").
type Store struct {
	cfg        config.Config
	histories  map[uint32]*history
}

// NewStore creates an empty history store.
func NewStore(cfg config.Config) *Store {
	return &Store{cfg: cfg, histories: make(map[uint32]*history)}
}

// SetConfig hot-swaps the configuration.
func (s *Store) SetConfig(cfg config.Config) {
	s.cfg = cfg
}

// UpdateHistory records a new position sample for trackID, evicting the
// least-recently-updated history if the capacity cap is exceeded.
func (s *Store) UpdateHistory(trackID uint32, cx, cy float32, tMs uint64) {
	h, ok := s.histories[trackID]
	if !ok {
		if len(s.histories) >= s.cfg.MaxHistories {
			s.evictLRU()
		}
		h = newHistory()
		s.histories[trackID] = h
	}
	h.push(cx, cy, tMs, s.cfg.MetersPerNormalizedUnit)
}

// Clear frees the history slot for trackID (spec §4.2 "clear").
func (s *Store) Clear(trackID uint32) {
	delete(s.histories, trackID)
}

// GC drops any history whose last update is older than cutoffMs,
// opportunistically reclaiming entries for tracks the tracker already
// deleted (spec §9 "or the analyzer GCs entries").
func (s *Store) GC(cutoffMs uint64) {
	for id, h := range s.histories {
		if h.lastUpdateMs < cutoffMs {
			delete(s.histories, id)
		}
	}
}

func (s *Store) evictLRU() {
	var lruID uint32
	var lruTime uint64 = math.MaxUint64
	first := true
	for id, h := range s.histories {
		if first || h.lastUpdateMs < lruTime {
			lruID = id
			lruTime = h.lastUpdateMs
			first = false
		}
	}
	if !first {
		delete(s.histories, lruID)
	}
}

// Len returns the number of tracked histories.
func (s *Store) Len() int {
	return len(s.histories)
}
