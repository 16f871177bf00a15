// Package scene provides the protected-zone registry and incident/
// time-of-day risk context consumed by the event predictor (spec
// §4.4's "scene context"). Generalized from
// internal/robotics/decision/rescue_priority.go's named-zone-with-
// risk-multiplier concept (SPEC_FULL.md §10 supplemented feature).
package scene

import "math"

// ProtectedEvent names the event type a zone is guarding against.
type ProtectedEvent int

const (
	ProtectedEventNone ProtectedEvent = iota
	ProtectedEventTheft
	ProtectedEventTrespassing
)

// Zone is a named circular protected region.
type Zone struct {
	ID             string
	CX, CY, Radius float32
	Protected      ProtectedEvent
	// ExitTimeoutMs bounds how long an entrant may dwell before a
	// rapid-exit segment is expected (theft detection, spec §4.4).
	ExitTimeoutMs uint64
}

// Contains reports whether (x,y) lies within the zone's disc.
func (z Zone) Contains(x, y float32) bool {
	dx := float64(x - z.CX)
	dy := float64(y - z.CY)
	return math.Hypot(dx, dy) < float64(z.Radius)
}

// Incident is a historical event used to compute local incident density.
type Incident struct {
	X, Y  float32
	TMs   uint64
}

// Context bundles the scene information the event predictor needs.
type Context struct {
	Zones        []Zone
	Incidents    []Incident
	HourOfDay    int // 0-23, local time, for the time-of-day multiplier
}

// ZonesContaining returns every zone that contains (x,y).
func (c Context) ZonesContaining(x, y float32) []Zone {
	var out []Zone
	for _, z := range c.Zones {
		if z.Contains(x, y) {
			out = append(out, z)
		}
	}
	return out
}

// IncidentDensity returns the count of incidents within radiusMeters
// (converted via metersPerUnit) of (x,y) and within windowMs of nowMs.
func (c Context) IncidentDensity(x, y float32, nowMs uint64, windowMs uint64, radiusMeters, metersPerUnit float64) int {
	count := 0
	var cutoff uint64
	if nowMs > windowMs {
		cutoff = nowMs - windowMs
	}
	for _, inc := range c.Incidents {
		if inc.TMs < cutoff {
			continue
		}
		dx := float64(x-inc.X) * metersPerUnit
		dy := float64(y-inc.Y) * metersPerUnit
		if math.Hypot(dx, dy) <= radiusMeters {
			count++
		}
	}
	return count
}

// TimeOfDayMultiplier returns a risk multiplier peaking at night
// hours (22:00-05:00) and at its baseline (1.0) during the day,
// reflecting the elevated-risk-after-dark convention used for the
// severity escalation in spec §4.4.
func (c Context) TimeOfDayMultiplier() float64 {
	h := c.HourOfDay
	if h >= 22 || h < 5 {
		return 1.5
	}
	if h >= 5 && h < 8 {
		return 1.1
	}
	return 1.0
}
