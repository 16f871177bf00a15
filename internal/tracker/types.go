// Package tracker implements spec §4.1: detection-to-track association
// via gated IoU cost and Hungarian assignment, Kalman-filter motion
// estimation, and track lifecycle (create/confirm/age/delete).
//
// Grounded on internal/orbital/tracking/tracker.go's mutex-guarded
// processor shape and time-windowed dedup idiom, generalized from
// alert-generation to full multi-object tracking.
package tracker

import (
	"github.com/asgard/sentry/internal/geometry"
	"github.com/asgard/sentry/internal/kalman"
)

// Class is the detected object's semantic class.
type Class int

const (
	ClassUnknown Class = iota
	ClassPerson
	ClassVehicle
	ClassAnimal
)

// Detection is one frame's raw observation, per spec §3. It lives one frame.
type Detection struct {
	ID     uint32
	Class  Class
	Conf   float32
	BBox   geometry.BoundingBox
	TimeMs uint64
}

const featureDim = 128

// Track is a persistent identity associating detections across frames.
type Track struct {
	TrackID uint32
	Class   Class

	kf *kalman.Filter

	Hits         uint32
	Age          uint32
	SinceUpdate  uint32
	FirstSeenMs  uint64
	LastSeenMs   uint64
	Feature      [featureDim]float32

	// Populated in-place by the behavior analyzer (spec §4.2).
	BehaviorBits uint32
	Threat       float32

	predictedBBox geometry.BoundingBox
}

// Confirmed reports whether the track meets the emission contract of
// spec §4.1: hits >= minHits AND since_update == 0.
func (t *Track) Confirmed(minHits uint32) bool {
	return t.Hits >= minHits && t.SinceUpdate == 0
}

// BBox returns the track's current (measurement-updated, or predicted
// if unmatched this tick) bounding box reconstruction.
func (t *Track) BBox() geometry.BoundingBox {
	cx, cy, area, aspect, _, _, _ := t.kf.State()
	return geometry.FromCenterAreaAspect(float32(cx), float32(cy), float32(area), float32(aspect))
}

// Velocity returns the filter's estimated (vx, vy) in normalized
// units per second (caller supplies the dt convention used to predict).
func (t *Track) Velocity() (vx, vy float32) {
	_, _, _, _, svx, svy, _ := t.kf.State()
	return float32(svx), float32(svy)
}

// PredictedBBox returns the bbox computed during the most recent
// predict stage, used as the association cost's reference.
func (t *Track) PredictedBBox() geometry.BoundingBox {
	return t.predictedBBox
}
