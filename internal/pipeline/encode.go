package pipeline

import (
	"encoding/json"

	"github.com/asgard/sentry/internal/timeline"
	"github.com/asgard/sentry/internal/tracker"
)

// trackWire is the JSON shape published into the tracks shared-memory
// region (spec §4.6); the timelines region carries timeline.Timeline
// values marshalled as they are. JSON rather than
// a second packed binary layout: these payloads are read by
// out-of-process consumers (dashboards, the swarm bridge) that don't
// share this repo's struct layout, matching the teacher's
// publisher-boundary convention of JSON envelopes over NATS and
// between-process boundaries while using the packed binary frame only
// for the fixed ipc.FrameHeader itself.
type trackWire struct {
	TrackID      uint32  `json:"track_id"`
	Class        int     `json:"class"`
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	VX           float32 `json:"vx"`
	VY           float32 `json:"vy"`
	BehaviorBits uint32  `json:"behavior_bits"`
	Threat       float32 `json:"threat"`
}

// detectionWire is the per-frame raw-detection wire shape (spec §4.6's
// "published at capture rate" detections region), published before
// tracks/timelines each tick so a reader's ordering invariant (a track
// snapshot at T implies a detection snapshot at >=T was produced
// earlier in the same tick) holds.
type detectionWire struct {
	ID     uint32  `json:"id"`
	Class  int     `json:"class"`
	Conf   float32 `json:"conf"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	W      float32 `json:"w"`
	H      float32 `json:"h"`
	TimeMs uint64  `json:"time_ms"`
}

func encodeDetections(detections []tracker.Detection) (payload []byte, count uint32, err error) {
	wire := make([]detectionWire, 0, len(detections))
	for _, d := range detections {
		wire = append(wire, detectionWire{
			ID:     d.ID,
			Class:  int(d.Class),
			Conf:   d.Conf,
			X:      d.BBox.X,
			Y:      d.BBox.Y,
			W:      d.BBox.W,
			H:      d.BBox.H,
			TimeMs: d.TimeMs,
		})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, 0, err
	}
	return data, uint32(len(wire)), nil
}

func encodeTracks(tracks []*tracker.Track) (payload []byte, count uint32, err error) {
	wire := make([]trackWire, 0, len(tracks))
	for _, tr := range tracks {
		cx, cy := tr.BBox().Center()
		vx, vy := tr.Velocity()
		wire = append(wire, trackWire{
			TrackID:      tr.TrackID,
			Class:        int(tr.Class),
			X:            cx,
			Y:            cy,
			VX:           vx,
			VY:           vy,
			BehaviorBits: tr.BehaviorBits,
			Threat:       tr.Threat,
		})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, 0, err
	}
	return data, uint32(len(wire)), nil
}

func encodeTimelines(timelines []timeline.Timeline) (payload []byte, count uint32, err error) {
	data, err := json.Marshal(timelines)
	if err != nil {
		return nil, 0, err
	}
	return data, uint32(len(timelines)), nil
}

func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
