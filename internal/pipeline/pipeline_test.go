package pipeline

import (
	"testing"

	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/geometry"
	"github.com/asgard/sentry/internal/ipc"
	"github.com/asgard/sentry/internal/swarm"
	"github.com/asgard/sentry/internal/tracker"
)

func bootstrapDetection(id uint32, tMs uint64) tracker.Detection {
	return tracker.Detection{
		ID:     id,
		Class:  tracker.ClassPerson,
		Conf:   0.95,
		BBox:   geometry.BoundingBox{X: 0.10, Y: 0.10, W: 0.20, H: 0.30},
		TimeMs: tMs,
	}
}

func TestTickConfirmsTrackAfterMinHits(t *testing.T) {
	pl := New(config.Default(), nil, nil, nil)

	for _, tMs := range []uint64{0, 100, 200} {
		pl.Tick([]tracker.Detection{bootstrapDetection(1, tMs)}, tMs)
	}

	frames, activeTracks, _ := pl.Stats()
	if frames != 3 {
		t.Fatalf("frames_handled = %d, want 3", frames)
	}
	if activeTracks != 1 {
		t.Fatalf("active_tracks = %d, want 1 after min_hits reached", activeTracks)
	}
}

func TestTickWithNoDetectionsNeverPanics(t *testing.T) {
	pl := New(config.Default(), nil, nil, nil)
	for _, tMs := range []uint64{0, 100, 200, 300} {
		pl.Tick(nil, tMs)
	}
	frames, activeTracks, activeTimelines := pl.Stats()
	if frames != 4 {
		t.Fatalf("frames_handled = %d, want 4", frames)
	}
	if activeTracks != 0 {
		t.Fatalf("expected no active tracks, got %d", activeTracks)
	}
	// the engine always emits a (empty) primary timeline even with no
	// tracks to build branches from.
	if activeTimelines != 1 {
		t.Fatalf("expected the primary empty timeline to survive, got %d", activeTimelines)
	}
}

func TestSetConfigRejectsInvalidConfig(t *testing.T) {
	pl := New(config.Default(), nil, nil, nil)
	bad := config.Default()
	bad.IoUThreshold = 5 // out of [0,1]

	if err := pl.SetConfig(bad); err == nil {
		t.Fatalf("expected SetConfig to reject an out-of-range iou_threshold")
	}
}

func TestEncodeDetectionsRoundTripsFields(t *testing.T) {
	dets := []tracker.Detection{bootstrapDetection(7, 1500)}
	payload, count, err := encodeDetections(dets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	var decoded []detectionWire
	if err := decodeJSON(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 decoded detection, got %d", len(decoded))
	}
	if decoded[0].ID != 7 || decoded[0].TimeMs != 1500 {
		t.Fatalf("unexpected decoded detection: %+v", decoded[0])
	}
	if decoded[0].X != 0.10 || decoded[0].W != 0.20 {
		t.Fatalf("unexpected bbox fields: %+v", decoded[0])
	}
}

func TestEncodeDetectionsEmptySliceProducesZeroCount(t *testing.T) {
	payload, count, err := encodeDetections(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if string(payload) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", payload)
	}
}

func TestPlausibleHandoffRejectsOutOfFrameCoordinates(t *testing.T) {
	h := swarm.TrackHandoff{TrackID: 1, X: 1.5, Y: 0.5, VX: 0.01, VY: 0}
	if plausibleHandoff(h) {
		t.Fatalf("expected an out-of-frame hand-off to be rejected")
	}
}

func TestPlausibleHandoffRejectsImplausibleVelocity(t *testing.T) {
	h := swarm.TrackHandoff{TrackID: 1, X: 0.5, Y: 0.5, VX: 5, VY: 5}
	if plausibleHandoff(h) {
		t.Fatalf("expected an implausible velocity to be rejected")
	}
}

func TestPlausibleHandoffAcceptsOrdinaryHandoff(t *testing.T) {
	h := swarm.TrackHandoff{TrackID: 1, X: 0.02, Y: 0.5, VX: 0.01, VY: -0.01}
	if !plausibleHandoff(h) {
		t.Fatalf("expected an ordinary in-frame hand-off to be accepted")
	}
}

func TestAdvisePeersNoopWithoutSwarmNode(t *testing.T) {
	pl := New(config.Default(), nil, nil, nil)
	// node is nil; advisePeers must not panic and must be a no-op.
	pl.advisePeers(pl.lastTimelines)
}

func TestHandleCommandPingAndUnknown(t *testing.T) {
	pl := New(config.Default(), nil, nil, nil)

	if err := pl.HandleCommand(ipc.Command{Type: ipc.CommandPing}); err != nil {
		t.Fatalf("ping command: unexpected error: %v", err)
	}
	if err := pl.HandleCommand(ipc.Command{Type: "bogus"}); err == nil {
		t.Fatalf("expected an error for an unknown command type")
	}
}
