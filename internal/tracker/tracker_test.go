package tracker

import (
	"testing"

	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/geometry"
)

func bootstrapDetection() Detection {
	return Detection{
		ID:    1,
		Class: ClassPerson,
		Conf:  0.95,
		BBox:  geometry.BoundingBox{X: 0.10, Y: 0.10, W: 0.20, H: 0.30},
	}
}

func TestBootstrapOneTrack(t *testing.T) {
	cfg := config.Default()
	tr := New(cfg, nil)

	var confirmed []*Track
	for i, tMs := range []uint64{0, 100, 200, 300} {
		d := bootstrapDetection()
		d.TimeMs = tMs
		confirmed = tr.Update([]Detection{d}, tMs)
		if i == 2 { // t=200ms, 3rd feed -> min_hits=3 reached
			if len(confirmed) != 1 {
				t.Fatalf("at t=200 want 1 confirmed track, got %d", len(confirmed))
			}
			if confirmed[0].TrackID != 1 {
				t.Fatalf("track_id = %d, want 1", confirmed[0].TrackID)
			}
			if confirmed[0].Hits != 3 {
				t.Fatalf("hits = %d, want 3", confirmed[0].Hits)
			}
			vx, vy := confirmed[0].Velocity()
			if vx > 0.01 || vx < -0.01 || vy > 0.01 || vy < -0.01 {
				t.Fatalf("velocity ~0 expected, got (%v,%v)", vx, vy)
			}
		}
	}

	// t=400: no detections -> since_update=1, still tracked.
	confirmed = tr.Update(nil, 400)
	if len(confirmed) != 0 {
		t.Fatalf("since_update=1 should not be confirmed (emission requires since_update==0), got %d", len(confirmed))
	}
	all := tr.AllTracks()
	if len(all) != 1 || all[0].SinceUpdate != 1 {
		t.Fatalf("expected one track with since_update=1, got %+v", all)
	}

	// Age past max_age (30) with no detections -> removed.
	tMs := uint64(400)
	for i := 0; i < int(cfg.MaxAge)+1; i++ {
		tMs += 100
		tr.Update(nil, tMs)
	}
	if tr.Count() != 0 {
		t.Fatalf("track should be deleted after exceeding max_age, count=%d", tr.Count())
	}
}

func TestEmptyDetectionSetAgesAllTracksByOne(t *testing.T) {
	cfg := config.Default()
	tr := New(cfg, nil)

	d := bootstrapDetection()
	tr.Update([]Detection{d}, 0)
	tr.Update([]Detection{d}, 100)

	tr.Update(nil, 200)
	all := tr.AllTracks()
	if len(all) != 1 || all[0].SinceUpdate != 1 {
		t.Fatalf("expected since_update=1 after one empty tick, got %+v", all)
	}
}

func TestIdempotentSameTimestamp(t *testing.T) {
	cfg := config.Default()
	tr := New(cfg, nil)
	d := bootstrapDetection()

	tr.Update([]Detection{d}, 0)
	tr.Update([]Detection{d}, 100)
	first := tr.Update([]Detection{d}, 200)
	second := tr.Update([]Detection{d}, 200) // duplicate timestamp

	if len(first) != len(second) {
		t.Fatalf("duplicate tick changed confirmed set size: %d vs %d", len(first), len(second))
	}
	all := tr.AllTracks()
	if all[0].Age != 3 {
		t.Fatalf("age should not double-advance on duplicate tick, got %d", all[0].Age)
	}
}

func TestInvalidBBoxDropped(t *testing.T) {
	tr := New(config.Default(), nil)
	bad := Detection{ID: 1, BBox: geometry.BoundingBox{X: 0.9, Y: 0, W: 0.5, H: 0.1}}
	tr.Update([]Detection{bad}, 0)
	if tr.Count() != 0 {
		t.Fatalf("invalid bbox should be dropped, not tracked")
	}
}

func TestMonotonicTrackIDsAcrossDeletions(t *testing.T) {
	tr := New(config.Default(), nil)
	d1 := Detection{ID: 1, BBox: geometry.BoundingBox{X: 0.1, Y: 0.1, W: 0.1, H: 0.1}}
	d2 := Detection{ID: 2, BBox: geometry.BoundingBox{X: 0.6, Y: 0.6, W: 0.1, H: 0.1}}

	tr.Update([]Detection{d1}, 0)
	tMs := uint64(100)
	for i := uint32(0); i < tr.cfg.MaxAge+2; i++ {
		tMs += 100
		tr.Update(nil, tMs)
	}
	if tr.Count() != 0 {
		t.Fatalf("first track should have expired")
	}

	tr.Update([]Detection{d2}, tMs+100)
	all := tr.AllTracks()
	if len(all) != 1 || all[0].TrackID != 2 {
		t.Fatalf("new track should get id=2 (never reuse 1), got %+v", all)
	}
}
