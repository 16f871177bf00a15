package eventpredictor

import (
	"testing"

	"github.com/asgard/sentry/internal/behavior"
	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/scene"
	"github.com/asgard/sentry/internal/tracker"
	"github.com/asgard/sentry/internal/trajectory"
)

func stationaryTrajectory(trackID uint32, x, y float32, n int, stepMs uint64, conf float32) trajectory.Trajectory {
	states := make([]trajectory.PredictedState, 0, n)
	for i := 0; i < n; i++ {
		states = append(states, trajectory.PredictedState{
			TMs:        uint64(i) * stepMs,
			X:          x,
			Y:          y,
			Confidence: conf,
		})
	}
	return trajectory.Trajectory{TrackID: trackID, States: states, OverallConf: conf}
}

func TestLoiteringEvent(t *testing.T) {
	cfg := config.Default()
	cfg.StepMs = 1000
	cfg.EventLoiterDwellMs = 5000
	p := New(cfg)

	traj := stationaryTrajectory(1, 0.5, 0.5, 10, cfg.StepMs, 0.9)
	ti := TrackInput{TrackID: 1, Class: tracker.ClassPerson, BehaviorBits: behavior.FlagLoitering, Trajectory: traj}

	events := p.Predict([]TrackInput{ti}, scene.Context{})
	found := false
	for _, e := range events {
		if e.Type == TypeLoitering {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a loitering event, got %+v", events)
	}
}

func TestCollisionEvent(t *testing.T) {
	cfg := config.Default()
	cfg.StepMs = 200
	cfg.HorizonMs = 2000
	p := New(cfg)
	tp := trajectory.New(cfg, nil)

	a := tp.Predict(trajectory.TrackState{TrackID: 1, X: 0.1, Y: 0.5, VX: 0.5, VY: 0, Confidence: 1})
	b := tp.Predict(trajectory.TrackState{TrackID: 2, X: 0.9, Y: 0.5, VX: -0.5, VY: 0, Confidence: 1})

	tracks := []TrackInput{
		{TrackID: 1, Class: tracker.ClassVehicle, Trajectory: a},
		{TrackID: 2, Class: tracker.ClassPerson, Trajectory: b},
	}

	events := p.Predict(tracks, scene.Context{})
	found := false
	for _, e := range events {
		if e.Type == TypeCollision {
			found = true
			if e.NumTracks != 2 {
				t.Fatalf("expected 2 involved tracks, got %d", e.NumTracks)
			}
		}
	}
	if !found {
		t.Fatalf("expected a collision event, got %+v", events)
	}
}

func TestTrespassingEvent(t *testing.T) {
	cfg := config.Default()
	cfg.StepMs = 500
	cfg.HorizonMs = 3000
	p := New(cfg)
	tp := trajectory.New(cfg, nil)

	traj := tp.Predict(trajectory.TrackState{TrackID: 1, X: 0.1, Y: 0.5, VX: 0.1, VY: 0, Confidence: 1})
	ti := TrackInput{TrackID: 1, Class: tracker.ClassPerson, Trajectory: traj}

	sc := scene.Context{Zones: []scene.Zone{
		{ID: "restricted", CX: 0.25, CY: 0.5, Radius: 0.05, Protected: scene.ProtectedEventTrespassing},
	}}

	events := p.Predict([]TrackInput{ti}, sc)
	found := false
	for _, e := range events {
		if e.Type == TypeTrespassing {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a trespassing event, got %+v", events)
	}
}

func TestBelowThresholdEventsDiscarded(t *testing.T) {
	cfg := config.Default()
	cfg.EventThreshold = 1.1 // unreachable
	cfg.StepMs = 1000
	p := New(cfg)

	traj := stationaryTrajectory(1, 0.5, 0.5, 10, cfg.StepMs, 0.9)
	ti := TrackInput{TrackID: 1, Class: tracker.ClassPerson, BehaviorBits: behavior.FlagLoitering, Trajectory: traj}

	events := p.Predict([]TrackInput{ti}, scene.Context{})
	if len(events) != 0 {
		t.Fatalf("expected all events discarded below threshold, got %+v", events)
	}
	if p.Discarded() == 0 {
		t.Fatalf("expected Discarded() to count the rejected candidate")
	}
}
