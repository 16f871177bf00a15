package timeline

import (
	"testing"

	"github.com/asgard/sentry/internal/behavior"
	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/eventpredictor"
	"github.com/asgard/sentry/internal/scene"
	"github.com/asgard/sentry/internal/tracker"
	"github.com/asgard/sentry/internal/trajectory"
)

func TestInterventionOrdering(t *testing.T) {
	cfg := config.Default()
	cfg.StepMs = 1000
	cfg.HorizonMs = 22000
	cfg.MaxTimelines = 2
	cfg.MaxBranching = 2
	eng := New(cfg)

	tp := trajectory.New(cfg, nil)
	traj := tp.Predict(trajectory.TrackState{
		TrackID: 1, X: 0.1, Y: 0.5, VX: 0.04, VY: 0, Confidence: 1,
	})

	tracks := []eventpredictor.TrackInput{
		{TrackID: 1, Class: tracker.ClassPerson, BehaviorBits: behavior.FlagConcealment, Trajectory: traj},
	}
	sc := scene.Context{Zones: []scene.Zone{
		{ID: "vault", CX: 0.9, CY: 0.5, Radius: 0.001, Protected: scene.ProtectedEventTheft, ExitTimeoutMs: 2000},
	}}

	timelines := eng.Update(tracks, sc, 0)
	if len(timelines) == 0 {
		t.Fatalf("expected at least one timeline")
	}

	var theftEvent *eventpredictor.PredictedEvent
	var ip *InterventionPoint
	for _, tl := range timelines {
		for _, ev := range tl.Events {
			if ev.Type == eventpredictor.TypeTheft && ev.Severity >= eventpredictor.SeverityHigh {
				e := ev
				theftEvent = &e
			}
		}
		for _, p := range tl.Interventions {
			if p.PreventedEvent.Type == eventpredictor.TypeTheft {
				pp := p
				ip = &pp
			}
		}
	}

	if theftEvent == nil {
		t.Fatalf("expected a HIGH-severity theft event to be predicted")
	}
	if theftEvent.TMs < 19000 || theftEvent.TMs > 21000 {
		t.Fatalf("expected theft event near t=20000ms, got %d", theftEvent.TMs)
	}
	if ip == nil {
		t.Fatalf("expected an intervention point for the theft event")
	}
	if ip.TMs > theftEvent.TMs-2000 {
		t.Fatalf("intervention at %d not >=2s ahead of event at %d", ip.TMs, theftEvent.TMs)
	}
	if ip.Effectiveness <= 0 {
		t.Fatalf("expected positive effectiveness, got %v", ip.Effectiveness)
	}
}

func TestUpdateRespectsMaxTimelines(t *testing.T) {
	cfg := config.Default()
	cfg.StepMs = 500
	cfg.HorizonMs = 2000
	cfg.MaxTimelines = 3
	cfg.MaxBranching = 3
	eng := New(cfg)

	tp := trajectory.New(cfg, nil)
	traj := tp.Predict(trajectory.TrackState{TrackID: 1, X: 0.5, Y: 0.5, VX: 0.02, VY: 0, Confidence: 1})
	tracks := []eventpredictor.TrackInput{
		{TrackID: 1, Class: tracker.ClassPerson, Trajectory: traj},
	}

	timelines := eng.Update(tracks, scene.Context{}, 0)
	if len(timelines) > cfg.MaxTimelines {
		t.Fatalf("expected at most %d timelines, got %d", cfg.MaxTimelines, len(timelines))
	}
	for _, tl := range timelines {
		if tl.Status != StatusActive {
			t.Fatalf("expected emitted timelines to be Active, got %v", tl.Status)
		}
	}

	sum := float32(0)
	for _, tl := range timelines {
		sum += tl.OverallProbability
	}
	if diff := sum - 1.0; diff > 1e-3 || diff < -1e-3 {
		t.Fatalf("expected sibling probabilities to sum to ~1, got %v", sum)
	}
}

func TestDiscardedEventsCountsThresholdRejections(t *testing.T) {
	cfg := config.Default()
	cfg.EventThreshold = 1.1 // unreachable: every candidate event is discarded
	cfg.StepMs = 1000
	cfg.HorizonMs = 6000 // >= event_loiter_dwell_ms so the loitering candidate is reached
	cfg.MaxTimelines = 2
	cfg.MaxBranching = 2
	eng := New(cfg)

	tp := trajectory.New(cfg, nil)
	traj := tp.Predict(trajectory.TrackState{
		TrackID: 1, X: 0.5, Y: 0.5, VX: 0, VY: 0, Confidence: 1, BehaviorBits: behavior.FlagLoitering,
	})
	tracks := []eventpredictor.TrackInput{
		{TrackID: 1, Class: tracker.ClassPerson, BehaviorBits: behavior.FlagLoitering, Trajectory: traj},
	}

	eng.Update(tracks, scene.Context{}, 0)
	if eng.DiscardedEvents() == 0 {
		t.Fatalf("expected DiscardedEvents() to reflect the unreachable threshold")
	}
}
