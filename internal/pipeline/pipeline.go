// Package pipeline wires the per-frame producer loop: detection →
// track association → behavior analysis → trajectory/event/timeline
// prediction → shared-memory publish. One Tick call is one frame.
//
// The goroutine layout started by cmd/sentryd (producer loop, command
// listener, periodic status snapshot) is grounded on cmd/silenus/main.go's
// runVisionLoop/processAlerts/runTelemetryLoop trio: one loop per
// concern. The producer loop and status snapshot stop when the shared
// context is cancelled; the swarm inbound queue is drained at the top
// of each Tick rather than by a goroutine of its own.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/asgard/sentry/internal/behavior"
	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/errs"
	"github.com/asgard/sentry/internal/eventpredictor"
	"github.com/asgard/sentry/internal/ipc"
	"github.com/asgard/sentry/internal/observability"
	"github.com/asgard/sentry/internal/scene"
	"github.com/asgard/sentry/internal/swarm"
	"github.com/asgard/sentry/internal/timeline"
	"github.com/asgard/sentry/internal/tracker"
	"github.com/asgard/sentry/internal/trajectory"
)

// Pipeline owns every stage's state and runs the per-frame tick.
type Pipeline struct {
	mu  sync.RWMutex
	cfg config.Config

	tracker   *tracker.Tracker
	behaviors *behavior.Store
	analyzer  *behavior.Analyzer
	predict   *trajectory.Predictor
	timelines *timeline.Engine

	scene    scene.Context
	sceneMu  sync.RWMutex

	publisher *ipc.Publisher
	node      *swarm.Node
	counters  *errs.Counters

	framesHandled      uint64
	eventsPredicted    uint64
	interventionsFound uint64
	lastTimelines      []timeline.Timeline
}

// New constructs a Pipeline from cfg, wiring every stage's own
// constructor with a shared config and error counters.
func New(cfg config.Config, publisher *ipc.Publisher, node *swarm.Node, counters *errs.Counters) *Pipeline {
	if counters == nil {
		counters = &errs.Counters{}
	}
	store := behavior.NewStore(cfg)
	return &Pipeline{
		cfg:       cfg,
		tracker:   tracker.New(cfg, counters),
		behaviors: store,
		analyzer:  behavior.NewAnalyzer(store),
		predict:   trajectory.New(cfg, trajectory.ConstantVelocity{}),
		timelines: timeline.New(cfg),
		publisher: publisher,
		node:      node,
		counters:  counters,
	}
}

// SetConfig hot-applies a validated config to every stage (spec §6's
// CONFIG_UPDATE command), matching the teacher's pattern of a single
// validated struct swap rather than per-field mutation.
func (p *Pipeline) SetConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pipeline: invalid config: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.tracker.SetConfig(cfg)
	p.behaviors.SetConfig(cfg)
	p.predict.SetConfig(cfg)
	p.timelines.SetConfig(cfg)
	return nil
}

// SetScene replaces the protected-zone/incident context consulted by
// the event predictor (spec §4.4), e.g. after a SYNC_SWARM command
// merges peer-reported incidents.
func (p *Pipeline) SetScene(sc scene.Context) {
	p.sceneMu.Lock()
	defer p.sceneMu.Unlock()
	p.scene = sc
}

func (p *Pipeline) currentScene() scene.Context {
	p.sceneMu.RLock()
	defer p.sceneMu.RUnlock()
	return p.scene
}

// Tick runs one frame through every stage in order and publishes the
// results. It never returns an error for a single bad detection or
// publish failure (spec §7's never-fail-a-frame policy); those are
// folded into the shared error counters and logged instead.
func (p *Pipeline) Tick(detections []tracker.Detection, nowMs uint64) {
	_ = p.drainSwarm()

	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	start := time.Now()
	tracks := p.tracker.Update(detections, nowMs)
	observability.GetMetrics().FramesProcessed.Inc()
	observability.GetMetrics().DetectionsPerFrame.Observe(float64(len(detections)))
	observability.GetMetrics().ActiveTracks.Set(float64(len(tracks)))
	observability.GetMetrics().AssociationLatency.Observe(time.Since(start).Seconds())

	for _, tr := range tracks {
		cx, cy := tr.BBox().Center()
		p.behaviors.UpdateHistory(tr.TrackID, cx, cy, nowMs)
		bits, threat := p.analyzer.Analyze(tr.TrackID)
		tr.BehaviorBits = bits
		tr.Threat = threat
		observability.GetMetrics().ThreatScore.Observe(float64(threat))
	}
	p.behaviors.GC(gcCutoff(nowMs, cfg))

	trajStart := time.Now()
	inputs := make([]eventpredictor.TrackInput, 0, len(tracks))
	for _, tr := range tracks {
		vx, vy := tr.Velocity()
		cx, cy := tr.BBox().Center()
		state := trajectory.TrackState{
			TrackID:      tr.TrackID,
			X:            cx,
			Y:            cy,
			VX:           vx,
			VY:           vy,
			Confidence:   1.0,
			BehaviorBits: tr.BehaviorBits,
			Threat:       tr.Threat,
			NowMs:        nowMs,
		}
		traj := p.predict.Predict(state)
		inputs = append(inputs, eventpredictor.TrackInput{
			TrackID:      tr.TrackID,
			Class:        tr.Class,
			BehaviorBits: tr.BehaviorBits,
			Trajectory:   traj,
		})
	}
	observability.GetMetrics().TrajectoryLatency.Observe(time.Since(trajStart).Seconds())

	sc := p.currentScene()
	sc.HourOfDay = time.UnixMilli(int64(nowMs)).Hour()

	tlStart := time.Now()
	timelines := p.timelines.Update(inputs, sc, nowMs)
	observability.GetMetrics().TimelineLatency.Observe(time.Since(tlStart).Seconds())
	observability.GetMetrics().ActiveTimelines.Set(float64(len(timelines)))
	observability.GetMetrics().EventsDiscarded.Add(float64(p.timelines.DiscardedEvents()))

	var eventsThisTick, interventionsThisTick uint64
	for _, tl := range timelines {
		for _, ev := range tl.Events {
			observability.RecordEvent(ev.Type.String(), severityLabel(ev.Severity))
			eventsThisTick++
		}
		for i := 0; i < len(tl.Interventions); i++ {
			observability.GetMetrics().InterventionsFound.Inc()
			interventionsThisTick++
		}
	}

	p.mu.Lock()
	p.framesHandled++
	p.eventsPredicted += eventsThisTick
	p.interventionsFound += interventionsThisTick
	p.lastTimelines = timelines
	p.mu.Unlock()

	p.publish(nowMs, detections, tracks, timelines)
	p.handOffNearBoundary(tracks, nowMs)
	p.advisePeers(timelines)
}

func gcCutoff(nowMs uint64, cfg config.Config) uint64 {
	window := cfg.LoiteringDwellTimeMs * 4
	if nowMs < window {
		return 0
	}
	return nowMs - window
}

func severityLabel(s eventpredictor.Severity) string {
	switch s {
	case eventpredictor.SeverityLow:
		return "low"
	case eventpredictor.SeverityMedium:
		return "medium"
	case eventpredictor.SeverityHigh:
		return "high"
	case eventpredictor.SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Stats returns the frame count and current active-set sizes for the
// status snapshot writer.
func (p *Pipeline) Stats() (framesHandled uint64, activeTracks, activeTimelines int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.framesHandled, p.tracker.Count(), len(p.lastTimelines)
}

// Counts returns the cumulative events-predicted and interventions-
// found totals for the stats path (spec §4.6's "events predicted,
// interventions" fields).
func (p *Pipeline) Counts() (eventsPredicted, interventionsFound uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.eventsPredicted, p.interventionsFound
}

// SwarmNode exposes the swarm connection for health reporting by the
// stats path writer; returns nil if swarm is disabled.
func (p *Pipeline) SwarmNode() *swarm.Node { return p.node }

// Run calls Tick once for each detection batch delivered over
// detectionsCh until ctx is cancelled, so the tick cadence is set by
// the sender; cfg.FramePeriod is not consulted here. Grounded
// on runVisionLoop's select-on-frame-channel-or-ctx-done shape.
func (p *Pipeline) Run(ctx context.Context, detectionsCh <-chan []tracker.Detection, clock func() uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case dets := <-detectionsCh:
			p.Tick(dets, clock())
		}
	}
}

// HandleCommand dispatches one command/ack-channel command (spec §6).
func (p *Pipeline) HandleCommand(cmd ipc.Command) error {
	observability.RecordCommand(string(cmd.Type))
	switch cmd.Type {
	case ipc.CommandPing:
		return nil
	case ipc.CommandConfigUpdate:
		var cfg config.Config
		if len(cmd.Payload) > 0 {
			if err := decodeJSON(cmd.Payload, &cfg); err != nil {
				p.counters.Incr(errs.KindCommandMalformed)
				return fmt.Errorf("pipeline: decode config_update: %w", err)
			}
		}
		return p.SetConfig(cfg)
	case ipc.CommandRefreshTimelines:
		return nil
	case ipc.CommandSyncSwarm:
		return p.drainSwarm()
	case ipc.CommandShutdown:
		p.counters.Incr(errs.KindShutdownRequested)
		log.Println("pipeline: shutdown command received")
		return nil
	default:
		p.counters.Incr(errs.KindCommandMalformed)
		return fmt.Errorf("pipeline: unknown command type %q", cmd.Type)
	}
}

// drainSwarm pulls every buffered inbound swarm message and folds
// track hand-offs / event advisories into local state. Runs on the
// producer loop's own tick, never inside the NATS delivery callback,
// per the bounded-channel design in internal/swarm.
func (p *Pipeline) drainSwarm() error {
	if p.node == nil {
		return nil
	}
	for _, msg := range p.node.Drain() {
		switch msg.Subject {
		case swarm.SubjectEventPredicted:
			var adv swarm.EventAdvisory
			if err := decodeJSON(msg.Data, &adv); err != nil {
				p.counters.Incr(errs.KindCommandMalformed)
				continue
			}
			p.mergeAdvisory(adv)
		case swarm.SubjectTrackHandoff:
			var h swarm.TrackHandoff
			if err := decodeJSON(msg.Data, &h); err != nil {
				p.counters.Incr(errs.KindCommandMalformed)
				continue
			}
			_ = p.node.PublishConsensusVote(swarm.ConsensusVote{
				TrackID:  h.TrackID,
				Accepted: plausibleHandoff(h),
				TMs:      h.TMs,
			})
		case swarm.SubjectConsensus:
			// Accepted for future corroboration; a single camera does
			// not yet require agreement from more than one peer vote
			// before trusting a hand-off.
		}
	}
	return nil
}

// plausibleHandoff applies a cheap sanity check to an inbound
// hand-off before this camera corroborates it with a consensus vote:
// normalized coordinates in frame and a velocity magnitude that isn't
// sensor noise or a unit mixup.
func plausibleHandoff(h swarm.TrackHandoff) bool {
	if h.X < 0 || h.X > 1 || h.Y < 0 || h.Y > 1 {
		return false
	}
	return math.Hypot(float64(h.VX), float64(h.VY)) < 1.0
}

// mergeAdvisory folds a peer's predicted-event advisory into local
// scene context as an incident, then forwards the zone's updated
// incident-density prior to other peers as a model-gradient update
// (spec §1's "model-gradient updates" leg of the swarm exchange), so
// the shared per-zone prior propagates beyond the reporting camera's
// immediate neighbors.
func (p *Pipeline) mergeAdvisory(adv swarm.EventAdvisory) {
	p.sceneMu.Lock()
	p.scene.Incidents = append(p.scene.Incidents, scene.Incident{X: adv.X, Y: adv.Y, TMs: adv.TMs})
	sc := p.scene
	p.sceneMu.Unlock()

	if p.node == nil {
		return
	}
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()
	for _, z := range sc.ZonesContaining(adv.X, adv.Y) {
		density := sc.IncidentDensity(z.CX, z.CY, adv.TMs, 24*3600*1000, cfg.HistoryRadiusMeters, cfg.MetersPerNormalizedUnit)
		_ = p.node.PublishModelGradient(swarm.ModelGradient{
			ZoneID:   z.ID,
			Gradient: []float32{float32(density)},
			TMs:      adv.TMs,
		})
	}
}

// publish writes one frame's detections, then confirmed tracks, then
// the active timeline set, in that order, so a reader observing a
// track snapshot at T can rely on a detection snapshot at >=T having
// been published first in the same tick (spec §5's ordering
// invariant).
func (p *Pipeline) publish(nowMs uint64, detections []tracker.Detection, tracks []*tracker.Track, timelines []timeline.Timeline) {
	if p.publisher == nil {
		return
	}
	if payload, count, err := encodeDetections(detections); err != nil {
		p.counters.Incr(errs.KindInputInvalid)
	} else if err := p.publisher.PublishDetections(nowMs, count, payload); err != nil {
		log.Printf("pipeline: publish detections: %v", err)
	}

	if payload, count, err := encodeTracks(tracks); err != nil {
		p.counters.Incr(errs.KindInputInvalid)
	} else if err := p.publisher.PublishTracks(nowMs, count, payload); err != nil {
		log.Printf("pipeline: publish tracks: %v", err)
	}

	if payload, count, err := encodeTimelines(timelines); err != nil {
		p.counters.Incr(errs.KindInputInvalid)
	} else if err := p.publisher.PublishTimelines(nowMs, count, payload); err != nil {
		log.Printf("pipeline: publish timelines: %v", err)
	}
}

// advisePeers forwards this tick's predicted events to the swarm so
// peer cameras can raise their own scene-context risk (spec §1's
// "track hand-offs, event predictions, and model-gradient updates"
// exchange; §6's publish_event(EventMessage)). Only events at or above
// SeverityMedium are broadcast — every event in timelines already
// cleared event_threshold, so this is a second, coarser gate against
// flooding peers with low-severity noise.
func (p *Pipeline) advisePeers(timelines []timeline.Timeline) {
	if p.node == nil {
		return
	}
	for _, tl := range timelines {
		for _, ev := range tl.Events {
			if ev.Severity < eventpredictor.SeverityMedium {
				continue
			}
			_ = p.node.PublishEventAdvisory(swarm.EventAdvisory{
				Type:        ev.Type.String(),
				Probability: ev.Probability,
				Severity:    int(ev.Severity),
				X:           ev.X,
				Y:           ev.Y,
				TMs:         ev.TMs,
			})
		}
	}
}

// handOffNearBoundary announces tracks approaching the frame edge to
// the swarm so a peer camera can pre-seed them (spec §6).
func (p *Pipeline) handOffNearBoundary(tracks []*tracker.Track, nowMs uint64) {
	if p.node == nil {
		return
	}
	const edgeMargin = 0.05
	for _, tr := range tracks {
		cx, cy := tr.BBox().Center()
		if cx > edgeMargin && cx < 1-edgeMargin && cy > edgeMargin && cy < 1-edgeMargin {
			continue
		}
		vx, vy := tr.Velocity()
		_ = p.node.PublishHandoff(swarm.TrackHandoff{
			TrackID: tr.TrackID,
			Class:   int(tr.Class),
			X:       cx, Y: cy,
			VX: vx, VY: vy,
			TMs: nowMs,
		})
	}
}
