// Package timeline implements spec §4.5: the branching-future engine
// that turns a frame's tracks into an active set of scored, pruned
// timelines with attached predicted events and intervention points.
//
// The preallocated node arena (reset per update, integer indices
// rather than pointer trees) is grounded on
// internal/robotics/perception/octree.go's pool-of-nodes discipline,
// generalized from a spatial index to a branching-future tree. The
// {Draft,Scored,Pruned,Active} status machine mirrors
// internal/orbital/tracking/tracker.go's AlertStatus string-backed
// enum with linear transitions.
package timeline

import (
	"math"
	"sort"

	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/eventpredictor"
	"github.com/asgard/sentry/internal/scene"
	"github.com/asgard/sentry/internal/tracker"
	"github.com/asgard/sentry/internal/trajectory"
)

// Status is the timeline's lifecycle stage within a single update
// (spec §4.5: linear transitions, Active is the emission state).
type Status string

const (
	StatusDraft  Status = "draft"
	StatusScored Status = "scored"
	StatusPruned Status = "pruned"
	StatusActive Status = "active"
)

// Timeline is one candidate future for the frame (spec §3).
type Timeline struct {
	TimelineID         uint64
	Status             Status
	OverallProbability float32
	PredictionStartMs  uint64
	PredictionEndMs    uint64
	Nodes              []trajectory.Trajectory // one baseline/branch trajectory per track
	Events             []eventpredictor.PredictedEvent
	Interventions      []InterventionPoint
	WorstCaseSeverity  eventpredictor.Severity
	IntegratedThreat   float32
}

// InterventionPoint is one actionable point recommended ahead of a
// high-severity predicted event (spec §3).
type InterventionPoint struct {
	TMs            uint64
	Type           InterventionType
	Effectiveness  float32
	Cost           float32
	PreventedEvent eventpredictor.PredictedEvent
	Recommendation string
}

// InterventionType enumerates the response actions the search considers.
type InterventionType int

const (
	InterventionAlertGuard InterventionType = iota
	InterventionLockZone
	InterventionDispatchDrone
	InterventionAnnouncePA
)

var interventionCatalog = []struct {
	typ           InterventionType
	effectiveness float32
	cost          float32
	recommend     string
}{
	{InterventionAlertGuard, 0.6, 0.2, "alert nearest guard"},
	{InterventionLockZone, 0.8, 0.5, "lock affected zone access"},
	{InterventionDispatchDrone, 0.5, 0.4, "dispatch patrol drone"},
	{InterventionAnnouncePA, 0.3, 0.1, "public-address warning"},
}

var severityWeight = map[eventpredictor.Severity]float32{
	eventpredictor.SeverityLow:      0.25,
	eventpredictor.SeverityMedium:   0.5,
	eventpredictor.SeverityHigh:     0.75,
	eventpredictor.SeverityCritical: 1.0,
}

// node is one arena slot: a trajectory attached to a timeline draft.
// Flat, reused across updates rather than heap-allocated per branch
// (spec §4.5's node arena requirement).
type node struct {
	trajectory trajectory.Trajectory
	trackID    uint32
}

// Engine owns the node arena and next-id counter across updates.
type Engine struct {
	cfg       config.Config
	predict   *trajectory.Predictor
	events    *eventpredictor.Predictor
	arena     []node
	nextID    uint64
	discarded int
}

// New creates a timeline engine. The node arena is sized
// max_timelines * ceil(H/step) up front (spec §4.5).
func New(cfg config.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		predict: trajectory.New(cfg, nil),
		events:  eventpredictor.New(cfg),
		arena:   make([]node, 0, cfg.MaxTimelines*cfg.TrajectoryLength()),
	}
}

// SetConfig hot-swaps the configuration on the engine and its stages.
func (e *Engine) SetConfig(cfg config.Config) {
	e.cfg = cfg
	e.predict.SetConfig(cfg)
	e.events.SetConfig(cfg)
}

// DiscardedEvents returns the number of candidate events the most
// recent Update call rejected below event_threshold, summed across the
// primary timeline and every generated branch.
func (e *Engine) DiscardedEvents() int { return e.discarded }

// Update implements update(tracks) -> <= max_timelines timelines
// (spec §4.5), running the full generate/merge/prune/intervention
// pipeline and returning the Active set.
func (e *Engine) Update(tracks []eventpredictor.TrackInput, sc scene.Context, nowMs uint64) []Timeline {
	e.arena = e.arena[:0] // reset arena at the top of update
	e.discarded = 0

	baseline := make([]node, 0, len(tracks))
	for _, ti := range tracks {
		n := node{trajectory: ti.Trajectory, trackID: ti.TrackID}
		baseline = append(baseline, n)
		e.arena = append(e.arena, n)
	}

	timelines := make([]Timeline, 0, e.cfg.MaxTimelines)

	primary := e.buildTimeline(baseline, tracks, sc, nowMs, 1.0)
	timelines = append(timelines, primary)

	branchBudget := e.cfg.MaxTimelines - 1
	if branchBudget > 0 {
		branchTracks := highestThreatTracks(tracks, branchBudget)
		for _, bt := range branchTracks {
			branches := e.predict.PredictBranches(trackStateFrom(bt), e.cfg.MaxBranching)
			for _, br := range branches {
				if len(timelines) >= e.cfg.MaxTimelines {
					break
				}
				variant := substituteTrack(baseline, bt.TrackID, br.Trajectory)
				e.arena = append(e.arena, variant...)
				tl := e.buildTimeline(variant, tracks, sc, nowMs, br.Probability)
				timelines = append(timelines, tl)
			}
		}
	}

	timelines = mergeSimilar(timelines, e.cfg.MergeThreshold)
	timelines = pruneAndRenormalize(timelines, e.cfg.BranchThreshold)

	if len(timelines) > e.cfg.MaxTimelines {
		sort.Slice(timelines, func(i, j int) bool {
			return timelines[i].OverallProbability > timelines[j].OverallProbability
		})
		timelines = timelines[:e.cfg.MaxTimelines]
	}

	for i := range timelines {
		timelines[i].Interventions = e.searchInterventions(timelines[i])
		if len(timelines[i].Interventions) > e.cfg.MaxInterventions {
			timelines[i].Interventions = timelines[i].Interventions[:e.cfg.MaxInterventions]
		}
		timelines[i].Status = StatusActive
	}

	return timelines
}

// buildTimeline assembles one Draft->Scored timeline from a node set.
func (e *Engine) buildTimeline(nodes []node, tracks []eventpredictor.TrackInput, sc scene.Context, nowMs uint64, branchProb float32) Timeline {
	e.nextID++
	tl := Timeline{
		TimelineID:         e.nextID,
		Status:             StatusDraft,
		OverallProbability: branchProb,
		PredictionStartMs:  nowMs,
	}

	evInputs := make([]eventpredictor.TrackInput, 0, len(nodes))
	for _, n := range nodes {
		bits, class := lookupBehaviorAndClass(tracks, n.trackID)
		evInputs = append(evInputs, eventpredictor.TrackInput{
			TrackID:      n.trackID,
			Class:        class,
			BehaviorBits: bits,
			Trajectory:   n.trajectory,
		})
		tl.Nodes = append(tl.Nodes, n.trajectory)
		if len(n.trajectory.States) > 0 {
			end := n.trajectory.States[len(n.trajectory.States)-1].TMs
			if end > tl.PredictionEndMs {
				tl.PredictionEndMs = end
			}
		}
	}

	events := e.events.Predict(evInputs, sc)
	e.discarded += e.events.Discarded()
	if len(events) > e.cfg.MaxEventsPerLine {
		sort.Slice(events, func(i, j int) bool { return events[i].Probability > events[j].Probability })
		events = events[:e.cfg.MaxEventsPerLine]
	}
	tl.Events = events

	var integrated float32
	worst := eventpredictor.SeverityLow
	for _, ev := range events {
		integrated += ev.Probability * severityWeight[ev.Severity]
		if ev.Severity > worst {
			worst = ev.Severity
		}
	}
	tl.IntegratedThreat = integrated
	tl.WorstCaseSeverity = worst
	tl.Status = StatusScored
	return tl
}

func lookupBehaviorAndClass(tracks []eventpredictor.TrackInput, trackID uint32) (uint32, tracker.Class) {
	for _, t := range tracks {
		if t.TrackID == trackID {
			return t.BehaviorBits, t.Class
		}
	}
	return 0, 0
}

func trackStateFrom(ti eventpredictor.TrackInput) trajectory.TrackState {
	traj := ti.Trajectory
	if len(traj.States) == 0 {
		return trajectory.TrackState{TrackID: ti.TrackID}
	}
	s0 := traj.States[0]
	return trajectory.TrackState{
		TrackID:      ti.TrackID,
		X:            s0.X,
		Y:            s0.Y,
		VX:           s0.VX,
		VY:           s0.VY,
		Confidence:   traj.OverallConf,
		BehaviorBits: ti.BehaviorBits,
		NowMs:        s0.TMs,
	}
}

func substituteTrack(baseline []node, trackID uint32, replacement trajectory.Trajectory) []node {
	out := make([]node, len(baseline))
	copy(out, baseline)
	for i, n := range out {
		if n.trackID == trackID {
			out[i] = node{trajectory: replacement, trackID: trackID}
		}
	}
	return out
}

func highestThreatTracks(tracks []eventpredictor.TrackInput, n int) []eventpredictor.TrackInput {
	sorted := make([]eventpredictor.TrackInput, len(tracks))
	copy(sorted, tracks)
	sort.Slice(sorted, func(i, j int) bool {
		return threatOf(sorted[i]) > threatOf(sorted[j])
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func threatOf(ti eventpredictor.TrackInput) float32 {
	if len(ti.Trajectory.States) == 0 {
		return 0
	}
	return ti.Trajectory.States[0].Threat
}

// mergeSimilar implements spec §4.5 step 5: merge two timelines whose
// node-state similarity (RMS over aligned PredictedState positions
// normalized by the frame diagonal, sqrt(2) in normalized coordinates)
// exceeds merge_threshold; merged probability is the sum.
func mergeSimilar(timelines []Timeline, threshold float64) []Timeline {
	merged := make([]Timeline, 0, len(timelines))
	used := make([]bool, len(timelines))

	for i := range timelines {
		if used[i] {
			continue
		}
		acc := timelines[i]
		for j := i + 1; j < len(timelines); j++ {
			if used[j] {
				continue
			}
			if similarity(acc, timelines[j]) > threshold {
				acc.OverallProbability += timelines[j].OverallProbability
				used[j] = true
			}
		}
		merged = append(merged, acc)
	}
	return merged
}

// similarity returns 1 - RMS(normalized position distance) across all
// aligned nodes/states; 1.0 means identical, 0.0 maximally distinct.
func similarity(a, b Timeline) float64 {
	if len(a.Nodes) == 0 || len(a.Nodes) != len(b.Nodes) {
		return 0
	}
	const diagonal = math.Sqrt2

	sumSq := 0.0
	count := 0
	for k := range a.Nodes {
		na, nb := a.Nodes[k].States, b.Nodes[k].States
		n := len(na)
		if len(nb) < n {
			n = len(nb)
		}
		for i := 0; i < n; i++ {
			dx := float64(na[i].X - nb[i].X)
			dy := float64(na[i].Y - nb[i].Y)
			d := math.Hypot(dx, dy) / diagonal
			sumSq += d * d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	rms := math.Sqrt(sumSq / float64(count))
	sim := 1 - rms
	if sim < 0 {
		sim = 0
	}
	return sim
}

// pruneAndRenormalize implements spec §4.5 step 6: drop branches below
// branch_threshold after normalization, then renormalize the survivors
// so sibling probabilities sum to 1.
func pruneAndRenormalize(timelines []Timeline, threshold float64) []Timeline {
	if len(timelines) == 0 {
		return timelines
	}

	total := float32(0)
	for _, tl := range timelines {
		total += tl.OverallProbability
	}
	if total == 0 {
		return timelines
	}

	kept := make([]Timeline, 0, len(timelines))
	for _, tl := range timelines {
		norm := tl.OverallProbability / total
		if norm < float32(threshold) && len(kept) > 0 {
			// always keep at least the primary timeline even if it
			// falls under threshold in a degenerate single-branch case
			tl.Status = StatusPruned
			continue
		}
		tl.OverallProbability = norm
		kept = append(kept, tl)
	}

	renormTotal := float32(0)
	for _, tl := range kept {
		renormTotal += tl.OverallProbability
	}
	if renormTotal > 0 {
		for i := range kept {
			kept[i].OverallProbability /= renormTotal
		}
	}
	return kept
}

// searchInterventions implements spec §4.5 step 7: for each
// high-severity event, enumerate intervention types, score each by
// effectiveness*severity_weight - cost, retain those strictly before
// the event, sorted best-first.
func (e *Engine) searchInterventions(tl Timeline) []InterventionPoint {
	var out []InterventionPoint
	for _, ev := range tl.Events {
		if ev.Severity < eventpredictor.SeverityHigh {
			continue
		}
		sw := severityWeight[ev.Severity]
		for _, c := range interventionCatalog {
			score := c.effectiveness*sw - c.cost
			if score <= 0 {
				continue
			}
			tMs := leadTimeBefore(ev.TMs)
			if tMs >= ev.TMs {
				continue
			}
			out = append(out, InterventionPoint{
				TMs:            tMs,
				Type:           c.typ,
				Effectiveness:  c.effectiveness,
				Cost:           c.cost,
				PreventedEvent: ev,
				Recommendation: c.recommend,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si := out[i].Effectiveness*severityWeight[out[i].PreventedEvent.Severity] - out[i].Cost
		sj := out[j].Effectiveness*severityWeight[out[j].PreventedEvent.Severity] - out[j].Cost
		return si > sj
	})
	return out
}

// leadTimeBefore gives the intervention's recommended action time: at
// least 2s ahead of the prevented event (spec §8 scenario 5: a theft
// predicted at +20s yields an intervention no later than +18s).
const interventionLeadMs = 2000

func leadTimeBefore(eventMs uint64) uint64 {
	if interventionLeadMs >= eventMs {
		return 0
	}
	return eventMs - interventionLeadMs
}
