// Package config holds the single immutable configuration block shared
// by every pipeline stage, following the teacher's one-struct-one-
// Default-constructor idiom (vision.YOLOConfig,
// mitigation.ResponderConfig).
package config

import (
	"fmt"
	"time"
)

// Config is the process-wide tunable set, supplied at construction and
// replaced wholesale by a validated CONFIG_UPDATE command (§6).
type Config struct {
	// Tracker (§4.1)
	IoUThreshold float32 `json:"iou_threshold"`
	MinHits      uint32  `json:"min_hits"`
	MaxAge       uint32  `json:"max_age"`
	MaxTracks    int     `json:"max_tracks"`

	// Behavior analyzer (§4.2)
	LoiteringDwellTimeMs       uint64  `json:"loitering_dwell_time_ms"`
	LoiteringRadiusMeters      float64 `json:"loitering_radius_meters"`
	LoiteringVelocityThreshold float64 `json:"loitering_velocity_threshold"`
	RunningVelocityThreshold   float64 `json:"running_velocity_threshold"`
	RunningDurationMs          uint64  `json:"running_duration_ms"`
	ZigzagThresholdDeg         float64 `json:"zigzag_threshold_deg"`
	ZigzagCountThreshold       int     `json:"zigzag_count_threshold"`
	MetersPerNormalizedUnit    float64 `json:"meters_per_normalized_unit"`
	MaxHistories               int     `json:"max_histories"`

	WeightLoitering   float64 `json:"weight_loitering"`
	WeightRunning     float64 `json:"weight_running"`
	WeightUnusual     float64 `json:"weight_unusual"`
	WeightDwellBonus  float64 `json:"weight_dwell_bonus"`
	WeightConcealment float64 `json:"weight_concealment"`

	ConcealmentVelocityThreshold float64 `json:"concealment_velocity_threshold"`
	ConcealmentPauseMs           uint64  `json:"concealment_pause_ms"`

	// Trajectory predictor (§4.3)
	HorizonMs          uint64  `json:"horizon_ms"`
	StepMs             uint64  `json:"step_ms"`
	UncertaintyGrowth  float64 `json:"uncertainty_growth"`
	BranchRotationDeg  float64 `json:"branch_rotation_deg"`

	// Event predictor (§4.4)
	EventThreshold            float64 `json:"event_threshold"`
	CollisionDistanceThresh   float64 `json:"collision_distance_threshold"`
	AggressiveDistanceThresh  float64 `json:"aggressive_distance_threshold"`
	HistoryRadiusMeters       float64 `json:"history_radius_meters"`
	WeightTrajectory          float64 `json:"weight_trajectory"`
	WeightBehavior            float64 `json:"weight_behavior"`
	WeightContext             float64 `json:"weight_context"`
	WeightHistory             float64 `json:"weight_history"`
	EventLoiterDwellMs        uint64  `json:"event_loiter_dwell_ms"`

	// Timeline engine (§4.5)
	MaxTimelines      int     `json:"max_timelines"`
	MaxBranching      int     `json:"max_branching"`
	MergeThreshold    float64 `json:"merge_threshold"`
	BranchThreshold   float64 `json:"branch_threshold"`
	MaxEventsPerLine  int     `json:"max_events_per_timeline"`
	MaxInterventions  int     `json:"max_interventions_per_timeline"`

	// Frame cadence
	FramePeriod time.Duration `json:"frame_period"`
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		IoUThreshold: 0.3,
		MinHits:      3,
		MaxAge:       30,
		MaxTracks:    50,

		LoiteringDwellTimeMs:       30_000,
		LoiteringRadiusMeters:      2.0,
		LoiteringVelocityThreshold: 0.5,
		RunningVelocityThreshold:   3.0,
		RunningDurationMs:          1000,
		ZigzagThresholdDeg:         45,
		ZigzagCountThreshold:       5,
		MetersPerNormalizedUnit:    10,
		MaxHistories:               100,

		WeightLoitering:   0.3,
		WeightRunning:     0.4,
		WeightUnusual:     0.5,
		WeightDwellBonus:  0.2,
		WeightConcealment: 0.3,

		ConcealmentVelocityThreshold: 0.1,
		ConcealmentPauseMs:           3000,

		HorizonMs:         10_000,
		StepMs:            500,
		UncertaintyGrowth: 0.02,
		BranchRotationDeg: 30,

		EventThreshold:           0.5,
		CollisionDistanceThresh:  0.05,
		AggressiveDistanceThresh: 0.08,
		HistoryRadiusMeters:      25,
		WeightTrajectory:         0.4,
		WeightBehavior:           0.3,
		WeightContext:            0.2,
		WeightHistory:            0.1,
		EventLoiterDwellMs:       5000,

		MaxTimelines:     5,
		MaxBranching:     5,
		MergeThreshold:   0.8,
		BranchThreshold:  0.3,
		MaxEventsPerLine: 50,
		MaxInterventions: 20,

		FramePeriod: 100 * time.Millisecond,
	}
}

// Validate checks the invariants a hot-applied CONFIG_UPDATE must
// satisfy before it is allowed to replace the running config (§10).
func (c Config) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("config: iou_threshold out of [0,1]: %v", c.IoUThreshold)
	}
	if c.MinHits == 0 {
		return fmt.Errorf("config: min_hits must be >= 1")
	}
	if c.MaxTracks <= 0 {
		return fmt.Errorf("config: max_tracks must be positive")
	}
	if c.MaxTimelines <= 0 {
		return fmt.Errorf("config: max_timelines must be positive")
	}
	if c.MaxBranching <= 0 || c.MaxBranching > c.MaxTimelines {
		return fmt.Errorf("config: max_branching must be in (0, max_timelines]")
	}
	if c.MergeThreshold < 0 || c.MergeThreshold > 1 {
		return fmt.Errorf("config: merge_threshold out of [0,1]: %v", c.MergeThreshold)
	}
	if c.BranchThreshold < 0 || c.BranchThreshold > 1 {
		return fmt.Errorf("config: branch_threshold out of [0,1]: %v", c.BranchThreshold)
	}
	if c.StepMs == 0 {
		return fmt.Errorf("config: step_ms must be positive")
	}
	if c.HorizonMs < c.StepMs {
		return fmt.Errorf("config: horizon_ms must be >= step_ms")
	}
	if c.EventThreshold < 0 || c.EventThreshold > 1 {
		return fmt.Errorf("config: event_threshold out of [0,1]: %v", c.EventThreshold)
	}
	return nil
}

// TrajectoryLength returns ceil(H/step), the fixed per-trajectory state count.
func (c Config) TrajectoryLength() int {
	if c.StepMs == 0 {
		return 0
	}
	n := c.HorizonMs / c.StepMs
	if c.HorizonMs%c.StepMs != 0 {
		n++
	}
	return int(n)
}
