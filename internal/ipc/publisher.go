package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/asgard/sentry/internal/errs"
	"github.com/asgard/sentry/internal/observability"
)

const (
	detectionRegionSize = 1 << 16
	trackRegionSize     = 1 << 17
	timelineRegionSize  = 1 << 18
)

// Publisher is the process's single shared-memory + command-channel
// front door (spec §4.6): three producer endpoints plus a command
// listener and an atomic status/stats writer.
type Publisher struct {
	detections *Region
	tracks     *Region
	timelines  *Region

	cmdListener *CommandListener
	statusPath  string
	counters    *errs.Counters
}

// New opens the three shared-memory regions under shmDir and the
// command/ack FIFO pair at fifoDir, and prepares the status/stats
// snapshot writer to publish under statusPath.
func New(shmDir, fifoDir, statusPath string, counters *errs.Counters) (*Publisher, error) {
	det, err := OpenRegion(shmDir, RegionDetections, detectionRegionSize)
	if err != nil {
		return nil, err
	}
	trk, err := OpenRegion(shmDir, RegionTracks, trackRegionSize)
	if err != nil {
		det.Close()
		return nil, err
	}
	tl, err := OpenRegion(shmDir, RegionTimelines, timelineRegionSize)
	if err != nil {
		det.Close()
		trk.Close()
		return nil, err
	}

	listener, err := NewCommandListener(fifoDir)
	if err != nil {
		det.Close()
		trk.Close()
		tl.Close()
		return nil, err
	}

	return &Publisher{
		detections:  det,
		tracks:      trk,
		timelines:   tl,
		cmdListener: listener,
		statusPath:  statusPath,
		counters:    counters,
	}, nil
}

// PublishDetections encodes and publishes one frame's detections.
func (p *Publisher) PublishDetections(nowMs uint64, count uint32, payload []byte) error {
	return p.publish("detections", p.detections, nowMs, count, payload)
}

// PublishTracks encodes and publishes one frame's confirmed tracks.
func (p *Publisher) PublishTracks(nowMs uint64, count uint32, payload []byte) error {
	return p.publish("tracks", p.tracks, nowMs, count, payload)
}

// PublishTimelines encodes and publishes the active timeline set.
func (p *Publisher) PublishTimelines(nowMs uint64, count uint32, payload []byte) error {
	return p.publish("timelines", p.timelines, nowMs, count, payload)
}

func (p *Publisher) publish(region string, r *Region, nowMs uint64, count uint32, payload []byte) error {
	start := time.Now()
	err := r.Publish(nowMs, count, payload)
	observability.RecordPublish(region, time.Since(start))
	if err != nil {
		observability.RecordPublishError(region)
		if p.counters != nil {
			p.counters.Incr(errs.KindIPCPublishTransient)
		}
		return errs.New(errs.KindIPCPublishTransient, err)
	}
	return nil
}

// ListenCommands blocks dispatching commands read from the FIFO to
// handler until the listener is closed or ctx-equivalent shutdown
// command arrives; see CommandListener.Listen.
func (p *Publisher) ListenCommands(handler func(Command) error) error {
	return p.cmdListener.Listen(handler)
}

// Close shuts down every region and the command channel.
func (p *Publisher) Close() error {
	var firstErr error
	for _, c := range []func() error{p.detections.Close, p.tracks.Close, p.timelines.Close, p.cmdListener.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StatusSnapshot is the atomically-published process status/stats
// document (spec §4.6's "atomic status/stats writer"), covering every
// field spec §4.6's stats path names: frames, fps, tracked objects,
// dropped frames, active timelines, events predicted, interventions,
// swarm neighbors, network health.
type StatusSnapshot struct {
	TimestampMs        uint64           `json:"timestamp_ms"`
	FramesHandled      uint64           `json:"frames_handled"`
	FPS                float64          `json:"fps"`
	ActiveTracks       int              `json:"active_tracks"`
	DroppedFrames      int64            `json:"dropped_frames"`
	ActiveTimelines    int              `json:"active_timelines"`
	EventsPredicted    uint64           `json:"events_predicted"`
	InterventionsFound uint64           `json:"interventions_found"`
	SwarmNeighbors     int              `json:"swarm_neighbors"`
	NetworkHealth      string           `json:"network_health"`
	ErrorCounters      map[string]int64 `json:"error_counters"`
}

// WriteStatus publishes snap atomically: write to a temp file in the
// same directory, then os.Rename over the published path, so a reader
// never observes a partially-written snapshot. Grounded on the
// teacher's general write-then-publish discipline used across its
// storage commit paths (internal/platform/db, internal/platform/dtn).
func WriteStatus(path string, snap StatusSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("ipc: marshal status: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ipc: write temp status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ipc: rename status into place: %w", err)
	}
	return nil
}
