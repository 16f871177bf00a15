// Package swarm implements spec §6: NATS-based hand-off between peer
// cameras — track hand-off, predicted-event advisories, and model
// gradient publication — plus a bounded inbound channel the producer
// loop drains once per tick.
//
// The connect/reconnect-option/publish-with-stats shape is lifted
// almost verbatim from internal/security/events/publisher.go. The
// bounded-channel, drain-without-direct-mutation ingestion model is
// grounded on internal/controlplane/unified.go's CrossDomainEventBus
// (an eventChan readers drain via a dedicated goroutine rather than
// handlers mutating shared state inline).
package swarm

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/asgard/sentry/internal/observability"
)

const (
	SubjectTrackHandoff   = "sentry.track.handoff"
	SubjectEventPredicted = "sentry.event.predicted"
	SubjectModelGradient  = "sentry.model.gradient"
	SubjectConsensus      = "sentry.consensus"

	inboundBufferSize = 256
)

// Config holds the swarm connection configuration.
type Config struct {
	NATSURL       string
	CameraID      string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults for the swarm connection.
func DefaultConfig(cameraID string) Config {
	return Config{
		NATSURL:       "nats://localhost:4222",
		CameraID:      cameraID,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 60,
	}
}

// TrackHandoff is published when a track is about to leave this
// camera's field of view toward a named peer.
type TrackHandoff struct {
	FromCamera string  `json:"from_camera"`
	TrackID    uint32  `json:"track_id"`
	Class      int     `json:"class"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	VX         float32 `json:"vx"`
	VY         float32 `json:"vy"`
	TMs        uint64  `json:"t_ms"`
}

// EventAdvisory is a lightweight cross-camera broadcast of a predicted
// event, letting peer cameras raise their own scene-context risk.
type EventAdvisory struct {
	FromCamera  string  `json:"from_camera"`
	Type        string  `json:"type"`
	Probability float32 `json:"probability"`
	Severity    int     `json:"severity"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	TMs         uint64  `json:"t_ms"`
}

// ModelGradient carries an incremental update to a shared online model
// (e.g. per-zone incident-density priors) between peers.
type ModelGradient struct {
	FromCamera string    `json:"from_camera"`
	ZoneID     string    `json:"zone_id"`
	Gradient   []float32 `json:"gradient"`
	TMs        uint64    `json:"t_ms"`
}

// ConsensusVote carries one camera's accept/reject opinion on a peer's
// track hand-off, letting the receiving camera corroborate hand-off
// identity against more than one source before trusting it.
type ConsensusVote struct {
	FromCamera string `json:"from_camera"`
	TrackID    uint32 `json:"track_id"`
	Accepted   bool   `json:"accepted"`
	TMs        uint64 `json:"t_ms"`
}

// Stats tracks publish/receive counts, mirroring the teacher's
// PublisherStats shape.
type Stats struct {
	Published int64
	Received  int64
	Errors    int64
}

// Inbound is one received message, tagged by subject, handed to the
// producer loop via the bounded channel.
type Inbound struct {
	Subject string
	Data    []byte
}

// Node is one camera's connection to the swarm: a publisher for the
// four outbound subjects and a subscriber feeding a bounded inbound
// channel.
type Node struct {
	nc       *nats.Conn
	cameraID string

	mu    sync.RWMutex
	stats Stats
	peers map[string]int64 // cameraID -> last-seen unix ms

	inbound chan Inbound
	subs    []*nats.Subscription
}

// HealthSnapshot is the swarm-layer contribution to the stats path's
// "swarm neighbors, network health" fields (spec §4.6).
type HealthSnapshot struct {
	Connected bool
	Neighbors int
	Stats     Stats
}

// neighborWindowMs bounds how long a peer is counted as present after
// its last inbound message on any subscribed subject, mirroring the teacher's time-windowed
// dedup idiom used for threat/rate-limit bookkeeping.
const neighborWindowMs = 30_000

// Connect dials NATS and wires reconnect/disconnect logging exactly as
// the teacher's security-event publisher does.
func Connect(cfg Config) (*Node, error) {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			observability.RecordSwarmConnectionStatus(true)
			log.Printf("[swarm %s] reconnected to %s", cfg.CameraID, nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			observability.RecordSwarmConnectionStatus(false)
			if err != nil {
				log.Printf("[swarm %s] disconnected: %v", cfg.CameraID, err)
			}
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("swarm: connect: %w", err)
	}
	observability.RecordSwarmConnectionStatus(true)

	return &Node{
		nc:       nc,
		cameraID: cfg.CameraID,
		peers:    make(map[string]int64),
		inbound:  make(chan Inbound, inboundBufferSize),
	}, nil
}

// Subscribe wires the node to receive hand-offs and advisories from
// peers, feeding the bounded inbound channel. Messages are dropped
// (with a counted error) if the channel is full, rather than blocking
// the NATS delivery goroutine.
func (n *Node) Subscribe(subjects ...string) error {
	for _, subj := range subjects {
		subj := subj
		sub, err := n.nc.Subscribe(subj, func(msg *nats.Msg) {
			n.recordReceived(subj)
			n.recordPeer(peekFromCamera(msg.Data))
			select {
			case n.inbound <- Inbound{Subject: subj, Data: msg.Data}:
			default:
				n.recordError()
				log.Printf("[swarm %s] inbound channel full, dropping message on %s", n.cameraID, subj)
			}
		})
		if err != nil {
			return fmt.Errorf("swarm: subscribe %s: %w", subj, err)
		}
		n.subs = append(n.subs, sub)
	}
	return nil
}

// Drain returns all messages currently buffered in the inbound
// channel without blocking, for the producer loop to process once per
// tick.
func (n *Node) Drain() []Inbound {
	out := make([]Inbound, 0, len(n.inbound))
	for {
		select {
		case m := <-n.inbound:
			out = append(out, m)
		default:
			return out
		}
	}
}

// PublishHandoff announces a track leaving this camera's field of view.
func (n *Node) PublishHandoff(h TrackHandoff) error {
	h.FromCamera = n.cameraID
	return n.publish(SubjectTrackHandoff, h)
}

// PublishEventAdvisory broadcasts a predicted event to peer cameras.
func (n *Node) PublishEventAdvisory(e EventAdvisory) error {
	e.FromCamera = n.cameraID
	return n.publish(SubjectEventPredicted, e)
}

// PublishModelGradient shares an incremental model update.
func (n *Node) PublishModelGradient(g ModelGradient) error {
	g.FromCamera = n.cameraID
	return n.publish(SubjectModelGradient, g)
}

// PublishConsensusVote casts this camera's opinion on a peer's track
// hand-off.
func (n *Node) PublishConsensusVote(v ConsensusVote) error {
	v.FromCamera = n.cameraID
	return n.publish(SubjectConsensus, v)
}

func (n *Node) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		n.recordError()
		return fmt.Errorf("swarm: marshal %s: %w", subject, err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		n.recordError()
		return fmt.Errorf("swarm: publish %s: %w", subject, err)
	}

	n.mu.Lock()
	n.stats.Published++
	n.mu.Unlock()
	observability.GetMetrics().SwarmMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

func (n *Node) recordReceived(subject string) {
	n.mu.Lock()
	n.stats.Received++
	n.mu.Unlock()
	observability.GetMetrics().SwarmMessagesReceived.WithLabelValues(subject).Inc()
}

func (n *Node) recordError() {
	n.mu.Lock()
	n.stats.Errors++
	n.mu.Unlock()
}

// peekFromCamera extracts the common from_camera field without
// unmarshaling into any one of the four concrete envelope types.
func peekFromCamera(data []byte) string {
	var partial struct {
		FromCamera string `json:"from_camera"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return ""
	}
	return partial.FromCamera
}

func (n *Node) recordPeer(cameraID string) {
	if cameraID == "" {
		return
	}
	n.mu.Lock()
	n.peers[cameraID] = time.Now().UnixMilli()
	n.mu.Unlock()
}

// Neighbors reports the number of distinct peer cameras seen within
// the last neighborWindowMs.
func (n *Node) Neighbors() int {
	cutoff := time.Now().UnixMilli() - neighborWindowMs
	n.mu.RLock()
	defer n.mu.RUnlock()
	count := 0
	for _, lastSeen := range n.peers {
		if lastSeen >= cutoff {
			count++
		}
	}
	return count
}

// Health summarizes this node's swarm connectivity for the stats path.
func (n *Node) Health() HealthSnapshot {
	return HealthSnapshot{
		Connected: n.nc != nil && n.nc.IsConnected(),
		Neighbors: n.Neighbors(),
		Stats:     n.StatsSnapshot(),
	}
}

// StatsSnapshot returns a copy of the current publish/receive counters.
func (n *Node) StatsSnapshot() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// Close unsubscribes and drains the NATS connection.
func (n *Node) Close() {
	for _, s := range n.subs {
		s.Unsubscribe()
	}
	n.nc.Drain()
	observability.RecordSwarmConnectionStatus(false)
}
