package swarm

import "testing"

// newTestNode builds a Node with no live NATS connection, exercising
// only the inbound-channel draining logic that the producer loop
// depends on each tick.
func newTestNode(bufSize int) *Node {
	return &Node{
		cameraID: "cam-test",
		peers:    make(map[string]int64),
		inbound:  make(chan Inbound, bufSize),
	}
}

func TestDrainReturnsAllBufferedMessages(t *testing.T) {
	n := newTestNode(8)
	n.inbound <- Inbound{Subject: SubjectTrackHandoff, Data: []byte("a")}
	n.inbound <- Inbound{Subject: SubjectEventPredicted, Data: []byte("b")}

	got := n.Drain()
	if len(got) != 2 {
		t.Fatalf("expected 2 drained messages, got %d", len(got))
	}
	if got[0].Subject != SubjectTrackHandoff || got[1].Subject != SubjectEventPredicted {
		t.Fatalf("unexpected drain order: %+v", got)
	}

	if more := n.Drain(); len(more) != 0 {
		t.Fatalf("expected empty channel after drain, got %d", len(more))
	}
}

func TestDrainDoesNotBlockOnEmptyChannel(t *testing.T) {
	n := newTestNode(4)
	got := n.Drain()
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}

func TestStatsSnapshotReflectsRecordedCounts(t *testing.T) {
	n := newTestNode(4)
	n.recordReceived(SubjectTrackHandoff)
	n.recordReceived(SubjectTrackHandoff)
	n.recordError()

	snap := n.StatsSnapshot()
	if snap.Received != 2 {
		t.Fatalf("expected Received=2, got %d", snap.Received)
	}
	if snap.Errors != 1 {
		t.Fatalf("expected Errors=1, got %d", snap.Errors)
	}
}

func TestNeighborsCountsDistinctRecentPeers(t *testing.T) {
	n := newTestNode(4)
	n.recordPeer("cam-002")
	n.recordPeer("cam-003")
	n.recordPeer("cam-002") // duplicate, still one neighbor

	if got := n.Neighbors(); got != 2 {
		t.Fatalf("expected 2 distinct neighbors, got %d", got)
	}
}

func TestRecordPeerIgnoresEmptyCameraID(t *testing.T) {
	n := newTestNode(4)
	n.recordPeer("")
	if got := n.Neighbors(); got != 0 {
		t.Fatalf("expected no neighbors from an empty camera id, got %d", got)
	}
}

func TestHealthReportsDisconnectedWithoutLiveConn(t *testing.T) {
	n := newTestNode(4)
	n.recordPeer("cam-002")

	h := n.Health()
	if h.Connected {
		t.Fatalf("expected Connected=false with no live nats.Conn")
	}
	if h.Neighbors != 1 {
		t.Fatalf("expected Neighbors=1, got %d", h.Neighbors)
	}
}

func TestPeekFromCameraExtractsField(t *testing.T) {
	data := []byte(`{"from_camera":"cam-007","track_id":5}`)
	if got := peekFromCamera(data); got != "cam-007" {
		t.Fatalf("peekFromCamera: got %q, want cam-007", got)
	}
	if got := peekFromCamera([]byte(`not json`)); got != "" {
		t.Fatalf("peekFromCamera on malformed data: got %q, want empty", got)
	}
}
