package ipc

import "testing"

func TestRegionPublishAndReadTearFree(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegion(dir, "test_region", 4096)
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	defer r.Close()

	if err := r.Publish(1000, 2, []byte("first-payload")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h, payload, ok := r.Read()
	if !ok {
		t.Fatalf("expected a valid frame to be readable")
	}
	if h.TimestampMs != 1000 || h.Count != 2 || string(payload) != "first-payload" {
		t.Fatalf("unexpected frame: %+v %q", h, payload)
	}

	if err := r.Publish(2000, 5, []byte("second-payload-longer")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h2, payload2, ok := r.Read()
	if !ok {
		t.Fatalf("expected second frame to be readable")
	}
	if h2.FrameID != h.FrameID+1 || string(payload2) != "second-payload-longer" {
		t.Fatalf("unexpected second frame: %+v %q", h2, payload2)
	}
}

func TestRegionPublishRejectsOversizedFrame(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegion(dir, "tiny_region", 64)
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	defer r.Close()

	if err := r.Publish(0, 1, make([]byte, 1024)); err == nil {
		t.Fatalf("expected oversized payload to be rejected")
	}
}
