package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Region is one double-buffered POSIX shared-memory region: two
// backing files under /dev/shm, each mmap'd, with an atomic index
// selecting which half readers should consult. Writers fill the
// inactive half then flip the index, so a reader never observes a
// torn write (spec §4.6's "readers verify... before use" contract
// plus the double-buffer requirement).
type Region struct {
	name     string
	size     int
	files    [2]*os.File
	mappings [2][]byte
	lens     [2]atomic.Int64 // bytes of the most recently published frame per half
	active   atomic.Int32    // index of the buffer readers should read
	frameID  atomic.Uint64
}

// OpenRegion creates (or truncates) the two backing /dev/shm files for
// name, each sized size bytes, and mmaps them MAP_SHARED.
func OpenRegion(shmDir, name string, size int) (*Region, error) {
	r := &Region{name: name, size: size}

	for i := 0; i < 2; i++ {
		path := filepath.Join(shmDir, fmt.Sprintf("%s.%d", name, i))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			r.closePartial(i)
			return nil, fmt.Errorf("ipc: open shm file %s: %w", path, err)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			r.closePartial(i)
			return nil, fmt.Errorf("ipc: truncate shm file %s: %w", path, err)
		}

		data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			r.closePartial(i)
			return nil, fmt.Errorf("ipc: mmap shm file %s: %w", path, err)
		}

		r.files[i] = f
		r.mappings[i] = data
	}

	return r, nil
}

func (r *Region) closePartial(upto int) {
	for i := 0; i < upto; i++ {
		if r.mappings[i] != nil {
			unix.Munmap(r.mappings[i])
		}
		if r.files[i] != nil {
			r.files[i].Close()
		}
	}
}

// Publish encodes a frame for payload and writes it into the inactive
// buffer half, then flips the active index (spec §4.6's
// publish_detections/publish_tracks/publish_timelines endpoints).
func (r *Region) Publish(timestampMs uint64, count uint32, payload []byte) error {
	frame := EncodeFrame(FrameHeader{
		FrameID:     r.frameID.Add(1),
		TimestampMs: timestampMs,
		Count:       count,
	}, payload)

	if len(frame) > r.size {
		return fmt.Errorf("ipc: frame %d bytes exceeds region size %d", len(frame), r.size)
	}

	writeIdx := 1 - r.active.Load()
	copy(r.mappings[writeIdx], frame)
	r.lens[writeIdx].Store(int64(len(frame)))
	r.active.Store(writeIdx)
	return nil
}

// Read returns the decoded header and payload of the currently active
// buffer half. Only the bytes of the most recently published frame
// are handed to DecodeFrame; the rest of the fixed-size mapping is
// unused trailing space from the region's allocation, not part of any
// frame.
func (r *Region) Read() (FrameHeader, []byte, bool) {
	idx := r.active.Load()
	n := r.lens[idx].Load()
	if n == 0 {
		return FrameHeader{}, nil, false
	}
	return DecodeFrame(r.mappings[idx][:n])
}

// Close unmaps and closes both backing files.
func (r *Region) Close() error {
	var firstErr error
	for i := 0; i < 2; i++ {
		if r.mappings[i] != nil {
			if err := unix.Munmap(r.mappings[i]); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if r.files[i] != nil {
			if err := r.files[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			os.Remove(r.files[i].Name())
		}
	}
	return firstErr
}
