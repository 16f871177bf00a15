// Package ipc implements spec §4.6: the shared-memory publisher that
// hands detections/tracks/timelines to out-of-process readers,
// a named command/ack channel, and an atomic status/stats writer.
//
// The fixed-header-plus-trailing-CRC byte layout (the header carries an
// item count, not a byte length) is
// grounded on pkg/bundle/bundle.go's BPv7 framing discipline (version,
// flags, CRC-type, payload fields), adapted from a JSON-tagged struct
// to a packed binary frame per spec's bit-exact layout requirement.
// No example repo ships an in-process shared-memory ring itself, so
// the double-buffer protocol in region.go is new code. It keeps no
// readiness counter: a new frame is marked only by its frame_id and by
// the flip of the in-process active-buffer index. Its
// transport primitive (golang.org/x/sys/unix.Mmap over a /dev/shm
// file) is a real dependency already present in the pack's indirect
// closure.
package ipc

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	magic       uint32 = 0x4F4D4E49
	frameVersion uint32 = 1
	reservedWords        = 3
	// headerSize is magic+version+frame_id+timestamp_ms+count, before payload.
	headerSize = 4 + 4 + 8 + 8 + 4
	// trailerSize is crc32 + reserved[3].
	trailerSize = 4 + reservedWords*4
)

// FrameHeader is the fixed prefix of every SharedFrame region (spec §3).
type FrameHeader struct {
	Magic       uint32
	Version     uint32
	FrameID     uint64
	TimestampMs uint64
	Count       uint32
}

// EncodeFrame packs a header and payload into the bit-exact little-
// endian layout from spec §4.6: magic, version, frame_id, timestamp_ms,
// count, payload, crc32 (of all preceding bytes), reserved[3].
func EncodeFrame(h FrameHeader, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload)+trailerSize)

	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], frameVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.FrameID)
	binary.LittleEndian.PutUint64(buf[16:24], h.TimestampMs)
	binary.LittleEndian.PutUint32(buf[24:28], h.Count)
	copy(buf[headerSize:headerSize+len(payload)], payload)

	crcEnd := headerSize + len(payload)
	crc := crc32.ChecksumIEEE(buf[:crcEnd])
	binary.LittleEndian.PutUint32(buf[crcEnd:crcEnd+4], crc)
	// reserved[3] left zeroed

	return buf
}

// DecodeFrame validates magic+version+crc (spec: "readers verify
// magic+version+crc before use") and returns the header and payload
// slice. The payload slice aliases buf and must not be retained past
// the next write into the region it came from.
func DecodeFrame(buf []byte) (h FrameHeader, payload []byte, ok bool) {
	if len(buf) < headerSize+trailerSize {
		return FrameHeader{}, nil, false
	}

	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	gotVersion := binary.LittleEndian.Uint32(buf[4:8])
	if gotMagic != magic || gotVersion != frameVersion {
		return FrameHeader{}, nil, false
	}

	payloadLen := len(buf) - headerSize - trailerSize
	crcEnd := headerSize + payloadLen
	wantCRC := binary.LittleEndian.Uint32(buf[crcEnd : crcEnd+4])
	gotCRC := crc32.ChecksumIEEE(buf[:crcEnd])
	if gotCRC != wantCRC {
		return FrameHeader{}, nil, false
	}

	h = FrameHeader{
		Magic:       gotMagic,
		Version:     gotVersion,
		FrameID:     binary.LittleEndian.Uint64(buf[8:16]),
		TimestampMs: binary.LittleEndian.Uint64(buf[16:24]),
		Count:       binary.LittleEndian.Uint32(buf[24:28]),
	}
	return h, buf[headerSize:crcEnd], true
}
