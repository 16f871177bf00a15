package ipc

// Names of every shared-memory region and named FIFO the publisher
// and command listener open, collected here as the single source of
// truth referenced by DESIGN.md — nothing outside this file should
// hard-code one of these strings.
const (
	RegionDetections = "sentry_detections"
	RegionTracks     = "sentry_tracks"
	RegionTimelines  = "sentry_timelines"

	CommandFIFOName = "sentry.cmd"
	AckFIFOName     = "sentry.ack"
)
