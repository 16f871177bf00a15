// Package errs models the recoverable error kinds of §7: the core
// pipeline never fails a frame, so every stage folds an error into a
// Kind and an atomic counter instead of propagating a panic.
package errs

import "sync/atomic"

// Kind enumerates the recoverable error categories from spec §7.
type Kind int

const (
	KindInputInvalid Kind = iota
	KindResourceExhausted
	KindIPCPublishTransient
	KindIPCFatal
	KindCommandMalformed
	KindShutdownRequested
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "input_invalid"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindIPCPublishTransient:
		return "ipc_publish_transient"
	case KindIPCFatal:
		return "ipc_fatal"
	case KindCommandMalformed:
		return "command_malformed"
	case KindShutdownRequested:
		return "shutdown_requested"
	default:
		return "unknown"
	}
}

// PipelineError wraps a recoverable error with its Kind.
type PipelineError struct {
	Kind Kind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// New wraps err (which may be nil) with kind.
func New(kind Kind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// Counters is a process-wide set of monotonic counters, one per Kind,
// incremented by each pipeline stage as it swallows a recoverable
// error. Mirrors the teacher's MitigationStats/PublisherStats idiom of
// atomic counters read by an external stats writer.
type Counters struct {
	inputInvalid        atomic.Int64
	resourceExhausted   atomic.Int64
	ipcPublishTransient atomic.Int64
	ipcFatal            atomic.Int64
	commandMalformed    atomic.Int64
	shutdownRequested   atomic.Int64
}

// Incr increments the counter for kind and returns the new total.
func (c *Counters) Incr(kind Kind) int64 {
	switch kind {
	case KindInputInvalid:
		return c.inputInvalid.Add(1)
	case KindResourceExhausted:
		return c.resourceExhausted.Add(1)
	case KindIPCPublishTransient:
		return c.ipcPublishTransient.Add(1)
	case KindIPCFatal:
		return c.ipcFatal.Add(1)
	case KindCommandMalformed:
		return c.commandMalformed.Add(1)
	case KindShutdownRequested:
		return c.shutdownRequested.Add(1)
	default:
		return 0
	}
}

// Snapshot returns the current counter values keyed by Kind.
func (c *Counters) Snapshot() map[Kind]int64 {
	return map[Kind]int64{
		KindInputInvalid:        c.inputInvalid.Load(),
		KindResourceExhausted:   c.resourceExhausted.Load(),
		KindIPCPublishTransient: c.ipcPublishTransient.Load(),
		KindIPCFatal:            c.ipcFatal.Load(),
		KindCommandMalformed:    c.commandMalformed.Load(),
		KindShutdownRequested:   c.shutdownRequested.Load(),
	}
}
