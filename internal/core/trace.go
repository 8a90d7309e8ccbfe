package core

import "weak"

// TraceStatus labels why a TraceEvent fired. ADDED_WATCHER is the only
// status the original emits (spec §6 submit_trace; grounded on the
// original's ApiWatchCommand, which calls for_each_trace_to_trigger /
// make_trace_output_message with TraceOutputMessage::Status::ADDED_WATCHER
// whenever a new Watch lands on a path some Tracer is registered against).
type TraceStatus int

const (
	TraceAddedWatcher TraceStatus = iota
)

func (s TraceStatus) String() string {
	switch s {
	case TraceAddedWatcher:
		return "ADDED_WATCHER"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent is delivered to a Tracer when a Watch is registered against
// a document/overrides path it traces. Unlike a Watch, it never carries a
// MergedConfig value: it is a debugging signal about watch activity, not
// a config delivery (spec §6, "submit_trace" — distinct from
// "submit_watch").
type TraceEvent struct {
	RootPath     string
	Document     string
	OverridesKey string
	Version      uint32
	Status       TraceStatus
}

// Tracer is anything that wants to be told when a new Watch is registered
// against a document/overrides path it is tracing (spec §6 submit_trace).
// As with Watcher, the concrete transport lives outside core.
type Tracer interface {
	ID() string
	NotifyTrace(TraceEvent)
}

// TracerHandle exists so weak.Pointer always targets a heap object core
// controls, mirroring WatcherHandle. The registering caller (or the
// transport itself, via TracerKeepaliveSink) owns the only strong
// reference; once it's let go, the namespace's WeakTracer resolves to
// nothing and is pruned on the next DEAD_POINTERS pass.
type TracerHandle struct {
	t Tracer
}

// WeakTracer is the non-owning reference a namespace's OverrideMetadata
// keeps, mirroring WeakWatcher.
type WeakTracer struct {
	ptr weak.Pointer[TracerHandle]
}

// NewWeakTracer wraps t in a weak reference and returns the strong handle
// the caller must keep alive for as long as the trace should stay
// registered.
func NewWeakTracer(t Tracer) (*WeakTracer, *TracerHandle) {
	handle := &TracerHandle{t: t}
	return &WeakTracer{ptr: weak.Make(handle)}, handle
}

// TracerKeepaliveSink mirrors KeepaliveSink for Tracer transports that can
// pin their own TracerHandle.
type TracerKeepaliveSink interface {
	Tracer
	Pin(handle *TracerHandle)
}

// Get resolves the weak reference, returning false once the tracer has
// been collected.
func (w *WeakTracer) Get() (Tracer, bool) {
	handle := w.ptr.Value()
	if handle == nil {
		return nil, false
	}
	return handle.t, true
}
