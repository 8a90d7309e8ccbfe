// Package command defines the tagged-variant messages that flow through
// the scheduler's MPSC inbox and the worker pool's SPMC inbox. Each
// variant is a distinct struct type; dispatch is a type switch rather
// than a virtual method table, which keeps the scheduler's single
// goroutine free to read every field of whichever command it just
// popped without an interface-method indirection per field.
package command

import (
	"time"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// Result reports how a command's target namespace came out of handling
// it, so the caller (scheduler loop, GC driver) can react without the
// command itself carrying scheduler-internal state.
type Result int

const (
	// ResultOK means the command completed normally.
	ResultOK Result = iota
	// ResultSoftdeleteNamespace means handling the command pushed the
	// namespace's counters to saturation (core.ConfigNamespace.IsSaturated)
	// and it has been marked Softdeleted.
	ResultSoftdeleteNamespace
	// ResultError means the command failed; the error itself travels on
	// whatever reply channel the command carries.
	ResultError
)

// PassType selects which sweep a RunGc command performs (spec §4.F). GC
// cycles through all six in order, and confluence only needs to be
// checked across one full cycle (spec property #8).
type PassType int

const (
	PassCacheGeneration0 PassType = iota
	PassCacheGeneration1
	PassCacheGeneration2
	PassDeadPointers
	PassNamespaces
	PassVersions
)

// Scheduler is the marker interface implemented by every command the
// scheduler goroutine accepts from its MPSC inbox.
type Scheduler interface {
	isSchedulerCommand()
}

// ApiGet asks the scheduler to resolve (or start building) the merged
// config for one document/overrides/flavors/version tuple (spec §4.C).
type ApiGet struct {
	RootPath  string
	Document  string
	Overrides []string
	Flavors   []string
	Version   uint32
	Reply     chan ApiGetReply
}

func (ApiGet) isSchedulerCommand() {}

// ApiGetReply is the scheduler/worker's answer to an ApiGet.
type ApiGetReply struct {
	MergedConfig *core.MergedConfig
	Result       Result
	Err          error
}

// ApiWatch registers a Watcher against a document/overrides/flavors tuple,
// mirroring ApiGet: Reply receives the initial value and is then closed,
// while every later version is delivered to Watcher.NotifyUpdate (spec
// §4.C ApiWatch).
type ApiWatch struct {
	RootPath  string
	Document  string
	Overrides []string
	Flavors   []string
	Watcher   core.Watcher
	Reply     chan ApiGetReply
}

func (ApiWatch) isSchedulerCommand() {}

// ApiTrace registers a Tracer against a document/overrides/flavors tuple
// so it is notified whenever a future Watch lands on that same path
// (spec §6 submit_trace). Unlike ApiWatch/ApiGet it never resolves or
// builds a MergedConfig: a trace observes watch activity, not config
// values, so Reply only reports whether registration succeeded.
type ApiTrace struct {
	RootPath  string
	Document  string
	Overrides []string
	Flavors   []string
	Tracer    core.Tracer
	Reply     chan error
}

func (ApiTrace) isSchedulerCommand() {}

// SetDocuments is emitted by a worker once a Build finishes, carrying the
// merged result (or the error that killed it) for the scheduler to cache
// and hand to whatever wait_built was waiting on OverridesKey (spec §4.C
// "SetDocuments (scheduler)"). Preprocessed is non-nil when the worker
// also finished serializing in the same pass, letting the scheduler
// install the config directly as StatusOKOptimized.
type SetDocuments struct {
	RootPath     string
	Document     string
	OverridesKey string
	Value        core.Element
	Preprocessed core.Element
	Err          error
}

func (SetDocuments) isSchedulerCommand() {}

// DocumentItem is one parsed document destined for SetDocuments/Update.
type DocumentItem struct {
	Document     string
	OverridesKey string
	Value        core.Element
	ReferenceTo  map[string]struct{}
	IsTombstone  bool
}

// SetDocumentsReply reports the version assigned and whether the
// namespace crossed a saturation threshold while applying it.
type SetDocumentsReply struct {
	Version uint32
	Result  Result
	Err     error
}

// UpdateDocuments is emitted by a worker after it has loaded raw configs
// from disk (Setup/Update flow) and asks the scheduler to fold them into
// an existing namespace plus invalidate whatever merged configs referenced
// the changed documents (spec §4.D Update, step 2).
type UpdateDocuments struct {
	RootPath string
	Items    []DocumentItem
	Reply    chan SetDocumentsReply
}

func (UpdateDocuments) isSchedulerCommand() {}

// SetOptimizedConfig is emitted by a worker once it has finished computing
// the Preprocessed form for a MergedConfig, asking the scheduler to
// install it and flip the status to StatusOKOptimized (spec §3).
type SetOptimizedConfig struct {
	RootPath     string
	OverridesKey string
	Preprocessed core.Element
}

func (SetOptimizedConfig) isSchedulerCommand() {}

// AddNamespace registers a namespace discovered by a worker's directory
// scan (Setup flow) before any documents have been loaded into it.
type AddNamespace struct {
	RootPath string
	Reply    chan AddNamespaceReply
}

func (AddNamespace) isSchedulerCommand() {}

// AddNamespaceReply carries the id assigned to the new namespace, or Err
// when the scheduler's namespace cap (spec §6, internal/config
// scheduler.max_namespaces) was already reached.
type AddNamespaceReply struct {
	NamespaceID uint64
	Err         error
}

// ObtainUsageMetrics asks the scheduler to snapshot per-namespace counters
// for the metrics sink (spec §4.E, FEATURES SUPPLEMENT).
type ObtainUsageMetrics struct {
	Reply chan UsageMetrics
}

func (ObtainUsageMetrics) isSchedulerCommand() {}

// UsageMetrics is one namespace's snapshot for ObtainUsageMetrics.
type UsageMetrics struct {
	RootPath            string
	NumWatchers         int64
	LastAccessTimestamp time.Time
}

// RunGc asks the scheduler to perform one GC pass across all namespaces
// (spec §4.F). The scheduler executes passes itself rather than handing
// namespace mutation to a worker, since only the scheduler goroutine may
// touch namespace state.
type RunGc struct {
	Pass       PassType
	MaxLiveFor time.Duration
	Reply      chan struct{}
}

func (RunGc) isSchedulerCommand() {}

// Shutdown is the sentinel that tells the scheduler loop to stop draining
// its inbox and return (spec §4.B, "shutdown is achieved by injecting a
// sentinel command per sender").
type Shutdown struct{}

func (Shutdown) isSchedulerCommand() {}

// Worker is the marker interface implemented by every command dispatched
// to a worker goroutine from the SPMC inbox.
type Worker interface {
	isWorkerCommand()
}

// Build asks a worker to merge a document's raw configs across the
// override chain into a MergedConfig (spec §4.C, the work behind a
// cache-miss ApiGet/ApiWatch).
type Build struct {
	RootPath     string
	Document     string
	Overrides    []string
	Flavors      []string
	OverridesKey string
	RawConfigs   []*core.RawConfig
}

func (Build) isWorkerCommand() {}

// Optimize asks a worker to compute the reusable serialized form for an
// already-built MergedConfig (spec §4.C, the OK_CONFIG_NO_OPTIMIZED ->
// OK_CONFIG_OPTIMIZED transition).
type Optimize struct {
	RootPath     string
	OverridesKey string
	Value        core.Element
}

func (Optimize) isWorkerCommand() {}

// ApiReply asks a worker to push a MergedConfig out to a single watcher's
// transport. When Built is non-nil the worker first waits for the
// in-flight build this watcher coalesced onto to finish.
type ApiReply struct {
	Watcher      core.Watcher
	MergedConfig *core.MergedConfig
	Built        chan core.BuildResult
}

func (ApiReply) isWorkerCommand() {}

// ApiGetReplyCmd asks a worker to deliver a one-shot ApiGetReply result on
// its reply channel and then close it (this also carries an ApiWatch's
// initial reply); kept distinct from ApiReply, which notifies a Watcher's
// transport instead of a channel. When Built is
// non-nil the worker waits on it for the coalesced build's result instead
// of using Result directly.
type ApiGetReplyCmd struct {
	Reply  chan ApiGetReply
	Result ApiGetReply
	Built  chan core.BuildResult
}

func (ApiGetReplyCmd) isWorkerCommand() {}

// ApiBatchReply asks a worker to deliver results for several coalesced
// Get requests that all landed on the same wait_built.
type ApiBatchReply struct {
	Waiters []chan core.BuildResult
	Result  core.BuildResult
}

func (ApiBatchReply) isWorkerCommand() {}

// Update asks a worker to read one or more documents from the
// filesystem-like Files source and emit an UpdateDocuments scheduler
// command with the parsed result (spec §4.D Update, step 1).
type Update struct {
	RootPath  string
	Documents []string
}

func (Update) isWorkerCommand() {}

// Setup asks a worker to scan for namespaces under the configured root and
// emit AddNamespace/Update commands for whatever it discovers (spec §4.B
// startup).
type Setup struct {
	Root string
}

func (Setup) isWorkerCommand() {}

// UnregisterWatchers asks a worker to tell each listed watcher's transport
// that it has been dropped, by calling NotifyUpdate(nil) on it (spec §4.F,
// property #7). The worker does not touch namespace state, and no
// scheduler handler emits this command.
type UnregisterWatchers struct {
	RootPath string
	Watchers []core.Watcher
}

func (UnregisterWatchers) isWorkerCommand() {}

// TraceNotify asks a worker to push a TraceEvent out to a single tracer's
// transport, mirroring ApiReply's role for watchers (spec §6
// submit_trace, grounded on the original's worker::ApiBatchReplyCommand
// delivering TraceOutputMessages off the scheduler goroutine).
type TraceNotify struct {
	Tracer core.Tracer
	Event  core.TraceEvent
}

func (TraceNotify) isWorkerCommand() {}

// ApiTraceReplyCmd asks a worker to deliver an ApiTrace registration's
// result on its reply channel, mirroring ApiGetReplyCmd: the scheduler
// goroutine must never block sending on a channel a caller supplied.
type ApiTraceReplyCmd struct {
	Reply chan error
	Err   error
}

func (ApiTraceReplyCmd) isWorkerCommand() {}
