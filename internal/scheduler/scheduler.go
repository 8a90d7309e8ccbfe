// Package scheduler implements the single-threaded owner of every
// namespace's state (spec §4.C/4.D): it pops commands from its MPSC
// inbox one at a time, dispatches by concrete type, and mutates
// namespace data structures directly. No lock guards a namespace because
// nothing else is ever allowed to touch one; workers communicate back
// only by pushing further commands.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/vitaliisemenov/mhconfig/internal/api"
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
	"github.com/vitaliisemenov/mhconfig/internal/strpool"
)

// Scheduler is the single-threaded namespace owner described by spec
// §4.C/4.D. Run must be called from exactly one goroutine.
type Scheduler struct {
	log     *slog.Logger
	metrics api.Metrics
	pool    *strpool.Pool

	inbox   *queue.MPSC[command.Scheduler]
	workers *queue.SPMC[command.Worker]

	namespaceByPath map[string]*core.ConfigNamespace
	namespaceByID   map[uint64]*core.ConfigNamespace
	nextNamespaceID uint64

	// maxNamespaces is the namespace count at which handleAddNamespace
	// rejects new root paths; 0 means unbounded (internal/config
	// SchedulerConfig.MaxNamespaces). Other commands that name a new root
	// path still create it through namespaceForPath without checking it.
	maxNamespaces int

	// now is overridable in tests so GC pass timing doesn't depend on
	// wall-clock sleeps.
	now func() time.Time
}

// New constructs a Scheduler. pool is shared by every namespace created
// from this scheduler (spec §3 config_namespace.pool). maxNamespaces <= 0
// means unbounded.
func New(inbox *queue.MPSC[command.Scheduler], workers *queue.SPMC[command.Worker], metrics api.Metrics, pool *strpool.Pool, log *slog.Logger, maxNamespaces int) *Scheduler {
	return &Scheduler{
		log:             log,
		metrics:         metrics,
		pool:            pool,
		inbox:           inbox,
		workers:         workers,
		namespaceByPath: make(map[string]*core.ConfigNamespace),
		namespaceByID:   make(map[uint64]*core.ConfigNamespace),
		maxNamespaces:   maxNamespaces,
		now:             time.Now,
	}
}

// Run drains the inbox until it pops a command.Shutdown sentinel. There
// is no cancellation at the queue level (spec §4.B); callers that need to
// stop the loop must push a Shutdown command, typically from their own
// dedicated sender.
func (s *Scheduler) Run() {
	for {
		cmd := s.inbox.Pop()
		if _, ok := cmd.(command.Shutdown); ok {
			return
		}
		s.dispatch(cmd)
	}
}

// dispatch executes one command to completion and records its outcome.
// Per spec §9 "coroutines / suspension", handling one command always
// runs to completion before the next is popped.
func (s *Scheduler) dispatch(cmd command.Scheduler) {
	start := s.now()
	name, result := s.dispatchOne(cmd)
	s.metrics.RecordCommand(name, result, s.now().Sub(start))
}

func (s *Scheduler) dispatchOne(cmd command.Scheduler) (name, result string) {
	switch c := cmd.(type) {
	case command.ApiGet:
		return "ApiGet", s.handleApiGet(c)
	case command.ApiWatch:
		return "ApiWatch", s.handleApiWatch(c)
	case command.ApiTrace:
		return "ApiTrace", s.handleApiTrace(c)
	case command.SetDocuments:
		return "SetDocuments", s.handleSetDocuments(c)
	case command.UpdateDocuments:
		return "UpdateDocuments", s.handleUpdateDocuments(c)
	case command.SetOptimizedConfig:
		return "SetOptimizedConfig", s.handleSetOptimizedConfig(c)
	case command.AddNamespace:
		return "AddNamespace", s.handleAddNamespace(c)
	case command.ObtainUsageMetrics:
		return "ObtainUsageMetrics", s.handleObtainUsageMetrics(c)
	case command.RunGc:
		return "RunGc", s.handleRunGc(c)
	default:
		s.log.Error("scheduler: unknown command type", "type", cmd)
		return "unknown", "error"
	}
}

// namespaceForPath returns the live namespace for rootPath, creating one
// if this is the first command to mention it (spec §3 "Lifecycle").
// Creation here does not itself load any documents; callers that need the
// namespace populated from disk are expected to also have submitted (or
// be about to submit) a worker Setup command.
func (s *Scheduler) namespaceForPath(rootPath string) *core.ConfigNamespace {
	if ns, ok := s.namespaceByPath[rootPath]; ok {
		return ns
	}
	id := s.nextNamespaceID
	s.nextNamespaceID++
	ns := core.NewConfigNamespace(id, rootPath, s.pool)
	s.namespaceByPath[rootPath] = ns
	s.namespaceByID[id] = ns
	return ns
}

// softdeleteNamespace unlinks ns from namespace_by_path while keeping it
// reachable by id until GC's NAMESPACES pass or its watchers are drained
// (spec §3 I4, §4.D Update step on saturation).
func (s *Scheduler) softdeleteNamespace(ns *core.ConfigNamespace) {
	ns.Softdeleted = true
	delete(s.namespaceByPath, ns.RootPath)
}
