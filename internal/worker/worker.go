// Package worker implements the stateless executors that drain the SPMC
// worker inbox (spec §4.E). Workers never touch namespace state; they
// call out to Builder/ReplyAPI/Files and talk back to the scheduler only
// by pushing further commands through their own Sender.
package worker

import (
	"log/slog"
	"strings"

	"github.com/vitaliisemenov/mhconfig/internal/api"
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
)

// Worker pops and executes commands from one Receiver endpoint until the
// stop channel passed to Run is closed. There is no sentinel worker
// command.
type Worker struct {
	id       int
	receiver *queue.Receiver[command.Worker]
	toSched  *queue.Sender[command.Scheduler]

	builder api.Builder
	files   api.Files
	log     *slog.Logger
}

// New builds one Worker. toSched must be a Sender obtained from the same
// MPSC inbox the scheduler drains.
func New(id int, receiver *queue.Receiver[command.Worker], toSched *queue.Sender[command.Scheduler], builder api.Builder, files api.Files, log *slog.Logger) *Worker {
	return &Worker{id: id, receiver: receiver, toSched: toSched, builder: builder, files: files, log: log}
}

// Run pops and executes commands until stop is closed. Call it from its
// own goroutine. stop is checked before each Pop, so a worker blocked in
// Pop on an empty receiver returns only after one more command arrives
// (or never, if none does).
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		cmd := w.receiver.Pop()
		w.execute(cmd)
	}
}

func (w *Worker) execute(cmd command.Worker) {
	switch c := cmd.(type) {
	case command.Build:
		w.handleBuild(c)
	case command.Optimize:
		w.handleOptimize(c)
	case command.ApiReply:
		w.handleApiReply(c)
	case command.ApiGetReplyCmd:
		w.handleApiGetReply(c)
	case command.ApiBatchReply:
		w.handleApiBatchReply(c)
	case command.Update:
		w.handleUpdate(c)
	case command.Setup:
		w.handleSetup(c)
	case command.UnregisterWatchers:
		w.handleUnregisterWatchers(c)
	case command.TraceNotify:
		w.handleTraceNotify(c)
	case command.ApiTraceReplyCmd:
		w.handleApiTraceReply(c)
	default:
		w.log.Error("worker: unknown command type", "worker", w.id, "type", cmd)
	}
}

// handleBuild merges a document's raw configs and reports the result
// back to the scheduler as a SetDocuments command (spec §4.C "Build
// (worker)").
func (w *Worker) handleBuild(c command.Build) {
	value, err := w.builder.Merge(c.Document, c.RawConfigs)
	if err != nil {
		w.toSched.Push(command.SetDocuments{
			RootPath:     c.RootPath,
			Document:     c.Document,
			OverridesKey: c.OverridesKey,
			Err:          core.ErrBuildFailed,
		})
		return
	}

	w.toSched.Push(command.SetDocuments{
		RootPath:     c.RootPath,
		Document:     c.Document,
		OverridesKey: c.OverridesKey,
		Value:        value,
	})
}

// handleOptimize computes the reusable serialized form for an
// already-cached merge and reports it back via SetOptimizedConfig (spec
// §3, the OK_CONFIG_NO_OPTIMIZED -> OK_CONFIG_OPTIMIZED transition).
func (w *Worker) handleOptimize(c command.Optimize) {
	preprocessed, err := w.builder.Optimize(c.Value)
	if err != nil {
		w.log.Warn("worker: optimize failed", "root_path", c.RootPath, "overrides_key", c.OverridesKey, "err", err)
		return
	}
	w.toSched.Push(command.SetOptimizedConfig{
		RootPath:     c.RootPath,
		OverridesKey: c.OverridesKey,
		Preprocessed: preprocessed,
	})
}

// handleApiReply pushes a MergedConfig to a watcher's transport, waiting
// on an in-flight build first when this watcher coalesced onto one.
func (w *Worker) handleApiReply(c command.ApiReply) {
	mc := c.MergedConfig
	if c.Built != nil {
		result := <-c.Built
		if result.Err != nil {
			return
		}
		mc = result.MergedConfig
	}
	if mc == nil {
		return
	}
	c.Watcher.NotifyUpdate(mc)
}

// handleApiGetReply delivers a one-shot ApiGetReply, waiting on an
// in-flight build first when this Get coalesced onto one.
func (w *Worker) handleApiGetReply(c command.ApiGetReplyCmd) {
	result := c.Result
	if c.Built != nil {
		built := <-c.Built
		result = command.ApiGetReply{MergedConfig: built.MergedConfig, Err: built.Err}
	}
	c.Reply <- result
	close(c.Reply)
}

// handleApiBatchReply delivers the same BuildResult to every coalesced
// waiter.
func (w *Worker) handleApiBatchReply(c command.ApiBatchReply) {
	for _, ch := range c.Waiters {
		ch <- c.Result
		close(ch)
	}
}

// handleUpdate reads the requested documents from Files, parses them via
// Builder, and emits UpdateDocuments for the scheduler to fold in (spec
// §4.D Update step 1). Each entry in c.Documents is a path of the form
// "override/.../document"; parseDocumentPath splits it into the document
// name and the override it was found under, matching how a real
// Builder.index_files scan groups files by the override directory they
// live in (spec §4.B, glossary "Override path").
func (w *Worker) handleUpdate(c command.Update) {
	items := make([]command.DocumentItem, 0, len(c.Documents))
	for _, path := range c.Documents {
		document, override := parseDocumentPath(path)
		overridesKey := core.OverridePath(override, nil)

		data, err := w.files.ReadDocument(c.RootPath, path)
		if err != nil {
			items = append(items, command.DocumentItem{Document: document, OverridesKey: overridesKey, IsTombstone: true})
			continue
		}
		value, refs, err := w.builder.LoadRawConfig(path, data)
		if err != nil {
			w.log.Warn("worker: load raw config failed", "root_path", c.RootPath, "document", path, "err", err)
			continue
		}
		items = append(items, command.DocumentItem{Document: document, OverridesKey: overridesKey, Value: value, ReferenceTo: refs})
	}

	w.toSched.Push(command.UpdateDocuments{RootPath: c.RootPath, Items: items})
}

// parseDocumentPath splits "override/.../document.ext" into (document,
// override). A path with no directory component has no override (the
// base/default document).
func parseDocumentPath(path string) (document, override string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path, ""
	}
	return path[idx+1:], path[:idx]
}

// handleSetup scans for namespaces under Root and emits AddNamespace plus
// an Update for each one's documents (spec §4.B startup).
func (w *Worker) handleSetup(c command.Setup) {
	roots, err := w.files.ListNamespaces(c.Root)
	if err != nil {
		w.log.Error("worker: setup scan failed", "root", c.Root, "err", err)
		return
	}

	for _, rootPath := range roots {
		reply := make(chan command.AddNamespaceReply, 1)
		w.toSched.Push(command.AddNamespace{RootPath: rootPath, Reply: reply})
		added := <-reply
		if added.Err != nil {
			w.log.Warn("worker: add namespace rejected", "root_path", rootPath, "err", added.Err)
			continue
		}

		docs, err := w.files.ListDocuments(rootPath)
		if err != nil {
			w.log.Error("worker: list documents failed", "root_path", rootPath, "err", err)
			continue
		}
		w.handleUpdate(command.Update{RootPath: rootPath, Documents: docs})
	}
}

// handleUnregisterWatchers notifies each watcher's transport that it has
// been dropped (spec §4.F, property #7).
func (w *Worker) handleUnregisterWatchers(c command.UnregisterWatchers) {
	for _, watcher := range c.Watchers {
		watcher.NotifyUpdate(nil)
	}
}

// handleTraceNotify pushes a TraceEvent to a single tracer's transport
// (spec §6 submit_trace).
func (w *Worker) handleTraceNotify(c command.TraceNotify) {
	c.Tracer.NotifyTrace(c.Event)
}

// handleApiTraceReply delivers an ApiTrace registration's result, mirroring
// handleApiGetReply.
func (w *Worker) handleApiTraceReply(c command.ApiTraceReplyCmd) {
	c.Reply <- c.Err
	close(c.Reply)
}
