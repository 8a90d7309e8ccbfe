package scheduler

import (
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// handleApiTrace registers a Tracer against a document's override chain,
// mirroring handleApiWatch's registration loop but without resolving or
// building a config: a trace only cares about future watch activity on
// the same paths (spec §6 submit_trace).
func (s *Scheduler) handleApiTrace(cmd command.ApiTrace) string {
	ns := s.namespaceForPath(cmd.RootPath)

	if core.HasDuplicates(cmd.Overrides) || core.HasDuplicates(cmd.Flavors) {
		s.sendTraceErr(cmd.Reply, core.ErrInvalidArguments)
		return "invalid_arguments"
	}

	weakTracer, handle := core.NewWeakTracer(cmd.Tracer)
	if sink, ok := cmd.Tracer.(core.TracerKeepaliveSink); ok {
		sink.Pin(handle)
	}
	dm := ns.DocumentMetadataFor(cmd.Document)
	for _, ov := range cmd.Overrides {
		path := ns.PathCache.OverridePath(ov, cmd.Flavors)
		om := dm.OverrideMetadataFor(path)
		om.Tracers = append(om.Tracers, weakTracer)
	}

	s.sendTraceErr(cmd.Reply, nil)
	return "ok"
}

// sendTraceErr delivers an ApiTrace result via the worker pool rather
// than sending directly, so the scheduler goroutine never blocks on a
// reply channel a caller supplied (mirroring sendApiGetReply).
func (s *Scheduler) sendTraceErr(reply chan error, err error) {
	if reply == nil {
		return
	}
	s.workers.Dispatch(command.ApiTraceReplyCmd{Reply: reply, Err: err})
}

// notifyTracesForNewWatch walks every override path a new Watch just
// landed on and pushes an ADDED_WATCHER TraceEvent to each live Tracer
// registered against it, delivered off the scheduler goroutine via the
// worker pool (spec §6 submit_trace, grounded on the original's
// ApiWatchCommand: for_each_trace_to_trigger / make_trace_output_message
// with TraceOutputMessage::Status::ADDED_WATCHER).
func (s *Scheduler) notifyTracesForNewWatch(ns *core.ConfigNamespace, rootPath, document string, overrides, flavors []string, version uint32) {
	dm, ok := ns.DocumentMetadataByDocument[document]
	if !ok {
		return
	}
	for _, ov := range overrides {
		path := ns.PathCache.OverridePath(ov, flavors)
		om, ok := dm.OverrideByKey[path]
		if !ok {
			continue
		}
		for _, weakTracer := range om.Tracers {
			tracer, ok := weakTracer.Get()
			if !ok {
				continue
			}
			s.workers.Dispatch(command.TraceNotify{
				Tracer: tracer,
				Event: core.TraceEvent{
					RootPath:     rootPath,
					Document:     document,
					OverridesKey: path,
					Version:      version,
					Status:       core.TraceAddedWatcher,
				},
			})
		}
	}
}
