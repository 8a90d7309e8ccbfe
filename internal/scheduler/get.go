package scheduler

import (
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// fingerprint computes the overrides fingerprint used to key a
// namespace's merged_config_by_overrides_key (spec §3, glossary
// "Overrides fingerprint").
func fingerprint(document string, overrides, flavors []string) string {
	return document + "\x00" + core.OverridesKey(overrides, flavors)
}

func (s *Scheduler) handleApiGet(cmd command.ApiGet) string {
	ns := s.namespaceForPath(cmd.RootPath)
	return s.resolveGet(ns, cmd.RootPath, cmd.Document, cmd.Overrides, cmd.Flavors, cmd.Version, cmd.Reply)
}

func (s *Scheduler) handleApiWatch(cmd command.ApiWatch) string {
	ns := s.namespaceForPath(cmd.RootPath)

	if core.HasDuplicates(cmd.Overrides) || core.HasDuplicates(cmd.Flavors) {
		s.sendApiGetReply(cmd.Reply, command.ApiGetReply{Err: core.ErrInvalidArguments})
		return "invalid_arguments"
	}

	weakWatcher, handle := core.NewWeakWatcher(cmd.Watcher)
	if sink, ok := cmd.Watcher.(core.KeepaliveSink); ok {
		sink.Pin(handle)
	}
	dm := ns.DocumentMetadataFor(cmd.Document)
	for _, ov := range cmd.Overrides {
		path := ns.PathCache.OverridePath(ov, cmd.Flavors)
		om := dm.OverrideMetadataFor(path)
		om.Watchers = append(om.Watchers, weakWatcher)
	}
	ns.Watchers = append(ns.Watchers, weakWatcher)
	ns.NumWatchers++

	s.notifyTracesForNewWatch(ns, cmd.RootPath, cmd.Document, cmd.Overrides, cmd.Flavors, ns.CurrentVersion)

	// Resolve the current version right away and deliver it on Reply as the
	// watch's initial value. ApiWatch carries no version of its own, so
	// this reply is sent whether or not the watcher has already seen that
	// version; later versions reach the watcher through the Update sweep
	// (invalidateAndNotify).
	return s.resolveGet(ns, cmd.RootPath, cmd.Document, cmd.Overrides, cmd.Flavors, 0, cmd.Reply)
}

func (s *Scheduler) resolveGet(ns *core.ConfigNamespace, rootPath, document string, overrides, flavors []string, version uint32, reply chan command.ApiGetReply) string {
	if core.HasDuplicates(overrides) || core.HasDuplicates(flavors) {
		s.sendApiGetReply(reply, command.ApiGetReply{Err: core.ErrInvalidArguments})
		return "invalid_arguments"
	}
	if version > ns.CurrentVersion {
		s.sendApiGetReply(reply, command.ApiGetReply{Err: core.ErrInvalidVersion})
		return "invalid_version"
	}

	key := fingerprint(document, overrides, flavors)

	if mc, ok := ns.LookupMergedConfig(key); ok {
		return s.resolveHit(ns, rootPath, key, mc, reply)
	}

	s.startBuild(ns, rootPath, document, overrides, flavors, version, key, reply)
	return "miss"
}

func (s *Scheduler) resolveHit(ns *core.ConfigNamespace, rootPath, key string, mc *core.MergedConfig, reply chan command.ApiGetReply) string {
	switch mc.Status {
	case core.StatusBuilding:
		wb, ok := ns.WaitBuiltsByKey[key]
		if !ok {
			// Shouldn't happen: a BUILDING merged config always has a
			// wait_built tracking its waiters. Treat as an internal bug
			// surfaced to the caller rather than aborting the scheduler.
			s.sendApiGetReply(reply, command.ApiGetReply{Err: core.ErrBuildFailed})
			return "error"
		}
		ch := make(chan core.BuildResult, 1)
		wb.AddWaiter(ch)
		s.metrics.RecordBuildCoalesced()
		s.workers.Dispatch(command.ApiGetReplyCmd{Reply: reply, Built: ch})
		return "hit_building"
	default:
		mc.Touch(s.now())
		s.sendApiGetReply(reply, command.ApiGetReply{MergedConfig: mc})
		if mc.Status == core.StatusOKNoOptimized {
			mc.Status = core.StatusOKOptimizing
			s.workers.Dispatch(command.Optimize{RootPath: rootPath, OverridesKey: key, Value: mc.Value})
		}
		return "hit"
	}
}

func (s *Scheduler) startBuild(ns *core.ConfigNamespace, rootPath, document string, overrides, flavors []string, version uint32, key string, reply chan command.ApiGetReply) {
	wb, exists := ns.WaitBuiltsByKey[key]
	if !exists {
		wb = &core.WaitBuilt{OverridesKey: key}
		ns.WaitBuiltsByKey[key] = wb

		ns.GetOrCreateMergedConfig(key, func() *core.MergedConfig {
			return &core.MergedConfig{
				Document:            document,
				Version:             ns.CurrentVersion,
				Status:              core.StatusBuilding,
				CreateTimestamp:     s.now(),
				LastAccessTimestamp: s.now(),
			}
		})

		// version 0 means "whatever is current" (spec §4.C Get); any other
		// value asks for that specific historical version.
		resolveAt := version
		if resolveAt == 0 {
			resolveAt = ns.CurrentVersion
		}
		rawConfigs, err := s.collectRawConfigs(ns, document, overrides, flavors, resolveAt)
		if err != nil {
			delete(ns.WaitBuiltsByKey, key)
			delete(ns.MergedConfigByOverridesKey, key)
			s.sendApiGetReply(reply, command.ApiGetReply{Err: err})
			return
		}

		s.workers.Dispatch(command.Build{
			RootPath:     rootPath,
			Document:     document,
			Overrides:    overrides,
			Flavors:      flavors,
			OverridesKey: key,
			RawConfigs:   rawConfigs,
		})
	} else {
		s.metrics.RecordBuildCoalesced()
	}

	ch := make(chan core.BuildResult, 1)
	wb.AddWaiter(ch)
	s.workers.Dispatch(command.ApiGetReplyCmd{Reply: reply, Built: ch})
}

// collectRawConfigs gathers the raw configs contributing to document
// across its override chain at version, in override order (spec §4.C
// "Build (worker)": "compose by override_with the values from each
// contributing raw config in override order"). Transitive reference
// resolution (pulling in other documents named by reference_to) is a
// Builder/tag-expansion concern and stays out of the core's scope; the
// core only tracks reference_to/referenced_by for invalidation (spec
// §4.D Update, property #6).
func (s *Scheduler) collectRawConfigs(ns *core.ConfigNamespace, document string, overrides, flavors []string, version uint32) ([]*core.RawConfig, error) {
	dm, ok := ns.DocumentMetadataByDocument[document]
	if !ok {
		return nil, core.ErrBuildFailed
	}

	var out []*core.RawConfig
	for _, ov := range overrides {
		path := ns.PathCache.OverridePath(ov, flavors)
		om, ok := dm.OverrideByKey[path]
		if !ok {
			continue
		}
		rc, ok := om.At(version)
		if !ok || rc.IsTombstone() {
			continue
		}
		out = append(out, rc)
	}

	if len(out) == 0 {
		return nil, core.ErrBuildFailed
	}
	return out, nil
}

func (s *Scheduler) sendApiGetReply(reply chan command.ApiGetReply, r command.ApiGetReply) {
	if reply == nil {
		return
	}
	s.workers.Dispatch(command.ApiGetReplyCmd{Reply: reply, Result: r})
}
