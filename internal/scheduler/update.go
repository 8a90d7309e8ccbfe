package scheduler

import (
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// handleSetDocuments installs a finished Build's result into the cache
// and resolves every waiter coalesced onto it (spec §4.C "SetDocuments").
func (s *Scheduler) handleSetDocuments(cmd command.SetDocuments) string {
	ns := s.namespaceForPath(cmd.RootPath)

	wb, hadWaitBuilt := ns.WaitBuiltsByKey[cmd.OverridesKey]
	delete(ns.WaitBuiltsByKey, cmd.OverridesKey)

	if cmd.Err != nil {
		if hadWaitBuilt {
			wb.Broadcast(core.BuildResult{Err: cmd.Err})
		}
		delete(ns.MergedConfigByOverridesKey, cmd.OverridesKey)
		return "build_failed"
	}

	status := core.StatusOKNoOptimized
	if cmd.Preprocessed != nil {
		status = core.StatusOKOptimized
	}

	// Resolves the SAME object startBuild (or notifyWatcher) already
	// pinned in a generation vector for this key, rather than allocating a
	// second one: mutating in place is what lets a StatusBuilding
	// placeholder ever become eligible for GC (internal/core.ConfigNamespace.GetOrCreateMergedConfig).
	mc := ns.GetOrCreateMergedConfig(cmd.OverridesKey, func() *core.MergedConfig {
		return &core.MergedConfig{CreateTimestamp: s.now()}
	})
	mc.Document = cmd.Document
	mc.Version = ns.CurrentVersion
	mc.Status = status
	mc.Value = cmd.Value
	mc.Preprocessed = cmd.Preprocessed
	mc.LastAccessTimestamp = s.now()

	if hadWaitBuilt {
		wb.Broadcast(core.BuildResult{MergedConfig: mc})
	}

	return "ok"
}

// handleUpdateDocuments folds newly loaded raw configs into a namespace,
// bumps current_version, invalidates affected merges, and re-notifies
// watchers (spec §4.D "Update").
func (s *Scheduler) handleUpdateDocuments(cmd command.UpdateDocuments) string {
	ns := s.namespaceForPath(cmd.RootPath)
	if ns.Softdeleted {
		s.replySetDocuments(cmd.Reply, command.SetDocumentsReply{Err: core.ErrNamespaceNotFound})
		return "namespace_gone"
	}

	now := s.now()
	ns.RetireCurrentVersion(now)
	ns.CurrentVersion++
	version := ns.CurrentVersion

	touchedDocuments := make(map[string]struct{}, len(cmd.Items))

	for _, item := range cmd.Items {
		dm := ns.DocumentMetadataFor(item.Document)
		touchedDocuments[item.Document] = struct{}{}

		previous := dm.OverrideMetadataFor(item.OverridesKey)
		if _, prevRC, ok := previous.Latest(); ok && prevRC != nil {
			for ref := range prevRC.ReferenceTo {
				decrementReferencedBy(ns, ref, item.Document)
			}
		}

		var rc *core.RawConfig
		if !item.IsTombstone {
			id := ns.NextRawConfigID
			ns.NextRawConfigID++
			rc = &core.RawConfig{ID: id, Value: item.Value, ReferenceTo: item.ReferenceTo}
			for ref := range item.ReferenceTo {
				incrementReferencedBy(ns, ref, item.Document)
			}
		}

		previous.PutVersion(version, rc)
	}

	affected := affectedDocuments(ns, touchedDocuments)
	s.invalidateAndNotify(ns, affected)

	if ns.IsSaturated() {
		s.softdeleteNamespace(ns)
		s.replySetDocuments(cmd.Reply, command.SetDocumentsReply{Version: version, Result: command.ResultSoftdeleteNamespace})
		return "softdeleted"
	}

	s.replySetDocuments(cmd.Reply, command.SetDocumentsReply{Version: version, Result: command.ResultOK})
	return "ok"
}

func decrementReferencedBy(ns *core.ConfigNamespace, ref, by string) {
	dm, ok := ns.DocumentMetadataByDocument[ref]
	if !ok {
		return
	}
	if dm.ReferencedBy[by] <= 1 {
		delete(dm.ReferencedBy, by)
	} else {
		dm.ReferencedBy[by]--
	}
}

func incrementReferencedBy(ns *core.ConfigNamespace, ref, by string) {
	dm := ns.DocumentMetadataFor(ref)
	dm.ReferencedBy[by]++
}

// affectedDocuments computes the reverse-transitive closure of
// referenced_by starting from seeds, i.e. every document that (directly
// or indirectly) references one of the updated documents (spec §4.D
// Update step 2, property #6).
func affectedDocuments(ns *core.ConfigNamespace, seeds map[string]struct{}) map[string]struct{} {
	affected := make(map[string]struct{}, len(seeds))
	queue := make([]string, 0, len(seeds))
	for d := range seeds {
		affected[d] = struct{}{}
		queue = append(queue, d)
	}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		dm, ok := ns.DocumentMetadataByDocument[d]
		if !ok {
			continue
		}
		for referrer := range dm.ReferencedBy {
			if _, seen := affected[referrer]; seen {
				continue
			}
			affected[referrer] = struct{}{}
			queue = append(queue, referrer)
		}
	}

	return affected
}

// invalidateAndNotify drops from the weak index every cached merged config
// whose Document is in affected, then calls notifyWatcher once for every
// distinct live watcher on those documents so their view gets refreshed
// (spec §4.D Update step 5).
func (s *Scheduler) invalidateAndNotify(ns *core.ConfigNamespace, affected map[string]struct{}) {
	for key, weakPtr := range ns.MergedConfigByOverridesKey {
		mc := weakPtr.Value()
		if mc == nil {
			delete(ns.MergedConfigByOverridesKey, key)
			continue
		}
		if _, ok := affected[mc.Document]; ok {
			delete(ns.MergedConfigByOverridesKey, key)
		}
	}

	notified := make(map[core.Watcher]struct{})
	for document := range affected {
		dm, ok := ns.DocumentMetadataByDocument[document]
		if !ok {
			continue
		}
		for _, om := range dm.OverrideByKey {
			for _, ww := range om.Watchers {
				w, ok := ww.Get()
				if !ok {
					continue
				}
				if _, already := notified[w]; already {
					continue
				}
				notified[w] = struct{}{}
				s.notifyWatcher(ns, document, w)
			}
		}
	}
}

// notifyWatcher re-resolves document for watcher w and pushes the result
// out through the worker pool via an ApiReply command.
func (s *Scheduler) notifyWatcher(ns *core.ConfigNamespace, document string, w core.Watcher) {
	// The watcher's original overrides/flavors aren't retained per-watcher
	// in this design (only per override_metadata entry, spec §3); re-walk
	// every override path this watcher is registered under for document.
	dm, ok := ns.DocumentMetadataByDocument[document]
	if !ok {
		return
	}
	var overrides []string
	for path, om := range dm.OverrideByKey {
		for _, ww := range om.Watchers {
			if resolved, ok := ww.Get(); ok && resolved == w {
				overrides = append(overrides, path)
			}
		}
	}
	if len(overrides) == 0 {
		return
	}

	key := fingerprint(document, overrides, nil)
	if mc, ok := ns.LookupMergedConfig(key); ok && mc.Status != core.StatusBuilding {
		s.workers.Dispatch(command.ApiReply{Watcher: w, MergedConfig: mc})
		return
	}

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

		// overrides already holds override paths (OverrideByKey keys), so
		// they are resolved directly rather than through collectRawConfigs,
		// which would canonicalize them a second time.
		var rawConfigs []*core.RawConfig
		for _, path := range overrides {
			if rc, ok := dm.OverrideByKey[path].At(ns.CurrentVersion); ok && !rc.IsTombstone() {
				rawConfigs = append(rawConfigs, rc)
			}
		}
		if len(rawConfigs) == 0 {
			delete(ns.WaitBuiltsByKey, key)
			delete(ns.MergedConfigByOverridesKey, key)
			return
		}
		s.workers.Dispatch(command.Build{
			RootPath:     ns.RootPath,
			Document:     document,
			Overrides:    overrides,
			OverridesKey: key,
			RawConfigs:   rawConfigs,
		})
	}

	ch := make(chan core.BuildResult, 1)
	wb.AddWaiter(ch)
	s.workers.Dispatch(command.ApiReply{Watcher: w, Built: ch})
}

func (s *Scheduler) replySetDocuments(reply chan command.SetDocumentsReply, r command.SetDocumentsReply) {
	if reply == nil {
		return
	}
	reply <- r
	close(reply)
}

// handleSetOptimizedConfig installs a worker's serialized form and flips
// status to StatusOKOptimized (spec §3, §4.C).
func (s *Scheduler) handleSetOptimizedConfig(cmd command.SetOptimizedConfig) string {
	ns := s.namespaceForPath(cmd.RootPath)
	mc, ok := ns.LookupMergedConfig(cmd.OverridesKey)
	if !ok {
		return "gone"
	}
	mc.Preprocessed = cmd.Preprocessed
	mc.Status = core.StatusOKOptimized
	return "ok"
}

// handleAddNamespace registers a namespace discovered by a worker's
// directory scan before any documents have been loaded (spec §4.B/4.C
// "ADD_NAMESPACE"). Rejects once scheduler.max_namespaces is already
// reached (internal/config SchedulerConfig.MaxNamespaces).
func (s *Scheduler) handleAddNamespace(cmd command.AddNamespace) string {
	if _, exists := s.namespaceByPath[cmd.RootPath]; !exists && s.maxNamespaces > 0 && len(s.namespaceByID) >= s.maxNamespaces {
		if cmd.Reply != nil {
			cmd.Reply <- command.AddNamespaceReply{Err: core.ErrTooManyNamespaces}
			close(cmd.Reply)
		}
		return "too_many_namespaces"
	}

	ns := s.namespaceForPath(cmd.RootPath)
	if cmd.Reply != nil {
		cmd.Reply <- command.AddNamespaceReply{NamespaceID: ns.ID}
		close(cmd.Reply)
	}
	return "ok"
}

// handleObtainUsageMetrics snapshots usage counters for every live
// namespace (spec §4.E, FEATURES SUPPLEMENT).
func (s *Scheduler) handleObtainUsageMetrics(cmd command.ObtainUsageMetrics) string {
	if cmd.Reply == nil {
		return "ok"
	}
	for _, ns := range s.namespaceByPath {
		cmd.Reply <- command.UsageMetrics{
			RootPath:            ns.RootPath,
			NumWatchers:         ns.NumWatchers,
			LastAccessTimestamp: ns.LastAccessTimestamp,
		}
	}
	close(cmd.Reply)
	s.metrics.SetNamespacesActive(len(s.namespaceByPath))
	return "ok"
}
