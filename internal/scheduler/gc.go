package scheduler

import (
	"time"

	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// handleRunGc executes one GC pass across all namespaces (spec §4.F).
// Passes cycle CACHE_GENERATION_0 -> 1 -> 2 -> DEAD_POINTERS -> NAMESPACES
// -> VERSIONS; the driver (internal/gc) is responsible for sequencing.
func (s *Scheduler) handleRunGc(cmd command.RunGc) string {
	switch cmd.Pass {
	case command.PassCacheGeneration0:
		s.gcGenerationYoung(cmd.MaxLiveFor)
	case command.PassCacheGeneration1:
		s.gcGenerationSenior(cmd.MaxLiveFor)
	case command.PassCacheGeneration2:
		s.gcGenerationTerminal(2, cmd.MaxLiveFor)
	case command.PassDeadPointers:
		s.gcDeadPointers()
	case command.PassNamespaces:
		s.gcNamespaces(cmd.MaxLiveFor)
	case command.PassVersions:
		s.gcVersions(cmd.MaxLiveFor)
	}

	if cmd.Reply != nil {
		close(cmd.Reply)
	}
	return "ok"
}

// eligibleForGC mirrors spec §4.F: only merges that finished building are
// ever promoted or dropped.
func eligibleForGC(mc *core.MergedConfig) bool {
	switch mc.Status {
	case core.StatusOKNoOptimized, core.StatusOKOptimizing, core.StatusOKOptimized, core.StatusOKTemplate:
		return true
	default:
		return false
	}
}

// gcGenerationYoung sweeps generation 0, the only generation where
// StatusBuilding (and a creation-age gate) matters: an entry stays in
// gen 0 until it's both finished building and has been alive for at
// least maxLive since creation; only past that age does its idle time
// decide whether it's dropped or promoted to generation 1 (spec §4.F
// CACHE_GENERATION_0, grounded on remove_merge_configs' generation==0
// branch).
func (s *Scheduler) gcGenerationYoung(maxLive time.Duration) {
	now := s.now()
	for _, ns := range s.namespaceByID {
		survivors := ns.Generations[0][:0]
		reclaimed := 0
		for _, mc := range ns.Generations[0] {
			switch {
			case !eligibleForGC(mc) || now.Sub(mc.CreateTimestamp) < maxLive:
				survivors = append(survivors, mc)
			case now.Sub(mc.LastAccessTimestamp) >= maxLive:
				reclaimed++
			default:
				ns.Generations[1] = append(ns.Generations[1], mc)
			}
		}
		ns.Generations[0] = survivors
		s.metrics.RecordGCPass(gcPassName(0), 0, reclaimed)
	}
}

// gcGenerationSenior sweeps generation 1 purely by idle time: unlike
// generation 0, there is no creation-age gate and no status filter — any
// entry (even one somehow still StatusBuilding) that has gone maxLive
// without being touched is dropped, otherwise promoted to generation 2
// (spec §4.F CACHE_GENERATION_1, grounded on remove_merge_configs'
// generation==1 branch, which applies neither check unlike generation 0).
func (s *Scheduler) gcGenerationSenior(maxLive time.Duration) {
	now := s.now()
	for _, ns := range s.namespaceByID {
		survivors := ns.Generations[1][:0]
		reclaimed := 0
		for _, mc := range ns.Generations[1] {
			if now.Sub(mc.LastAccessTimestamp) >= maxLive {
				reclaimed++
				continue
			}
			ns.Generations[2] = append(ns.Generations[2], mc)
		}
		ns.Generations[1] = survivors
		s.metrics.RecordGCPass(gcPassName(1), 0, reclaimed)
	}
}

// gcGenerationTerminal drops idle entries from the oldest generation
// (CACHE_GENERATION_2): there is nowhere further to promote to, and —
// like generation 1 — the check is idle time alone, with no status
// filter (spec §4.F, grounded on remove_merge_configs' generation==2
// branch).
func (s *Scheduler) gcGenerationTerminal(gen int, maxLive time.Duration) {
	now := s.now()
	for _, ns := range s.namespaceByID {
		survivors := ns.Generations[gen][:0]
		reclaimed := 0
		for _, mc := range ns.Generations[gen] {
			if now.Sub(mc.LastAccessTimestamp) >= maxLive {
				reclaimed++
				continue
			}
			survivors = append(survivors, mc)
		}
		ns.Generations[gen] = survivors
		s.metrics.RecordGCPass(gcPassName(gen), 0, reclaimed)
	}
}

func gcPassName(gen int) string {
	switch gen {
	case 0:
		return "cache_generation_0"
	case 1:
		return "cache_generation_1"
	default:
		return "cache_generation_2"
	}
}

// gcDeadPointers prunes expired weak watchers, expired weak tracers, and
// expired weak merged_config entries (spec §4.F "DEAD_POINTERS").
func (s *Scheduler) gcDeadPointers() {
	reclaimed := 0
	for _, ns := range s.namespaceByID {
		reclaimed += ns.PruneDeadWatchers()
		for _, dm := range ns.DocumentMetadataByDocument {
			for _, om := range dm.OverrideByKey {
				reclaimed += om.PruneDeadTracers()
			}
		}
		for key, weakPtr := range ns.MergedConfigByOverridesKey {
			if weakPtr.Value() == nil {
				delete(ns.MergedConfigByOverridesKey, key)
				reclaimed++
			}
		}
	}
	s.metrics.RecordGCPass("dead_pointers", 0, reclaimed)
}

// gcNamespaces removes namespaces idle for maxLive with no watchers, or
// already softdeleted (spec §4.F "NAMESPACES").
func (s *Scheduler) gcNamespaces(maxLive time.Duration) {
	now := s.now()
	reclaimed := 0
	for id, ns := range s.namespaceByID {
		if ns.NumWatchers > 0 {
			continue
		}
		if !ns.Softdeleted && now.Sub(ns.LastAccessTimestamp) < maxLive {
			continue
		}
		delete(s.namespaceByPath, ns.RootPath)
		delete(s.namespaceByID, id)
		reclaimed++
	}
	s.metrics.RecordGCPass("namespaces", 0, reclaimed)
	s.metrics.SetNamespacesActive(len(s.namespaceByPath))
}

// gcVersions reclaims retired versions and their raw configs older than
// the surviving watermark (spec §4.F "VERSIONS").
func (s *Scheduler) gcVersions(maxLive time.Duration) {
	now := s.now()
	reclaimed := 0
	for _, ns := range s.namespaceByID {
		cutoff := now.Add(-maxLive)
		keepFrom := 0
		for i, v := range ns.StoredVersionsByDeprecationTimestamp {
			if v.DeprecationTimestamp.After(cutoff) {
				break
			}
			keepFrom = i
		}
		if keepFrom == 0 {
			continue
		}
		watermark := ns.StoredVersionsByDeprecationTimestamp[keepFrom].Version
		ns.StoredVersionsByDeprecationTimestamp = ns.StoredVersionsByDeprecationTimestamp[keepFrom:]

		for document, dm := range ns.DocumentMetadataByDocument {
			for key, om := range dm.OverrideByKey {
				before := om.Versions().Len()
				om.Versions().DropBefore(watermark)
				om.Versions().TrimLeadingTombstones()
				reclaimed += before - om.Versions().Len()

				if om.IsEmpty() {
					delete(dm.OverrideByKey, key)
				}
			}
			if dm.IsEmpty() {
				delete(ns.DocumentMetadataByDocument, document)
			}
		}
	}
	s.metrics.RecordGCPass("versions", 0, reclaimed)
}
