package core

import (
	"time"
	"weak"

	"github.com/vitaliisemenov/mhconfig/internal/strpool"
)

// Saturation thresholds matching the original implementation's
// update_documents_command: both counters softdelete the namespace once
// they get this close to wrapping, rather than risk either silently
// colliding with an older still-referenced value.
const (
	// MaxVersion is the current_version value at which the namespace is
	// softdeleted instead of accepting further updates.
	MaxVersion uint32 = 0xfffffff0
	// MaxRawConfigID is the next_raw_config_id value at which the
	// namespace is softdeleted instead of minting further raw configs.
	MaxRawConfigID uint32 = 0xff000000
)

// NumGenerations is the number of GC generations a namespace's merged
// configs are promoted through before eviction (spec §4.F, property #8).
const NumGenerations = 3

// ConfigNamespace is the scheduler's unit of ownership: every document,
// override, merged config and watcher for one root path lives under one
// ConfigNamespace, and only the scheduler goroutine ever mutates one.
type ConfigNamespace struct {
	ID       uint64
	RootPath string

	// CurrentVersion is the last version accepted by SetDocuments/Update;
	// it only ever increases (spec I3).
	CurrentVersion uint32
	// NextRawConfigID is the id assigned to the next RawConfig minted in
	// this namespace; it only ever increases.
	NextRawConfigID uint32

	DocumentMetadataByDocument map[string]*DocumentMetadata

	// MergedConfigByOverridesKey is a weak cache: an entry's target is
	// collected once no generation vector references it anymore. The
	// stale key itself stays in the map until LookupMergedConfig or the
	// DEAD_POINTERS GC pass deletes it.
	MergedConfigByOverridesKey map[string]weak.Pointer[MergedConfig]

	// Generations holds NumGenerations strong-reference vectors; index 0
	// is the youngest. A GC pass promotes a still-touched entry from
	// generation i to i+1 and drops whatever sits in the oldest
	// generation untouched (spec §4.F CACHE_GENERATION_* passes).
	Generations [NumGenerations][]*MergedConfig

	WaitBuiltsByKey map[string]*WaitBuilt

	Watchers []*WeakWatcher

	// StoredVersionsByDeprecationTimestamp orders retired versions by the
	// time they stopped being current_version, oldest first, so the
	// VERSIONS GC pass can reclaim a prefix cheaply.
	StoredVersionsByDeprecationTimestamp []deprecatedVersion

	NumWatchers int64

	LastAccessTimestamp time.Time

	Pool *strpool.Pool

	// PathCache memoizes override/flavor path computations for this
	// namespace's hot lookups (Get/Watch/Trace override resolution).
	PathCache *PathCache

	// Softdeleted marks a namespace that has hit a saturation threshold
	// or been explicitly removed; the scheduler stops accepting new
	// commands against it and only drains existing waiters.
	Softdeleted bool
}

type deprecatedVersion struct {
	Version             uint32
	DeprecationTimestamp time.Time
}

// NewConfigNamespace returns an empty namespace ready to accept its first
// SetDocuments.
func NewConfigNamespace(id uint64, rootPath string, pool *strpool.Pool) *ConfigNamespace {
	return &ConfigNamespace{
		ID:                         id,
		RootPath:                   rootPath,
		DocumentMetadataByDocument: make(map[string]*DocumentMetadata),
		MergedConfigByOverridesKey: make(map[string]weak.Pointer[MergedConfig]),
		WaitBuiltsByKey:            make(map[string]*WaitBuilt),
		Pool:                       pool,
		PathCache:                  NewPathCache(0),
	}
}

// IsSaturated reports whether either monotonic counter is close enough to
// overflow that the namespace must be softdeleted instead of accepting
// more updates.
func (ns *ConfigNamespace) IsSaturated() bool {
	return ns.CurrentVersion >= MaxVersion || ns.NextRawConfigID >= MaxRawConfigID
}

// DocumentMetadataFor returns (creating if needed) the DocumentMetadata
// for name.
func (ns *ConfigNamespace) DocumentMetadataFor(name string) *DocumentMetadata {
	d, ok := ns.DocumentMetadataByDocument[name]
	if !ok {
		d = NewDocumentMetadata()
		ns.DocumentMetadataByDocument[name] = d
	}
	return d
}

// LookupMergedConfig resolves a still-live cached merge for overridesKey,
// if one exists.
func (ns *ConfigNamespace) LookupMergedConfig(overridesKey string) (*MergedConfig, bool) {
	weakPtr, ok := ns.MergedConfigByOverridesKey[overridesKey]
	if !ok {
		return nil, false
	}
	mc := weakPtr.Value()
	if mc == nil {
		delete(ns.MergedConfigByOverridesKey, overridesKey)
		return nil, false
	}
	return mc, true
}

// StoreMergedConfig installs mc as the weak cache entry for its
// OverridesKey and pins a strong reference in the youngest generation.
func (ns *ConfigNamespace) StoreMergedConfig(mc *MergedConfig) {
	ns.MergedConfigByOverridesKey[mc.OverridesKey] = weak.Make(mc)
	ns.Generations[0] = append(ns.Generations[0], mc)
}

// GetOrCreateMergedConfig returns the live entry for key if one is still
// reachable through the weak index, or else builds one with init, installs
// it, and returns it. Mirrors the original's get_or_build_merged_config:
// a caller that might complete a pending build (handing it its final
// Status/Value) must mutate the SAME object already pinned in a
// generation vector rather than allocate a second one sharing the same
// key, or the first stays stuck at StatusBuilding forever — excluded from
// GC eligibility, never promoted, never reclaimed (spec §4.F, invariant
// I1 "the owning strong reference lives in exactly one generation
// vector").
func (ns *ConfigNamespace) GetOrCreateMergedConfig(key string, init func() *MergedConfig) *MergedConfig {
	if mc, ok := ns.LookupMergedConfig(key); ok {
		return mc
	}
	mc := init()
	mc.OverridesKey = key
	ns.StoreMergedConfig(mc)
	return mc
}

// RetireCurrentVersion records that CurrentVersion is about to change,
// archiving the outgoing version's deprecation time for the VERSIONS GC
// pass.
func (ns *ConfigNamespace) RetireCurrentVersion(now time.Time) {
	ns.StoredVersionsByDeprecationTimestamp = append(
		ns.StoredVersionsByDeprecationTimestamp,
		deprecatedVersion{Version: ns.CurrentVersion, DeprecationTimestamp: now},
	)
}

// PruneDeadWatchers drops weak watcher entries whose target has been
// collected, returning the number removed (spec §4.F DEAD_POINTERS pass,
// property #7 "watcher cleanup is idempotent").
func (ns *ConfigNamespace) PruneDeadWatchers() int {
	live := ns.Watchers[:0]
	removed := 0
	for _, w := range ns.Watchers {
		if _, ok := w.Get(); ok {
			live = append(live, w)
		} else {
			removed++
		}
	}
	ns.Watchers = live
	ns.NumWatchers = int64(len(ns.Watchers))
	return removed
}
