package core

import "time"

// MergedConfigStatus tracks how far a MergedConfig has progressed through
// the build/optimize pipeline (spec §3).
type MergedConfigStatus int

const (
	// StatusBuilding means a worker is still merging the raw configs;
	// readers must wait_built rather than use Value.
	StatusBuilding MergedConfigStatus = iota
	// StatusOKNoOptimized is a complete merge that has not yet been handed
	// to the optimizer pass.
	StatusOKNoOptimized
	// StatusOKOptimizing means the optimizer has been asked to compute
	// Preprocessed but hasn't finished.
	StatusOKOptimizing
	// StatusOKOptimized means Preprocessed is ready for reuse across
	// requests that share the same overrides key.
	StatusOKOptimized
	// StatusOKTemplate marks a merge result that renders a template
	// instead of plain structured data (spec §1, template documents).
	StatusOKTemplate
)

// MergedConfig is the cached result of merging one document across one
// overrides/flavors tuple at one version. Instances are shared: many Get
// requests that land on the same (document, overrides, flavors, version)
// reuse the same *MergedConfig rather than re-running the merge.
type MergedConfig struct {
	OverridesKey string
	Document     string
	Version      uint32

	Status MergedConfigStatus
	Value  Element

	// Preprocessed holds the optimizer's serialized form once Status
	// reaches StatusOKOptimized; nil otherwise.
	Preprocessed Element

	CreateTimestamp time.Time
	// LastAccessTimestamp drives GC generation promotion (spec §4.F).
	LastAccessTimestamp time.Time

	// Watchers observing this specific merged result for new versions.
	Watchers []*WeakWatcher
}

// Touch refreshes the access timestamp used by GC's generational sweep.
func (mc *MergedConfig) Touch(now time.Time) {
	mc.LastAccessTimestamp = now
}

// IsReady reports whether Value can be handed to a caller.
func (mc *MergedConfig) IsReady() bool {
	return mc.Status != StatusBuilding
}

// WaitBuilt records callers blocked on a MergedConfig that is still
// building, so that concurrent identical requests coalesce into a single
// build (spec §4.C/D, "at most one concurrent build per key", property
// #4).
type WaitBuilt struct {
	OverridesKey string
	Waiters      []chan BuildResult
}

// BuildResult is delivered to every waiter once a coalesced build
// finishes, successfully or not.
type BuildResult struct {
	MergedConfig *MergedConfig
	Err          error
}

// AddWaiter registers ch to receive the eventual BuildResult and returns
// it for convenience.
func (w *WaitBuilt) AddWaiter(ch chan BuildResult) chan BuildResult {
	w.Waiters = append(w.Waiters, ch)
	return ch
}

// Broadcast delivers result to every registered waiter exactly once.
func (w *WaitBuilt) Broadcast(result BuildResult) {
	for _, ch := range w.Waiters {
		ch <- result
		close(ch)
	}
	w.Waiters = nil
}
