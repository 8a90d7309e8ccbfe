package core

import "weak"

// Watcher is anything that wants to be told about new versions of a
// document/overrides/flavors tuple it is watching (spec §4.C ApiWatch). The
// concrete transport (websocket, in-process channel, ...) lives outside
// core; core only needs to notify it and let go of it once it is gone.
type Watcher interface {
	ID() string
	NotifyUpdate(mc *MergedConfig)
}

// WeakWatcher is a non-owning reference to a Watcher, mirroring the
// namespace's weak watcher lists (spec §3, "watchers do not keep the
// client session alive"). Once the underlying Watcher is collected,
// Get returns false and the caller should prune the entry.
type WeakWatcher struct {
	ptr weak.Pointer[WatcherHandle]
}

// WatcherHandle exists so weak.Pointer always targets a heap object we
// control, independent of the concrete Watcher implementation's own
// pointer-ness. The caller that registers a watch owns the only strong
// reference to a WatcherHandle; once it lets go, the namespace's
// WeakWatcher resolves to nothing and gets pruned on the next
// DEAD_POINTERS pass.
type WatcherHandle struct {
	w Watcher
}

// NewWeakWatcher wraps w in a weak reference and returns the strong handle
// that must be kept alive by the caller (typically the per-connection
// goroutine) for as long as the watch should remain live.
func NewWeakWatcher(w Watcher) (*WeakWatcher, *WatcherHandle) {
	handle := &WatcherHandle{w: w}
	return &WeakWatcher{ptr: weak.Make(handle)}, handle
}

// KeepaliveSink is implemented by Watcher transports that can pin their own
// WatcherHandle, so registering a watch doesn't need a separate owner to
// hold the strong reference alive: the transport holds it for as long as
// it itself is alive, and the weak lookup still collects naturally once
// the transport (e.g. a closed connection) is gone.
type KeepaliveSink interface {
	Watcher
	Pin(handle *WatcherHandle)
}

// Get resolves the weak reference, returning false once the watcher has
// been collected.
func (w *WeakWatcher) Get() (Watcher, bool) {
	handle := w.ptr.Value()
	if handle == nil {
		return nil, false
	}
	return handle.w, true
}
