package core

// Element is the structured value produced by composing raw documents. Its
// concrete shape belongs to the builder (YAML ingestion + tag expansion),
// which is out of scope for the core per spec §1; the scheduler/worker
// pipeline only ever moves Elements around and never inspects their
// contents, so an opaque value is sufficient here.
type Element = any

// RawConfig is one parsed document version for one override/flavor tuple.
// Immutable once published: the scheduler only ever appends new RawConfigs,
// never mutates an existing one in place.
type RawConfig struct {
	ID uint32

	// Value is nil for a tombstone (the document was deleted at this
	// version).
	Value Element

	// ReferenceTo is the set of document names this raw config pulls in
	// via include/reference tags.
	ReferenceTo map[string]struct{}
}

// IsTombstone reports whether this version records a deletion.
func (r *RawConfig) IsTombstone() bool {
	return r == nil || r.Value == nil
}

// versionedRawConfigs is an append-only, strictly-increasing-by-version
// ordered map<version, *RawConfig>, matching spec §3's
// override_metadata.raw_config_by_version. A nil RawConfig at a key means
// "deleted at this version".
type versionedRawConfigs struct {
	versions []uint32
	configs  []*RawConfig
}

// Put appends a new version. The caller must guarantee version is strictly
// greater than the last one stored (the scheduler enforces this because
// current_version is monotonic, spec I3).
func (v *versionedRawConfigs) Put(version uint32, cfg *RawConfig) {
	v.versions = append(v.versions, version)
	v.configs = append(v.configs, cfg)
}

// Latest returns the most recently published version, if any.
func (v *versionedRawConfigs) Latest() (uint32, *RawConfig, bool) {
	if len(v.versions) == 0 {
		return 0, nil, false
	}
	n := len(v.versions)
	return v.versions[n-1], v.configs[n-1], true
}

// AtOrBefore returns the config whose version is the greatest one
// <= asked, per the "version 0 means current" / "pick the visible version"
// get semantics.
func (v *versionedRawConfigs) AtOrBefore(asked uint32) (*RawConfig, bool) {
	best := -1
	for i, ver := range v.versions {
		if ver <= asked {
			best = i
		} else {
			break
		}
	}
	if best < 0 {
		return nil, false
	}
	return v.configs[best], true
}

// Len reports how many versions are stored.
func (v *versionedRawConfigs) Len() int { return len(v.versions) }

// VersionAt returns the version stored at index i.
func (v *versionedRawConfigs) VersionAt(i int) uint32 { return v.versions[i] }

// ConfigAt returns the config stored at index i.
func (v *versionedRawConfigs) ConfigAt(i int) *RawConfig { return v.configs[i] }

// DropBefore discards every entry strictly older than watermark, always
// keeping at least the last entry (spec §4.F VERSIONS pass).
func (v *versionedRawConfigs) DropBefore(watermark uint32) {
	if len(v.versions) <= 1 {
		return
	}
	cut := 0
	for cut < len(v.versions)-1 && v.versions[cut] < watermark {
		cut++
	}
	v.versions = v.versions[cut:]
	v.configs = v.configs[cut:]
}

// TrimLeadingTombstones removes tombstone entries sitting at the front,
// keeping at least one entry.
func (v *versionedRawConfigs) TrimLeadingTombstones() {
	for len(v.versions) > 1 && v.configs[0].IsTombstone() {
		v.versions = v.versions[1:]
		v.configs = v.configs[1:]
	}
}

// OverrideMetadata holds everything known about one override path: its
// version history, the watchers interested in future versions, and any
// tracers watching for new watch activity on this path (spec §6
// submit_trace).
type OverrideMetadata struct {
	rawConfigByVersion versionedRawConfigs
	Watchers           []*WeakWatcher
	Tracers            []*WeakTracer
}

// PutVersion records a new raw config at version, or a tombstone when cfg
// is nil.
func (m *OverrideMetadata) PutVersion(version uint32, cfg *RawConfig) {
	m.rawConfigByVersion.Put(version, cfg)
}

// Latest returns the newest (version, raw config) pair.
func (m *OverrideMetadata) Latest() (uint32, *RawConfig, bool) {
	return m.rawConfigByVersion.Latest()
}

// At returns the raw config visible at the asked version.
func (m *OverrideMetadata) At(version uint32) (*RawConfig, bool) {
	return m.rawConfigByVersion.AtOrBefore(version)
}

// Versions exposes the ordered version history for GC sweeps.
func (m *OverrideMetadata) Versions() *versionedRawConfigs {
	return &m.rawConfigByVersion
}

// IsEmpty reports whether this override has no history, watchers, or
// tracers left, meaning the owning document can drop it (spec §4.F
// VERSIONS pass).
func (m *OverrideMetadata) IsEmpty() bool {
	return m.rawConfigByVersion.Len() == 0 && len(m.Watchers) == 0 && len(m.Tracers) == 0
}

// PruneDeadTracers drops weak tracer entries whose target has been
// collected, returning the number removed (spec §4.F DEAD_POINTERS pass,
// mirroring ConfigNamespace.PruneDeadWatchers).
func (m *OverrideMetadata) PruneDeadTracers() int {
	live := m.Tracers[:0]
	removed := 0
	for _, tr := range m.Tracers {
		if _, ok := tr.Get(); ok {
			live = append(live, tr)
		} else {
			removed++
		}
	}
	m.Tracers = live
	return removed
}

// DocumentMetadata is everything known about one document name within a
// namespace: its overrides, and the reverse reference index used to
// compute the "what else is affected by an update" set (spec §4.D Update,
// step 2).
type DocumentMetadata struct {
	OverrideByKey map[string]*OverrideMetadata
	ReferencedBy  map[string]int
}

// NewDocumentMetadata returns an empty DocumentMetadata.
func NewDocumentMetadata() *DocumentMetadata {
	return &DocumentMetadata{
		OverrideByKey: make(map[string]*OverrideMetadata),
		ReferencedBy:  make(map[string]int),
	}
}

// OverrideMetadataFor returns (creating if needed) the OverrideMetadata for
// overrideKey.
func (d *DocumentMetadata) OverrideMetadataFor(overrideKey string) *OverrideMetadata {
	m, ok := d.OverrideByKey[overrideKey]
	if !ok {
		m = &OverrideMetadata{}
		d.OverrideByKey[overrideKey] = m
	}
	return m
}

// IsEmpty reports whether no overrides remain, meaning the document entry
// itself can be dropped from the namespace (spec §4.F VERSIONS pass).
func (d *DocumentMetadata) IsEmpty() bool {
	return len(d.OverrideByKey) == 0
}
