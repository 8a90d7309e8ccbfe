package core

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionedRawConfigsAtOrBefore(t *testing.T) {
	var v versionedRawConfigs
	c1 := &RawConfig{ID: 1, Value: "v1"}
	c2 := &RawConfig{ID: 2, Value: "v2"}
	v.Put(10, c1)
	v.Put(20, c2)

	got, ok := v.AtOrBefore(15)
	require.True(t, ok)
	require.Same(t, c1, got)

	got, ok = v.AtOrBefore(20)
	require.True(t, ok)
	require.Same(t, c2, got)

	_, ok = v.AtOrBefore(5)
	require.False(t, ok)
}

func TestVersionedRawConfigsLatest(t *testing.T) {
	var v versionedRawConfigs
	version, cfg, ok := v.Latest()
	require.False(t, ok)
	require.Zero(t, version)
	require.Nil(t, cfg)

	v.Put(7, &RawConfig{ID: 1, Value: "x"})
	version, cfg, ok = v.Latest()
	require.True(t, ok)
	require.Equal(t, uint32(7), version)
	require.Equal(t, "x", cfg.Value)
}

func TestVersionedRawConfigsDropBeforeKeepsAtLeastOne(t *testing.T) {
	var v versionedRawConfigs
	v.Put(1, &RawConfig{ID: 1})
	v.Put(2, &RawConfig{ID: 2})
	v.Put(3, &RawConfig{ID: 3})

	v.DropBefore(3)
	require.Equal(t, 1, v.Len())
	require.Equal(t, uint32(3), v.VersionAt(0))

	v.DropBefore(100)
	require.Equal(t, 1, v.Len(), "DropBefore must never empty the history")
}

func TestVersionedRawConfigsTrimLeadingTombstones(t *testing.T) {
	var v versionedRawConfigs
	v.Put(1, nil)
	v.Put(2, nil)
	v.Put(3, &RawConfig{ID: 3, Value: "live"})

	v.TrimLeadingTombstones()
	require.Equal(t, 1, v.Len())
	require.Equal(t, uint32(3), v.VersionAt(0))
}

func TestRawConfigIsTombstone(t *testing.T) {
	var nilCfg *RawConfig
	require.True(t, nilCfg.IsTombstone())
	require.True(t, (&RawConfig{Value: nil}).IsTombstone())
	require.False(t, (&RawConfig{Value: "x"}).IsTombstone())
}

func TestOverrideMetadataIsEmpty(t *testing.T) {
	m := &OverrideMetadata{}
	require.True(t, m.IsEmpty())

	m.PutVersion(1, &RawConfig{ID: 1, Value: "x"})
	require.False(t, m.IsEmpty())
}

func TestOverrideMetadataIsEmptyConsidersTracers(t *testing.T) {
	m := &OverrideMetadata{}
	weakTracer, handle := NewWeakTracer(&fakeTracer{id: "trace-1"})
	_ = handle
	m.Tracers = append(m.Tracers, weakTracer)
	require.False(t, m.IsEmpty())
}

func TestPruneDeadTracersRemovesOnlyCollected(t *testing.T) {
	m := &OverrideMetadata{}

	live := &fakeTracer{id: "live"}
	liveWeak, liveHandle := NewWeakTracer(live)
	_ = liveHandle

	var deadWeak *WeakTracer
	func() {
		dead := &fakeTracer{id: "dead"}
		var handle *TracerHandle
		deadWeak, handle = NewWeakTracer(dead)
		_ = handle
	}()
	runtime.GC()
	runtime.GC()

	m.Tracers = []*WeakTracer{liveWeak, deadWeak}
	removed := m.PruneDeadTracers()

	require.Equal(t, 1, removed)
	require.Len(t, m.Tracers, 1)
	_, ok := m.Tracers[0].Get()
	require.True(t, ok)
}

func TestDocumentMetadataOverrideMetadataForCreatesOnDemand(t *testing.T) {
	d := NewDocumentMetadata()
	require.True(t, d.IsEmpty())

	om := d.OverrideMetadataFor("base,prod")
	require.NotNil(t, om)
	require.False(t, d.IsEmpty())
	require.Same(t, om, d.OverrideMetadataFor("base,prod"))
}
