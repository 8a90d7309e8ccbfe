package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

func TestMemBuilderMergeOverwritesLeftToRight(t *testing.T) {
	b := MemBuilder{}

	base := &core.RawConfig{Value: map[string]any{"a": 1, "b": 1}}
	prod := &core.RawConfig{Value: map[string]any{"b": 2}}

	merged, err := b.Merge("db.yaml", []*core.RawConfig{base, prod})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, merged)
}

func TestMemBuilderMergeSkipsTombstones(t *testing.T) {
	b := MemBuilder{}

	base := &core.RawConfig{Value: map[string]any{"a": 1}}
	tomb := &core.RawConfig{Value: nil}

	merged, err := b.Merge("db.yaml", []*core.RawConfig{base, tomb})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1}, merged)
}

func TestMemBuilderMergeErrorsWithNoLiveConfigs(t *testing.T) {
	b := MemBuilder{}

	_, err := b.Merge("db.yaml", []*core.RawConfig{{Value: nil}})
	require.Error(t, err)
}

func TestMemFilesRoundTrip(t *testing.T) {
	f := NewMemFiles()
	f.Put("/etc/app", "db.yaml", []byte("host: localhost"))

	namespaces, err := f.ListNamespaces("")
	require.NoError(t, err)
	require.Contains(t, namespaces, "/etc/app")

	docs, err := f.ListDocuments("/etc/app")
	require.NoError(t, err)
	require.Contains(t, docs, "db.yaml")

	data, err := f.ReadDocument("/etc/app", "db.yaml")
	require.NoError(t, err)
	require.Equal(t, "host: localhost", string(data))
}

func TestMemFilesReadUnknownDocumentErrors(t *testing.T) {
	f := NewMemFiles()
	f.Put("/etc/app", "db.yaml", []byte("x"))

	_, err := f.ReadDocument("/etc/app", "missing.yaml")
	require.Error(t, err)

	_, err = f.ReadDocument("/nope", "db.yaml")
	require.Error(t, err)
}
