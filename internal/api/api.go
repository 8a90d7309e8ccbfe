// Package api defines the seams between the scheduler/worker core and
// everything that sits outside it: how configs get ingested, how a build
// actually merges documents, how replies reach a caller, and where the
// raw documents live. Concrete implementations are out of scope for the
// core pipeline (spec §1 Non-goals: YAML ingestion, wire transport) but
// the interfaces let the pipeline be driven end-to-end by a test double.
package api

import (
	"context"
	"time"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// GetRequest asks for a single document merged across an overrides chain
// at an optional pinned version (0 means "current").
type GetRequest struct {
	RootPath  string
	Document  string
	Overrides []string
	Flavors   []string
	Version   uint32
}

// WatchRequest is a GetRequest plus a live Watcher to notify on future
// versions.
type WatchRequest struct {
	GetRequest
	Watcher core.Watcher
}

// UpdateRequest carries one or more raw documents to ingest into a
// namespace, either from an initial scan (Setup) or a later change
// (Update).
type UpdateRequest struct {
	RootPath  string
	Documents []string
}

// TraceRequest registers a Tracer against a document's override chain so
// it is notified whenever a future Watch lands on the same path (spec §6
// submit_trace). It carries no version: a trace observes watch activity,
// never a config value.
type TraceRequest struct {
	RootPath  string
	Document  string
	Overrides []string
	Flavors   []string
	Tracer    core.Tracer
}

// IngestAPI is the caller-facing surface for getting and watching merged
// configs, tracing watch activity, and pushing document updates into a
// namespace (spec §6: submit_get, submit_watch, submit_trace,
// submit_update, submit_run_gc; RunGc is driven by internal/gc rather
// than this caller-facing seam).
type IngestAPI interface {
	Get(ctx context.Context, req GetRequest) (*core.MergedConfig, error)
	Watch(ctx context.Context, req WatchRequest) (*core.MergedConfig, error)
	Trace(ctx context.Context, req TraceRequest) error
	Update(ctx context.Context, req UpdateRequest) (uint32, error)
}

// Builder merges a document's raw configs across an override chain into a
// single Element, and loads a raw document from its serialized form. A
// worker calls Builder once it has pulled a Build command off its inbox.
type Builder interface {
	// Merge combines rawConfigs (already ordered override-first to
	// override-last) into one merged Element.
	Merge(document string, rawConfigs []*core.RawConfig) (core.Element, error)
	// Optimize computes the reusable serialized form cached on
	// MergedConfig.Preprocessed.
	Optimize(value core.Element) (core.Element, error)
	// LoadRawConfig parses one on-disk document into an Element plus its
	// outgoing reference set.
	LoadRawConfig(path string, data []byte) (core.Element, map[string]struct{}, error)
}

// ReplyAPI delivers a finished MergedConfig (or error) to whatever asked
// for it: a single Get caller, a set of coalesced waiters, or a watcher's
// transport.
type ReplyAPI interface {
	ReplyGet(req GetRequest, result core.BuildResult)
	ReplyWatch(w core.Watcher, mc *core.MergedConfig)
	ReplyBatch(waiters []chan core.BuildResult, result core.BuildResult)
}

// Metrics is the scheduler/worker-facing metrics sink, narrow enough that
// a test double can implement it without pulling in Prometheus.
// internal/metrics.Sink satisfies this.
type Metrics interface {
	RecordCommand(command, result string, d time.Duration)
	SetNamespacesActive(n int)
	SetWatchersActive(n int64)
	SetPoolStats(numStrings, numChunks, usedBytes int)
	RecordGCPass(pass string, d time.Duration, reclaimed int)
	RecordBuildCoalesced()
}

// Files abstracts the document source a worker's Setup/Update commands
// read from, so tests can drive the pipeline without a real filesystem.
type Files interface {
	// ListNamespaces returns every root path found under root.
	ListNamespaces(root string) ([]string, error)
	// ReadDocument returns the raw bytes of one document under rootPath.
	ReadDocument(rootPath, document string) ([]byte, error)
	// ListDocuments returns every document name under rootPath.
	ListDocuments(rootPath string) ([]string, error)
}
