package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/api"
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
	"github.com/vitaliisemenov/mhconfig/internal/metrics"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
	"github.com/vitaliisemenov/mhconfig/internal/strpool"
	"github.com/vitaliisemenov/mhconfig/internal/worker"
)

// testPipeline wires one scheduler to one worker over real MPSC/SPMC
// queues, the same shape cmd/mhconfigd's app assembles, so these tests
// exercise the actual cross-goroutine command flow rather than calling
// handlers directly.
type testPipeline struct {
	sched     *Scheduler
	workers   *queue.SPMC[command.Worker]
	apiSender *queue.Sender[command.Scheduler]
	files     *api.MemFiles
	stop      chan struct{}
}

func newTestPipeline(t *testing.T, maxNamespaces int) *testPipeline {
	t.Helper()

	inbox := queue.NewMPSC[command.Scheduler]()
	workers := queue.NewSPMC[command.Worker]()
	sink := metrics.New(prometheus.NewRegistry())
	pool := strpool.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := New(inbox, workers, sink, pool, log, maxNamespaces)

	files := api.NewMemFiles()
	receiver := workers.NewReceiver(4)
	toSched := inbox.NewSender(4)
	w := worker.New(0, receiver, toSched, api.MemBuilder{}, files, log)

	apiSender := inbox.NewSender(4)
	stop := make(chan struct{})

	go sched.Run()
	go w.Run(stop)

	t.Cleanup(func() {
		close(stop)
		apiSender.Push(command.Shutdown{})
	})

	return &testPipeline{sched: sched, workers: workers, apiSender: apiSender, files: files, stop: stop}
}

// get retries the ApiGet until it stops erroring (or the deadline passes),
// since Setup/Update ingestion runs concurrently on the worker goroutine
// with no acknowledgement back to the test.
func (p *testPipeline) get(t *testing.T, rootPath, document string, overrides []string) command.ApiGetReply {
	t.Helper()
	var got command.ApiGetReply
	ok := require.Eventually(t, func() bool {
		reply := make(chan command.ApiGetReply, 1)
		p.apiSender.Push(command.ApiGet{RootPath: rootPath, Document: document, Overrides: overrides, Reply: reply})
		select {
		case got = <-reply:
			return got.Err == nil
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	require.True(t, ok, "ApiGet never succeeded, last reply: %+v", got)
	return got
}

type fakeWatcher struct {
	id      string
	updates chan *core.MergedConfig
}

func (w *fakeWatcher) ID() string { return w.id }

func (w *fakeWatcher) NotifyUpdate(mc *core.MergedConfig) {
	w.updates <- mc
}

func TestGetMissBuildsThenServesFromCache(t *testing.T) {
	p := newTestPipeline(t, 0)
	p.files.Put("/ns", "a.yaml", []byte("msg: hello\n"))

	p.workers.Dispatch(command.Setup{Root: "/"})

	result := p.get(t, "/ns", "a.yaml", []string{""})
	require.NoError(t, result.Err)
	require.NotNil(t, result.MergedConfig)
	require.Equal(t, map[string]any{"msg": "hello"}, result.MergedConfig.Value)

	key := fingerprint("a.yaml", []string{""}, nil)
	mc, ok := p.sched.namespaceByPath["/ns"].LookupMergedConfig(key)
	require.True(t, ok)
	require.Same(t, result.MergedConfig, mc)
}

func TestUpdateInvalidatesCacheAndNotifiesWatcher(t *testing.T) {
	p := newTestPipeline(t, 0)
	p.files.Put("/ns", "a.yaml", []byte("msg: hello\n"))
	p.workers.Dispatch(command.Setup{Root: "/"})

	first := p.get(t, "/ns", "a.yaml", []string{""})
	require.Equal(t, map[string]any{"msg": "hello"}, first.MergedConfig.Value)

	fw := &fakeWatcher{id: "watch-1", updates: make(chan *core.MergedConfig, 4)}
	watchReply := make(chan command.ApiGetReply, 1)
	p.apiSender.Push(command.ApiWatch{
		RootPath:  "/ns",
		Document:  "a.yaml",
		Overrides: []string{""},
		Watcher:   fw,
		Reply:     watchReply,
	})

	select {
	case initial := <-watchReply:
		require.NoError(t, initial.Err)
		require.Equal(t, map[string]any{"msg": "hello"}, initial.MergedConfig.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ApiWatch's initial reply")
	}

	p.files.Put("/ns", "a.yaml", []byte("msg: goodbye\n"))
	p.workers.Dispatch(command.Update{RootPath: "/ns", Documents: []string{"a.yaml"}})

	select {
	case mc := <-fw.updates:
		require.NotNil(t, mc)
		require.Equal(t, map[string]any{"msg": "goodbye"}, mc.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher notification after update")
	}

	second := p.get(t, "/ns", "a.yaml", []string{""})
	require.Equal(t, map[string]any{"msg": "goodbye"}, second.MergedConfig.Value)
}

func TestUpdateSoftdeletesNamespaceOnceSaturated(t *testing.T) {
	p := newTestPipeline(t, 0)
	p.files.Put("/ns", "a.yaml", []byte("msg: hello\n"))
	p.workers.Dispatch(command.Setup{Root: "/"})
	p.get(t, "/ns", "a.yaml", []string{""})

	ns := p.sched.namespaceByPath["/ns"]
	require.NotNil(t, ns)
	ns.CurrentVersion = core.MaxVersion - 1

	p.files.Put("/ns", "a.yaml", []byte("msg: again\n"))
	reply := make(chan command.SetDocumentsReply, 1)
	p.apiSender.Push(command.UpdateDocuments{
		RootPath: "/ns",
		Items: []command.DocumentItem{
			{Document: "a.yaml", OverridesKey: core.OverridePath("", nil), Value: map[string]any{"msg": "again"}},
		},
		Reply: reply,
	})

	select {
	case r := <-reply:
		require.Equal(t, command.ResultSoftdeleteNamespace, r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for UpdateDocuments reply")
	}

	require.True(t, ns.Softdeleted)
	_, stillRouted := p.sched.namespaceByPath["/ns"]
	require.False(t, stillRouted)
}

func TestAddNamespaceRejectsOnceMaxReached(t *testing.T) {
	p := newTestPipeline(t, 1)

	first := make(chan command.AddNamespaceReply, 1)
	p.apiSender.Push(command.AddNamespace{RootPath: "/ns-a", Reply: first})
	require.NoError(t, (<-first).Err)

	second := make(chan command.AddNamespaceReply, 1)
	p.apiSender.Push(command.AddNamespace{RootPath: "/ns-b", Reply: second})
	result := <-second
	require.ErrorIs(t, result.Err, core.ErrTooManyNamespaces)

	// Re-registering the namespace already counted against the cap must
	// still succeed.
	again := make(chan command.AddNamespaceReply, 1)
	p.apiSender.Push(command.AddNamespace{RootPath: "/ns-a", Reply: again})
	require.NoError(t, (<-again).Err)
}
