package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/core"
	"github.com/vitaliisemenov/mhconfig/internal/metrics"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
	"github.com/vitaliisemenov/mhconfig/internal/strpool"
)

// newTestScheduler builds a Scheduler with a controllable clock and no
// running goroutine, so gc handlers can be called synchronously and
// timestamps placed exactly where a test needs them.
func newTestScheduler(t *testing.T) (*Scheduler, *time.Time) {
	t.Helper()
	inbox := queue.NewMPSC[command.Scheduler]()
	workers := queue.NewSPMC[command.Worker]()
	sink := metrics.New(prometheus.NewRegistry())
	pool := strpool.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := New(inbox, workers, sink, pool, log, 0)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, &now
}

func (s *Scheduler) testNamespace(rootPath string) *core.ConfigNamespace {
	ns := s.namespaceForPath(rootPath)
	return ns
}

func TestGcGenerationYoungKeepsFreshEntriesInGeneration0(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	fresh := &core.MergedConfig{
		OverridesKey:        "fresh",
		Status:              core.StatusOKNoOptimized,
		CreateTimestamp:     *now,
		LastAccessTimestamp: *now,
	}
	ns.StoreMergedConfig(fresh)

	s.gcGenerationYoung(time.Hour)

	require.Equal(t, []*core.MergedConfig{fresh}, ns.Generations[0])
	require.Empty(t, ns.Generations[1])
}

func TestGcGenerationYoungPromotesOldActiveEntry(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	old := &core.MergedConfig{
		OverridesKey:        "old-active",
		Status:              core.StatusOKOptimized,
		CreateTimestamp:     now.Add(-2 * time.Hour),
		LastAccessTimestamp: *now,
	}
	ns.StoreMergedConfig(old)

	s.gcGenerationYoung(time.Hour)

	require.Empty(t, ns.Generations[0])
	require.Equal(t, []*core.MergedConfig{old}, ns.Generations[1])
}

func TestGcGenerationYoungDropsOldIdleEntry(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	idle := &core.MergedConfig{
		OverridesKey:        "old-idle",
		Status:              core.StatusOKNoOptimized,
		CreateTimestamp:     now.Add(-2 * time.Hour),
		LastAccessTimestamp: now.Add(-2 * time.Hour),
	}
	ns.StoreMergedConfig(idle)

	s.gcGenerationYoung(time.Hour)

	require.Empty(t, ns.Generations[0])
	require.Empty(t, ns.Generations[1])
}

func TestGcGenerationYoungNeverPromotesAStuckBuildingPlaceholder(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	building := &core.MergedConfig{
		OverridesKey:        "still-building",
		Status:              core.StatusBuilding,
		CreateTimestamp:     now.Add(-2 * time.Hour),
		LastAccessTimestamp: now.Add(-2 * time.Hour),
	}
	ns.StoreMergedConfig(building)

	s.gcGenerationYoung(time.Hour)

	require.Equal(t, []*core.MergedConfig{building}, ns.Generations[0])
	require.Empty(t, ns.Generations[1])
}

func TestGcGenerationSeniorIgnoresCreationAgeAndStatus(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	// A just-created but idle entry must still drop from generation 1:
	// unlike generation 0, there is no creation-age gate here.
	idle := &core.MergedConfig{
		OverridesKey:        "idle",
		Status:              core.StatusBuilding,
		CreateTimestamp:     *now,
		LastAccessTimestamp: now.Add(-2 * time.Hour),
	}
	active := &core.MergedConfig{
		OverridesKey:        "active",
		Status:              core.StatusOKNoOptimized,
		CreateTimestamp:     *now,
		LastAccessTimestamp: *now,
	}
	ns.Generations[1] = append(ns.Generations[1], idle, active)

	s.gcGenerationSenior(time.Hour)

	require.Empty(t, ns.Generations[1])
	require.Equal(t, []*core.MergedConfig{active}, ns.Generations[2])
}

func TestGcGenerationTerminalDropsIdleRegardlessOfStatus(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	idle := &core.MergedConfig{
		OverridesKey:        "idle",
		Status:              core.StatusBuilding,
		LastAccessTimestamp: now.Add(-2 * time.Hour),
	}
	active := &core.MergedConfig{
		OverridesKey:        "active",
		Status:              core.StatusOKOptimized,
		LastAccessTimestamp: *now,
	}
	ns.Generations[2] = append(ns.Generations[2], idle, active)

	s.gcGenerationTerminal(2, time.Hour)

	require.Equal(t, []*core.MergedConfig{active}, ns.Generations[2])
}

func TestHandleRunGcDispatchesEveryPassType(t *testing.T) {
	s, _ := newTestScheduler(t)
	ns := s.testNamespace("/ns")
	ns.StoreMergedConfig(&core.MergedConfig{OverridesKey: "a", Status: core.StatusOKNoOptimized})

	for _, pass := range []command.PassType{
		command.PassCacheGeneration0,
		command.PassCacheGeneration1,
		command.PassCacheGeneration2,
		command.PassDeadPointers,
		command.PassNamespaces,
		command.PassVersions,
	} {
		reply := make(chan struct{}, 1)
		result := s.handleRunGc(command.RunGc{Pass: pass, MaxLiveFor: time.Hour, Reply: reply})
		require.Equal(t, "ok", result)
		_, open := <-reply
		require.False(t, open, "reply channel should be closed")
	}
}

func TestSetDocumentsMutatesPlaceholderInPlaceInsteadOfLeakingIt(t *testing.T) {
	s, now := newTestScheduler(t)
	ns := s.testNamespace("/ns")

	key := fingerprint("a.yaml", []string{""}, nil)
	placeholder := ns.GetOrCreateMergedConfig(key, func() *core.MergedConfig {
		return &core.MergedConfig{
			Document:            "a.yaml",
			Status:              core.StatusBuilding,
			CreateTimestamp:     *now,
			LastAccessTimestamp: *now,
		}
	})
	ns.WaitBuiltsByKey[key] = &core.WaitBuilt{OverridesKey: key}

	result := s.handleSetDocuments(command.SetDocuments{
		RootPath:     "/ns",
		OverridesKey: key,
		Document:     "a.yaml",
		Value:        map[string]any{"msg": "hello"},
	})
	require.Equal(t, "ok", result)

	require.Len(t, ns.Generations[0], 1, "build completion must not add a second strong reference")
	require.Same(t, placeholder, ns.Generations[0][0])
	require.Equal(t, core.StatusOKNoOptimized, placeholder.Status)
	require.Equal(t, map[string]any{"msg": "hello"}, placeholder.Value)

	mc, ok := ns.LookupMergedConfig(key)
	require.True(t, ok)
	require.Same(t, placeholder, mc)
}
