package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

func TestSchedulerCommandsSatisfyMarkerInterface(t *testing.T) {
	var cmds = []Scheduler{
		ApiGet{},
		ApiWatch{},
		SetDocuments{},
		UpdateDocuments{},
		SetOptimizedConfig{},
		AddNamespace{},
		ObtainUsageMetrics{},
		RunGc{},
		Shutdown{},
	}
	require.Len(t, cmds, 9)
}

func TestWorkerCommandsSatisfyMarkerInterface(t *testing.T) {
	var cmds = []Worker{
		Build{},
		Optimize{},
		ApiReply{},
		ApiGetReplyCmd{},
		ApiBatchReply{},
		Update{},
		Setup{},
		UnregisterWatchers{},
	}
	require.Len(t, cmds, 8)
}

func TestDispatchBySchedulerCommandType(t *testing.T) {
	reply := make(chan ApiGetReply, 1)
	var cmd Scheduler = ApiGet{RootPath: "/etc/app", Document: "db.yaml", Reply: reply}

	switch c := cmd.(type) {
	case ApiGet:
		require.Equal(t, "/etc/app", c.RootPath)
	default:
		t.Fatalf("unexpected type %T", c)
	}
}

func TestRunGcPassOrderMatchesOneFullCycle(t *testing.T) {
	order := []PassType{
		PassCacheGeneration0,
		PassCacheGeneration1,
		PassCacheGeneration2,
		PassDeadPointers,
		PassNamespaces,
		PassVersions,
	}
	seen := make(map[PassType]bool)
	for _, p := range order {
		seen[p] = true
	}
	require.Len(t, seen, 6)
}

func TestApiGetReplyCmdCarriesBuiltChannel(t *testing.T) {
	built := make(chan core.BuildResult, 1)
	reply := make(chan ApiGetReply, 1)
	cmd := ApiGetReplyCmd{Reply: reply, Built: built}

	mc := &core.MergedConfig{OverridesKey: "base"}
	cmd.Built <- core.BuildResult{MergedConfig: mc}

	result := <-cmd.Built
	require.Same(t, mc, result.MergedConfig)
}
