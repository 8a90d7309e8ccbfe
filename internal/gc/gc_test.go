package gc

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
)

func TestDriverIssuesOneFullCycle(t *testing.T) {
	inbox := queue.NewMPSC[command.Scheduler]()
	sender := inbox.NewSender(4)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := New(sender, log, 20*time.Millisecond, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan command.PassType, len(passOrder)*3)
	go func() {
		for {
			cmd := inbox.Pop()
			rg, ok := cmd.(command.RunGc)
			if !ok {
				continue
			}
			seen <- rg.Pass
			if rg.Reply != nil {
				close(rg.Reply)
			}
		}
	}()

	go d.Run(ctx)

	var got []command.PassType
	for i := 0; i < len(passOrder); i++ {
		select {
		case p := <-seen:
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a GC pass")
		}
	}

	require.Equal(t, passOrder[:], got)
}
