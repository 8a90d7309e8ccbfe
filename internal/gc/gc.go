// Package gc drives the scheduler's periodic RunGc commands. It owns no
// namespace state itself — every actual pass runs on the scheduler
// goroutine (internal/scheduler) — this package only decides cadence and
// pass order.
package gc

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
)

// passOrder is one full GC cycle (spec §4.F): both younger cache
// generations, the terminal one, then the three sweep passes.
var passOrder = [...]command.PassType{
	command.PassCacheGeneration0,
	command.PassCacheGeneration1,
	command.PassCacheGeneration2,
	command.PassDeadPointers,
	command.PassNamespaces,
	command.PassVersions,
}

// Driver issues RunGc commands on a fixed cadence.
type Driver struct {
	sender             *queue.Sender[command.Scheduler]
	log                *slog.Logger
	interval           time.Duration
	namespaceIdleFor   time.Duration
	versionRetainFor   time.Duration
	// limiter guards against a slow-draining scheduler inbox piling up
	// RunGc commands faster than they can be handled; Wait blocks the
	// driver goroutine instead of growing an unbounded backlog.
	limiter *rate.Limiter
}

// New builds a Driver that pushes RunGc commands through sender, which
// must come from the scheduler's own inbox (queue.MPSC.NewSender).
func New(sender *queue.Sender[command.Scheduler], log *slog.Logger, interval, namespaceIdleFor, versionRetainFor time.Duration) *Driver {
	return &Driver{
		sender:           sender,
		log:              log,
		interval:         interval,
		namespaceIdleFor: namespaceIdleFor,
		versionRetainFor: versionRetainFor,
		limiter:          rate.NewLimiter(rate.Every(interval/time.Duration(len(passOrder))), 1),
	}
}

// Run blocks, issuing one full GC cycle every interval, until ctx is
// cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce issues exactly one full GC cycle (every pass in passOrder) and
// returns once the last pass's Reply has closed. Exposed so a one-shot
// CLI invocation (`mhconfigd gc-now`) can force a cycle without waiting
// for the ticker.
func (d *Driver) RunOnce(ctx context.Context) {
	for _, pass := range passOrder {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		reply := make(chan struct{})
		d.sender.Push(command.RunGc{
			Pass:       pass,
			MaxLiveFor: d.maxLiveFor(pass),
			Reply:      reply,
		})

		select {
		case <-reply:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) maxLiveFor(pass command.PassType) time.Duration {
	switch pass {
	case command.PassVersions:
		return d.versionRetainFor
	default:
		return d.namespaceIdleFor
	}
}
