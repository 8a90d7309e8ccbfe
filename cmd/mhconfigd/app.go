package main

import (
	"log/slog"

	"github.com/vitaliisemenov/mhconfig/internal/api"
	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/config"
	"github.com/vitaliisemenov/mhconfig/internal/gc"
	"github.com/vitaliisemenov/mhconfig/internal/metrics"
	"github.com/vitaliisemenov/mhconfig/internal/queue"
	"github.com/vitaliisemenov/mhconfig/internal/scheduler"
	"github.com/vitaliisemenov/mhconfig/internal/strpool"
	"github.com/vitaliisemenov/mhconfig/internal/worker"
	"github.com/vitaliisemenov/mhconfig/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// app bundles everything one mhconfigd process needs, wired once at
// startup (spec §4.B). There is no real YAML/gRPC front door (spec §1
// Non-goals); api.MemBuilder/api.MemFiles stand in for the out-of-scope
// Builder/Files implementations so the pipeline still runs end to end.
type app struct {
	cfg *config.Config
	log *slog.Logger
	reg *prometheus.Registry

	pool      *strpool.Pool
	inbox     *queue.MPSC[command.Scheduler]
	workers   *queue.SPMC[command.Worker]
	sched     *scheduler.Scheduler
	gcDriver  *gc.Driver
	apiSender *queue.Sender[command.Scheduler]

	workerHandles []*worker.Worker
}

// newApp wires the pool, queues, scheduler, worker pool, and GC driver
// from cfg. Call startPipeline to begin draining; schedulers/workers are single
// goroutines each, started by the caller so tests can drive them
// synchronously instead.
func newApp(cfg *config.Config) (*app, error) {
	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	reg := prometheus.NewRegistry()
	sink := metrics.New(reg)

	pool := strpool.New()

	inbox := queue.NewMPSC[command.Scheduler]()
	workers := queue.NewSPMC[command.Worker]()

	sched := scheduler.New(inbox, workers, sink, pool, log.With("component", "scheduler"), cfg.Scheduler.MaxNamespaces)

	builder := api.MemBuilder{}
	files := api.NewMemFiles()

	numWorkers := cfg.Worker.NumWorkers
	handles := make([]*worker.Worker, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		receiver := workers.NewReceiver(cfg.Queue.WorkerInboxCapacityLog2)
		toSched := inbox.NewSender(cfg.Queue.SchedulerInboxCapacityLog2)
		wlog := log.With("component", "worker", "worker_id", i)
		handles = append(handles, worker.New(i, receiver, toSched, builder, files, wlog))
	}

	gcSender := inbox.NewSender(cfg.Queue.SchedulerInboxCapacityLog2)
	gcDriver := gc.New(gcSender, log.With("component", "gc"),
		cfg.GC.Interval, cfg.GC.NamespaceIdleTimeout, cfg.GC.VersionRetentionWindow)

	apiSender := inbox.NewSender(cfg.Queue.SchedulerInboxCapacityLog2)

	return &app{
		cfg:           cfg,
		log:           log,
		reg:           reg,
		pool:          pool,
		inbox:         inbox,
		workers:       workers,
		sched:         sched,
		gcDriver:      gcDriver,
		apiSender:     apiSender,
		workerHandles: handles,
	}, nil
}

// startPipeline launches the scheduler loop and every worker on its own
// goroutine. stop is closed to ask the workers to exit; the scheduler
// itself is stopped by pushing a command.Shutdown (see shutdownPipeline).
func (a *app) startPipeline(stop <-chan struct{}) {
	go a.sched.Run()
	for _, w := range a.workerHandles {
		go w.Run(stop)
	}
}

// shutdownPipeline asks the scheduler loop to return.
func (a *app) shutdownPipeline() {
	a.apiSender.Push(command.Shutdown{})
}

// bootstrap dispatches the initial Setup scan a worker needs to discover
// any namespaces already present under api.Files before the first Get
// can hit anything (spec §4.B). api.MemFiles starts empty in this binary
// (the real YAML ingestion engine is out of scope, spec §1), so this is a
// no-op today, but every SPEC_FULL.md entry point still goes through the
// same Setup path tests exercise rather than skipping it.
func (a *app) bootstrap() {
	a.workers.Dispatch(command.Setup{Root: "/"})
}
