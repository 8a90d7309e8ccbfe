package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/mhconfig/internal/command"
	"github.com/vitaliisemenov/mhconfig/internal/config"
	"github.com/vitaliisemenov/mhconfig/internal/watchtransport"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler/worker pipeline behind a minimal HTTP front door",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	a.startPipeline(stop)
	a.bootstrap()
	go a.gcDriver.Run(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/v1/config", a.handleGet)
	mux.HandleFunc("/v1/watch", a.handleWatch)
	mux.HandleFunc("/v1/trace", a.handleTrace)

	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		a.log.Info("serve: http server starting", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("serve: http server failed", "err", err)
		}
	}()

	<-quit
	a.log.Info("serve: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.log.Error("serve: forced shutdown", "err", err)
	}

	close(stop)
	a.shutdownPipeline()
	a.log.Info("serve: exited")
	return nil
}

// handleGet bridges one HTTP request into an ApiGet scheduler command and
// waits for its reply (spec §4.C "Get").
func (a *app) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, _ := strconv.ParseUint(q.Get("version"), 10, 32)

	reply := make(chan command.ApiGetReply, 1)
	a.apiSender.Push(command.ApiGet{
		RootPath:  q.Get("root"),
		Document:  q.Get("document"),
		Overrides: splitCSV(q.Get("overrides")),
		Flavors:   splitCSV(q.Get("flavors")),
		Version:   uint32(version),
		Reply:     reply,
	})

	select {
	case result := <-reply:
		writeGetResult(w, result)
	case <-time.After(10 * time.Second):
		http.Error(w, "timed out waiting for build", http.StatusGatewayTimeout)
	}
}

// handleWatch upgrades to a websocket and registers it as a core.Watcher
// (spec §4.C "Watch"). The initial resolution arrives on the ApiWatch
// reply channel; every later notification is delivered straight to the
// connection by the worker pool via NotifyUpdate.
func (a *app) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := watchtransport.Upgrade(w, r, a.log)
	if err != nil {
		a.log.Warn("serve: websocket upgrade failed", "err", err)
		return
	}
	go conn.Run()

	q := r.URL.Query()
	reply := make(chan command.ApiGetReply, 1)
	a.apiSender.Push(command.ApiWatch{
		RootPath:  q.Get("root"),
		Document:  q.Get("document"),
		Overrides: splitCSV(q.Get("overrides")),
		Flavors:   splitCSV(q.Get("flavors")),
		Watcher:   conn,
		Reply:     reply,
	})

	go func() {
		select {
		case result := <-reply:
			conn.NotifyUpdate(result.MergedConfig)
		case <-time.After(10 * time.Second):
			conn.NotifyUpdate(nil)
		}
	}()
}

// handleTrace upgrades to a websocket and registers it as a core.Tracer
// (spec §6 submit_trace): it receives one JSON frame every time a new
// Watch lands on the same document/overrides/flavors path, distinct from
// receiving config values itself.
func (a *app) handleTrace(w http.ResponseWriter, r *http.Request) {
	conn, err := watchtransport.UpgradeTrace(w, r, a.log)
	if err != nil {
		a.log.Warn("serve: trace websocket upgrade failed", "err", err)
		return
	}
	go conn.Run()

	q := r.URL.Query()
	reply := make(chan error, 1)
	a.apiSender.Push(command.ApiTrace{
		RootPath:  q.Get("root"),
		Document:  q.Get("document"),
		Overrides: splitCSV(q.Get("overrides")),
		Flavors:   splitCSV(q.Get("flavors")),
		Tracer:    conn,
		Reply:     reply,
	})

	go func() {
		select {
		case err := <-reply:
			if err != nil {
				conn.Close()
			}
		case <-time.After(10 * time.Second):
			conn.Close()
		}
	}()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func writeGetResult(w http.ResponseWriter, result command.ApiGetReply) {
	if result.Err != nil {
		http.Error(w, result.Err.Error(), http.StatusBadRequest)
		return
	}
	if result.MergedConfig == nil {
		http.Error(w, "no merged config", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"document":      result.MergedConfig.Document,
		"overrides_key": result.MergedConfig.OverridesKey,
		"version":       result.MergedConfig.Version,
		"value":         result.MergedConfig.Value,
	})
}
