package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/mhconfig/internal/config"
)

func newGCNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc-now",
		Short: "Start the pipeline, force one full GC cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGCNow()
		},
	}
}

func runGCNow() error {
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.gcDriver.RunOnce(ctx)

	close(stop)
	a.shutdownPipeline()
	a.log.Info("gc-now: one full cycle completed")
	return nil
}
