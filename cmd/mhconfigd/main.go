// Command mhconfigd runs the scheduler/worker/GC pipeline described in
// SPEC_FULL.md behind a minimal HTTP front door. The real gRPC/YAML
// ingestion front door named in spec.md §1 "Out of scope" is not built
// here; `serve` only exercises the interfaces it would call through.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mhconfigd",
		Short: "mhconfig scheduler/worker daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: built-in defaults + MHCONFIG_* env)")
	root.AddCommand(newServeCmd())
	root.AddCommand(newGCNowCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
