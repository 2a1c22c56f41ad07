// Package cmd defines and implements the CLI commands for the idlharvest
// executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idlharvest/internal/config"
	"idlharvest/internal/logging"
	"idlharvest/internal/metrics"
)

var cfgFile string

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// Runtime bundles the process-wide handles every subcommand needs: the
// loaded configuration, the logger, and the metrics registry. It is built
// once and passed through the command context, never looked up globally.
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Close flushes the logger.
func (r *Runtime) Close() {
	_ = r.Logger.Sync()
}

// newRuntime is a variable so tests can inject a mock factory.
var newRuntime = func(_ context.Context) (*Runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Runtime{Config: cfg, Logger: logger, Metrics: metrics.New()}, nil
}

func resolveRuntime(ctx context.Context) (*Runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*Runtime)
	if !ok || rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	return rt, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idlharvest",
		Short: "Acquires and reconciles WebIDL interface definitions scraped from the web.",
		Long: `idlharvest scrapes structured interface definitions (WebIDL fragments)
from remote pages or local files, caches content on disk, and incrementally
re-validates the stored dataset so fragment counts never silently regress.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}
			rt.Metrics.Serve(cmd.Context(), rt.Config.Metrics.Addr, rt.Logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*Runtime); ok && rt != nil {
				rt.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus IDLHARVEST_* env)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newLocalCmd())

	return cmd
}

// Execute is the main entry point. Any error that escapes a subcommand is a
// systemic failure: it is logged with its stack and terminates the process
// with a non-zero status.
func Execute() error {
	return newRootCmd().Execute()
}
