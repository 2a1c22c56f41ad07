package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idlharvest/internal/acquire"
	"idlharvest/internal/fetch"
	"idlharvest/internal/flow"
	"idlharvest/internal/idl"
	"idlharvest/internal/pool"
	"idlharvest/internal/urlnorm"
)

func newScrapeCmd() *cobra.Command {
	var urlsFile string

	cmd := &cobra.Command{
		Use:   "scrape [urls...]",
		Short: "Scrape interface definitions from remote pages with headless browsers",
		Long: `Canonicalizes the given URLs, sweeps them through a bounded pool of
headless-browser sessions, and reconciles the extracted WebIDL fragments
against the previously stored dataset. URLs whose fragment counts regressed
get one retry pass with wider timeouts before the dataset is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}

			raw := args
			if urlsFile != "" {
				fromFile, err := readURLList(urlsFile)
				if err != nil {
					return err
				}
				raw = append(raw, fromFile...)
			}
			if len(raw) == 0 {
				return fmt.Errorf("no urls given: pass them as arguments or via --urls-file")
			}
			urls, err := urlnorm.Canonicalize(raw)
			if err != nil {
				return fmt.Errorf("canonicalize input: %w", err)
			}

			parts, err := buildParts(rt)
			if err != nil {
				return err
			}

			cfg := rt.Config.Pool
			factory := pool.NewChromedpFactory(pool.ChromedpConfig{
				UserAgent: cfg.UserAgent,
				Headless:  cfg.Headless,
			})

			firstPool, err := pool.New(cfg.Instances, factory, pool.Options{
				NavTimeout: cfg.NavTimeout(),
				PageWait:   cfg.PageWait(),
				DomainQPS:  cfg.DomainQPS,
			}, rt.Logger)
			if err != nil {
				return fmt.Errorf("build scrape pool: %w", err)
			}
			firstBinding := acquire.NewBinding(
				fetch.NewPoolSource(firstPool, parts.store),
				parts.store, parts.extractor, parts.parser,
				rt.Metrics, rt.Logger,
				acquire.Options{Mode: "scrape"},
				firstPool.Destroy,
			)
			defer func() {
				if err := firstBinding.Detach(); err != nil {
					rt.Logger.Warn("detach first-pass binding", zap.Error(err))
				}
			}()

			// The retry pool only spawns browsers if a retry pass happens.
			retryStage, detachRetry := lazyStage(func() (flow.Stage[string, idl.Record], func() error, error) {
				retryPool, err := pool.New(cfg.Instances, factory, pool.Options{
					NavTimeout: cfg.RetryNavTimeout(),
					PageWait:   cfg.RetryPageWait(),
					DomainQPS:  cfg.DomainQPS,
				}, rt.Logger)
				if err != nil {
					return nil, nil, err
				}
				binding := acquire.NewBinding(
					fetch.NewPoolSource(retryPool, parts.store),
					parts.store, parts.extractor, parts.parser,
					rt.Metrics, rt.Logger,
					acquire.Options{Mode: "scrape"},
					retryPool.Destroy,
				)
				return degraded(rt, binding), binding.Detach, nil
			})
			defer func() {
				if err := detachRetry(); err != nil {
					rt.Logger.Warn("detach retry binding", zap.Error(err))
				}
			}()

			engine := newEngine(rt, parts, degraded(rt, firstBinding), retryStage)
			if _, err := engine.Run(cmd.Context(), urls); err != nil {
				return fmt.Errorf("scrape run: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one raw URL per line")
	return cmd
}
