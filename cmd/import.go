package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idlharvest/internal/acquire"
	"idlharvest/internal/fetch"
	"idlharvest/internal/urlnorm"
)

func newImportCmd() *cobra.Command {
	var urlsFile string

	cmd := &cobra.Command{
		Use:   "import [urls...]",
		Short: "Import interface definitions over plain HTTP (no browser)",
		Long: `Fetches pages with direct HTTP requests through a disk-backed response
cache, for sources that serve their IDL without JavaScript. Reconciliation
against the stored dataset works the same as in scrape mode; the retry pass
re-fetches with a wider request timeout.`,
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

			httpCfg := rt.Config.HTTP
			cacheDir := filepath.Join(rt.Config.Cache.Dir, "http")
			newSource := func(timeout time.Duration) *fetch.HTTPSource {
				return fetch.NewHTTPSource(fetch.HTTPConfig{
					UserAgent:  rt.Config.Pool.UserAgent,
					Timeout:    timeout,
					CacheDir:   cacheDir,
					MaxRetries: httpCfg.MaxRetries,
					BackoffMin: httpCfg.BackoffInitial(),
					BackoffMax: httpCfg.BackoffMax(),
				}, rt.Logger)
			}

			firstBinding := acquire.NewBinding(
				newSource(httpCfg.Timeout()),
				parts.store, parts.extractor, parts.parser,
				rt.Metrics, rt.Logger,
				acquire.Options{Mode: "import"},
			)
			retryBinding := acquire.NewBinding(
				newSource(3*httpCfg.Timeout()),
				parts.store, parts.extractor, parts.parser,
				rt.Metrics, rt.Logger,
				acquire.Options{Mode: "import"},
			)
			defer func() {
				if err := firstBinding.Detach(); err != nil {
					rt.Logger.Warn("detach first-pass binding", zap.Error(err))
				}
				if err := retryBinding.Detach(); err != nil {
					rt.Logger.Warn("detach retry binding", zap.Error(err))
				}
			}()

			engine := newEngine(rt, parts, degraded(rt, firstBinding), degraded(rt, retryBinding))
			if _, err := engine.Run(cmd.Context(), urls); err != nil {
				return fmt.Errorf("import run: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one raw URL per line")
	return cmd
}
