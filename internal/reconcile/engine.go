package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idlharvest/internal/cache"
	"idlharvest/internal/flow"
	"idlharvest/internal/idl"
	"idlharvest/internal/metrics"
)

// Engine drives the two-pass acquisition run and persists the result.
// FirstPass acquires with the standard timeouts; RetryPass is a separate
// stage built with wider timeouts and longer page-load waits.
type Engine struct {
	FirstPass   flow.Stage[string, idl.Record]
	RetryPass   flow.Stage[string, idl.Record]
	Store       *cache.Store
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Concurrency int
	OutputPath  string
}

// Run sweeps urls, retries suspect results once, merges against the prior
// dataset at OutputPath, and writes the final dataset back atomically.
func (e *Engine) Run(ctx context.Context, urls []string) (idl.Dataset, error) {
	runID := uuid.NewString()
	logger := e.Logger.With(zap.String("run_id", runID))

	prior, err := idl.Load(e.OutputPath)
	if err != nil {
		// Corrupt prior data means no baseline to reconcile against.
		logger.Warn("prior dataset unreadable, reconciling from scratch", zap.Error(err))
		prior = idl.Dataset{}
	}

	logger.Info("first pass starting", zap.Int("urls", len(urls)), zap.Int("prior_records", len(prior)))
	first, err := e.runPass(ctx, e.FirstPass, urls)
	if err != nil {
		return nil, fmt.Errorf("first pass: %w", err)
	}

	retry := RetrySet(first, prior)
	second := map[string]idl.Record{}
	if len(retry) > 0 {
		logger.Warn("fragment counts regressed, retrying", zap.Strings("urls", retry))
		if e.Metrics != nil {
			e.Metrics.Retries.Add(float64(len(retry)))
		}
		for _, url := range retry {
			if err := e.Store.Invalidate(url); err != nil {
				return nil, fmt.Errorf("invalidate before retry: %w", err)
			}
		}
		second, err = e.runPass(ctx, e.RetryPass, retry)
		if err != nil {
			return nil, fmt.Errorf("retry pass: %w", err)
		}
	}

	final := Resolve(first, second, prior)
	e.logUnrecovered(logger, retry, first, second, prior)

	// The retry binding cached its own output; where resolution rejected
	// that output the cache must be overwritten with the winning record,
	// or the next run re-enters the retry path for an already settled URL.
	for _, url := range retry {
		winner, ok := final.Get(url)
		if !ok {
			continue
		}
		if err := e.Store.PutRecord(winner); err != nil {
			return nil, fmt.Errorf("reprime cache after resolve: %w", err)
		}
	}

	if err := final.Write(e.OutputPath); err != nil {
		return nil, fmt.Errorf("persist dataset: %w", err)
	}
	if e.Metrics != nil {
		e.Metrics.Fragments.Set(float64(final.FragmentCount()))
	}
	logger.Info("dataset written",
		zap.Bool("win", true),
		zap.String("path", e.OutputPath),
		zap.Int("urls", len(final)),
		zap.Int("fragments", final.FragmentCount()),
	)
	return final, nil
}

func (e *Engine) runPass(
	ctx context.Context,
	stage flow.Stage[string, idl.Record],
	urls []string,
) (map[string]idl.Record, error) {
	records := make(map[string]idl.Record, len(urls))
	results, err := flow.Collect[string, idl.Record](ctx, stage, urls, e.Concurrency)
	if err != nil {
		return nil, err
	}
	for _, rec := range results {
		records[rec.URL] = rec
	}
	return records, nil
}

// logUnrecovered reports retry URLs where neither pass reproduced the
// stored fragment count. The prior record stays authoritative; the warning
// keeps the failure audible without aborting the run.
func (e *Engine) logUnrecovered(
	logger *zap.Logger,
	retry []string,
	first, second map[string]idl.Record,
	prior idl.Dataset,
) {
	priorCounts := prior.Counts()
	for _, url := range retry {
		priorCount := priorCounts[url]
		firstCount := len(first[url].Parses)
		secondCount := len(second[url].Parses)
		if firstCount < priorCount && secondCount < priorCount {
			logger.Warn("retry did not recover prior fragment count, prior entry retained",
				zap.String("url", url),
				zap.Int("prior", priorCount),
				zap.Int("first_pass", firstCount),
				zap.Int("second_pass", secondCount),
			)
		}
	}
}
