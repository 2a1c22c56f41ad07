package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"idlharvest/internal/acquire"
	"idlharvest/internal/cache"
	"idlharvest/internal/extract"
	"idlharvest/internal/flow"
	"idlharvest/internal/idl"
	"idlharvest/internal/reconcile"
)

// pipelineParts are the collaborators shared by every acquisition mode.
type pipelineParts struct {
	store     *cache.Store
	extractor *extract.Extractor
	parser    idl.Parser
}

func buildParts(rt *Runtime) (*pipelineParts, error) {
	store, err := cache.New(rt.Config.Cache.Dir, rt.Logger)
	if err != nil {
		return nil, err
	}
	return &pipelineParts{
		store:     store,
		extractor: extract.New(rt.Config.Extract.Selectors),
		parser:    extract.BlockParser{},
	}, nil
}

// newEngine assembles the reconciliation engine around the two pass stages.
func newEngine(rt *Runtime, parts *pipelineParts, first, retry flow.Stage[string, idl.Record]) *reconcile.Engine {
	return &reconcile.Engine{
		FirstPass:   first,
		RetryPass:   retry,
		Store:       parts.store,
		Metrics:     rt.Metrics,
		Logger:      rt.Logger,
		Concurrency: rt.Config.Pool.Concurrency,
		OutputPath:  rt.Config.Output.Path,
	}
}

// lazyStage defers building an expensive stage (a second browser pool)
// until the retry pass actually needs it. detach tears down whatever was
// built; both are safe when the stage never ran.
func lazyStage(
	build func() (flow.Stage[string, idl.Record], func() error, error),
) (stage flow.Stage[string, idl.Record], detach func() error) {
	var (
		once    sync.Once
		built   flow.Stage[string, idl.Record]
		cleanup func() error
		initErr error
	)
	stage = flow.StageFunc[string, idl.Record](func(ctx context.Context, url string) (idl.Record, error) {
		once.Do(func() {
			built, cleanup, initErr = build()
		})
		if initErr != nil {
			return idl.Record{}, fmt.Errorf("build retry stage: %w", initErr)
		}
		return built.Call(ctx, url)
	})
	detach = func() error {
		if cleanup == nil {
			return nil
		}
		return cleanup()
	}
	return stage, detach
}

// degraded is shorthand for the per-URL failure barrier around a binding.
func degraded(rt *Runtime, binding *flow.Binding[string, idl.Record]) flow.Stage[string, idl.Record] {
	return acquire.Degrade(binding, rt.Metrics, rt.Logger)
}

// readURLList loads one raw URL per line, ignoring blanks and # comments.
func readURLList(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied input list.
	if err != nil {
		return nil, fmt.Errorf("open url list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list %s: %w", path, err)
	}
	return urls, nil
}
