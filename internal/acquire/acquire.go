// Package acquire turns canonical URLs into parse records, composing the
// fetch, extract, and parse stages on the memoized dataflow engine.
package acquire

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"idlharvest/internal/cache"
	"idlharvest/internal/extract"
	"idlharvest/internal/fetch"
	"idlharvest/internal/flow"
	"idlharvest/internal/idl"
	"idlharvest/internal/metrics"
)

// page carries fetched content between stages.
type page struct {
	URL   string
	Files []string
	Body  []byte
}

// candidate carries extracted IDL blocks between stages.
type candidate struct {
	URL    string
	Files  []string
	Blocks []string
}

// Options configure one acquisition binding.
type Options struct {
	// Mode labels the fetch path in logs and metrics: scrape, import, local.
	Mode string
	// AnnotateFiles records the file:// path in the record's files list.
	AnnotateFiles bool
}

// recordCache adapts the content cache store's parsed namespace to the
// dataflow engine.
type recordCache struct {
	store *cache.Store
	mets  *metrics.Metrics
}

func (c recordCache) Get(key string) (idl.Record, bool, error) {
	rec, hit, err := c.store.GetRecordKey(key)
	if hit && c.mets != nil {
		c.mets.CacheHits.WithLabelValues("parsed").Inc()
	}
	return rec, hit, err
}

func (c recordCache) Put(key string, rec idl.Record) error {
	return c.store.PutRecordKey(key, rec)
}

// NewBinding composes a fetch → extract → parse chain whose head is
// memoized in store's parsed namespace, keyed by the URL's cache key. A hit
// on the head returns the stored record without touching the source; the
// raw-byte fast path lives inside the source itself. Closers (pool
// teardown) run when the binding is detached.
func NewBinding(
	source fetch.Source,
	store *cache.Store,
	extractor *extract.Extractor,
	parser idl.Parser,
	mets *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
	closers ...func() error,
) *flow.Binding[string, idl.Record] {
	fetchStage := flow.Node[string, page]{
		Name: "fetch",
		Run: func(ctx context.Context, url string) (page, error) {
			body, err := source.Fetch(ctx, url)
			if err != nil {
				return page{}, err
			}
			if mets != nil {
				mets.Fetches.WithLabelValues(opts.Mode).Inc()
			}
			p := page{URL: url, Body: body}
			if opts.AnnotateFiles {
				p.Files = []string{fileOf(url)}
			}
			return p, nil
		},
	}

	extractStage := flow.Node[page, candidate]{
		Name: "extract",
		Run: func(_ context.Context, p page) (candidate, error) {
			return candidate{URL: p.URL, Files: p.Files, Blocks: extractor.Blocks(p.Body)}, nil
		},
	}

	parseStage := flow.Node[candidate, idl.Record]{
		Name: "parse",
		Run: func(_ context.Context, c candidate) (idl.Record, error) {
			rec := idl.Record{URL: c.URL, Files: c.Files, Parses: []idl.Fragment{}}
			for _, block := range c.Blocks {
				fragments, err := parser.Parse([]byte(block))
				if err != nil {
					return idl.Record{}, fmt.Errorf("parse block from %s: %w", c.URL, err)
				}
				rec.Parses = append(rec.Parses, fragments...)
			}
			if rec.Empty() {
				return idl.Record{}, fmt.Errorf("%s: %w", c.URL, idl.ErrNoFragments)
			}
			return rec, nil
		},
	}

	inner := flow.Then[string, page, idl.Record](
		fetchStage,
		flow.Then[page, candidate, idl.Record](extractStage, parseStage),
	)

	head := flow.Node[string, idl.Record]{
		Name:   "acquire",
		Key:    cache.Key,
		Run:    inner.Call,
		Cache:  recordCache{store: store, mets: mets},
		Logger: logger,
	}

	return flow.Bind[string, idl.Record](head, closers...)
}

func fileOf(url string) string {
	const prefix = "file://"
	if len(url) > len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}

// Degrade wraps a binding so per-URL failures become empty-parses records:
// one failing URL never aborts the batch. Fetch errors log at error level,
// zero-fragment extraction logs as a warning.
func Degrade(
	binding *flow.Binding[string, idl.Record],
	mets *metrics.Metrics,
	logger *zap.Logger,
) flow.Stage[string, idl.Record] {
	return flow.StageFunc[string, idl.Record](func(ctx context.Context, url string) (idl.Record, error) {
		rec, err := binding.Run(ctx, url)
		if err == nil {
			return rec, nil
		}
		switch {
		case errors.Is(err, flow.ErrShapeMismatch), errors.Is(err, flow.ErrDetached):
			// Contract violations stay fatal.
			return idl.Record{}, err
		case errors.Is(err, idl.ErrNoFragments):
			logger.Warn("no fragments extracted", zap.String("url", url))
			if mets != nil {
				mets.Failures.WithLabelValues("no_fragments").Inc()
			}
		default:
			logger.Error("acquisition failed", zap.String("url", url), zap.Error(err))
			if mets != nil {
				mets.Failures.WithLabelValues("fetch").Inc()
			}
		}
		return idl.Record{URL: url, Parses: []idl.Fragment{}}, nil
	})
}

// All runs stage over every URL with the given fan-out bound and returns
// the per-URL records.
func All(
	ctx context.Context,
	stage flow.Stage[string, idl.Record],
	urls []string,
	parallel int,
) (map[string]idl.Record, error) {
	records, err := flow.Collect[string, idl.Record](ctx, stage, urls, parallel)
	if err != nil {
		return nil, err
	}
	out := make(map[string]idl.Record, len(records))
	for _, rec := range records {
		out[rec.URL] = rec
	}
	return out, nil
}
