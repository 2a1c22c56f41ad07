package reconcile_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idlharvest/internal/cache"
	"idlharvest/internal/flow"
	"idlharvest/internal/idl"
	"idlharvest/internal/reconcile"
)

// stubStage returns canned records per URL and counts calls.
type stubStage struct {
	records map[string]idl.Record
	calls   atomic.Int32
}

func (s *stubStage) Call(_ context.Context, url string) (idl.Record, error) {
	s.calls.Add(1)
	if rec, ok := s.records[url]; ok {
		return rec, nil
	}
	return idl.Record{URL: url, Parses: []idl.Fragment{}}, nil
}

func newEngine(t *testing.T, first, retry flow.Stage[string, idl.Record]) (*reconcile.Engine, *cache.Store, string) {
	t.Helper()
	store, err := cache.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "dataset.json")
	return &reconcile.Engine{
		FirstPass:   first,
		RetryPass:   retry,
		Store:       store,
		Logger:      zap.NewNop(),
		Concurrency: 2,
		OutputPath:  out,
	}, store, out
}

func TestEngineRun(t *testing.T) {
	const u = "https://a.com/spec/"

	t.Run("CleanFirstPassSkipsRetry", func(t *testing.T) {
		first := &stubStage{records: map[string]idl.Record{u: record(u, 2)}}
		retry := &stubStage{}
		engine, _, out := newEngine(t, first, retry)

		final, err := engine.Run(context.Background(), []string{u})
		require.NoError(t, err)
		assert.Equal(t, 2, final.FragmentCount())
		assert.Equal(t, int32(0), retry.calls.Load())

		persisted, err := idl.Load(out)
		require.NoError(t, err)
		assert.Equal(t, final.Counts(), persisted.Counts())
	})

	t.Run("RegressionInvalidatesCacheAndRetries", func(t *testing.T) {
		first := &stubStage{records: map[string]idl.Record{u: record(u, 1)}}
		retry := &stubStage{records: map[string]idl.Record{u: record(u, 3)}}
		engine, store, out := newEngine(t, first, retry)

		// Prior dataset holds 3 fragments; seed cache entries that the
		// retry must not reuse.
		require.NoError(t, idl.Dataset{record(u, 3)}.Write(out))
		require.NoError(t, store.PutRaw(u, []byte("stale")))
		require.NoError(t, store.PutRecord(record(u, 1)))

		final, err := engine.Run(context.Background(), []string{u})
		require.NoError(t, err)
		assert.Equal(t, int32(1), retry.calls.Load())

		got, ok := final.Get(u)
		require.True(t, ok)
		assert.Len(t, got.Parses, 3)

		// Invalidation removed both namespaces before the retry ran.
		_, hit, err := store.GetRaw(u)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("RetryBelowPriorRetainsPriorEntry", func(t *testing.T) {
		first := &stubStage{records: map[string]idl.Record{u: record(u, 1)}}
		retry := &stubStage{records: map[string]idl.Record{u: record(u, 2)}}
		engine, _, out := newEngine(t, first, retry)
		require.NoError(t, idl.Dataset{record(u, 5)}.Write(out))

		final, err := engine.Run(context.Background(), []string{u})
		require.NoError(t, err)
		got, ok := final.Get(u)
		require.True(t, ok)
		assert.Len(t, got.Parses, 5)
	})

	t.Run("RejectedRetryRecordOverwrittenInCache", func(t *testing.T) {
		// Both passes fall short of the prior count. The retry binding would
		// have cached its own rejected record; after resolution the cache
		// must hold the winning prior record so the next run sees no
		// regression for this URL.
		first := &stubStage{records: map[string]idl.Record{u: record(u, 2)}}
		retry := &stubStage{records: map[string]idl.Record{u: record(u, 3)}}
		engine, store, out := newEngine(t, first, retry)
		require.NoError(t, idl.Dataset{record(u, 5)}.Write(out))
		require.NoError(t, store.PutRecord(record(u, 3)))

		final, err := engine.Run(context.Background(), []string{u})
		require.NoError(t, err)
		require.Equal(t, int32(1), retry.calls.Load())

		got, ok := final.Get(u)
		require.True(t, ok)
		require.Len(t, got.Parses, 5)

		cached, hit, err := store.GetRecord(u)
		require.NoError(t, err)
		require.True(t, hit)
		assert.Len(t, cached.Parses, 5)
	})

	t.Run("CorruptPriorDatasetReconcilesFromScratch", func(t *testing.T) {
		first := &stubStage{records: map[string]idl.Record{u: record(u, 2)}}
		engine, _, out := newEngine(t, first, &stubStage{})
		require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o750))
		require.NoError(t, os.WriteFile(out, []byte("{corrupt"), 0o600))

		final, err := engine.Run(context.Background(), []string{u})
		require.NoError(t, err)
		assert.Equal(t, 2, final.FragmentCount())
	})

	t.Run("OutputSortedByURL", func(t *testing.T) {
		urls := []string{"https://b.org/", "https://a.com/", "https://c.net/"}
		records := map[string]idl.Record{}
		for _, u := range urls {
			records[u] = record(u, 1)
		}
		engine, _, out := newEngine(t, &stubStage{records: records}, &stubStage{})

		_, err := engine.Run(context.Background(), urls)
		require.NoError(t, err)

		persisted, err := idl.Load(out)
		require.NoError(t, err)
		require.Len(t, persisted, 3)
		assert.Equal(t, "https://a.com/", persisted[0].URL)
		assert.Equal(t, "https://c.net/", persisted[2].URL)
	})
}
