package cache_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idlharvest/internal/cache"
	"idlharvest/internal/idl"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "https___a_com_idl_", cache.Key("https://a.com/idl/"))
	assert.Equal(t, "abc123", cache.Key("abc123"))
	assert.Equal(t, "a_b_c", cache.Key("a b%c"))
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	t.Run("CreatesNamespaces", func(t *testing.T) {
		root := t.TempDir()
		_, err := cache.New(root, zap.NewNop())
		require.NoError(t, err)
		for _, ns := range []string{"raw", "parsed"} {
			info, err := os.Stat(filepath.Join(root, ns))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})
	t.Run("MissingRoot", func(t *testing.T) {
		_, err := cache.New("  ", zap.NewNop())
		assert.Error(t, err)
	})
}

func TestRawRoundTrip(t *testing.T) {
	store := newStore(t)
	const url = "https://a.com/idl/"

	_, hit, err := store.GetRaw(url)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.PutRaw(url, []byte("<html>interface A {};</html>")))
	got, hit, err := store.GetRaw(url)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []byte("<html>interface A {};</html>"), got)
}

func TestRecordRoundTrip(t *testing.T) {
	store := newStore(t)
	rec := idl.Record{
		URL:    "https://a.com/idl/",
		Parses: []idl.Fragment{json.RawMessage(`{"idl":"interface A {};"}`)},
	}

	_, hit, err := store.GetRecord(rec.URL)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.PutRecord(rec))
	got, hit, err := store.GetRecord(rec.URL)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, rec, got)
}

func TestInvalidate(t *testing.T) {
	store := newStore(t)
	const url = "https://a.com/idl/"

	require.NoError(t, store.PutRaw(url, []byte("raw")))
	require.NoError(t, store.PutRecord(idl.Record{
		URL:    url,
		Parses: []idl.Fragment{json.RawMessage(`{}`)},
	}))

	require.NoError(t, store.Invalidate(url))

	_, hit, err := store.GetRaw(url)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = store.GetRecord(url)
	require.NoError(t, err)
	assert.False(t, hit)

	// Invalidating an absent entry is not an error.
	require.NoError(t, store.Invalidate("https://never.stored/"))
}

func TestCorruptRecordIsAMiss(t *testing.T) {
	root := t.TempDir()
	store, err := cache.New(root, zap.NewNop())
	require.NoError(t, err)

	const url = "https://a.com/idl/"
	path := filepath.Join(root, "parsed", cache.Key(url)+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, hit, err := store.GetRecord(url)
	require.NoError(t, err)
	assert.False(t, hit)
}
