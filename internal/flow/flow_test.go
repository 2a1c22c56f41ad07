package flow_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlharvest/internal/flow"
)

// mapCache is an in-memory flow.Cache for tests.
type mapCache[T any] struct {
	mu      sync.Mutex
	entries map[string]T
}

func newMapCache[T any]() *mapCache[T] {
	return &mapCache[T]{entries: map[string]T{}}
}

func (c *mapCache[T]) Get(key string) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok, nil
}

func (c *mapCache[T]) Put(key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func TestNodeMemoization(t *testing.T) {
	var runs atomic.Int32
	node := flow.Node[string, string]{
		Name: "upper",
		Key:  func(in string) string { return "k:" + in },
		Run: func(_ context.Context, in string) (string, error) {
			runs.Add(1)
			return in + "!", nil
		},
		Cache: newMapCache[string](),
	}

	t.Run("SameKeyRunsAtMostOnce", func(t *testing.T) {
		out, err := node.Call(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a!", out)

		out, err = node.Call(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a!", out)
		assert.Equal(t, int32(1), runs.Load())
	})

	t.Run("ChangedKeyRunsAgain", func(t *testing.T) {
		_, err := node.Call(context.Background(), "b")
		require.NoError(t, err)
		assert.Equal(t, int32(2), runs.Load())
	})
}

func TestNodeWithoutCacheAlwaysRuns(t *testing.T) {
	var runs atomic.Int32
	node := flow.Node[int, int]{
		Name: "double",
		Run: func(_ context.Context, in int) (int, error) {
			runs.Add(1)
			return in * 2, nil
		},
	}
	for i := 0; i < 3; i++ {
		out, err := node.Call(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, 10, out)
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestNodeErrorNotCached(t *testing.T) {
	calls := 0
	node := flow.Node[string, string]{
		Name: "flaky",
		Key:  func(in string) string { return in },
		Run: func(_ context.Context, in string) (string, error) {
			calls++
			if calls == 1 {
				return "", fmt.Errorf("transient")
			}
			return in, nil
		},
		Cache: newMapCache[string](),
	}
	_, err := node.Call(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flaky")

	out, err := node.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestThen(t *testing.T) {
	first := flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) {
		return in + 1, nil
	})
	second := flow.StageFunc[int, string](func(_ context.Context, in int) (string, error) {
		return fmt.Sprintf("v%d", in), nil
	})
	out, err := flow.Then[int, int, string](first, second).Call(context.Background(), 41)
	require.NoError(t, err)
	assert.Equal(t, "v42", out)
}

func TestBinding(t *testing.T) {
	t.Run("RunDrivesHead", func(t *testing.T) {
		head := flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) {
			return in * 3, nil
		})
		binding := flow.Bind[int, int](head)
		out, err := binding.Run(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, 21, out)
	})

	t.Run("DetachIsIdempotentAndRunsClosersOnce", func(t *testing.T) {
		var closed atomic.Int32
		binding := flow.Bind[int, int](
			flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) { return in, nil }),
			func() error { closed.Add(1); return nil },
		)
		require.NoError(t, binding.Detach())
		require.NoError(t, binding.Detach())
		assert.Equal(t, int32(1), closed.Load())
	})

	t.Run("RunAfterDetachFails", func(t *testing.T) {
		binding := flow.Bind[int, int](
			flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) { return in, nil }),
		)
		require.NoError(t, binding.Detach())
		_, err := binding.Run(context.Background(), 1)
		assert.ErrorIs(t, err, flow.ErrDetached)
	})
}

func TestCollect(t *testing.T) {
	t.Run("PreservesOrder", func(t *testing.T) {
		stage := flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) {
			return in * in, nil
		})
		out, err := flow.Collect[int, int](context.Background(), stage, []int{1, 2, 3, 4}, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4, 9, 16}, out)
	})

	t.Run("BoundsConcurrency", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		gate := make(chan struct{})
		stage := flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) {
			current := inFlight.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			<-gate
			inFlight.Add(-1)
			return in, nil
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := flow.Collect[int, int](context.Background(), stage, []int{1, 2, 3, 4, 5, 6}, 2)
			assert.NoError(t, err)
		}()
		close(gate)
		<-done
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("ErrorAbortsBatch", func(t *testing.T) {
		stage := flow.StageFunc[int, int](func(_ context.Context, in int) (int, error) {
			if in == 3 {
				return 0, fmt.Errorf("boom on %d", in)
			}
			return in, nil
		})
		_, err := flow.Collect[int, int](context.Background(), stage, []int{1, 2, 3}, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}
