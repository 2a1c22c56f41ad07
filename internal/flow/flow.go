// Package flow is a generic incremental-computation substrate: named stages
// chained into bindings, each stage optionally memoized in a durable cache
// under a content-derived key so repeated runs only recompute stages whose
// effective input changed.
package flow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrShapeMismatch reports a programming-contract violation: a stage
// produced output whose cardinality cannot be aligned with its input.
// It is fatal and must propagate to process termination.
var ErrShapeMismatch = errors.New("pipeline stage output shape mismatch")

// ErrDetached reports a Run on a binding whose resources were already
// released.
var ErrDetached = errors.New("pipeline binding is detached")

// Stage is one computation step in a binding.
type Stage[In, Out any] interface {
	Call(ctx context.Context, in In) (Out, error)
}

// StageFunc adapts a function to Stage.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// Call implements Stage.
func (f StageFunc[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Cache persists stage outputs keyed by content-derived strings. Get
// reports a miss with false; implementations must treat undecodable
// stored values as misses, not errors.
type Cache[T any] interface {
	Get(key string) (T, bool, error)
	Put(key string, value T) error
}

// Node wraps a computation with a key-derivation function over its input
// and an optional durable cache. Run is re-invoked only when Key(input)
// differs from every key already recorded in the cache; a nil Cache means
// the node always runs.
type Node[In, Out any] struct {
	Name   string
	Key    func(In) string
	Run    func(ctx context.Context, in In) (Out, error)
	Cache  Cache[Out]
	Logger *zap.Logger
}

// Call implements Stage with memoization.
func (n Node[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	var zero Out
	if n.Cache == nil {
		out, err := n.Run(ctx, in)
		if err != nil {
			return zero, fmt.Errorf("stage %s: %w", n.Name, err)
		}
		return out, nil
	}

	key := n.Key(in)
	cached, hit, err := n.Cache.Get(key)
	if err != nil {
		return zero, fmt.Errorf("stage %s: cache get %s: %w", n.Name, key, err)
	}
	if hit {
		if n.Logger != nil {
			n.Logger.Debug("stage cache hit", zap.String("stage", n.Name), zap.String("key", key))
		}
		return cached, nil
	}

	out, err := n.Run(ctx, in)
	if err != nil {
		return zero, fmt.Errorf("stage %s: %w", n.Name, err)
	}
	if err := n.Cache.Put(key, out); err != nil {
		return zero, fmt.Errorf("stage %s: cache put %s: %w", n.Name, key, err)
	}
	return out, nil
}

// Then chains two stages: the first stage's output feeds the second.
func Then[A, B, C any](first Stage[A, B], next Stage[B, C]) Stage[A, C] {
	return StageFunc[A, C](func(ctx context.Context, in A) (C, error) {
		var zero C
		mid, err := first.Call(ctx, in)
		if err != nil {
			return zero, err
		}
		return next.Call(ctx, mid)
	})
}

// Binding owns a chain of stages behind a single head plus the resources
// (browser pools, open handles) the chain holds.
type Binding[In, Out any] struct {
	head     Stage[In, Out]
	closers  []func() error
	detached bool
}

// Bind builds a binding around head. Closers run once, on Detach, in order.
func Bind[In, Out any](head Stage[In, Out], closers ...func() error) *Binding[In, Out] {
	return &Binding[In, Out]{head: head, closers: closers}
}

// Run drives external input through the head stage.
func (b *Binding[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	var zero Out
	if b.detached {
		return zero, ErrDetached
	}
	return b.head.Call(ctx, in)
}

// Detach releases the chain's resources. Subsequent calls are no-ops.
func (b *Binding[In, Out]) Detach() error {
	if b.detached {
		return nil
	}
	b.detached = true
	var errs []error
	for _, closer := range b.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collect runs stage over every input with bounded concurrency, preserving
// input order. It is the explicit fan-out gate: issuing jobs through
// Collect never exceeds parallel in-flight calls regardless of what the
// underlying stage queues internally. Per-element recovery is the stage's
// job; an error here aborts the batch.
func Collect[In, Out any](ctx context.Context, stage Stage[In, Out], inputs []In, parallel int) ([]Out, error) {
	if parallel <= 0 {
		parallel = 1
	}
	outputs := make([]Out, len(inputs))
	errs := make([]error, len(inputs))
	sem := make(chan struct{}, parallel)
	done := make(chan int, len(inputs))

	for i := range inputs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("collect fan-out canceled: %w", ctx.Err())
		}
		go func(i int) {
			defer func() { <-sem; done <- i }()
			outputs[i], errs[i] = stage.Call(ctx, inputs[i])
		}(i)
	}
	for range inputs {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if len(outputs) != len(inputs) {
		return nil, fmt.Errorf("%w: %d inputs, %d outputs", ErrShapeMismatch, len(inputs), len(outputs))
	}
	return outputs, nil
}
