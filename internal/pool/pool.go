// Package pool schedules scrape jobs across a fixed set of reusable,
// stateful browser sessions.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSessionLost marks a worker-level fatal failure: the browser session is
// gone and the worker must not be scheduled again.
var ErrSessionLost = errors.New("browser session lost")

// ErrDestroyed is returned by Scrape after Destroy, and by a second Destroy.
var ErrDestroyed = errors.New("scrape pool destroyed")

// ErrNoWorkers is returned when every worker in the pool has died.
var ErrNoWorkers = errors.New("scrape pool has no live workers")

// Session is one stateful browser-automation handle. Load fetches a fully
// rendered page; an error wrapping ErrSessionLost retires the session.
type Session interface {
	Load(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// SessionFactory produces one session configured with the given navigation
// timeout and page-load wait.
type SessionFactory func(navTimeout, pageWait time.Duration) (Session, error)

// Options tune every session in the pool.
type Options struct {
	NavTimeout time.Duration
	PageWait   time.Duration
	// DomainQPS rate-limits page loads per host; zero disables limiting.
	DomainQPS float64
}

type workerState int

const (
	stateIdle workerState = iota
	stateBusy
	stateDead
)

type poolWorker struct {
	id      int
	session Session
	state   workerState
}

// Manager owns the worker pool. Concurrency is bounded to the pool size:
// Scrape blocks until a worker is idle. Workers that suffer a session-fatal
// failure move to dead and are excluded from scheduling; the pool then runs
// under capacity rather than replacing them.
type Manager struct {
	mu        sync.Mutex
	idle      chan *poolWorker
	noWorkers chan struct{} // closed when the last live worker retires
	workers   []*poolWorker
	live      int
	destroyed bool

	opts     Options
	limiters sync.Map // host -> *rate.Limiter
	logger   *zap.Logger
}

// New builds numInstances sessions up front. Construction fails closed: if
// any session cannot be created, the ones already created are torn down.
func New(numInstances int, factory SessionFactory, opts Options, logger *zap.Logger) (*Manager, error) {
	if numInstances <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", numInstances)
	}
	m := &Manager{
		idle:      make(chan *poolWorker, numInstances),
		noWorkers: make(chan struct{}),
		opts:      opts,
		logger:    logger,
	}
	for i := 0; i < numInstances; i++ {
		session, err := factory(opts.NavTimeout, opts.PageWait)
		if err != nil {
			for _, w := range m.workers {
				_ = w.session.Close()
			}
			return nil, fmt.Errorf("create pool session %d: %w", i, err)
		}
		w := &poolWorker{id: i, session: session}
		m.workers = append(m.workers, w)
		m.idle <- w
	}
	m.live = numInstances
	return m, nil
}

// Scrape loads url on the next idle worker and returns the rendered page
// content. A job-level failure rejects only this job; the worker returns to
// idle. A failure wrapping ErrSessionLost retires the worker; when the last
// worker retires, queued callers are rejected with ErrNoWorkers.
func (m *Manager) Scrape(ctx context.Context, rawURL string) ([]byte, error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrDestroyed
	}
	if m.live == 0 {
		m.mu.Unlock()
		return nil, ErrNoWorkers
	}
	m.mu.Unlock()

	// A worker in the idle channel counts as live, so once noWorkers is
	// closed the channel stays empty and every waiter must be rejected.
	var w *poolWorker
	select {
	case w = <-m.idle:
	case <-m.noWorkers:
		return nil, ErrNoWorkers
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for idle worker: %w", ctx.Err())
	}
	w.state = stateBusy

	if err := m.waitDomainBudget(ctx, rawURL); err != nil {
		m.release(w)
		return nil, err
	}

	content, err := w.session.Load(ctx, rawURL)
	if err != nil {
		if errors.Is(err, ErrSessionLost) {
			m.retire(w, err)
			return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
		}
		m.release(w)
		return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	m.release(w)
	return content, nil
}

func (m *Manager) release(w *poolWorker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		// Destroy already drained the idle channel; close the straggler here.
		w.state = stateDead
		_ = w.session.Close()
		return
	}
	w.state = stateIdle
	m.idle <- w
}

func (m *Manager) retire(w *poolWorker, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.state = stateDead
	m.live--
	if m.live == 0 {
		close(m.noWorkers)
	}
	_ = w.session.Close()
	m.logger.Warn("pool worker retired",
		zap.Int("worker", w.id),
		zap.Int("live", m.live),
		zap.Error(cause),
	)
}

// Live reports how many workers remain schedulable.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Destroy tears down every live worker. It must be called exactly once,
// after all outstanding jobs settle; a second call returns ErrDestroyed.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.destroyed = true
	m.mu.Unlock()

	var errs []error
	for {
		select {
		case w := <-m.idle:
			w.state = stateDead
			if err := w.session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close worker %d: %w", w.id, err))
			}
		default:
			m.mu.Lock()
			m.live = 0
			m.mu.Unlock()
			return errors.Join(errs...)
		}
	}
}

func (m *Manager) waitDomainBudget(ctx context.Context, rawURL string) error {
	if m.opts.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url for rate limit: %w", err)
	}
	value, _ := m.limiters.LoadOrStore(parsed.Host, rate.NewLimiter(rate.Limit(m.opts.DomainQPS), 1))
	limiter, ok := value.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type for host %s", parsed.Host)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("scrape rate limit: %w", err)
	}
	return nil
}
