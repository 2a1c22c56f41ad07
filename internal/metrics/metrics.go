// Package metrics exposes pipeline counters and an optional scrape endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's counters. Construct once per process and
// pass down explicitly; nothing here is a package-level singleton.
type Metrics struct {
	registry *prometheus.Registry

	Fetches   *prometheus.CounterVec
	CacheHits *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Retries   prometheus.Counter
	Fragments prometheus.Gauge
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idlharvest_fetches_total",
			Help: "Raw content fetches by source mode.",
		}, []string{"mode"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idlharvest_cache_hits_total",
			Help: "Cache hits by namespace.",
		}, []string{"namespace"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idlharvest_failures_total",
			Help: "Per-URL failures by kind.",
		}, []string{"kind"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idlharvest_retries_total",
			Help: "URLs sent through the second reconciliation pass.",
		}),
		Fragments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "idlharvest_dataset_fragments",
			Help: "Fragment count of the last written dataset.",
		}),
	}
	registry.MustRegister(m.Fetches, m.CacheHits, m.Failures, m.Retries, m.Fragments)
	return m
}

// Serve exposes /metrics and /healthz on addr until ctx finishes. It is
// optional; an empty addr means no listener.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}
