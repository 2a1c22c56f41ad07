package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// HTTPConfig controls the plain-HTTP import source.
type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
	// CacheDir holds colly's on-disk response cache; it doubles as the raw
	// byte cache for import mode.
	CacheDir   string
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// HTTPSource fetches pages over plain HTTP through a colly collector with a
// disk-backed response cache. It is the import-mode alternative to the
// scrape pool for pages that render their IDL without JavaScript.
type HTTPSource struct {
	cfg    HTTPConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewHTTPSource builds the collector once; Fetch clones it per request.
func NewHTTPSource(cfg HTTPConfig, logger *zap.Logger) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	opts := []colly.CollectorOption{colly.Async(false)}
	if cfg.CacheDir != "" {
		opts = append(opts, colly.CacheDir(cfg.CacheDir))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &HTTPSource{cfg: cfg, base: c, logger: logger}
}

// Fetch GETs url, retrying transient failures with capped backoff.
func (s *HTTPSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	attempts := s.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("http fetch canceled: %w", err)
		}
		if attempt > 0 {
			wait := s.backoff(attempt)
			s.logger.Debug("retrying http fetch",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("http fetch canceled: %w", ctx.Err())
			}
		}
		body, err := s.fetchOnce(url)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("http fetch %s: %w", url, lastErr)
}

func (s *HTTPSource) fetchOnce(url string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := s.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})
	if err := collector.Visit(url); err != nil {
		return nil, err
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

func (s *HTTPSource) backoff(attempt int) time.Duration {
	wait := s.cfg.BackoffMin << uint(attempt-1)
	if wait > s.cfg.BackoffMax {
		wait = s.cfg.BackoffMax
	}
	return wait
}
