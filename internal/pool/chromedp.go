package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromedpConfig controls the browser sessions backing the pool.
type ChromedpConfig struct {
	UserAgent string
	// Headless disables the visible browser window; tests leave it on.
	Headless bool
}

// chromedpSession is one long-lived browser context. Each Load opens a
// fresh tab inside it, so cookies and the browser process survive across
// jobs while page state does not.
type chromedpSession struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	navTimeout    time.Duration
	pageWait      time.Duration
	userAgent     string
}

// NewChromedpFactory returns a SessionFactory producing headless-Chrome
// sessions with the supplied configuration.
func NewChromedpFactory(cfg ChromedpConfig) SessionFactory {
	return func(navTimeout, pageWait time.Duration) (Session, error) {
		if navTimeout <= 0 {
			navTimeout = 45 * time.Second
		}
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("chromedp warmup: %w", err)
		}
		return &chromedpSession{
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
			navTimeout:    navTimeout,
			pageWait:      pageWait,
			userAgent:     cfg.UserAgent,
		}, nil
	}
}

// Load navigates a fresh tab to url, waits for the body plus the configured
// page-load wait (dynamic pages populate IDL blocks late), and returns the
// rendered DOM.
func (s *chromedpSession) Load(ctx context.Context, url string) ([]byte, error) {
	if s.browserCtx.Err() != nil {
		return nil, fmt.Errorf("browser context gone: %w", ErrSessionLost)
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.navTimeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	var html string
	actions := []chromedp.Action{
		s.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.pageWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if s.browserCtx.Err() != nil {
			return nil, fmt.Errorf("chromedp run: %v: %w", err, ErrSessionLost)
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return []byte(html), nil
}

func (s *chromedpSession) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.userAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// Close tears down the browser and its allocator.
func (s *chromedpSession) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

// forwardCancel propagates cancellation from the caller's context into the
// chromedp task context without tying their lifetimes together.
func forwardCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
