// Package fetch provides the content sources the acquisition stage draws
// from: the headless scrape pool, a plain-HTTP importer, and local files.
package fetch

import "context"

// Source fetches the raw content for one canonical URL.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
