package fetch

import (
	"context"
	"fmt"

	"idlharvest/internal/cache"
	"idlharvest/internal/pool"
)

// PoolSource fetches through the scrape pool with a read-through raw byte
// cache, so a page already on disk never costs a browser load.
type PoolSource struct {
	manager *pool.Manager
	store   *cache.Store
}

// NewPoolSource wraps manager with store's raw namespace.
func NewPoolSource(manager *pool.Manager, store *cache.Store) *PoolSource {
	return &PoolSource{manager: manager, store: store}
}

// Fetch returns cached bytes when present, otherwise scrapes and caches.
func (s *PoolSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	if cached, hit, err := s.store.GetRaw(url); err != nil {
		return nil, err
	} else if hit {
		return cached, nil
	}
	content, err := s.manager.Scrape(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutRaw(url, content); err != nil {
		return nil, fmt.Errorf("cache scraped content: %w", err)
	}
	return content, nil
}
