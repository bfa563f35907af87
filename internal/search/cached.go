package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/cache"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// PageCache is the slice of cache.Cache used for search pages.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedBackend serves repeated (query, max, page) lookups from the cache.
// Empty pages and errors are never cached.
type CachedBackend struct {
	next  models.SearchBackend
	cache PageCache
	ttl   time.Duration
}

// NewCachedBackend wraps next. A non-positive ttl returns next unchanged.
func NewCachedBackend(next models.SearchBackend, c PageCache, ttl time.Duration) models.SearchBackend {
	if ttl <= 0 || c == nil {
		return next
	}
	return &CachedBackend{next: next, cache: c, ttl: ttl}
}

func (b *CachedBackend) Name() string { return b.next.Name() }

func (b *CachedBackend) Search(ctx context.Context, query string, maxResults, page int) ([]models.SearchItem, error) {
	key := cache.SearchResultKey(b.next.Name(), query, maxResults, page)

	raw, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("search cache read failed", "key", key, "error", err)
	} else if ok {
		var items []models.SearchItem
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
		slog.Warn("search cache entry unreadable, refetching", "key", key)
	}

	items, err := b.next.Search(ctx, query, maxResults, page)
	if err != nil || len(items) == 0 {
		return items, err
	}

	if raw, err := json.Marshal(items); err == nil {
		if err := b.cache.Set(ctx, key, raw, b.ttl); err != nil {
			slog.Warn("search cache write failed", "key", key, "error", err)
		}
	}
	return items, nil
}
