// Package cache provides caching for rendered view images and dashboard
// summaries.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB int
	ImageTTL         time.Duration
	SummaryCacheSize int
}

// Manager manages image and summary caches. Keys embed the dashboard
// version, so stale entries are never read and simply age out.
type Manager struct {
	imageCache   *bigcache.BigCache
	summaryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = 10 * time.Minute
	}
	if cfg.SummaryCacheSize <= 0 {
		cfg.SummaryCacheSize = 64
	}

	imageCacheConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 256,
		MaxEntrySize:       64 * 1024, // typical PNG size, used for preallocation
		HardMaxCacheSize:   cfg.ImageCacheSizeMB,
		Verbose:            false,
	}

	imageCache, err := bigcache.New(context.Background(), imageCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	summaryCache, err := lru.New[string, []byte](cfg.SummaryCacheSize)
	if err != nil {
		_ = imageCache.Close()
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}

	return &Manager{
		imageCache:   imageCache,
		summaryCache: summaryCache,
	}, nil
}

// GetImage retrieves a rendered image from cache.
func (m *Manager) GetImage(key string) ([]byte, bool) {
	data, err := m.imageCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetImage stores a rendered image in cache.
func (m *Manager) SetImage(key string, data []byte) error {
	return m.imageCache.Set(key, data)
}

// GetSummary retrieves an encoded summary from cache.
func (m *Manager) GetSummary(key string) ([]byte, bool) {
	return m.summaryCache.Get(key)
}

// SetSummary stores an encoded summary in cache.
func (m *Manager) SetSummary(key string, data []byte) {
	m.summaryCache.Add(key, data)
}

// Reset drops every cached entry.
func (m *Manager) Reset() error {
	m.summaryCache.Purge()
	return m.imageCache.Reset()
}

// ImageKey generates a cache key for one view image at one dashboard
// version.
func ImageKey(view, format string, version uint64) string {
	return fmt.Sprintf("img:%s.%s:v%d", view, format, version)
}

// SummaryKey generates a cache key for the dashboard summary.
func SummaryKey(version uint64) string {
	return fmt.Sprintf("summary:v%d", version)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	s := m.imageCache.Stats()
	return map[string]interface{}{
		"image_cache_len":    m.imageCache.Len(),
		"image_cache_cap":    m.imageCache.Capacity(),
		"image_cache_hits":   s.Hits,
		"image_cache_misses": s.Misses,
		"summary_cache_len":  m.summaryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}
