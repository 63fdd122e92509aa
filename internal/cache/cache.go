// Package cache provides caching for rendered images and computed spectra.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xrfmap/server/internal/mapdata"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB  int
	ImageTTL          time.Duration
	SpectrumCacheSize int
}

// Manager holds the rendered-image cache and the spectrum cache.
// Heatmap PNGs are bulky and short-lived; total spectra are small but
// expensive to recompute, so they live in a plain LRU without TTL.
type Manager struct {
	imageCache    *bigcache.BigCache
	spectrumCache *lru.Cache[string, []float64]
}

// NewManager creates a cache manager. Non-positive config values fall
// back to 64 MB, 10 minutes and 256 entries.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ImageCacheSizeMB <= 0 {
		cfg.ImageCacheSizeMB = 64
	}
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = 10 * time.Minute
	}
	if cfg.SpectrumCacheSize <= 0 {
		cfg.SpectrumCacheSize = 256
	}

	imageCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       512 * 1024, // full-map heatmaps are larger than tiles
		HardMaxCacheSize:   cfg.ImageCacheSizeMB,
		Verbose:            false,
	}

	imageCache, err := bigcache.New(context.Background(), imageCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	spectrumCache, err := lru.New[string, []float64](cfg.SpectrumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create spectrum cache: %w", err)
	}

	return &Manager{
		imageCache:    imageCache,
		spectrumCache: spectrumCache,
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

// GetSpectrum retrieves a computed spectrum from cache.
func (m *Manager) GetSpectrum(key string) ([]float64, bool) {
	return m.spectrumCache.Get(key)
}

// SetSpectrum stores a computed spectrum in cache.
func (m *Manager) SetSpectrum(key string, spectrum []float64) {
	m.spectrumCache.Add(key, spectrum)
}

// SpectrumKey generates a cache key for a total spectrum request.
func SpectrumKey(datasetID string, sel *mapdata.Rect) string {
	if sel == nil {
		return "spectrum:" + datasetID
	}
	return fmt.Sprintf("spectrum:%s:%d,%d,%d,%d", datasetID, sel.Row0, sel.Col0, sel.Height, sel.Width)
}

// HeatmapKey generates a cache key for a rendered result channel.
func HeatmapKey(jobID string, channel int, cmapName string, min, max *float64, scale int) string {
	return fmt.Sprintf("heatmap:%s:%d:%s:%s:%s:%d",
		jobID, channel, cmapName, rangeBound(min), rangeBound(max), scale)
}

func rangeBound(v *float64) string {
	if v == nil {
		return "auto"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"image_cache_len":    m.imageCache.Len(),
		"image_cache_cap":    m.imageCache.Capacity(),
		"spectrum_cache_len": m.spectrumCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}
