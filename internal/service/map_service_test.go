package service

import (
	"context"
	"testing"
	"time"

	"github.com/xrfmap/server/internal/cache"
	"github.com/xrfmap/server/internal/mapdata"
)

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	m, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB:  8,
		ImageTTL:          time.Minute,
		SpectrumCacheSize: 16,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestMapService(t *testing.T, rows, cols, depth int) *MapService {
	t.Helper()
	d := mapdata.NewDense(rows, cols, depth)
	for i := range d.Data {
		d.Data[i] = 1
	}
	svc, err := NewMapService(MapServiceConfig{
		DatasetID:   "scan",
		Title:       "Test scan",
		Source:      mapdata.DenseSource{D: d},
		Cache:       newTestCache(t),
		ChunkPixels: 6,
		MinChunks:   2,
	})
	if err != nil {
		t.Fatalf("failed to create map service: %v", err)
	}
	return svc
}

func TestMapServiceMetadata(t *testing.T) {
	svc := newTestMapService(t, 6, 4, 3)

	meta := svc.Metadata()
	if meta.ID != "scan" || meta.Title != "Test scan" {
		t.Errorf("unexpected identity: %+v", meta)
	}
	if meta.Rows != 6 || meta.Cols != 4 || meta.Depth != 3 {
		t.Errorf("expected shape (6, 4, 3), got (%d, %d, %d)", meta.Rows, meta.Cols, meta.Depth)
	}
	if meta.Pixels != 24 {
		t.Errorf("expected 24 pixels, got %d", meta.Pixels)
	}
	if meta.Blocks < 2 {
		t.Errorf("expected at least 2 planned blocks, got %d", meta.Blocks)
	}
	if meta.Blocks != svc.Blocks() {
		t.Errorf("Blocks() disagrees with metadata: %d vs %d", svc.Blocks(), meta.Blocks)
	}
	if meta.Size == "" {
		t.Error("expected a humanized size")
	}
}

func TestMapServiceTotalSpectrum(t *testing.T) {
	svc := newTestMapService(t, 6, 4, 3)

	got, err := svc.TotalSpectrum(context.Background(), nil)
	if err != nil {
		t.Fatalf("TotalSpectrum() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(got))
	}
	for ch, v := range got {
		if v != 24 {
			t.Errorf("channel %d: expected 24, got %v", ch, v)
		}
	}

	// Second call should come from the cache and agree.
	again, err := svc.TotalSpectrum(context.Background(), nil)
	if err != nil {
		t.Fatalf("TotalSpectrum() second call error: %v", err)
	}
	for ch := range got {
		if got[ch] != again[ch] {
			t.Errorf("channel %d: cached value %v differs from %v", ch, again[ch], got[ch])
		}
	}
}

func TestMapServiceTotalSpectrumSelection(t *testing.T) {
	svc := newTestMapService(t, 6, 4, 3)

	sel := &mapdata.Rect{Row0: 0, Col0: 0, Height: 2, Width: 2}
	got, err := svc.TotalSpectrum(context.Background(), sel)
	if err != nil {
		t.Fatalf("TotalSpectrum() error: %v", err)
	}
	for ch, v := range got {
		if v != 4 {
			t.Errorf("channel %d: expected 4, got %v", ch, v)
		}
	}

	// A selection reaching past the edge is clamped, not rejected.
	over := &mapdata.Rect{Row0: 5, Col0: 3, Height: 10, Width: 10}
	got, err = svc.TotalSpectrum(context.Background(), over)
	if err != nil {
		t.Fatalf("TotalSpectrum() clamped selection error: %v", err)
	}
	for ch, v := range got {
		if v != 1 {
			t.Errorf("channel %d: expected 1, got %v", ch, v)
		}
	}

	// A selection entirely outside the map is an error.
	outside := &mapdata.Rect{Row0: 100, Col0: 100, Height: 2, Width: 2}
	if _, err := svc.TotalSpectrum(context.Background(), outside); err == nil {
		t.Error("expected error for selection outside the map, got nil")
	}
}
