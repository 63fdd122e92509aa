package zarr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xrfmap/server/internal/mapdata"
)

func sequentialDense(t *testing.T, rows, cols, depth int) *mapdata.Dense {
	t.Helper()
	d := mapdata.NewDense(rows, cols, depth)
	for i := range d.Data {
		d.Data[i] = float64(i + 1)
	}
	return d
}

func TestWriteReadRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		opts WriteOptions
	}{
		{"default layout", WriteOptions{}},
		{"small chunks", WriteOptions{Chunk: mapdata.ChunkSize{Y: 2, X: 3}}},
		{"depth chunked", WriteOptions{Chunk: mapdata.ChunkSize{Y: 3, X: 3}, DepthChunk: 2}},
		{"uncompressed", WriteOptions{Chunk: mapdata.ChunkSize{Y: 2, X: 2}, Uncompressed: true}},
		{"uint16 values", WriteOptions{Chunk: mapdata.ChunkSize{Y: 2, X: 2}, DataType: "uint16"}},
		{"float32 values", WriteOptions{Chunk: mapdata.ChunkSize{Y: 4, X: 4}, DataType: "float32"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := sequentialDense(t, 5, 7, 3)
			root := t.TempDir()
			if err := Write(root, "counts", d, tc.opts); err != nil {
				t.Fatalf("failed to write store: %v", err)
			}

			a, err := Open(root, "counts")
			if err != nil {
				t.Fatalf("failed to open store: %v", err)
			}
			defer a.Close()

			rows, cols, depth := a.Shape()
			if rows != 5 || cols != 7 || depth != 3 {
				t.Fatalf("expected shape (5, 7, 3), got (%d, %d, %d)", rows, cols, depth)
			}

			full, err := a.ReadRect(mapdata.Rect{Height: 5, Width: 7})
			if err != nil {
				t.Fatalf("failed to read full rect: %v", err)
			}
			for i := range d.Data {
				if full.Data[i] != d.Data[i] {
					t.Fatalf("value %d: expected %v, got %v", i, d.Data[i], full.Data[i])
				}
			}

			// A rectangle crossing chunk boundaries.
			r := mapdata.Rect{Row0: 1, Col0: 2, Height: 3, Width: 4}
			part, err := a.ReadRect(r)
			if err != nil {
				t.Fatalf("failed to read rect %s: %v", r, err)
			}
			want := d.Rect(r)
			for i := range want.Data {
				if part.Data[i] != want.Data[i] {
					t.Fatalf("rect value %d: expected %v, got %v", i, want.Data[i], part.Data[i])
				}
			}
		})
	}
}

func TestOpenRootArray(t *testing.T) {
	d := sequentialDense(t, 4, 4, 2)
	root := filepath.Join(t.TempDir(), "map.zarr")
	if err := Write(root, "", d, WriteOptions{Chunk: mapdata.ChunkSize{Y: 2, X: 2}}); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}
	a, err := Open(root, "")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer a.Close()

	if cs := a.ChunkSize(); cs != (mapdata.ChunkSize{Y: 2, X: 2}) {
		t.Errorf("expected chunk size (2, 2), got (%d, %d)", cs.Y, cs.X)
	}
	got, err := a.ReadRect(mapdata.Rect{Row0: 2, Col0: 2, Height: 2, Width: 2})
	if err != nil {
		t.Fatalf("failed to read rect: %v", err)
	}
	if got.At(0, 0, 0) != d.At(2, 2, 0) {
		t.Errorf("expected %v, got %v", d.At(2, 2, 0), got.At(0, 0, 0))
	}
}

func TestMissingChunkUsesFillValue(t *testing.T) {
	d := sequentialDense(t, 4, 4, 2)
	root := t.TempDir()
	if err := Write(root, "counts", d, WriteOptions{Chunk: mapdata.ChunkSize{Y: 2, X: 2}}); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}
	// Drop the chunk covering rows 0-1, cols 0-1.
	if err := os.Remove(filepath.Join(root, "counts", "c", "0", "0", "0")); err != nil {
		t.Fatalf("failed to remove chunk file: %v", err)
	}

	a, err := Open(root, "counts")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer a.Close()

	full, err := a.ReadRect(mapdata.Rect{Height: 4, Width: 4})
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			for e := 0; e < 2; e++ {
				if full.At(r, c, e) != 0 {
					t.Errorf("missing chunk pixel (%d, %d, %d): expected fill 0, got %v", r, c, e, full.At(r, c, e))
				}
			}
		}
	}
	if full.At(2, 2, 0) != d.At(2, 2, 0) {
		t.Errorf("surviving chunk pixel: expected %v, got %v", d.At(2, 2, 0), full.At(2, 2, 0))
	}
}

func TestReadRectBounds(t *testing.T) {
	d := sequentialDense(t, 4, 4, 2)
	root := t.TempDir()
	if err := Write(root, "counts", d, WriteOptions{}); err != nil {
		t.Fatalf("failed to write store: %v", err)
	}
	a, err := Open(root, "counts")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer a.Close()

	if _, err := a.ReadRect(mapdata.Rect{Row0: 2, Col0: 2, Height: 4, Width: 4}); err == nil {
		t.Error("expected error for rect outside the array, got nil")
	}
}

func TestOpenRejectsWrongDimensions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flat")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	meta := map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       []int{10, 10},
		"data_type":   "float64",
		"chunk_grid": map[string]interface{}{
			"name":          "regular",
			"configuration": map[string]interface{}{"chunk_shape": []int{5, 5}},
		},
		"chunk_key_encoding": map[string]interface{}{
			"name":          "default",
			"configuration": map[string]interface{}{"separator": "/"},
		},
		"fill_value": 0,
		"codecs":     []map[string]interface{}{{"name": "bytes", "configuration": map[string]interface{}{"endian": "little"}}},
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zarr.json"), raw, 0o644); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}

	_, err = Open(dir, "")
	if err == nil {
		t.Fatal("expected error for 2-D array, got nil")
	}
	if !strings.Contains(err.Error(), "flat") || !strings.Contains(err.Error(), "2 dimensions") {
		t.Errorf("expected error naming the dataset and its dimensions, got %v", err)
	}
}

func TestOpenMissingStore(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent"), "counts"); err == nil {
		t.Error("expected error for missing store, got nil")
	}
}
