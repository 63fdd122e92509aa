package zarr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/xrfmap/server/internal/mapdata"
)

// WriteOptions controls store layout. The zero value chunks spatially at
// up to 128x128 with the whole spectrum per chunk, writes float64 values
// and compresses with zstd.
type WriteOptions struct {
	Chunk        mapdata.ChunkSize // spatial chunking; derived when zero
	DepthChunk   int               // spectrum-axis chunking; full depth when zero
	DataType     string            // on-disk value type; "float64" when empty
	Uncompressed bool              // skip the zstd codec
}

// Write creates a Zarr v3 store at root holding d as the named array. An
// empty name writes the array directly at the root; otherwise root
// becomes a group with the array below it. Edge chunks are written
// clamped to the array bounds; chunk files are produced concurrently.
func Write(root, name string, d *mapdata.Dense, opts WriteOptions) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("write zarr store: %w", err)
	}

	chunk := opts.Chunk
	if chunk.Y < 1 {
		chunk.Y = min(d.Rows, 128)
	}
	if chunk.X < 1 {
		chunk.X = min(d.Cols, 128)
	}
	chunk.Y = min(chunk.Y, d.Rows)
	chunk.X = min(chunk.X, d.Cols)
	depthChunk := opts.DepthChunk
	if depthChunk < 1 || depthChunk > d.Depth {
		depthChunk = d.Depth
	}
	dataType := opts.DataType
	if dataType == "" {
		dataType = "float64"
	}
	if _, err := dtypeSize(dataType); err != nil {
		return fmt.Errorf("write zarr store: %w", err)
	}

	dir := root
	if name != "" {
		dir = filepath.Join(root, name)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("failed to create store root: %w", err)
		}
		group, err := json.MarshalIndent(GroupMeta{ZarrFormat: 3, NodeType: "group"}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(root, "zarr.json"), group, 0o644); err != nil {
			return fmt.Errorf("failed to write group metadata: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create array directory: %w", err)
	}

	meta := buildArrayMeta(d, chunk, depthChunk, dataType, !opts.Uncompressed)
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "zarr.json"), metaJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write array metadata: %w", err)
	}

	var encoder *zstd.Encoder
	if !opts.Uncompressed {
		encoder, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer encoder.Close()
	}

	blocksY := ceilDiv(d.Rows, chunk.Y)
	blocksX := ceilDiv(d.Cols, chunk.X)
	blocksZ := ceilDiv(d.Depth, depthChunk)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for iy := 0; iy < blocksY; iy++ {
		for ix := 0; ix < blocksX; ix++ {
			for iz := 0; iz < blocksZ; iz++ {
				iy, ix, iz := iy, ix, iz
				g.Go(func() error {
					return writeChunk(dir, d, chunk, depthChunk, dataType, encoder, iy, ix, iz)
				})
			}
		}
	}
	return g.Wait()
}

func buildArrayMeta(d *mapdata.Dense, chunk mapdata.ChunkSize, depthChunk int, dataType string, compressed bool) *ArrayMeta {
	meta := &ArrayMeta{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      []int{d.Rows, d.Cols, d.Depth},
		DataType:   dataType,
		FillValue:  0.0,
	}
	meta.ChunkGrid.Name = "regular"
	meta.ChunkGrid.Configuration.ChunkShape = []int{chunk.Y, chunk.X, depthChunk}
	meta.ChunkKeyEncoding.Name = "default"
	meta.ChunkKeyEncoding.Configuration.Separator = "/"
	meta.Codecs = append(meta.Codecs, struct {
		Name          string                 `json:"name"`
		Configuration map[string]interface{} `json:"configuration"`
	}{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}})
	if compressed {
		meta.Codecs = append(meta.Codecs, struct {
			Name          string                 `json:"name"`
			Configuration map[string]interface{} `json:"configuration"`
		}{Name: "zstd", Configuration: map[string]interface{}{"level": 3, "checksum": false}})
	}
	return meta
}

func writeChunk(dir string, d *mapdata.Dense, chunk mapdata.ChunkSize, depthChunk int, dataType string, encoder *zstd.Encoder, iy, ix, iz int) error {
	rows := min(chunk.Y, d.Rows-iy*chunk.Y)
	cols := min(chunk.X, d.Cols-ix*chunk.X)
	depth := min(depthChunk, d.Depth-iz*depthChunk)

	vals := make([]float64, rows*cols*depth)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			src := ((iy*chunk.Y+r)*d.Cols+ix*chunk.X+c)*d.Depth + iz*depthChunk
			copy(vals[(r*cols+c)*depth:(r*cols+c+1)*depth], d.Data[src:src+depth])
		}
	}

	payload, err := encodeValues(vals, dataType)
	if err != nil {
		return err
	}
	if encoder != nil {
		payload = encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	}

	path := filepath.Join(dir, "c", strconv.Itoa(iy), strconv.Itoa(ix), strconv.Itoa(iz))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk (%d, %d, %d): %w", iy, ix, iz, err)
	}
	return nil
}
