// Package mapdata holds the core data model for spectral imaging maps:
// 3-D arrays of shape (rows, cols, depth) where every spatial pixel
// carries a spectrum. It provides chunk-geometry planning, block
// decomposition and reassembly, spatial masks, and the Map type that
// presents any backing source as a uniformly chunked array.
package mapdata

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrMapClosed is returned for reads against a Map whose resources have
// been released.
var ErrMapClosed = errors.New("map is closed")

// BlockSource is read access to a 3-D map with a native spatial chunking.
// Implementations must tolerate concurrent ReadRect calls.
type BlockSource interface {
	// Shape returns the map extent as (rows, cols, depth).
	Shape() (rows, cols, depth int)
	// ChunkSize returns the native spatial chunk geometry.
	ChunkSize() ChunkSize
	// ReadRect reads the given spatial rectangle at full depth.
	ReadRect(r Rect) (*Dense, error)
}

// Map is a chunk-aligned view over a 3-D map, ready for blockwise
// processing. It pairs a BlockSource with a planned working chunk geometry
// and owns whatever resource backs the source: Close releases it exactly
// once, and any read after Close fails with ErrMapClosed. Blocks may be
// read concurrently.
type Map struct {
	src   BlockSource
	grid  Grid
	depth int

	closer    io.Closer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewMap plans a working chunk geometry for src, targeting chunkPixels
// pixels per block with at least minChunks blocks on maps large enough,
// and wraps the source. closer may be nil; when set, Close releases it.
func NewMap(src BlockSource, closer io.Closer, chunkPixels, minChunks int) (*Map, error) {
	rows, cols, depth := src.Shape()
	if depth < 1 {
		return nil, fmt.Errorf("map shape (%d, %d, %d): depth must be positive", rows, cols, depth)
	}
	chunk, err := PlanChunkSize(chunkPixels, src.ChunkSize(), rows, cols, minChunks)
	if err != nil {
		return nil, err
	}
	return &Map{
		src:    src,
		grid:   Grid{Rows: rows, Cols: cols, Chunk: chunk},
		depth:  depth,
		closer: closer,
	}, nil
}

// Shape returns the map extent as (rows, cols, depth).
func (m *Map) Shape() (rows, cols, depth int) {
	return m.grid.Rows, m.grid.Cols, m.depth
}

// ChunkSize returns the planned working chunk geometry.
func (m *Map) ChunkSize() ChunkSize {
	return m.grid.Chunk
}

// Grid returns the block decomposition of the map.
func (m *Map) Grid() Grid {
	return m.grid
}

// NumBlocks returns the number of blocks in the working grid.
func (m *Map) NumBlocks() int {
	return m.grid.NumBlocks()
}

// ReadBlock reads block i of the working grid.
func (m *Map) ReadBlock(i int) (*Block, error) {
	if m.closed.Load() {
		return nil, ErrMapClosed
	}
	if i < 0 || i >= m.grid.NumBlocks() {
		return nil, fmt.Errorf("read block %d: grid has %d blocks", i, m.grid.NumBlocks())
	}
	bounds := m.grid.BlockBounds(i)
	d, err := m.src.ReadRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("read block %d %s: %w", i, bounds, err)
	}
	if want := bounds.Pixels() * m.depth; len(d.Data) != want {
		return nil, fmt.Errorf("read block %d %s: source returned %d values, expected %d", i, bounds, len(d.Data), want)
	}
	return &Block{Bounds: bounds, Depth: m.depth, Data: d.Data}, nil
}

// Close releases the underlying resource. It is safe to call more than
// once; only the first call has effect.
func (m *Map) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.closer != nil {
			m.closeErr = m.closer.Close()
		}
	})
	return m.closeErr
}
