package mapdata

import "fmt"

// Block is the payload of one grid block: the spatial bounds it covers and
// row-major (Height, Width, Depth) data.
type Block struct {
	Bounds Rect
	Depth  int
	Data   []float64
}

// Spectrum returns the spectrum of pixel (r, c), relative to the block's
// own bounds, as a view into the backing array.
func (b *Block) Spectrum(r, c int) []float64 {
	i := (r*b.Bounds.Width + c) * b.Depth
	return b.Data[i : i+b.Depth]
}

// Split tiles d into blocks under the given chunk geometry, in row-major
// block order. Trailing blocks shrink at the map edges; geometries larger
// than the map produce a single block covering everything.
func Split(d *Dense, chunk ChunkSize) []*Block {
	g := Grid{Rows: d.Rows, Cols: d.Cols, Chunk: chunk}
	blocks := make([]*Block, g.NumBlocks())
	for i := range blocks {
		bounds := g.BlockBounds(i)
		blocks[i] = &Block{Bounds: bounds, Depth: d.Depth, Data: d.Rect(bounds).Data}
	}
	return blocks
}

// Assemble reassembles blocks produced in row-major order over g into one
// dense map of the given depth. It is the inverse of Split when depth
// matches the source map.
func Assemble(g Grid, depth int, blocks []*Block) (*Dense, error) {
	if len(blocks) != g.NumBlocks() {
		return nil, fmt.Errorf("assemble: grid has %d blocks, got %d", g.NumBlocks(), len(blocks))
	}
	out := NewDense(g.Rows, g.Cols, depth)
	for i, b := range blocks {
		if b == nil {
			return nil, fmt.Errorf("assemble: block %d is nil", i)
		}
		want := g.BlockBounds(i)
		if b.Bounds != want {
			return nil, fmt.Errorf("assemble: block %d bounds %s, expected %s", i, b.Bounds, want)
		}
		if b.Depth != depth {
			return nil, fmt.Errorf("assemble: block %d depth %d, expected %d", i, b.Depth, depth)
		}
		if n := b.Bounds.Pixels() * depth; len(b.Data) != n {
			return nil, fmt.Errorf("assemble: block %d holds %d values, expected %d", i, len(b.Data), n)
		}
		for row := 0; row < b.Bounds.Height; row++ {
			src := row * b.Bounds.Width * depth
			dst := ((b.Bounds.Row0+row)*g.Cols + b.Bounds.Col0) * depth
			copy(out.Data[dst:dst+b.Bounds.Width*depth], b.Data[src:src+b.Bounds.Width*depth])
		}
	}
	return out, nil
}
