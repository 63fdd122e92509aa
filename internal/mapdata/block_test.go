package mapdata

import "testing"

// sequentialDense fills a map with distinct values so reassembly mistakes
// are visible.
func sequentialDense(t *testing.T, rows, cols, depth int) *Dense {
	t.Helper()
	d := NewDense(rows, cols, depth)
	for i := range d.Data {
		d.Data[i] = float64(i + 1)
	}
	return d
}

func TestGridBlockBounds(t *testing.T) {
	g := Grid{Rows: 5, Cols: 7, Chunk: ChunkSize{Y: 2, X: 3}}
	if g.BlocksY() != 3 || g.BlocksX() != 3 {
		t.Fatalf("expected 3x3 blocks, got %dx%d", g.BlocksY(), g.BlocksX())
	}
	if b := g.BlockBounds(0); b != (Rect{Row0: 0, Col0: 0, Height: 2, Width: 3}) {
		t.Errorf("block 0 bounds = %s", b)
	}
	if b := g.BlockBounds(2); b != (Rect{Row0: 0, Col0: 6, Height: 2, Width: 1}) {
		t.Errorf("block 2 bounds = %s", b)
	}
	if b := g.BlockBounds(8); b != (Rect{Row0: 4, Col0: 6, Height: 1, Width: 1}) {
		t.Errorf("block 8 bounds = %s", b)
	}
}

func TestSplitAssembleRoundTrip(t *testing.T) {
	cases := []struct {
		name              string
		rows, cols, depth int
		chunk             ChunkSize
	}{
		{"even split", 4, 4, 3, ChunkSize{Y: 2, X: 2}},
		{"uneven split", 5, 7, 2, ChunkSize{Y: 2, X: 3}},
		{"single row chunks", 3, 4, 1, ChunkSize{Y: 1, X: 4}},
		{"chunk larger than map", 4, 4, 3, ChunkSize{Y: 10, X: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := sequentialDense(t, tc.rows, tc.cols, tc.depth)
			blocks := Split(d, tc.chunk)

			g := Grid{Rows: tc.rows, Cols: tc.cols, Chunk: tc.chunk}
			if len(blocks) != g.NumBlocks() {
				t.Fatalf("expected %d blocks, got %d", g.NumBlocks(), len(blocks))
			}
			back, err := Assemble(g, tc.depth, blocks)
			if err != nil {
				t.Fatalf("assemble failed: %v", err)
			}
			for i := range d.Data {
				if back.Data[i] != d.Data[i] {
					t.Fatalf("value %d: expected %v, got %v", i, d.Data[i], back.Data[i])
				}
			}
		})
	}
}

func TestSplitBlockContents(t *testing.T) {
	d := sequentialDense(t, 4, 4, 3)
	blocks := Split(d, ChunkSize{Y: 2, X: 2})
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(blocks))
	}
	// Block 3 covers rows 2-3, cols 2-3.
	b := blocks[3]
	if b.Bounds != (Rect{Row0: 2, Col0: 2, Height: 2, Width: 2}) {
		t.Fatalf("block 3 bounds = %s", b.Bounds)
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			for e := 0; e < 3; e++ {
				want := d.At(r+2, c+2, e)
				got := b.Spectrum(r, c)[e]
				if got != want {
					t.Errorf("block value at (%d, %d, %d): expected %v, got %v", r, c, e, want, got)
				}
			}
		}
	}
}

func TestAssembleValidation(t *testing.T) {
	d := sequentialDense(t, 4, 4, 2)
	g := Grid{Rows: 4, Cols: 4, Chunk: ChunkSize{Y: 2, X: 2}}
	blocks := Split(d, g.Chunk)

	t.Run("wrong block count", func(t *testing.T) {
		if _, err := Assemble(g, 2, blocks[:3]); err == nil {
			t.Error("expected error for missing block, got nil")
		}
	})

	t.Run("misordered blocks", func(t *testing.T) {
		swapped := append([]*Block(nil), blocks...)
		swapped[0], swapped[1] = swapped[1], swapped[0]
		if _, err := Assemble(g, 2, swapped); err == nil {
			t.Error("expected error for misordered blocks, got nil")
		}
	})

	t.Run("wrong depth", func(t *testing.T) {
		if _, err := Assemble(g, 3, blocks); err == nil {
			t.Error("expected error for depth mismatch, got nil")
		}
	})
}
