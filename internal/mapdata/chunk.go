package mapdata

import (
	"fmt"
	"math"
)

// ChunkSize is the spatial chunk geometry of a map: the number of rows and
// columns covered by one block. The spectrum axis is never split.
type ChunkSize struct {
	Y int // rows per block
	X int // columns per block
}

// Pixels returns the number of pixels covered by one full block.
func (c ChunkSize) Pixels() int {
	return c.Y * c.X
}

// PlanChunkSize picks a chunk geometry close to targetPixels pixels per
// block for a rows x cols map whose storage is natively chunked by base.
// Both outputs are multiples of the corresponding base dimension, except
// where clamped to the map dimension, and never exceed the map itself.
//
// When the map holds more than minChunks pixels the target is capped at
// rows*cols/minChunks so the plan yields at least minChunks blocks; smaller
// maps come out as a single block of at least one pixel. Blocks aim for a
// roughly square shape; maps with only a few rows stretch horizontally
// instead of producing an oversized single-column chunk.
func PlanChunkSize(targetPixels int, base ChunkSize, rows, cols, minChunks int) (ChunkSize, error) {
	if targetPixels < 1 {
		return ChunkSize{}, fmt.Errorf("plan chunk size: target pixels %d, must be at least 1", targetPixels)
	}
	if base.Y < 1 || base.X < 1 {
		return ChunkSize{}, fmt.Errorf("plan chunk size: base chunk (%d, %d), dimensions must be positive", base.Y, base.X)
	}
	if rows < 1 || cols < 1 {
		return ChunkSize{}, fmt.Errorf("plan chunk size: map shape (%d, %d), dimensions must be positive", rows, cols)
	}
	if minChunks < 1 {
		return ChunkSize{}, fmt.Errorf("plan chunk size: min chunks %d, must be at least 1", minChunks)
	}

	if total := rows * cols; total > minChunks {
		if limit := total / minChunks; limit < targetPixels {
			targetPixels = limit
		}
	}

	side := int(math.Ceil(math.Sqrt(float64(targetPixels))))
	cx := min(ceilDiv(side, base.X)*base.X, cols)
	cy := ceilDiv(ceilDiv(targetPixels, cx), base.Y) * base.Y
	if cy > rows {
		cy = rows
		cx = min(ceilDiv(ceilDiv(targetPixels, cy), base.X)*base.X, cols)
	}
	return ChunkSize{Y: cy, X: cx}, nil
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
