package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/xrfmap/server/internal/mapdata"
)

// Array is an open 3-D array inside a Zarr v3 store. It satisfies
// mapdata.BlockSource; ReadRect is safe for concurrent use. Close releases
// the decoder.
type Array struct {
	dir  string
	name string
	meta *ArrayMeta

	rows, cols, depth int
	chunk             [3]int
	sep               string
	compressed        bool
	fill              float64

	decoder   *zstd.Decoder
	closeOnce sync.Once
}

// Open opens the named array inside the Zarr store rooted at path. An
// empty name opens an array stored directly at the root. The array must
// have exactly 3 dimensions.
func Open(root, name string) (*Array, error) {
	dir := root
	if name != "" {
		dir = filepath.Join(root, name)
	}
	display := name
	if display == "" {
		display = filepath.Base(root)
	}

	data, err := os.ReadFile(filepath.Join(dir, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read zarr.json for dataset %q: %w", display, err)
	}
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse zarr.json for dataset %q: %w", display, err)
	}

	if meta.ZarrFormat != 3 {
		return nil, fmt.Errorf("dataset %q: zarr_format %d, expected 3", display, meta.ZarrFormat)
	}
	if meta.NodeType != "array" {
		return nil, fmt.Errorf("dataset %q: node_type %q, expected array", display, meta.NodeType)
	}
	if len(meta.Shape) != 3 {
		return nil, fmt.Errorf("dataset %q has %d dimensions, expected 3", display, len(meta.Shape))
	}
	cs := meta.ChunkGrid.Configuration.ChunkShape
	if len(cs) != 3 {
		return nil, fmt.Errorf("dataset %q: chunk shape has %d dimensions, expected 3", display, len(cs))
	}
	for d := 0; d < 3; d++ {
		if meta.Shape[d] < 1 || cs[d] < 1 {
			return nil, fmt.Errorf("dataset %q: shape %v with chunks %v, dimensions must be positive", display, meta.Shape, cs)
		}
	}
	if _, err := dtypeSize(meta.DataType); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", display, err)
	}
	fill, err := fillValueOf(&meta)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", display, err)
	}

	compressed := false
	for _, codec := range meta.Codecs {
		switch codec.Name {
		case "bytes":
			if endian, ok := codec.Configuration["endian"].(string); ok && endian != "little" {
				return nil, fmt.Errorf("dataset %q: unsupported endian %q", display, endian)
			}
		case "zstd":
			compressed = true
		default:
			return nil, fmt.Errorf("dataset %q: unsupported codec %q", display, codec.Name)
		}
	}

	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Array{
		dir:        dir,
		name:       display,
		meta:       &meta,
		rows:       meta.Shape[0],
		cols:       meta.Shape[1],
		depth:      meta.Shape[2],
		chunk:      [3]int{cs[0], cs[1], cs[2]},
		sep:        sep,
		compressed: compressed,
		fill:       fill,
		decoder:    decoder,
	}, nil
}

// Name returns the display name of the array.
func (a *Array) Name() string {
	return a.name
}

// DataType returns the on-disk value type.
func (a *Array) DataType() string {
	return a.meta.DataType
}

// Shape returns the array extent as (rows, cols, depth).
func (a *Array) Shape() (rows, cols, depth int) {
	return a.rows, a.cols, a.depth
}

// ChunkSize returns the native spatial chunk geometry.
func (a *Array) ChunkSize() mapdata.ChunkSize {
	return mapdata.ChunkSize{Y: a.chunk[0], X: a.chunk[1]}
}

// ReadRect reads the spatial rectangle r at full depth, assembling values
// across every chunk the rectangle touches. Missing chunk files
// materialize the fill value.
func (a *Array) ReadRect(r mapdata.Rect) (*mapdata.Dense, error) {
	if r.Row0 < 0 || r.Col0 < 0 || r.Row0+r.Height > a.rows || r.Col0+r.Width > a.cols {
		return nil, fmt.Errorf("read rect %s: outside dataset %q shape (%d, %d)", r, a.name, a.rows, a.cols)
	}
	out := mapdata.NewDense(r.Height, r.Width, a.depth)
	if r.Empty() {
		return out, nil
	}

	cy, cx, cz := a.chunk[0], a.chunk[1], a.chunk[2]
	for iy := r.Row0 / cy; iy <= (r.Row0+r.Height-1)/cy; iy++ {
		rowLo := max(r.Row0, iy*cy)
		rowHi := min(r.Row0+r.Height, min((iy+1)*cy, a.rows))
		for ix := r.Col0 / cx; ix <= (r.Col0+r.Width-1)/cx; ix++ {
			colLo := max(r.Col0, ix*cx)
			colHi := min(r.Col0+r.Width, min((ix+1)*cx, a.cols))
			for iz := 0; iz <= (a.depth-1)/cz; iz++ {
				vals, stored, err := a.readChunk(iy, ix, iz)
				if err != nil {
					return nil, err
				}
				eLo := iz * cz
				eHi := min((iz+1)*cz, a.depth)
				for gr := rowLo; gr < rowHi; gr++ {
					for gc := colLo; gc < colHi; gc++ {
						src := ((gr-iy*cy)*stored[1] + (gc - ix*cx)) * stored[2]
						dst := ((gr-r.Row0)*r.Width+(gc-r.Col0))*a.depth + eLo
						copy(out.Data[dst:dst+eHi-eLo], vals[src:src+eHi-eLo])
					}
				}
			}
		}
	}
	return out, nil
}

// chunkShapeAt returns the clamped extent of the chunk at the given
// indices: edge chunks shrink at the array bounds.
func (a *Array) chunkShapeAt(iy, ix, iz int) [3]int {
	idx := [3]int{iy, ix, iz}
	var actual [3]int
	for d := 0; d < 3; d++ {
		length := a.chunk[d]
		if remaining := a.meta.Shape[d] - idx[d]*length; remaining < length {
			length = remaining
		}
		actual[d] = length
	}
	return actual
}

func (a *Array) chunkPath(iy, ix, iz int) string {
	if a.sep == "/" {
		return filepath.Join(a.dir, "c", strconv.Itoa(iy), strconv.Itoa(ix), strconv.Itoa(iz))
	}
	key := strings.Join([]string{strconv.Itoa(iy), strconv.Itoa(ix), strconv.Itoa(iz)}, a.sep)
	return filepath.Join(a.dir, "c", key)
}

// readChunk reads one chunk and decodes it to float64 values, returning
// the layout the values are stored in: chunks may be written clamped at
// the array edges or padded to the full chunk shape, both are accepted.
// A missing chunk file materializes the fill value at the clamped extent.
func (a *Array) readChunk(iy, ix, iz int) ([]float64, [3]int, error) {
	clamped := a.chunkShapeAt(iy, ix, iz)

	raw, err := os.ReadFile(a.chunkPath(iy, ix, iz))
	if errors.Is(err, fs.ErrNotExist) {
		vals := make([]float64, clamped[0]*clamped[1]*clamped[2])
		if a.fill != 0 {
			for i := range vals {
				vals[i] = a.fill
			}
		}
		return vals, clamped, nil
	}
	if err != nil {
		return nil, [3]int{}, fmt.Errorf("failed to read chunk (%d, %d, %d) of dataset %q: %w", iy, ix, iz, a.name, err)
	}

	if a.compressed {
		raw, err = a.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, [3]int{}, fmt.Errorf("zstd decompress of chunk (%d, %d, %d) failed: %w", iy, ix, iz, err)
		}
	}

	vals, err := decodeValues(raw, a.meta.DataType)
	if err != nil {
		return nil, [3]int{}, fmt.Errorf("chunk (%d, %d, %d) of dataset %q: %w", iy, ix, iz, a.name, err)
	}

	switch len(vals) {
	case clamped[0] * clamped[1] * clamped[2]:
		return vals, clamped, nil
	case a.chunk[0] * a.chunk[1] * a.chunk[2]:
		return vals, a.chunk, nil
	default:
		return nil, [3]int{}, fmt.Errorf("chunk (%d, %d, %d) of dataset %q holds %d values, expected %d or %d",
			iy, ix, iz, a.name, len(vals), clamped[0]*clamped[1]*clamped[2], a.chunk[0]*a.chunk[1]*a.chunk[2])
	}
}

// Close releases the decoder. Safe to call more than once.
func (a *Array) Close() error {
	a.closeOnce.Do(func() {
		a.decoder.Close()
	})
	return nil
}
