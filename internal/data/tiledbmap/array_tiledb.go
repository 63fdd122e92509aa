//go:build tiledb

package tiledbmap

import (
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/xrfmap/server/internal/mapdata"
)

// Array reads a dense 3-D TileDB array as a mapdata.BlockSource. The
// schema is inspected once at Open; every ReadRect opens the array
// fresh, so concurrent reads are safe.
type Array struct {
	uri string
	ctx *tiledb.Context

	attr   string
	attrDT tiledb.Datatype

	dims              [3]dimInfo
	rows, cols, depth int
	chunk             mapdata.ChunkSize
}

type dimInfo struct {
	name string
	dt   tiledb.Datatype
	lo   int64
}

// Open inspects the array schema and returns a reader for it. The
// caller owns the reader and must Close it after the last read.
func Open(path, name string) (*Array, error) {
	uri, err := ResolveArrayURI(path, name)
	if err != nil {
		return nil, err
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	a := &Array{uri: uri, ctx: ctx}
	if err := a.loadSchema(); err != nil {
		ctx.Free()
		return nil, err
	}
	return a, nil
}

func Supported() bool { return true }

func (a *Array) URI() string { return a.uri }

// Shape returns the map extent as (rows, cols, depth).
func (a *Array) Shape() (rows, cols, depth int) {
	return a.rows, a.cols, a.depth
}

// ChunkSize returns the spatial tile extents, clamped to the map shape.
func (a *Array) ChunkSize() mapdata.ChunkSize {
	return a.chunk
}

// ReadRect reads the given spatial rectangle at full depth.
func (a *Array) ReadRect(r mapdata.Rect) (*mapdata.Dense, error) {
	if r.Empty() {
		return nil, fmt.Errorf("read %s: empty rectangle", r)
	}
	if r.Row0 < 0 || r.Col0 < 0 || r.Row0+r.Height > a.rows || r.Col0+r.Width > a.cols {
		return nil, fmt.Errorf("read %s: outside map of %d x %d pixels", r, a.rows, a.cols)
	}

	arr, err := tiledb.NewArray(a.ctx, a.uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open array (%s): %w", a.uri, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()

	bounds := [3][2]int64{
		{int64(r.Row0), int64(r.Row0 + r.Height - 1)},
		{int64(r.Col0), int64(r.Col0 + r.Width - 1)},
		{0, int64(a.depth - 1)},
	}
	for i, d := range a.dims {
		if err := addDimRange(sub, d, d.lo+bounds[i][0], d.lo+bounds[i][1]); err != nil {
			return nil, fmt.Errorf("failed to add %s range: %w", d.name, err)
		}
	}

	q, err := tiledb.NewQuery(a.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()

	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("failed to set subarray: %w", err)
	}
	// Row-major matches the (row, col, channel) layout of Dense.
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("failed to set query layout: %w", err)
	}

	n := r.Pixels() * a.depth
	buf, collect, err := newValueBuffer(a.attrDT, n)
	if err != nil {
		return nil, err
	}
	if _, err := q.SetDataBuffer(a.attr, buf); err != nil {
		return nil, fmt.Errorf("failed to set buffer %s: %w", a.attr, err)
	}

	if err := q.Submit(); err != nil {
		return nil, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return nil, fmt.Errorf("query status failed: %w", err)
	}
	// A dense read with a full-size buffer completes in one submit.
	if status != tiledb.TILEDB_COMPLETED {
		return nil, fmt.Errorf("unexpected query status: %v", status)
	}

	return &mapdata.Dense{
		Rows:  r.Height,
		Cols:  r.Width,
		Depth: a.depth,
		Data:  collect(),
	}, nil
}

// Close releases the TileDB context.
func (a *Array) Close() error {
	a.ctx.Free()
	return nil
}

func (a *Array) loadSchema() error {
	arr, err := tiledb.NewArray(a.ctx, a.uri)
	if err != nil {
		return fmt.Errorf("failed to open array (%s): %w", a.uri, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	schema, err := arr.Schema()
	if err != nil {
		return fmt.Errorf("failed to get array schema: %w", err)
	}
	defer schema.Free()

	domain, err := schema.Domain()
	if err != nil {
		return fmt.Errorf("failed to get array domain: %w", err)
	}
	defer domain.Free()

	ndim, err := domain.NDim()
	if err != nil {
		return fmt.Errorf("failed to get dimension count: %w", err)
	}
	if ndim != 3 {
		return fmt.Errorf("array %s has %d dimensions, expected 3 (row, col, channel)", a.uri, ndim)
	}

	var shape [3]int
	var extents [3]int64
	for i := uint(0); i < 3; i++ {
		dim, err := domain.DimensionFromIndex(i)
		if err != nil {
			return fmt.Errorf("failed to get dimension %d: %w", i, err)
		}
		name, err := dim.Name()
		if err != nil {
			dim.Free()
			return fmt.Errorf("failed to get dimension %d name: %w", i, err)
		}
		dt, err := dim.Type()
		if err != nil {
			dim.Free()
			return fmt.Errorf("failed to get dimension %s type: %w", name, err)
		}
		dom, err := dim.Domain()
		if err != nil {
			dim.Free()
			return fmt.Errorf("failed to get dimension %s domain: %w", name, err)
		}
		ext, err := dim.Extent()
		dim.Free()
		if err != nil {
			return fmt.Errorf("failed to get dimension %s tile extent: %w", name, err)
		}
		lo, hi, err := boundsMinMaxInt64(dom)
		if err != nil {
			return fmt.Errorf("dimension %s: %w", name, err)
		}
		extent, err := extentInt64(ext)
		if err != nil {
			return fmt.Errorf("dimension %s: %w", name, err)
		}

		a.dims[i] = dimInfo{name: name, dt: dt, lo: lo}
		shape[i] = int(hi - lo + 1)
		extents[i] = extent
	}
	a.rows, a.cols, a.depth = shape[0], shape[1], shape[2]
	if a.rows < 1 || a.cols < 1 || a.depth < 1 {
		return fmt.Errorf("array %s has empty domain (%d, %d, %d)", a.uri, a.rows, a.cols, a.depth)
	}

	a.chunk = mapdata.ChunkSize{
		Y: int(min(extents[0], int64(a.rows))),
		X: int(min(extents[1], int64(a.cols))),
	}
	if a.chunk.Y < 1 {
		a.chunk.Y = 1
	}
	if a.chunk.X < 1 {
		a.chunk.X = 1
	}

	nattrs, err := schema.AttributeNum()
	if err != nil {
		return fmt.Errorf("failed to get attribute count: %w", err)
	}
	if nattrs < 1 {
		return fmt.Errorf("array %s has no attributes", a.uri)
	}
	attr, err := schema.AttributeFromIndex(0)
	if err != nil {
		return fmt.Errorf("failed to get attribute 0: %w", err)
	}
	defer attr.Free()
	a.attr, err = attr.Name()
	if err != nil {
		return fmt.Errorf("failed to get attribute name: %w", err)
	}
	a.attrDT, err = attr.Type()
	if err != nil {
		return fmt.Errorf("failed to get attribute %s type: %w", a.attr, err)
	}
	if _, _, err := newValueBuffer(a.attrDT, 0); err != nil {
		return fmt.Errorf("attribute %s: %w", a.attr, err)
	}
	return nil
}

func addDimRange(sub *tiledb.Subarray, d dimInfo, lo, hi int64) error {
	switch d.dt {
	case tiledb.TILEDB_INT32:
		return sub.AddRangeByName(d.name, tiledb.MakeRange(int32(lo), int32(hi)))
	case tiledb.TILEDB_INT64:
		return sub.AddRangeByName(d.name, tiledb.MakeRange(lo, hi))
	case tiledb.TILEDB_UINT32:
		return sub.AddRangeByName(d.name, tiledb.MakeRange(uint32(lo), uint32(hi)))
	case tiledb.TILEDB_UINT64:
		return sub.AddRangeByName(d.name, tiledb.MakeRange(uint64(lo), uint64(hi)))
	}
	return fmt.Errorf("unsupported dimension type %v", d.dt)
}

// newValueBuffer allocates a read buffer for the attribute type and
// returns it with a conversion to float64.
func newValueBuffer(dt tiledb.Datatype, n int) (interface{}, func() []float64, error) {
	switch dt {
	case tiledb.TILEDB_FLOAT64:
		buf := make([]float64, n)
		return buf, func() []float64 { return buf }, nil
	case tiledb.TILEDB_FLOAT32:
		buf := make([]float32, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_INT64:
		buf := make([]int64, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_INT32:
		buf := make([]int32, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_INT16:
		buf := make([]int16, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_UINT64:
		buf := make([]uint64, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_UINT32:
		buf := make([]uint32, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_UINT16:
		buf := make([]uint16, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	case tiledb.TILEDB_UINT8:
		buf := make([]uint8, n)
		return buf, func() []float64 { return toFloat64(buf) }, nil
	}
	return nil, nil, fmt.Errorf("unsupported value type %v", dt)
}

func toFloat64[T int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func boundsMinMaxInt64(bounds interface{}) (int64, int64, error) {
	switch v := bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint64:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported domain bounds type %T", bounds)
}

func extentInt64(ext interface{}) (int64, error) {
	switch v := ext.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	}
	return 0, fmt.Errorf("unsupported tile extent type %T", ext)
}
