//go:build !tiledb

package tiledbmap

import (
	"github.com/xrfmap/server/internal/mapdata"
)

// Array is a stub when built without "-tags tiledb".
type Array struct{}

// Open fails with ErrUnsupported. The path is still resolved so
// malformed configuration is reported first.
func Open(path, name string) (*Array, error) {
	if _, err := ResolveArrayURI(path, name); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func Supported() bool { return false }

func (a *Array) URI() string { return "" }

func (a *Array) Shape() (rows, cols, depth int) { return 0, 0, 0 }

func (a *Array) ChunkSize() mapdata.ChunkSize { return mapdata.ChunkSize{} }

func (a *Array) ReadRect(r mapdata.Rect) (*mapdata.Dense, error) {
	return nil, ErrUnsupported
}

func (a *Array) Close() error { return nil }
