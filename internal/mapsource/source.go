// Package mapsource normalizes the supported map representations (dense
// in-memory arrays, already-chunked sources, on-disk dataset references)
// into the uniform mapdata.Map view used by every blockwise operation.
package mapsource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/mapdata"
)

// DatasetRef points to a 3-D array inside an on-disk Zarr store. It
// carries no open resource by itself; materializing it opens the store.
type DatasetRef struct {
	Path  string `json:"path"`            // store root directory
	Name  string `json:"name,omitempty"`  // array name within the store, "" for a root array
	Shape []int  `json:"shape,omitempty"` // declared shape, informational only
}

// NewDatasetRef builds a reference with the path user-expanded and made
// absolute.
func NewDatasetRef(path, name string) (*DatasetRef, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset reference: path must not be empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("dataset reference: failed to expand %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("dataset reference: failed to resolve %q: %w", path, err)
	}
	return &DatasetRef{Path: abs, Name: name}, nil
}

// Input selects exactly one map representation to materialize.
type Input struct {
	Dense  *mapdata.Dense      // in-memory 3-D array
	Source mapdata.BlockSource // already-chunked lazy array
	Ref    *DatasetRef         // on-disk dataset reference
}

func (in Input) variants() int {
	n := 0
	if in.Dense != nil {
		n++
	}
	if in.Source != nil {
		n++
	}
	if in.Ref != nil {
		n++
	}
	return n
}

// Materialize normalizes in into a Map with a freshly planned chunk
// geometry targeting chunkPixels pixels per block. The Map owns any
// resource opened here; the caller must Close it after the last read.
func Materialize(in Input, chunkPixels, minChunks int) (*mapdata.Map, error) {
	if n := in.variants(); n != 1 {
		return nil, fmt.Errorf("map input sets %d of Dense, Source and Ref, expected exactly one", n)
	}
	switch {
	case in.Dense != nil:
		return FromDense(in.Dense, chunkPixels, minChunks)
	case in.Source != nil:
		return FromSource(in.Source, chunkPixels, minChunks)
	default:
		return FromRef(in.Ref, chunkPixels, minChunks)
	}
}

// FromDense wraps an in-memory array. The native chunking is taken as
// (1, 1) so geometry planning is unconstrained.
func FromDense(d *mapdata.Dense, chunkPixels, minChunks int) (*mapdata.Map, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return mapdata.NewMap(mapdata.DenseSource{D: d}, nil, chunkPixels, minChunks)
}

// FromSource re-plans geometry for an already-chunked source. The caller
// keeps ownership of whatever backs the source; closing the returned Map
// releases nothing.
func FromSource(src mapdata.BlockSource, chunkPixels, minChunks int) (*mapdata.Map, error) {
	return mapdata.NewMap(src, nil, chunkPixels, minChunks)
}

// FromRef opens the referenced Zarr store read-only and plans geometry
// from its native on-disk chunking. The open array becomes the Map's
// owned resource: it stays open for every read and is released by
// Map.Close.
func FromRef(ref *DatasetRef, chunkPixels, minChunks int) (*mapdata.Map, error) {
	arr, err := zarr.Open(ref.Path, ref.Name)
	if err != nil {
		return nil, err
	}
	m, err := mapdata.NewMap(arr, arr, chunkPixels, minChunks)
	if err != nil {
		arr.Close()
		return nil, err
	}
	return m, nil
}
