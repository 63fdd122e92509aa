// Package tiledbmap provides read-only access to 3-D spectral maps
// stored as dense TileDB arrays. The array must have exactly three
// dimensions ordered (row, col, channel); values are read from the
// first attribute and converted to float64.
//
// TileDB support needs cgo and the native library, so it sits behind a
// build tag. Without "-tags tiledb" the package compiles to a stub
// whose Open fails with ErrUnsupported.
package tiledbmap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported indicates this binary was built without TileDB support.
var ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")

// ResolveArrayURI accepts a store path plus an optional array name and
// returns the array URI. Local paths are cleaned; URIs with a scheme
// (s3://, azure://) are joined verbatim.
func ResolveArrayURI(path, name string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty tiledb path")
	}
	p = os.ExpandEnv(p)
	if !strings.Contains(p, "://") {
		p = filepath.Clean(p)
	}
	if name == "" {
		return p, nil
	}
	return strings.TrimRight(p, "/") + "/" + name, nil
}
