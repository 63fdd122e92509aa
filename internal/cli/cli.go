// Package cli implements the command-line interface for fitmap.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/xrfmap/server/internal/compute"
	"github.com/xrfmap/server/internal/data/tiledbmap"
	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/mapsource"
)

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: fitmap <command> [options]\ncommands: spectrum, fit")
	}

	switch args[0] {
	case "spectrum":
		return runSpectrum(args[1:])
	case "fit":
		return runFit(args[1:])
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// storeFlags are the options shared by every command that reads a map.
type storeFlags struct {
	store       *string
	array       *string
	backend     *string
	workers     *int
	chunkPixels *int
	minChunks   *int
}

func addStoreFlags(fs *flag.FlagSet) *storeFlags {
	return &storeFlags{
		store:       fs.String("store", "", "path to the map store"),
		array:       fs.String("array", "", "array name within the store"),
		backend:     fs.String("backend", "zarr", "store backend (zarr or tiledb)"),
		workers:     fs.Int("workers", 0, "worker goroutines (0 = one per CPU)"),
		chunkPixels: fs.Int("chunk-pixels", fitting.DefaultChunkPixels, "target pixels per processing block"),
		minChunks:   fs.Int("min-chunks", fitting.DefaultMinChunks, "minimum number of processing blocks"),
	}
}

func runSpectrum(args []string) error {
	fs := flag.NewFlagSet("spectrum", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	selection := fs.String("selection", "", "selection rectangle as row0,col0,height,width")
	out := fs.String("out", "", "write the spectrum as JSON to this file (default stdout)")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sf.store == "" {
		return errors.New("-store is required")
	}

	sel, err := parseSelection(*selection)
	if err != nil {
		return err
	}

	source, closer, err := openStore(*sf.backend, *sf.store, *sf.array)
	if err != nil {
		return err
	}
	defer closer.Close()

	rows, cols, depth := source.Shape()
	fmt.Fprintf(os.Stderr, "map: %d x %d pixels, %d channels (%s)\n",
		rows, cols, depth, humanize.IBytes(uint64(rows)*uint64(cols)*uint64(depth)*8))

	pool := compute.NewPool(*sf.workers)
	defer pool.Close()

	opts := fitting.TotalSpectrumOptions{
		Selection:   sel,
		ChunkPixels: *sf.chunkPixels,
		MinChunks:   *sf.minChunks,
		Pool:        pool,
	}
	if !*quiet {
		opts.Sink = &compute.TerminalProgressBar{Title: "spectrum"}
	}

	spectrum, err := fitting.TotalSpectrum(context.Background(), mapsource.Input{Source: source}, opts)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"channels": len(spectrum),
		"spectrum": spectrum,
	}
	if sel != nil {
		payload["selection"] = sel
	}
	return writeJSONOutput(*out, payload)
}

func runFit(args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	paramsPath := fs.String("params", "", "fit parameters file (JSON or YAML)")
	out := fs.String("out", "", "output store path for the fitted maps")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sf.store == "" {
		return errors.New("-store is required")
	}
	if *paramsPath == "" {
		return errors.New("-params is required")
	}
	if *out == "" {
		return errors.New("-out is required")
	}

	params, err := loadParams(*paramsPath)
	if err != nil {
		return err
	}

	source, closer, err := openStore(*sf.backend, *sf.store, *sf.array)
	if err != nil {
		return err
	}
	defer closer.Close()

	rows, cols, depth := source.Shape()
	if err := params.Validate(depth); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "map: %d x %d pixels, %d channels (%s)\n",
		rows, cols, depth, humanize.IBytes(uint64(rows)*uint64(cols)*uint64(depth)*8))
	fmt.Fprintf(os.Stderr, "fitting %d lines over window [%d, %d)\n",
		params.Model.Lines, params.EnergyStart, params.EnergyEnd)

	pool := compute.NewPool(*sf.workers)
	defer pool.Close()

	opts := fitting.FitOptions{
		ChunkPixels: *sf.chunkPixels,
		MinChunks:   *sf.minChunks,
		Pool:        pool,
	}
	if !*quiet {
		opts.Sink = &compute.TerminalProgressBar{Title: "fit"}
	}

	start := time.Now()
	cube, err := fitting.FitMap(context.Background(), mapsource.Input{Source: source}, params, opts)
	if err != nil {
		return err
	}

	if err := zarr.Write(*out, "", cube, zarr.WriteOptions{}); err != nil {
		return fmt.Errorf("failed to write result store: %w", err)
	}

	channels := params.Channels()
	fmt.Fprintf(os.Stderr, "wrote %d channel maps to %s in %s\n",
		len(channels), *out, time.Since(start).Round(time.Millisecond))
	for i, name := range channels {
		fmt.Fprintf(os.Stderr, "  [%d] %s\n", i, name)
	}
	return nil
}

// parseSelection parses "row0,col0,height,width". Empty means no
// selection.
func parseSelection(s string) (*mapdata.Rect, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("selection %q: expected row0,col0,height,width", s)
	}
	values := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("selection %q: %w", s, err)
		}
		values[i] = v
	}
	sel := &mapdata.Rect{Row0: values[0], Col0: values[1], Height: values[2], Width: values[3]}
	if sel.Empty() {
		return nil, fmt.Errorf("selection %q covers no pixels", s)
	}
	return sel, nil
}

// loadParams reads a fit parameter file. YAML is a superset of JSON, so
// one decoder covers both formats.
func loadParams(path string) (fitting.Params, error) {
	var params fitting.Params
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("failed to read parameters: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("failed to parse parameters: %w", err)
	}
	return params, nil
}

func openStore(backend, path, name string) (mapdata.BlockSource, io.Closer, error) {
	switch backend {
	case "", "zarr":
		arr, err := zarr.Open(path, name)
		if err != nil {
			return nil, nil, err
		}
		return arr, arr, nil
	case "tiledb":
		arr, err := tiledbmap.Open(path, name)
		if err != nil {
			return nil, nil, err
		}
		return arr, arr, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func writeJSONOutput(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
