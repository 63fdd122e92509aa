package service

import (
	"fmt"
	"strconv"

	"github.com/xrfmap/server/internal/cache"
	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/fitstore"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/render"
)

// ResultService serves fitted element maps from finished jobs. Each job
// stores its result cube on disk; this service reads planes out of it,
// renders them as heatmap PNGs and caches the encoded images.
type ResultService struct {
	cache    *cache.Manager
	renderer *render.HeatmapRenderer
}

func NewResultService(c *cache.Manager, r *render.HeatmapRenderer) *ResultService {
	return &ResultService{cache: c, renderer: r}
}

// ResultMeta describes the output cube of a finished fit job.
type ResultMeta struct {
	JobID    string   `json:"job_id"`
	Rows     int      `json:"rows"`
	Cols     int      `json:"cols"`
	Channels []string `json:"channels"`
}

// Meta reads the shape of a job's result cube and pairs it with the
// channel names derived from the fit parameters.
func (s *ResultService) Meta(job *fitstore.Job) (*ResultMeta, error) {
	arr, err := zarr.Open(job.ResultPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	defer arr.Close()

	rows, cols, depth := arr.Shape()
	channels := job.Params.Channels()
	if len(channels) != depth {
		return nil, fmt.Errorf("result has %d channels, parameters describe %d", depth, len(channels))
	}
	return &ResultMeta{
		JobID:    job.ID,
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
	}, nil
}

// ChannelIndex resolves a channel reference to an index into the result
// cube. The reference is either a numeric index or a channel name such
// as "Fe_K" or "background".
func (s *ResultService) ChannelIndex(job *fitstore.Job, ref string) (int, error) {
	channels := job.Params.Channels()
	if idx, err := strconv.Atoi(ref); err == nil {
		if idx < 0 || idx >= len(channels) {
			return 0, fmt.Errorf("channel index %d out of range (0-%d)", idx, len(channels)-1)
		}
		return idx, nil
	}
	for i, name := range channels {
		if name == ref {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", ref)
}

// ChannelMapOptions control how an element map is rendered.
type ChannelMapOptions struct {
	Colormap string
	Min      *float64
	Max      *float64
	Scale    int
}

// ChannelMap renders one channel of a job's result cube as a PNG.
// Encoded images are cached per (job, channel, render options).
func (s *ResultService) ChannelMap(job *fitstore.Job, channel int, opts ChannelMapOptions) ([]byte, error) {
	key := cache.HeatmapKey(job.ID, channel, opts.Colormap, opts.Min, opts.Max, opts.Scale)
	if s.cache != nil {
		if data, ok := s.cache.GetImage(key); ok {
			return data, nil
		}
	}

	arr, err := zarr.Open(job.ResultPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	defer arr.Close()

	rows, cols, depth := arr.Shape()
	if channel < 0 || channel >= depth {
		return nil, fmt.Errorf("channel index %d out of range (0-%d)", channel, depth-1)
	}

	cube, err := arr.ReadRect(mapdata.Rect{Height: rows, Width: cols})
	if err != nil {
		return nil, fmt.Errorf("failed to read result cube: %w", err)
	}

	plane := make([]float64, rows*cols)
	for i := range plane {
		plane[i] = cube.Data[i*depth+channel]
	}

	data, err := s.renderer.RenderHeatmap(plane, rows, cols, render.HeatmapOptions{
		Colormap: opts.Colormap,
		Min:      opts.Min,
		Max:      opts.Max,
		Scale:    opts.Scale,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetImage(key, data)
	}
	return data, nil
}
