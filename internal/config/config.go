// Package config handles configuration loading for the map-fitting server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Compute ComputeConfig `yaml:"compute"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig describes one registered map store.
type DatasetConfig struct {
	Title string `yaml:"title"`
	// Backend selects the store driver: "zarr" (default) or "tiledb".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// Name is the array name inside the store; empty means the root
	// array.
	Name string `yaml:"name"`
}

// DataConfig holds the dataset registry. It accepts two YAML layouts:
// a flat single-dataset form (path/name/backend keys directly under
// data) registered as "default", and a mapping of dataset IDs to
// DatasetConfig blocks. The first dataset in file order is the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig

	order []string
}

// DatasetIDs returns the dataset IDs in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// UnmarshalYAML implements yaml.Unmarshaler to keep file order.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping")
	}

	flat := false
	for i := 0; i < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "path", "name", "backend", "title":
			flat = true
		}
	}
	if flat {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return err
		}
		d.Datasets = map[string]DatasetConfig{"default": ds}
		d.order = []string{"default"}
		d.DefaultDataset = "default"
		return nil
	}

	d.Datasets = make(map[string]DatasetConfig, len(node.Content)/2)
	d.order = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		d.Datasets[id] = ds
		d.order = append(d.order, id)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// JobsConfig contains fit-job settings.
type JobsConfig struct {
	DBPath        string `yaml:"db_path"`
	ResultsDir    string `yaml:"results_dir"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	RetentionDays int    `yaml:"retention_days"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int `yaml:"image_size_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
	SpectrumEntries int `yaml:"spectrum_entries"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	DefaultColormap string `yaml:"default_colormap"`
	MaxScale        int    `yaml:"max_scale"`
}

// ComputeConfig contains executor settings.
type ComputeConfig struct {
	// Workers sizes the shared pool; 0 means one per CPU.
	Workers     int `yaml:"workers"`
	ChunkPixels int `yaml:"chunk_pixels"`
	MinChunks   int `yaml:"min_chunks"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Debug  bool `yaml:"debug"`
	Pretty bool `yaml:"pretty"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {Path: "./data/maps/scan.zarr"},
			},
			order: []string{"default"},
		},
		Jobs: JobsConfig{
			DBPath:        "./data/jobs.db",
			ResultsDir:    "./data/results",
			Workers:       2,
			QueueSize:     16,
			RetentionDays: 14,
		},
		Cache: CacheConfig{
			ImageSizeMB:     256,
			ImageTTLMinutes: 10,
			SpectrumEntries: 256,
		},
		Render: RenderConfig{
			DefaultColormap: "viridis",
			MaxScale:        16,
		},
		Compute: ComputeConfig{
			ChunkPixels: 5000,
			MinChunks:   4,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Jobs.DBPath == "" {
		cfg.Jobs.DBPath = defaults.Jobs.DBPath
	}
	if cfg.Jobs.ResultsDir == "" {
		cfg.Jobs.ResultsDir = defaults.Jobs.ResultsDir
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = defaults.Jobs.Workers
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = defaults.Jobs.QueueSize
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.SpectrumEntries == 0 {
		cfg.Cache.SpectrumEntries = defaults.Cache.SpectrumEntries
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.MaxScale == 0 {
		cfg.Render.MaxScale = defaults.Render.MaxScale
	}
	if cfg.Compute.ChunkPixels == 0 {
		cfg.Compute.ChunkPixels = defaults.Compute.ChunkPixels
	}
	if cfg.Compute.MinChunks == 0 {
		cfg.Compute.MinChunks = defaults.Compute.MinChunks
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if len(c.Data.Datasets) == 0 {
		return fmt.Errorf("no datasets configured")
	}
	for id, ds := range c.Data.Datasets {
		if ds.Path == "" {
			return fmt.Errorf("dataset %q has no path", id)
		}
		switch ds.Backend {
		case "", "zarr", "tiledb":
		default:
			return fmt.Errorf("dataset %q has unknown backend %q", id, ds.Backend)
		}
	}
	if _, ok := c.Data.Datasets[c.Data.DefaultDataset]; !ok {
		return fmt.Errorf("default dataset %q not configured", c.Data.DefaultDataset)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs workers %d, need at least 1", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("jobs queue size %d, need at least 1", c.Jobs.QueueSize)
	}
	return nil
}
