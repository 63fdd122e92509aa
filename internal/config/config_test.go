package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LegacyFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  path: "/data/legacy/scan.zarr"
  name: "counts"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.Path != "/data/legacy/scan.zarr" {
		t.Errorf("unexpected path: %s", ds.Path)
	}
	if ds.Name != "counts" {
		t.Errorf("unexpected name: %s", ds.Name)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  brain-slice:
    title: "Brain slice 7"
    path: "/data/brain/scan.zarr"
    name: "counts"
  standard:
    path: "/data/standard"
    backend: "tiledb"
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "brain-slice" {
		t.Errorf("expected default dataset 'brain-slice', got %q", cfg.Data.DefaultDataset)
	}

	brain, ok := cfg.Data.Datasets["brain-slice"]
	if !ok {
		t.Fatal("expected 'brain-slice' dataset")
	}
	if brain.Title != "Brain slice 7" {
		t.Errorf("unexpected title: %s", brain.Title)
	}
	if brain.Path != "/data/brain/scan.zarr" {
		t.Errorf("unexpected path: %s", brain.Path)
	}

	std, ok := cfg.Data.Datasets["standard"]
	if !ok {
		t.Fatal("expected 'standard' dataset")
	}
	if std.Backend != "tiledb" {
		t.Errorf("unexpected backend: %s", std.Backend)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "brain-slice" || ids[1] != "standard" {
		t.Errorf("unexpected dataset order: %v", ids)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected config to validate, got %v", err)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    path: "/test/scan.zarr"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.Workers != 2 {
		t.Errorf("expected default job workers 2, got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.RetentionDays != 14 {
		t.Errorf("expected default retention 14, got %d", cfg.Jobs.RetentionDays)
	}
	if cfg.Cache.ImageSizeMB != 256 {
		t.Errorf("expected default image cache size 256, got %d", cfg.Cache.ImageSizeMB)
	}
	if cfg.Render.DefaultColormap != "viridis" {
		t.Errorf("expected default colormap viridis, got %q", cfg.Render.DefaultColormap)
	}
	if cfg.Compute.ChunkPixels != 5000 || cfg.Compute.MinChunks != 4 {
		t.Errorf("unexpected default compute geometry: %+v", cfg.Compute)
	}
	if cfg.Compute.Workers != 0 {
		t.Errorf("expected workers 0 (one per CPU), got %d", cfg.Compute.Workers)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"no datasets", func(c *Config) { c.Data.Datasets = nil }},
		{"missing path", func(c *Config) {
			c.Data.Datasets["default"] = DatasetConfig{Name: "counts"}
		}},
		{"unknown backend", func(c *Config) {
			c.Data.Datasets["default"] = DatasetConfig{Path: "/d", Backend: "hdf5"}
		}},
		{"missing default dataset", func(c *Config) { c.Data.DefaultDataset = "nope" }},
		{"zero job workers", func(c *Config) { c.Jobs.Workers = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
