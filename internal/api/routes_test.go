package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/xrfmap/server/internal/cache"
	"github.com/xrfmap/server/internal/data/zarr"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/render"
	"github.com/xrfmap/server/internal/service"
)

// newTestRouter assembles the full request path against a generated
// dataset: 4x3 pixels, 6 channels, every pixel [1, 2, 2, 3, 3, 2].
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()

	rows, cols, depth := 4, 3, 6
	d := mapdata.NewDense(rows, cols, depth)
	pixel := []float64{1, 2, 2, 3, 3, 2}
	for p := 0; p < rows*cols; p++ {
		copy(d.Data[p*depth:(p+1)*depth], pixel)
	}
	storePath := filepath.Join(dir, "scan.zarr")
	if err := zarr.Write(storePath, "", d, zarr.WriteOptions{}); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
	arr, err := zarr.Open(storePath, "")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB:  8,
		ImageTTL:          time.Minute,
		SpectrumCacheSize: 16,
	})
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { _ = cacheManager.Close() })

	svc, err := service.NewMapService(service.MapServiceConfig{
		DatasetID:   "scan",
		Title:       "Test scan",
		Source:      arr,
		Closer:      arr,
		Cache:       cacheManager,
		ChunkPixels: 4,
		MinChunks:   2,
	})
	if err != nil {
		t.Fatalf("failed to create map service: %v", err)
	}

	registry := NewDatasetRegistry("scan", []string{"scan"})
	registry.Register("scan", svc)
	t.Cleanup(registry.Close)

	jm, err := NewJobManager(JobManagerConfig{
		MaxConcurrent: 1,
		QueueSize:     4,
		SQLitePath:    filepath.Join(dir, "jobs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create job manager: %v", err)
	}
	fits := service.NewFitService(service.FitServiceConfig{
		Registry:    registry,
		ResultsDir:  filepath.Join(dir, "results"),
		ChunkPixels: 4,
		MinChunks:   2,
	})
	jm.Executor = fits.ExecuteJob
	jm.Start()
	t.Cleanup(jm.Stop)

	renderer := render.NewHeatmapRenderer(render.Config{DefaultColormap: "viridis"})

	return NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		JobManager:  jm,
		Results:     service.NewResultService(cacheManager, renderer),
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v: %s", err, rec.Body.String())
	}
	return payload
}

func assertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func assertPNG(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	magic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if !bytes.HasPrefix(rec.Body.Bytes(), magic) {
		t.Fatalf("response is not a PNG image")
	}
}

func testFitParams() fitting.Params {
	return fitting.Params{
		EnergyStart: 1,
		EnergyEnd:   5,
		Model: fitting.Model{
			Depth:  4,
			Lines:  2,
			Values: []float64{1, 0, 1, 0, 0, 1, 0, 1},
		},
		Calibration: fitting.Calibration{Linear: 0.01},
		LineNames:   []string{"Fe_K", "Cu_K"},
	}
}

func TestHealthEndpoint_NoListen(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/health", nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload := decodeJSON(t, rec)
	if got, _ := payload["status"].(string); got != "ok" {
		t.Fatalf("unexpected status: got %q want %q", got, "ok")
	}
}

func TestDatasetsEndpoint_NoListen(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/datasets", nil)
	assertStatusCode(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["default"].(string); got != "scan" {
		t.Fatalf("unexpected default dataset: got %q want %q", got, "scan")
	}
	datasets, _ := payload["datasets"].([]interface{})
	if len(datasets) != 1 {
		t.Fatalf("expected 1 dataset, got %d", len(datasets))
	}
}

func TestDatasetMetaEndpoint_NoListen(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/datasets/scan/meta", nil)
	assertStatusCode(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got := payload["rows"].(float64); got != 4 {
		t.Errorf("expected 4 rows, got %v", got)
	}
	if got := payload["cols"].(float64); got != 3 {
		t.Errorf("expected 3 cols, got %v", got)
	}
	if got := payload["depth"].(float64); got != 6 {
		t.Errorf("expected depth 6, got %v", got)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/datasets/nope/meta", nil)
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestSpectrumEndpoint_NoListen(t *testing.T) {
	router := newTestRouter(t)

	// Full map: 12 pixels, each contributing [1, 2, 2, 3, 3, 2].
	rec := doRequest(t, router, http.MethodGet, "/api/datasets/scan/spectrum", nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload := decodeJSON(t, rec)
	if got := payload["channels"].(float64); got != 6 {
		t.Fatalf("expected 6 channels, got %v", got)
	}
	spectrum, _ := payload["spectrum"].([]interface{})
	if len(spectrum) != 6 {
		t.Fatalf("expected spectrum of length 6, got %d", len(spectrum))
	}
	if got := spectrum[0].(float64); got != 12 {
		t.Errorf("expected channel 0 total 12, got %v", got)
	}
	if got := spectrum[3].(float64); got != 36 {
		t.Errorf("expected channel 3 total 36, got %v", got)
	}

	// 2x2 selection.
	rec = doRequest(t, router, http.MethodGet, "/api/datasets/scan/spectrum?row0=1&col0=1&height=2&width=2", nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	spectrum, _ = payload["spectrum"].([]interface{})
	if got := spectrum[0].(float64); got != 4 {
		t.Errorf("expected channel 0 total 4 for selection, got %v", got)
	}
	if _, ok := payload["selection"]; !ok {
		t.Errorf("expected selection echoed in response")
	}

	// Degenerate and out-of-bounds selections.
	rec = doRequest(t, router, http.MethodGet, "/api/datasets/scan/spectrum?height=0&width=2", nil)
	assertStatusCode(t, rec, http.StatusBadRequest)

	rec = doRequest(t, router, http.MethodGet, "/api/datasets/scan/spectrum?row0=100&col0=100&height=2&width=2", nil)
	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestFitJobLifecycle_NoListen(t *testing.T) {
	router := newTestRouter(t)

	// Malformed body.
	rec := doRequest(t, router, http.MethodPost, "/api/datasets/scan/fit/jobs", []byte("{"))
	assertStatusCode(t, rec, http.StatusBadRequest)

	// Window outside the spectrum.
	bad := testFitParams()
	bad.EnergyEnd = 99
	body, err := json.Marshal(bad)
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/datasets/scan/fit/jobs", body)
	assertStatusCode(t, rec, http.StatusBadRequest)

	// Valid submission.
	body, err = json.Marshal(testFitParams())
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/datasets/scan/fit/jobs", body)
	assertStatusCode(t, rec, http.StatusAccepted)
	payload := decodeJSON(t, rec)
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		t.Fatalf("expected a job id, got %v", payload)
	}

	// Poll until the job finishes.
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/"+jobID, nil)
		assertStatusCode(t, rec, http.StatusOK)
		payload = decodeJSON(t, rec)
		status, _ := payload["status"].(string)
		if status == "done" {
			break
		}
		if status == "failed" || status == "canceled" {
			t.Fatalf("job ended with status %q: %v", status, payload["error"])
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish in time, last status %q", status)
		}
		time.Sleep(50 * time.Millisecond)
	}
	progress, _ := payload["progress"].(map[string]interface{})
	if got := progress["percent"].(float64); got != 100 {
		t.Errorf("expected terminal progress 100, got %v", got)
	}

	// The job shows up in the dataset listing.
	rec = doRequest(t, router, http.MethodGet, "/api/datasets/scan/fit/jobs", nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	jobs, _ := payload["jobs"].([]interface{})
	found := false
	for _, item := range jobs {
		entry, _ := item.(map[string]interface{})
		if entry["job_id"] == jobID {
			found = true
		}
	}
	if !found {
		t.Fatalf("job %s missing from dataset listing: %v", jobID, payload)
	}

	// Result metadata.
	rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/"+jobID+"/result/meta", nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got := payload["rows"].(float64); got != 4 {
		t.Errorf("expected 4 result rows, got %v", got)
	}
	channels, _ := payload["channels"].([]interface{})
	wantChannels := []string{"Fe_K", "Cu_K", "background", "residual", "selected", "total"}
	if len(channels) != len(wantChannels) {
		t.Fatalf("expected %d channels, got %d", len(wantChannels), len(channels))
	}
	for i, want := range wantChannels {
		if got, _ := channels[i].(string); got != want {
			t.Errorf("channel %d: got %q want %q", i, got, want)
		}
	}

	// Rendered maps, by name and by index.
	rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/"+jobID+"/result/maps/Fe_K.png", nil)
	assertStatusCode(t, rec, http.StatusOK)
	assertPNG(t, rec)

	rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/"+jobID+"/result/maps/0.png?cmap=plasma&min=0&max=5&scale=2", nil)
	assertStatusCode(t, rec, http.StatusOK)
	assertPNG(t, rec)

	rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/"+jobID+"/result/maps/Zn_K.png", nil)
	assertStatusCode(t, rec, http.StatusNotFound)

	// Canceling a finished job is a no-op.
	rec = doRequest(t, router, http.MethodDelete, "/api/fit/jobs/"+jobID, nil)
	assertStatusCode(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["canceled"].(bool); got {
		t.Errorf("expected canceled=false for a finished job")
	}
}

func TestFitJobNotFound_NoListen(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/fit/jobs/doesnotexist", nil)
	assertStatusCode(t, rec, http.StatusNotFound)

	rec = doRequest(t, router, http.MethodDelete, "/api/fit/jobs/doesnotexist", nil)
	assertStatusCode(t, rec, http.StatusNotFound)

	rec = doRequest(t, router, http.MethodGet, "/api/fit/jobs/doesnotexist/result/meta", nil)
	assertStatusCode(t, rec, http.StatusNotFound)
}
