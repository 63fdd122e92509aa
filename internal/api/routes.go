// Package api provides HTTP handlers for the map-fitting server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/xrfmap/server/internal/fitstore"
	"github.com/xrfmap/server/internal/fitting"
	"github.com/xrfmap/server/internal/logctx"
	"github.com/xrfmap/server/internal/mapdata"
	"github.com/xrfmap/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	Results     *service.ResultService
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /api/datasets/{dataset}/...
	r.Route("/api/datasets/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/meta", datasetMetaHandler)
		r.Get("/spectrum", datasetSpectrumHandler)

		// Fit jobs are submitted against a dataset but addressed by
		// job ID alone afterwards.
		r.Route("/fit/jobs", func(r chi.Router) {
			r.Post("/", fitJobSubmitHandler(cfg.JobManager))
			r.Get("/", fitJobListHandler(cfg.JobManager))
		})
	})

	// Global fit job endpoints
	r.Route("/api/fit/jobs", func(r chi.Router) {
		r.Get("/{job_id}", fitJobStatusHandler(cfg.JobManager))
		r.Delete("/{job_id}", fitJobCancelHandler(cfg.JobManager))
		r.Get("/{job_id}/result/meta", fitResultMetaHandler(cfg.JobManager, cfg.Results))
		// NOTE: chi treats '.' as a param delimiter when the route pattern is
		// `{channel}.png`, which would break channel names containing '.'.
		// Register a fallback route that captures the full segment and strip
		// the extension in the handler.
		r.Get("/{job_id}/result/maps/{channel}.png", fitResultMapHandler(cfg.JobManager, cfg.Results))
		r.Get("/{job_id}/result/maps/{channel}", fitResultMapHandler(cfg.JobManager, cfg.Results))
	})

	return r
}

// requestLogger logs one line per request through the configured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger := logctx.DefaultLogger()
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError sends errors as JSON so clients get a uniform shape.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the map service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				writeError(w, http.StatusNotFound, "dataset not found: "+datasetID)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getMapService(r *http.Request) *service.MapService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.MapService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
		})
	}
}

// Dataset-scoped handlers (get service from context)

func datasetMetaHandler(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}
	writeJSON(w, http.StatusOK, svc.Metadata())
}

func datasetSpectrumHandler(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	if svc == nil {
		writeError(w, http.StatusInternalServerError, "dataset service not found")
		return
	}

	sel, err := parseSelection(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sel != nil {
		meta := svc.Metadata()
		if sel.Clamp(meta.Rows, meta.Cols).Empty() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("selection %s is outside the map", sel))
			return
		}
	}

	spectrum, err := svc.TotalSpectrum(r.Context(), sel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]interface{}{
		"dataset":  chi.URLParam(r, "dataset"),
		"channels": len(spectrum),
		"spectrum": spectrum,
	}
	if sel != nil {
		response["selection"] = sel
	}
	writeJSON(w, http.StatusOK, response)
}

// parseSelection reads the optional selection rectangle from the query.
// A request either names no selection at all or provides a positive
// height and width; row0 and col0 default to 0.
func parseSelection(query url.Values) (*mapdata.Rect, error) {
	keys := []string{"row0", "col0", "height", "width"}
	present := false
	for _, k := range keys {
		if strings.TrimSpace(query.Get(k)) != "" {
			present = true
			break
		}
	}
	if !present {
		return nil, nil
	}

	values := make(map[string]int, len(keys))
	for _, k := range keys {
		raw := strings.TrimSpace(query.Get(k))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", k, raw)
		}
		values[k] = v
	}

	sel := &mapdata.Rect{
		Row0:   values["row0"],
		Col0:   values["col0"],
		Height: values["height"],
		Width:  values["width"],
	}
	if sel.Row0 < 0 || sel.Col0 < 0 {
		return nil, errors.New("selection origin must be non-negative")
	}
	if sel.Height <= 0 || sel.Width <= 0 {
		return nil, errors.New("selection height and width must be positive")
	}
	return sel, nil
}

// Fit job handlers

func fitJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		svc := getMapService(r)
		if svc == nil {
			writeError(w, http.StatusInternalServerError, "dataset service not found")
			return
		}

		var params fitting.Params
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := params.Validate(svc.Metadata().Depth); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job, err := jm.Submit(chi.URLParam(r, "dataset"), params)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to submit job: "+err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func fitJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		jobs, err := jm.Store().ListJobsByDataset(datasetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list jobs: "+err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"dataset": datasetID,
			"jobs":    jobs,
			"total":   len(jobs),
		})
	}
}

// loadJob fetches a job and writes the error response when it cannot be
// served. A nil return means the response has already been written.
func loadJob(jm *JobManager, w http.ResponseWriter, jobID string) *fitstore.Job {
	job, err := jm.Get(jobID)
	if err != nil {
		if errors.Is(err, fitstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load job: "+err.Error())
		}
		return nil
	}
	return job
}

func fitJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		job := loadJob(jm, w, chi.URLParam(r, "job_id"))
		if job == nil {
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":      job.ID,
			"dataset":     job.DatasetID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"progress":    job.Progress,
			"error":       job.Error,
		})
	}
}

func fitJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		jobID := chi.URLParam(r, "job_id")
		if loadJob(jm, w, jobID) == nil {
			return
		}

		canceled := jm.Cancel(jobID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":   jobID,
			"canceled": canceled,
		})
	}
}

func fitResultMetaHandler(jm *JobManager, results *service.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		job := loadJob(jm, w, chi.URLParam(r, "job_id"))
		if job == nil {
			return
		}
		if job.Status != fitstore.JobStatusDone {
			writeError(w, http.StatusBadRequest, "job not finished (status: "+string(job.Status)+")")
			return
		}

		meta, err := results.Meta(job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func fitResultMapHandler(jm *JobManager, results *service.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			writeError(w, http.StatusNotImplemented, "job manager not configured")
			return
		}

		job := loadJob(jm, w, chi.URLParam(r, "job_id"))
		if job == nil {
			return
		}
		if job.Status != fitstore.JobStatusDone {
			writeError(w, http.StatusBadRequest, "job not finished (status: "+string(job.Status)+")")
			return
		}

		ref := strings.TrimSuffix(chi.URLParam(r, "channel"), ".png")
		channel, err := results.ChannelIndex(job, ref)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		opts := service.ChannelMapOptions{
			Colormap: r.URL.Query().Get("cmap"),
			Min:      parseFloatParam(r.URL.Query(), "min"),
			Max:      parseFloatParam(r.URL.Query(), "max"),
			Scale:    parseScale(r.URL.Query()),
		}

		data, err := results.ChannelMap(job, channel, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func parseFloatParam(query url.Values, key string) *float64 {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseScale(query url.Values) int {
	raw := strings.TrimSpace(query.Get("scale"))
	if raw == "" {
		return 1
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 1
	}
	return v
}
