// Package api exposes persisted runs over HTTP and MCP, and lets clients
// queue new runs and embedding passes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/faqscope/internal/ingest"
	"github.com/kalambet/faqscope/internal/storage"
)

const maxBodySize = 1 << 20

// Deps holds what the HTTP handlers read from and write to.
type Deps struct {
	Store *storage.Store
	// Token enables bearer authentication on every route but /health.
	Token string
}

// RunDetail is a run together with its cluster results.
type RunDetail struct {
	storage.Run
	Clusters []storage.ClusterResult `json:"clusters"`
}

// NewHandler returns the read-mostly HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/status", handleStatus(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Post("/runs", handleTriggerRun(deps))
		r.Get("/runs/latest", handleLatestRun(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/runs/{id}/clusters", handleListClusters(deps))
		r.Post("/embeddings", handleTriggerEmbed(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.Counts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count records: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, 100)
		}

		runs, err := deps.Store.ListRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleLatestRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.LatestRun(r.Context())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no persisted run yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get latest run: %v", err)
			return
		}
		writeRunDetail(w, r, deps, run)
	}
}

func handleGetRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeRunDetail(w, r, deps, run)
	}
}

func writeRunDetail(w http.ResponseWriter, r *http.Request, deps Deps, run storage.Run) {
	clusters, err := deps.Store.ListClusterResults(r.Context(), run.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list clusters: %v", err)
		return
	}
	if clusters == nil {
		clusters = []storage.ClusterResult{}
	}
	writeJSON(w, http.StatusOK, RunDetail{Run: run, Clusters: clusters})
}

func handleListClusters(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetRun(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}

		clusters, err := deps.Store.ListClusterResults(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list clusters: %v", err)
			return
		}
		if clusters == nil {
			clusters = []storage.ClusterResult{}
		}
		writeJSON(w, http.StatusOK, clusters)
	}
}

func handleTriggerRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload ingest.ClusterRunPayload
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read body")
			return
		}
		if len(body) > maxBodySize {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
				return
			}
		}

		id, err := ingest.EnqueueClusterRun(r.Context(), deps.Store, payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue run: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": storage.JobPending})
	}
}

func handleTriggerEmbed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := ingest.EnqueueEmbedPending(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue embedding pass: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": storage.JobPending})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
