// Package api serves stored fit results as JSON.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/vertexfit/internal/httputil"
	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/storage/sqlite"
)

// RunSummary is the response for GET /api/runs/{id}.
type RunSummary struct {
	*sqlite.Run
	Stats sqlite.RunStats `json:"stats"`
}

// ResultsAPI exposes runs and vertices from a VertexStore.
type ResultsAPI struct {
	store *sqlite.VertexStore
}

// NewResultsAPI creates a ResultsAPI over store.
func NewResultsAPI(store *sqlite.VertexStore) *ResultsAPI {
	return &ResultsAPI{store: store}
}

// RegisterRoutes registers the result routes on the provided mux.
//
//	GET /api/runs/{id}           run with aggregate stats
//	GET /api/runs/{id}/vertices  vertices of a run, without refits
//	GET /api/vertices/{id}       one vertex with its track refits
func (api *ResultsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/runs/", api.handleRun)
	mux.HandleFunc("/api/vertices/", api.handleVertex)
}

func (api *ResultsAPI) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	runID, sub, _ := strings.Cut(rest, "/")
	if runID == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "run id is required")
		return
	}

	switch sub {
	case "":
		api.showRun(w, runID)
	case "vertices":
		api.listVertices(w, runID)
	default:
		httputil.NotFound(w, "unknown resource")
	}
}

func (api *ResultsAPI) showRun(w http.ResponseWriter, runID string) {
	run, err := api.store.GetRun(runID)
	if err != nil {
		api.writeStoreError(w, "failed to load run", err)
		return
	}
	stats, err := api.store.RunStats(runID, monitoring.StatusOK)
	if err != nil {
		httputil.InternalServerError(w, "failed to load run stats", err)
		return
	}
	httputil.WriteJSONOK(w, RunSummary{Run: run, Stats: stats})
}

func (api *ResultsAPI) listVertices(w http.ResponseWriter, runID string) {
	if _, err := api.store.GetRun(runID); err != nil {
		api.writeStoreError(w, "failed to load run", err)
		return
	}
	vs, err := api.store.ListVertices(runID)
	if err != nil {
		httputil.InternalServerError(w, "failed to list vertices", err)
		return
	}
	if vs == nil {
		vs = []*sqlite.VertexRecord{}
	}
	httputil.WriteJSONOK(w, vs)
}

func (api *ResultsAPI) handleVertex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/vertices/"), "/")
	if id == "" || strings.Contains(id, "/") {
		httputil.WriteJSONError(w, http.StatusBadRequest, "vertex id is required")
		return
	}
	v, err := api.store.GetVertex(id)
	if err != nil {
		api.writeStoreError(w, "failed to load vertex", err)
		return
	}
	httputil.WriteJSONOK(w, v)
}

func (api *ResultsAPI) writeStoreError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, msg, err)
}
