// Package api provides HTTP API handlers over the processing ledger.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nzbri/movid/internal/store"
)

// DefaultListLimit caps GET /api/runs when no limit is given.
const DefaultListLimit = 50

// RunHandler handles HTTP requests for run resources.
type RunHandler struct {
	store *store.Store
}

// NewRunHandler creates a new RunHandler with the given store.
func NewRunHandler(s *store.Store) *RunHandler {
	return &RunHandler{store: s}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		h.list(w, r)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	h.get(w, r, path)
}

type runResponse struct {
	ID          string            `json:"id"`
	InputFolder string            `json:"input_folder"`
	Features    string            `json:"features"`
	Status      string            `json:"status"`
	Videos      int               `json:"videos"`
	Succeeded   int               `json:"succeeded"`
	Partial     int               `json:"partial"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	StartedAt   string            `json:"started_at"`
	FinishedAt  string            `json:"finished_at,omitempty"`
	Outcomes    []outcomeResponse `json:"outcomes,omitempty"`
}

type outcomeResponse struct {
	ID                int64  `json:"id"`
	VideoPath         string `json:"video_path"`
	OutputName        string `json:"output_name"`
	Status            string `json:"status"`
	ErrorKind         string `json:"error_kind,omitempty"`
	Error             string `json:"error,omitempty"`
	FramesRead        int    `json:"frames_read"`
	FramesDecoded     int    `json:"frames_decoded"`
	FramesSkipped     int    `json:"frames_skipped"`
	DetectionFailures int    `json:"detection_failures"`
	Rows              int    `json:"rows"`
	VideoOut          string `json:"video_out,omitempty"`
	Thumbnail         string `json:"thumbnail,omitempty"`
	TableOut          string `json:"table_out,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		InputFolder: run.InputFolder,
		Features:    run.Features,
		Status:      string(run.Status),
		Videos:      run.Videos,
		Succeeded:   run.Succeeded,
		Partial:     run.Partial,
		Failed:      run.Failed,
		Skipped:     run.Skipped,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func toOutcomeResponse(o *store.Outcome) outcomeResponse {
	return outcomeResponse{
		ID:                o.ID,
		VideoPath:         o.VideoPath,
		OutputName:        o.OutputName,
		Status:            o.Status,
		ErrorKind:         o.ErrorKind,
		Error:             o.Error,
		FramesRead:        o.FramesRead,
		FramesDecoded:     o.FramesDecoded,
		FramesSkipped:     o.FramesSkipped,
		DetectionFailures: o.DetectionFailures,
		Rows:              o.Rows,
		VideoOut:          o.VideoOut,
		Thumbnail:         o.Thumbnail,
		TableOut:          o.TableOut,
		DurationMs:        o.FinishedAt.Sub(o.StartedAt).Milliseconds(),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs?limit=N, most recent first.
func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} and includes the run's video outcomes.
func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	outcomes, err := h.store.Outcomes().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list outcomes")
		return
	}

	response := toRunResponse(run)
	response.Outcomes = make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		response.Outcomes = append(response.Outcomes, toOutcomeResponse(o))
	}
	writeJSON(w, http.StatusOK, response)
}
