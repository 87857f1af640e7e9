package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nzbri/movid/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "movid-api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	s, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func seedRun(t *testing.T, s *store.Store, id string, started time.Time) {
	t.Helper()
	run := &store.Run{ID: id, InputFolder: "/videos", Features: "hands", Videos: 2, StartedAt: started}
	if err := s.Runs().Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	outcomes := []*store.Outcome{
		{RunID: id, VideoPath: "/videos/a_fta.MOV", OutputName: "a_fta", Features: "hands", Status: store.StatusSuccess, Rows: 42},
		{RunID: id, VideoPath: "/videos/b_fta.MOV", OutputName: "b_fta", Features: "hands", Status: store.StatusFailed,
			ErrorKind: "decode", Error: "no decodable frames"},
	}
	for _, o := range outcomes {
		if err := s.Outcomes().Record(o); err != nil {
			t.Fatalf("failed to record outcome: %v", err)
		}
	}
	run.Status = store.RunCompleted
	run.Succeeded, run.Failed = 1, 1
	if err := s.Runs().Finish(run); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
}

func TestRunHandler_List(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedRun(t, s, "run-old", now.Add(-time.Hour))
	seedRun(t, s, "run-new", now)
	handler := NewRunHandler(s)

	t.Run("most recent first", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response listRunsResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(response.Runs))
		}
		if response.Runs[0].ID != "run-new" {
			t.Errorf("expected run-new first, got %s", response.Runs[0].ID)
		}
		if response.Runs[0].Status != "completed" || response.Runs[0].FinishedAt == "" {
			t.Errorf("unexpected run: %+v", response.Runs[0])
		}
		if response.Runs[0].Outcomes != nil {
			t.Error("list should not include outcomes")
		}
	})

	t.Run("limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var response listRunsResponse
		json.NewDecoder(rec.Body).Decode(&response)
		if len(response.Runs) != 1 {
			t.Errorf("expected 1 run, got %d", len(response.Runs))
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=abc", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestRunHandler_Get(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", time.Now())
	handler := NewRunHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response runResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Succeeded != 1 || response.Failed != 1 {
		t.Errorf("unexpected counts: %+v", response)
	}
	if len(response.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(response.Outcomes))
	}
	failed := response.Outcomes[1]
	if failed.Status != "failed" || failed.ErrorKind != "decode" {
		t.Errorf("unexpected outcome: %+v", failed)
	}
}

func TestRunHandler_NotFound(t *testing.T) {
	s := newTestStore(t)
	handler := NewRunHandler(s)

	for _, path := range []string{"/api/runs/missing", "/api/runs/a/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestRunHandler_MethodNotAllowed(t *testing.T) {
	handler := NewRunHandler(newTestStore(t))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/runs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}
