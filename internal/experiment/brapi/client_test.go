package brapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
	"experiment_import_backend/platform/config"
	"experiment_import_backend/platform/logger"
)

const testToken = "token-123"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		BrAPIBaseURL:         srv.URL + "/brapi/v2",
		BrAPIAccessToken:     testToken,
		BrAPIReferenceSource: "breeding-insight.org",
		BrAPITimeout:         5 * time.Second,
	}
	return NewClient(cfg, logger.Discard())
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"metadata": map[string]any{"pagination": map[string]any{"currentPage": 0, "totalPages": 1}},
		"result":   map[string]any{"data": data},
	})
}

func TestFetchByExternalReferenceSendsSearch(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/brapi/v2/search/observationunits" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeData(w, http.StatusOK, []domain.ObservationUnit{{ObservationUnitDbID: "u1", ObservationUnitName: "Plot 1"}})
	}))

	units, err := client.Store().Units.FetchByExternalReference(context.Background(), "p1", []string{"ref-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(units) != 1 || units[0].ObservationUnitDbID != "u1" {
		t.Fatalf("unexpected units %+v", units)
	}
	sources, _ := body["externalReferenceSources"].([]any)
	if len(sources) != 1 || sources[0] != "breeding-insight.org/observationUnits" {
		t.Fatalf("expected reference source in search body, got %v", body["externalReferenceSources"])
	}
}

func TestSearchFollowsAcceptedPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/brapi/v2/search/studies", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"searchResultsDbId": "s-1"}})
	})
	mux.HandleFunc("/brapi/v2/search/studies/s-1", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 2 {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"searchResultsDbId": "s-1"}})
			return
		}
		writeData(w, http.StatusOK, []domain.Study{{StudyDbID: "st1", StudyName: "Env A"}})
	})
	client := newTestClient(t, mux)

	studies, err := client.Store().Studies.FetchByDbID(context.Background(), "p1", []string{"st1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(studies) != 1 || polls.Load() != 2 {
		t.Fatalf("expected one study after two polls, got %d studies, %d polls", len(studies), polls.Load())
	}
}

func TestBatchCreateRequiresFullEcho(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, []domain.Trial{{TrialDbID: "t1"}})
	}))

	created, err := client.Store().Trials.BatchCreate(context.Background(), []domain.Trial{{TrialName: "A"}, {TrialName: "B"}})
	if err == nil {
		t.Fatal("expected error when the server returns fewer records than sent")
	}
	if len(created) != 1 || created[0].TrialDbID != "t1" {
		t.Fatalf("the echoed records must be returned for rollback, got %+v", created)
	}
}

func TestGetProgramNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Store().Programs.GetProgram(context.Background(), "missing")
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBatchUpdateUsesBulkMapForObservations(t *testing.T) {
	var got map[string]domain.Observation
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/brapi/v2/observations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeData(w, http.StatusOK, []domain.Observation{got["o1"]})
	}))

	updated, err := client.Store().Observations.BatchUpdate(context.Background(), []domain.Observation{{ObservationDbID: "o1", Value: "12"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated) != 1 || got["o1"].Value != "12" {
		t.Fatalf("unexpected update payload %+v", got)
	}
}
