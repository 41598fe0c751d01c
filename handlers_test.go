package main

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/mapqc/qc"
)

func serverFixture(t *testing.T) (http.Handler, *qc.ReportTracker) {
	t.Helper()
	app := testApp(t)
	ref, err := app.loadReference()
	if err != nil {
		t.Fatalf("loadReference failed: %v", err)
	}
	app.Reference = ref

	batch, err := qc.ParseObservationsFile(app.ObservationFile)
	if err != nil {
		t.Fatalf("parsing observations: %v", err)
	}
	app.handleBatch("batch-7", batch)

	return newHTTPServer(app.Tracker, ref, app.Store, nil), app.Tracker
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status struct {
		Status     string   `json:"status"`
		HasReports bool     `json:"hasReports"`
		Datasets   []string `json:"datasets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if status.Status != "ok" || !status.HasReports {
		t.Errorf("health = %+v", status)
	}
	if len(status.Datasets) != 1 || status.Datasets[0] != "batch-7" {
		t.Errorf("datasets = %v, want [batch-7]", status.Datasets)
	}
}

func TestReportEndpoint(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/batch-7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report qc.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if report.Dataset != "batch-7" || len(report.Cells) != 4 {
		t.Errorf("report = %s with %d cells", report.Dataset, len(report.Cells))
	}
}

func TestReportEndpointUnknownDataset(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestScoresPNGEndpoint(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scores.png?dataset=batch-7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if _, err := png.Decode(rec.Body); err != nil {
		t.Errorf("body is not a valid PNG: %v", err)
	}
}

func TestScoresPNGDefaultsToOnlyDataset(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scores.png", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (single dataset fallback)", rec.Code)
	}
}

func TestScoresPNGNoReports(t *testing.T) {
	server := newHTTPServer(qc.NewReportTracker(), nil, nil, nil)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scores.png", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestScatterSVGEndpoint(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scatter.svg?dataset=batch-7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Error("body does not look like SVG")
	}
}

func TestFootprintEndpoint(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/footprint.json?dataset=batch-7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var fc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %q, want FeatureCollection", fc.Type)
	}
}

func TestScoreEndpoint(t *testing.T) {
	server, tracker := serverFixture(t)

	body := strings.NewReader(testObservationsJSON)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/score", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var report qc.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(report.Cells) != 4 {
		t.Errorf("scored %d cells, want 4", len(report.Cells))
	}
	if tracker.Report("batch-7") == nil {
		t.Error("tracker not updated after POST /score")
	}
}

func TestScoreEndpointRejectsGet(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/score", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestScoreEndpointBadPayload(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/score", strings.NewReader("{broken")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestScoreEndpointScoringError(t *testing.T) {
	server, _ := serverFixture(t)

	// Valid JSON, but the embedding width disagrees with the reference.
	payload := `{"embeddings": [[1, 2, 3]], "weights": [[1, 0]]}`
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/score", strings.NewReader(payload)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestRunsEndpointWithoutStore(t *testing.T) {
	server, _ := serverFixture(t)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when persistence is disabled", rec.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	app := testApp(t)
	ref, err := app.loadReference()
	if err != nil {
		t.Fatalf("loadReference failed: %v", err)
	}
	app.Reference = ref

	store, err := qc.OpenStore(filepath.Join(t.TempDir(), "qc.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()
	app.Store = store

	batch, err := qc.ParseObservationsFile(app.ObservationFile)
	if err != nil {
		t.Fatalf("parsing observations: %v", err)
	}
	app.handleBatch("batch-7", batch)

	server := newHTTPServer(app.Tracker, ref, store, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?dataset=batch-7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var runs []qc.RunInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(runs) != 1 || runs[0].Cells != 4 {
		t.Errorf("runs = %+v", runs)
	}

	cells, err := store.LoadCells(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatalf("LoadCells failed: %v", err)
	}
	if len(cells) != 4 {
		t.Errorf("loaded %d cells, want 4", len(cells))
	}
}
