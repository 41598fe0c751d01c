package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwv/mapqc/qc"
)

const testReferenceJSON = `{
	"name": "atlas-v2",
	"dim": 2,
	"clusters": [
		{"id": "alpha", "center": [0, 0], "covariance": [1, 0, 0, 1]},
		{"id": "beta", "center": [10, 10], "covariance": [1, 0, 0, 1]}
	]
}`

const testObservationsJSON = `{
	"dataset": "batch-7",
	"cellIds": ["c1", "c2", "c3", "c4"],
	"embeddings": [[0, 0], [0.1, 0], [10, 10], [30, 30]],
	"weights": [[1, 0], [1, 0], [0, 1], [1, 0]],
	"attributes": {"donor": ["d1", "d1", "d2", "d2"]}
}`

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func testApp(t *testing.T) *App {
	t.Helper()
	app := NewApp()
	app.ReferenceFile = writeTestFile(t, "ref.json", testReferenceJSON)
	app.ObservationFile = writeTestFile(t, "obs.json", testObservationsJSON)
	return app
}

// ---------------------------------------------------------------------------
// params resolution
// ---------------------------------------------------------------------------

func TestParamsDefaults(t *testing.T) {
	app := NewApp()
	p := app.params()
	if p.KMAD != qc.DefaultKMAD {
		t.Errorf("kMAD = %v, want default %v", p.KMAD, qc.DefaultKMAD)
	}
	if p.GroupByEnabled {
		t.Error("grouping enabled by default")
	}
}

func TestParamsFlagsOverrideConfig(t *testing.T) {
	app := NewApp()
	app.Config = &qc.Config{
		Reference: "ref.json",
		Params:    qc.Params{KMAD: 3.0},
	}

	if p := app.params(); p.KMAD != 3.0 {
		t.Errorf("config kMAD = %v, want 3.0", p.KMAD)
	}

	app.KMAD = 1.5
	app.GroupBy = true
	app.GroupKey = "donor"

	p := app.params()
	if p.KMAD != 1.5 {
		t.Errorf("flag kMAD = %v, want 1.5", p.KMAD)
	}
	if !p.GroupByEnabled || p.GroupKey != "donor" {
		t.Errorf("grouping = %v/%q, want true/donor", p.GroupByEnabled, p.GroupKey)
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile: "c.yaml",
		KMAD:       2.0,
		GroupBy:    true,
		GroupKey:   "donor",
		HttpPort:   9090,
	})
	if app.ConfigFile != "c.yaml" || app.KMAD != 2.0 || !app.GroupBy || app.HttpPort != 9090 {
		t.Errorf("options not applied: %+v", app)
	}
}

// ---------------------------------------------------------------------------
// reference loading
// ---------------------------------------------------------------------------

func TestLoadReferenceFromFile(t *testing.T) {
	app := testApp(t)
	ref, err := app.loadReference()
	if err != nil {
		t.Fatalf("loadReference failed: %v", err)
	}
	if ref.K() != 2 || ref.Dim != 2 {
		t.Errorf("reference K=%d dim=%d, want 2/2", ref.K(), ref.Dim)
	}
}

func TestLoadReferenceFallsBackToConfig(t *testing.T) {
	app := NewApp()
	app.Config = &qc.Config{Reference: writeTestFile(t, "ref.json", testReferenceJSON)}

	ref, err := app.loadReference()
	if err != nil {
		t.Fatalf("loadReference failed: %v", err)
	}
	if ref.Name != "atlas-v2" {
		t.Errorf("reference name = %q", ref.Name)
	}
}

func TestLoadReferenceUnconfigured(t *testing.T) {
	app := NewApp()
	if _, err := app.loadReference(); err == nil {
		t.Error("expected error with no reference configured")
	}
}

// ---------------------------------------------------------------------------
// batch scoring
// ---------------------------------------------------------------------------

func TestScoreBatchFile(t *testing.T) {
	app := testApp(t)

	report, batch, err := app.scoreBatchFile()
	if err != nil {
		t.Fatalf("scoreBatchFile failed: %v", err)
	}
	if report.Dataset != "batch-7" {
		t.Errorf("dataset = %q, want batch-7", report.Dataset)
	}
	if batch.Len() != 4 {
		t.Errorf("batch has %d cells, want 4", batch.Len())
	}
	if report.FailCount() != 1 {
		t.Errorf("fail count = %d, want 1 (the far-off cell)", report.FailCount())
	}
}

func TestScoreBatchFileDatasetFromFilename(t *testing.T) {
	app := NewApp()
	app.ReferenceFile = writeTestFile(t, "ref.json", testReferenceJSON)
	// Batch without its own dataset name takes it from the file name.
	app.ObservationFile = writeTestFile(t, "pbmc-day3.json",
		`{"embeddings": [[0, 0], [0.1, 0]], "weights": [[1, 0], [1, 0]]}`)

	report, _, err := app.scoreBatchFile()
	if err != nil {
		t.Fatalf("scoreBatchFile failed: %v", err)
	}
	if report.Dataset != "pbmc-day3" {
		t.Errorf("dataset = %q, want pbmc-day3", report.Dataset)
	}
}

func TestScoreBatchFileMissingObservations(t *testing.T) {
	app := NewApp()
	app.ReferenceFile = writeTestFile(t, "ref.json", testReferenceJSON)
	if _, _, err := app.scoreBatchFile(); err == nil {
		t.Error("expected error with no observation file")
	}
}

// ---------------------------------------------------------------------------
// handleBatch fan-out
// ---------------------------------------------------------------------------

func TestHandleBatchUpdatesTrackerAndStore(t *testing.T) {
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

	if app.Tracker.Report("batch-7") == nil {
		t.Error("tracker has no report after handleBatch")
	}
	if app.Tracker.Batch("batch-7") == nil {
		t.Error("tracker has no batch after handleBatch")
	}

	runs, err := store.ListRuns(context.Background(), "batch-7", 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("store has %d runs, want 1", len(runs))
	}
}

func TestHandleBatchScoringFailureLeavesNoState(t *testing.T) {
	app := testApp(t)

	ref, err := app.loadReference()
	if err != nil {
		t.Fatalf("loadReference failed: %v", err)
	}
	app.Reference = ref

	// Wrong embedding width fails validation; nothing must be tracked.
	bad := &qc.ObservationSet{
		Embeddings: [][]float64{{1, 2, 3}},
		Weights:    [][]float64{{1, 0}},
	}
	app.handleBatch("broken", bad)

	if app.Tracker.Report("broken") != nil {
		t.Error("tracker holds a report for a failed batch")
	}
}
