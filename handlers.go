package main

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kwv/mapqc/qc"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *qc.ReportTracker, ref *qc.CompiledReference, store *qc.Store, config *qc.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasReports bool      `json:"hasReports"`
			Datasets   []string  `json:"datasets"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasReports: tracker.HasReports(),
			Datasets:   tracker.Datasets(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest report for a dataset: /report/{dataset}
	mux.HandleFunc("/report/", func(w http.ResponseWriter, r *http.Request) {
		dataset := strings.TrimPrefix(r.URL.Path, "/report/")
		report := tracker.Report(dataset)
		if report == nil {
			http.Error(w, "No report for dataset", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("Error encoding report for %s: %v", dataset, err)
		}
	})

	// Score histogram PNG: /scores.png?dataset=ID
	mux.HandleFunc("/scores.png", func(w http.ResponseWriter, r *http.Request) {
		report, ok := reportFromQuery(tracker, r)
		if !ok {
			http.Error(w, "No report available", http.StatusServiceUnavailable)
			return
		}

		renderer := qc.NewHistogramRenderer(report)
		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding histogram PNG: %v", err)
		}
	})

	// Embedding scatter SVG: /scatter.svg?dataset=ID
	mux.HandleFunc("/scatter.svg", func(w http.ResponseWriter, r *http.Request) {
		report, ok := reportFromQuery(tracker, r)
		if !ok {
			http.Error(w, "No report available", http.StatusServiceUnavailable)
			return
		}
		batch := tracker.Batch(report.Dataset)
		if batch == nil {
			http.Error(w, "No raw batch cached for dataset", http.StatusServiceUnavailable)
			return
		}

		renderer := qc.NewScatterRenderer(report, batch, ref)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding scatter SVG: %v", err)
		}
	})

	// Cluster footprints GeoJSON: /footprint.json?dataset=ID
	mux.HandleFunc("/footprint.json", func(w http.ResponseWriter, r *http.Request) {
		report, ok := reportFromQuery(tracker, r)
		if !ok {
			http.Error(w, "No report available", http.StatusServiceUnavailable)
			return
		}
		batch := tracker.Batch(report.Dataset)
		if batch == nil {
			http.Error(w, "No raw batch cached for dataset", http.StatusServiceUnavailable)
			return
		}

		footprints, err := qc.ComputeFootprints(ref, report, batch)
		if err != nil {
			log.Printf("Error computing footprints: %v", err)
			http.Error(w, "Footprint computation failed", http.StatusInternalServerError)
			return
		}
		data, err := qc.FootprintsGeoJSON(footprints)
		if err != nil {
			http.Error(w, "Footprint encoding failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	// Score a batch on demand: POST /score with an observation JSON body
	mux.HandleFunc("/score", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		body := http.MaxBytesReader(w, r.Body, 200<<20)
		defer body.Close()
		raw, err := io.ReadAll(body)
		if err != nil {
			http.Error(w, "Reading request body failed", http.StatusBadRequest)
			return
		}

		batch, err := qc.ParseObservationsJSON(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := qc.DefaultParams()
		if config != nil {
			params = config.Params
		}
		report, err := qc.Score(ref, batch, params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		if batch.Dataset != "" {
			tracker.UpdateReport(batch.Dataset, report, batch)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("Error encoding scored report: %v", err)
		}
	})

	// Run history from the store: /runs?dataset=ID&limit=N
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Persistence disabled", http.StatusNotFound)
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		runs, err := store.ListRuns(context.Background(), r.URL.Query().Get("dataset"), limit)
		if err != nil {
			log.Printf("Error listing runs: %v", err)
			http.Error(w, "Run listing failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			log.Printf("Error encoding runs: %v", err)
		}
	})

	return mux
}

// reportFromQuery resolves the report for the dataset query parameter,
// defaulting to the first dataset when only one exists.
func reportFromQuery(tracker *qc.ReportTracker, r *http.Request) (*qc.Report, bool) {
	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		ids := tracker.Datasets()
		if len(ids) == 0 {
			return nil, false
		}
		dataset = ids[0]
	}
	report := tracker.Report(dataset)
	return report, report != nil
}
