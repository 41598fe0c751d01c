package qc

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// ReportTracker keeps the latest QC report and raw batch per dataset for
// the HTTP endpoints and for republishing summaries.
type ReportTracker struct {
	mu        sync.RWMutex
	reports   map[string]*Report
	batches   map[string]*ObservationSet
	colors    map[string]string // dataset ID -> hex color
	cachePath string            // path to the reports cache file; empty disables persistence
}

// NewReportTracker creates a new report tracker.
func NewReportTracker() *ReportTracker {
	return &ReportTracker{
		reports: make(map[string]*Report),
		batches: make(map[string]*ObservationSet),
		colors:  make(map[string]string),
	}
}

// NewReportTrackerWithCache creates a tracker that persists reports to the
// given cache file. If the file exists, cached reports are loaded on
// creation so restarts keep serving the last known state.
func NewReportTrackerWithCache(cachePath string) *ReportTracker {
	rt := NewReportTracker()
	rt.cachePath = cachePath
	if cachePath == "" {
		return rt
	}
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return rt
	}
	var cached map[string]*Report
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Printf("[STATE] ignoring unreadable report cache %s: %v", cachePath, err)
		return rt
	}
	rt.reports = cached
	return rt
}

// SetColor sets the render color for a dataset.
func (rt *ReportTracker) SetColor(dataset, hexColor string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.colors[dataset] = hexColor
}

// Color returns the render color for a dataset, defaulting to red.
func (rt *ReportTracker) Color(dataset string) string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if c := rt.colors[dataset]; c != "" {
		return c
	}
	return "#FF0000"
}

// UpdateReport stores the latest report and source batch for a dataset.
func (rt *ReportTracker) UpdateReport(dataset string, report *Report, batch *ObservationSet) {
	rt.mu.Lock()
	rt.reports[dataset] = report
	if batch != nil {
		rt.batches[dataset] = batch
	}
	cachePath := rt.cachePath
	var snapshot map[string]*Report
	if cachePath != "" {
		snapshot = make(map[string]*Report, len(rt.reports))
		for k, v := range rt.reports {
			snapshot[k] = v
		}
	}
	rt.mu.Unlock()

	if cachePath != "" {
		if err := saveReportCache(cachePath, snapshot); err != nil {
			log.Printf("[STATE] failed to persist report cache: %v", err)
		}
	}
}

// Report returns the latest report for a dataset, or nil.
func (rt *ReportTracker) Report(dataset string) *Report {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.reports[dataset]
}

// Batch returns the latest raw observation batch for a dataset, or nil.
func (rt *ReportTracker) Batch(dataset string) *ObservationSet {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.batches[dataset]
}

// Datasets returns the IDs of all datasets with a stored report, sorted.
func (rt *ReportTracker) Datasets() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ids := make([]string, 0, len(rt.reports))
	for id := range rt.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasReports reports whether any dataset has been scored yet.
func (rt *ReportTracker) HasReports() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.reports) > 0
}

func saveReportCache(path string, reports map[string]*Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report cache: %w", err)
	}
	return nil
}
