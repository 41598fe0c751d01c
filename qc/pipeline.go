package qc

import (
	"fmt"
	"log"
	"time"
)

// Score runs the full QC pipeline for one batch: Mahalanobis distances to
// every reference cluster, weighted-sum aggregation, then robust
// classification (global or per group). All validation happens before any
// distance is computed; a failing batch produces no partial results.
func Score(ref *CompiledReference, obs *ObservationSet, params Params) (*Report, error) {
	if ref == nil {
		return nil, &ConfigurationError{Msg: "nil reference"}
	}
	if obs == nil || obs.Len() == 0 {
		return nil, &ConfigurationError{Msg: "empty observation set"}
	}
	if params.KMAD < 0 {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("kMAD must be non-negative, got %g", params.KMAD)}
	}

	// Resolve grouping before touching any numbers: a missing group key
	// must fail the run, never silently fall back to global mode.
	var groupLabels []string
	if params.GroupByEnabled {
		if params.GroupKey == "" {
			return nil, &ConfigurationError{Msg: "grouping enabled but no group key set"}
		}
		labels, ok := obs.Attributes[params.GroupKey]
		if !ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("group key %q not found in observation attributes", params.GroupKey)}
		}
		if len(labels) != obs.Len() {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("attribute %q length", params.GroupKey),
				Got:  len(labels),
				Want: obs.Len(),
			}
		}
		groupLabels = labels
	}

	// Weight shapes are checked up front too, so a malformed batch never
	// pays for a distance pass.
	if len(obs.Weights) != obs.Len() {
		return nil, &DimensionMismatchError{What: "weight rows", Got: len(obs.Weights), Want: obs.Len()}
	}
	for i, row := range obs.Weights {
		if len(row) != ref.K() {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("weight row %d length", i),
				Got:  len(row),
				Want: ref.K(),
			}
		}
	}

	start := time.Now()

	dist, err := Distances(ref, obs.Embeddings)
	if err != nil {
		return nil, err
	}

	scores, err := AggregateScores(dist, obs.Weights)
	if err != nil {
		return nil, err
	}

	var labels []QCLabel
	var groups []GroupStats
	if params.GroupByEnabled {
		labels, groups, err = ClassifyGrouped(scores, groupLabels, params.KMAD)
		if err != nil {
			return nil, err
		}
	} else {
		var stats GroupStats
		labels, stats = Classify(scores, params.KMAD)
		groups = []GroupStats{stats}
	}

	report := &Report{
		Dataset:   obs.Dataset,
		Reference: ref.Name,
		Params:    params,
		Cells:     make([]ScoredCell, obs.Len()),
		Groups:    groups,
		Timestamp: time.Now(),
	}
	for i := range report.Cells {
		cell := ScoredCell{
			CellID: obs.CellID(i),
			Score:  scores[i],
			QC:     labels[i],
		}
		if groupLabels != nil {
			cell.Group = groupLabels[i]
		}
		report.Cells[i] = cell
	}

	log.Printf("[QC] %s: scored %d cells against %d clusters in %s (%d fail)",
		obs.Dataset, obs.Len(), ref.K(), time.Since(start).Round(time.Millisecond), report.FailCount())

	return report, nil
}

// ScoreModel compiles the reference and scores one batch in a single call.
// Callers scoring multiple batches should compile once and use Score.
func ScoreModel(model *ReferenceModel, obs *ObservationSet, params Params) (*Report, error) {
	ref, err := CompileReference(model)
	if err != nil {
		return nil, err
	}
	return Score(ref, obs, params)
}
