package qc

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ParseReferenceFile reads and parses a reference model JSON file.
func ParseReferenceFile(path string) (*ReferenceModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference file: %w", err)
	}
	return ParseReferenceJSON(data)
}

// ParseReferenceJSON parses reference model JSON data.
func ParseReferenceJSON(data []byte) (*ReferenceModel, error) {
	var m ReferenceModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing reference JSON: %w", err)
	}
	if len(m.Clusters) == 0 {
		return nil, fmt.Errorf("reference has no clusters")
	}
	if m.Dim == 0 {
		m.Dim = len(m.Clusters[0].Center)
	}
	return &m, nil
}

// ParseObservationsFile reads and parses an observation batch JSON file.
func ParseObservationsFile(path string) (*ObservationSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading observations file: %w", err)
	}
	return ParseObservationsJSON(data)
}

// ParseObservationsJSON parses observation batch JSON data and checks the
// batch is internally consistent: one weight row and one attribute value
// per embedding row. Consistency with the reference (dim, K) is checked at
// scoring time.
func ParseObservationsJSON(data []byte) (*ObservationSet, error) {
	var o ObservationSet
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing observations JSON: %w", err)
	}

	n := len(o.Embeddings)
	if n == 0 {
		return nil, fmt.Errorf("observation batch is empty")
	}
	if len(o.Weights) != n {
		return nil, &DimensionMismatchError{What: "weight rows", Got: len(o.Weights), Want: n}
	}
	if len(o.CellIDs) != 0 && len(o.CellIDs) != n {
		return nil, &DimensionMismatchError{What: "cell IDs", Got: len(o.CellIDs), Want: n}
	}
	for key, values := range o.Attributes {
		if len(values) != n {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("attribute %q length", key),
				Got:  len(values),
				Want: n,
			}
		}
	}
	return &o, nil
}

// Summary describes a parsed batch for log output and CLI inspection.
type Summary struct {
	Dataset    string
	Cells      int
	Dim        int
	K          int
	Attributes []string
}

// Summarize extracts high-level facts from an observation batch.
func Summarize(o *ObservationSet) Summary {
	s := Summary{Dataset: o.Dataset, Cells: o.Len()}
	if o.Len() > 0 {
		s.Dim = len(o.Embeddings[0])
		s.K = len(o.Weights[0])
	}
	for key := range o.Attributes {
		s.Attributes = append(s.Attributes, key)
	}
	sort.Strings(s.Attributes)
	return s
}
