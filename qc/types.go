package qc

import (
	"strconv"
	"time"
)

// QCLabel is the Pass/Fail classification attached to each cell.
type QCLabel string

const (
	QCPass QCLabel = "Pass"
	QCFail QCLabel = "Fail"
)

// DefaultKMAD is the default MAD multiplier for the outlier threshold.
const DefaultKMAD = 2.5

// madScale is the normal-consistency constant for the median absolute
// deviation. The same factor applies in global and per-group mode.
const madScale = 1.4826

// ClusterSpec is the wire form of one reference cluster.
// Covariance is row-major, dim*dim entries.
type ClusterSpec struct {
	ID         string    `json:"id,omitempty"`
	Center     []float64 `json:"center"`
	Covariance []float64 `json:"covariance"`
}

// ReferenceModel is the wire form of a pre-built reference: cluster centers
// and covariances estimated upstream. It is read-only input; this package
// never mutates or rebuilds it.
type ReferenceModel struct {
	Name     string        `json:"name,omitempty"`
	Dim      int           `json:"dim"`
	Clusters []ClusterSpec `json:"clusters"`
}

// ObservationSet is one batch of query cells already projected into the
// reference embedding. Embeddings is N×dim, Weights is N×K with columns
// aligned index-for-index with ReferenceModel.Clusters. Attributes carries
// optional per-cell label vectors (e.g. "donor"), each of length N.
type ObservationSet struct {
	Dataset    string              `json:"dataset,omitempty"`
	CellIDs    []string            `json:"cellIds,omitempty"`
	Embeddings [][]float64         `json:"embeddings"`
	Weights    [][]float64         `json:"weights"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Len returns the number of cells in the batch.
func (o *ObservationSet) Len() int { return len(o.Embeddings) }

// CellID returns the identifier for cell i, falling back to a positional
// name when the batch carries no explicit IDs.
func (o *ObservationSet) CellID(i int) string {
	if i < len(o.CellIDs) && o.CellIDs[i] != "" {
		return o.CellIDs[i]
	}
	return positionalID(i)
}

func positionalID(i int) string {
	return "cell-" + strconv.Itoa(i)
}

// Params controls scoring and classification.
type Params struct {
	KMAD           float64 `json:"kMad" yaml:"kMad"`
	GroupByEnabled bool    `json:"groupByEnabled" yaml:"groupByEnabled"`
	GroupKey       string  `json:"groupKey,omitempty" yaml:"groupKey,omitempty"`
}

// DefaultParams returns global-mode defaults.
func DefaultParams() Params {
	return Params{KMAD: DefaultKMAD}
}

// ScoredCell is one cell's QC result.
type ScoredCell struct {
	CellID string  `json:"cellId"`
	Group  string  `json:"group,omitempty"`
	Score  float64 `json:"mappingErrorScore"`
	QC     QCLabel `json:"mappingErrorQC"`
}

// GroupStats holds the robust threshold computed for one group (or for the
// whole batch in global mode, under the group name "all").
type GroupStats struct {
	Group     string  `json:"group"`
	N         int     `json:"n"`
	Median    float64 `json:"median"`
	MAD       float64 `json:"mad"`
	Threshold float64 `json:"threshold"`
	FailCount int     `json:"failCount"`
}

// Report is the full output of one scoring run, in input cell order.
type Report struct {
	Dataset   string       `json:"dataset,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Params    Params       `json:"params"`
	Cells     []ScoredCell `json:"cells"`
	Groups    []GroupStats `json:"groups"`
	Timestamp time.Time    `json:"timestamp"`
}

// FailCount returns the total number of Fail cells across all groups.
func (r *Report) FailCount() int {
	n := 0
	for _, c := range r.Cells {
		if c.QC == QCFail {
			n++
		}
	}
	return n
}
