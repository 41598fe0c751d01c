package qc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// AggregateScores collapses the N×K distance matrix into one score per
// cell: the per-cluster distances weighted by the cell's soft cluster
// assignment and summed in cluster index order (0..K−1).
//
// This is a weighted sum, not a weighted average. Upstream soft assignments
// are expected to sum to 1 per cell; no normalization happens here, so
// callers passing unnormalized weights get proportionally larger scores.
func AggregateScores(dist *mat.Dense, weights [][]float64) ([]float64, error) {
	n, k := dist.Dims()
	if len(weights) != n {
		return nil, &DimensionMismatchError{What: "weight rows", Got: len(weights), Want: n}
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		if len(weights[i]) != k {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("weight row %d length", i),
				Got:  len(weights[i]),
				Want: k,
			}
		}
		var s float64
		for c := 0; c < k; c++ {
			s += dist.At(i, c) * weights[i][c]
		}
		scores[i] = s
	}
	return scores, nil
}
