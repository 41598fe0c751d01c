package qc

import (
	"math"
	"sort"
)

// median returns the middle value of xs (mean of the two middle values for
// even length). xs is not modified. Returns NaN for an empty slice.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// mad returns the median absolute deviation from med, scaled by the
// normal-consistency constant 1.4826.
func mad(xs []float64, med float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return madScale * median(dev)
}

// robustThreshold computes the median + kMAD·MAD cutoff for one set of
// scores. A zero-spread set (including a singleton) yields MAD = 0 and a
// threshold equal to the median.
func robustThreshold(scores []float64, kMAD float64) (med, spread, threshold float64) {
	med = median(scores)
	spread = mad(scores, med)
	return med, spread, med + kMAD*spread
}

// exceeds is the single Fail predicate shared by global and per-group
// classification: strictly above the threshold fails, equal passes.
func exceeds(score, threshold float64) bool {
	return score > threshold
}
