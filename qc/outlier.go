package qc

// GlobalGroupName is the group label used for the implicit single group
// when no grouping is requested.
const GlobalGroupName = "all"

// partition is one disjoint subset of cell indices sharing a group label.
type partition struct {
	name string
	idx  []int
}

// partitionBy splits cell indices by label, preserving first-appearance
// order so group iteration (and therefore output and log order) is stable.
// Every cell lands in exactly one partition.
func partitionBy(labels []string) []partition {
	var parts []partition
	seen := make(map[string]int)
	for i, label := range labels {
		p, ok := seen[label]
		if !ok {
			p = len(parts)
			seen[label] = p
			parts = append(parts, partition{name: label})
		}
		parts[p].idx = append(parts[p].idx, i)
	}
	return parts
}

// classifyPartition applies the robust threshold rule to one partition and
// writes labels for its cells into out.
func classifyPartition(scores []float64, part partition, kMAD float64, out []QCLabel) GroupStats {
	sub := make([]float64, len(part.idx))
	for j, i := range part.idx {
		sub[j] = scores[i]
	}

	med, spread, threshold := robustThreshold(sub, kMAD)

	stats := GroupStats{
		Group:     part.name,
		N:         len(part.idx),
		Median:    med,
		MAD:       spread,
		Threshold: threshold,
	}
	for _, i := range part.idx {
		if exceeds(scores[i], threshold) {
			out[i] = QCFail
			stats.FailCount++
		} else {
			out[i] = QCPass
		}
	}
	return stats
}

// Classify labels every score against one threshold computed over the
// whole batch.
func Classify(scores []float64, kMAD float64) ([]QCLabel, GroupStats) {
	all := partition{name: GlobalGroupName, idx: make([]int, len(scores))}
	for i := range scores {
		all.idx[i] = i
	}
	out := make([]QCLabel, len(scores))
	stats := classifyPartition(scores, all, kMAD, out)
	return out, stats
}

// ClassifyGrouped partitions scores by label and applies the same threshold
// rule independently within each group. Each group's threshold depends only
// on that group's own scores.
func ClassifyGrouped(scores []float64, labels []string, kMAD float64) ([]QCLabel, []GroupStats, error) {
	if len(labels) != len(scores) {
		return nil, nil, &DimensionMismatchError{What: "group labels", Got: len(labels), Want: len(scores)}
	}

	out := make([]QCLabel, len(scores))
	parts := partitionBy(labels)
	stats := make([]GroupStats, 0, len(parts))
	for _, part := range parts {
		stats = append(stats, classifyPartition(scores, part, kMAD, out))
	}
	return out, stats, nil
}
