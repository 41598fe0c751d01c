package qc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// ClusterFootprint is the convex hull of a cluster's passing cells in the
// first two embedding dimensions. It gives a quick picture of which regions
// of the embedding each cluster's accepted cells occupy.
type ClusterFootprint struct {
	Cluster string      `json:"cluster"`
	Cells   int         `json:"cells"`
	Area    float64     `json:"area"`
	Hull    orb.Polygon `json:"-"`
}

// hullSimplifyTolerance controls Douglas-Peucker simplification of hull
// rings, in embedding units.
const hullSimplifyTolerance = 0.01

// ComputeFootprints assigns each passing cell to its highest-weight cluster
// and builds one convex-hull footprint per cluster, in cluster index order.
// Clusters with fewer than 3 passing cells yield no footprint.
func ComputeFootprints(ref *CompiledReference, report *Report, batch *ObservationSet) ([]ClusterFootprint, error) {
	if batch == nil || batch.Len() == 0 || report == nil {
		return nil, fmt.Errorf("footprint: empty input")
	}
	if len(batch.Embeddings[0]) < 2 {
		return nil, fmt.Errorf("footprint: embedding has fewer than 2 dimensions")
	}
	if len(report.Cells) != batch.Len() {
		return nil, &DimensionMismatchError{What: "report cells", Got: len(report.Cells), Want: batch.Len()}
	}

	k := ref.K()
	points := make([][]orb.Point, k)
	for i, cell := range report.Cells {
		if cell.QC != QCPass {
			continue
		}
		if len(batch.Weights[i]) != k {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("weight row %d length", i),
				Got:  len(batch.Weights[i]),
				Want: k,
			}
		}
		c := argmax(batch.Weights[i])
		points[c] = append(points[c], orb.Point{batch.Embeddings[i][0], batch.Embeddings[i][1]})
	}

	var footprints []ClusterFootprint
	for c := 0; c < k; c++ {
		if len(points[c]) < 3 {
			continue
		}
		hull := convexHull(points[c])
		if len(hull) < 3 {
			continue
		}

		ring := append(orb.Ring(hull), hull[0])
		simplified := simplify.DouglasPeucker(hullSimplifyTolerance).Simplify(ring.Clone())
		result, ok := simplified.(orb.Ring)
		if !ok || len(result) < 4 {
			result = ring
		}

		poly := orb.Polygon{result}
		footprints = append(footprints, ClusterFootprint{
			Cluster: ref.ClusterID(c),
			Cells:   len(points[c]),
			Area:    math.Abs(planar.Area(poly)),
			Hull:    poly,
		})
	}
	return footprints, nil
}

// argmax returns the index of the largest value, lowest index on ties.
func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// convexHull computes the convex hull of points with the Andrew monotone
// chain, counterclockwise, without the closing point.
func convexHull(pts []orb.Point) []orb.Point {
	if len(pts) < 3 {
		return append([]orb.Point(nil), pts...)
	}

	sorted := append([]orb.Point(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	var lower []orb.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []orb.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// footprintFeature is the GeoJSON feature wire form for one footprint.
type footprintFeature struct {
	Type       string         `json:"type"`
	Geometry   map[string]any `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FootprintsGeoJSON encodes footprints as a GeoJSON FeatureCollection over
// embedding coordinates.
func FootprintsGeoJSON(footprints []ClusterFootprint) ([]byte, error) {
	features := make([]footprintFeature, 0, len(footprints))
	for _, fp := range footprints {
		coords := make([][][]float64, len(fp.Hull))
		for r, ring := range fp.Hull {
			coords[r] = make([][]float64, len(ring))
			for i, p := range ring {
				coords[r][i] = []float64{p[0], p[1]}
			}
		}
		features = append(features, footprintFeature{
			Type: "Feature",
			Geometry: map[string]any{
				"type":        "Polygon",
				"coordinates": coords,
			},
			Properties: map[string]any{
				"cluster": fp.Cluster,
				"cells":   fp.Cells,
				"area":    fp.Area,
			},
		})
	}

	return json.MarshalIndent(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	}, "", "  ")
}
