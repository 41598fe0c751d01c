package qc

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Distances computes the N×K Mahalanobis distance matrix between a batch of
// embeddings and every reference cluster:
//
//	dist[i][k] = sqrt((x_i − center_k)ᵀ · cov_k⁻¹ · (x_i − center_k))
//
// Each cluster is one batched pass over all N rows, and the K passes run in
// parallel. Columns are assembled in cluster index order, so the output is
// bit-identical to a sequential run.
func Distances(ref *CompiledReference, embeddings [][]float64) (*mat.Dense, error) {
	n := len(embeddings)
	k := ref.K()

	for i, row := range embeddings {
		if len(row) != ref.Dim {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("embedding row %d length", i),
				Got:  len(row),
				Want: ref.Dim,
			}
		}
	}

	cols := make([][]float64, k)
	errs := make([]error, k)

	var g errgroup.Group
	for c := 0; c < k; c++ {
		g.Go(func() error {
			cols[c], errs[c] = clusterDistances(ref.clusters[c], c, embeddings)
			return nil
		})
	}
	_ = g.Wait()

	// Surface the lowest-index cluster failure so reruns name the same
	// cluster regardless of goroutine scheduling.
	for c := 0; c < k; c++ {
		if errs[c] != nil {
			return nil, errs[c]
		}
	}

	dist := mat.NewDense(n, k, nil)
	for c := 0; c < k; c++ {
		dist.SetCol(c, cols[c])
	}
	return dist, nil
}

// clusterDistances computes one column of the distance matrix: every
// embedding against a single cluster's center and covariance factor.
func clusterDistances(cl compiledCluster, idx int, embeddings [][]float64) ([]float64, error) {
	out := make([]float64, len(embeddings))
	for i, row := range embeddings {
		x := mat.NewVecDense(len(row), row)
		d := stat.Mahalanobis(x, cl.center, cl.chol)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, &NumericalError{
				Cluster: idx,
				Msg:     fmt.Sprintf("squared distance for observation %d is not finite (covariance not positive definite)", i),
			}
		}
		out[i] = d
	}
	return out, nil
}
