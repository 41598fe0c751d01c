package qc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// compiledCluster holds one cluster's center and the Cholesky factor of its
// covariance, ready for repeated Mahalanobis evaluation.
type compiledCluster struct {
	id     string
	center *mat.VecDense
	chol   *mat.Cholesky
}

// CompiledReference is a validated, pre-factorized reference model. Compile
// once, then score any number of batches against it.
type CompiledReference struct {
	Name     string
	Dim      int
	clusters []compiledCluster
}

// K returns the number of reference clusters.
func (r *CompiledReference) K() int { return len(r.clusters) }

// ClusterID returns the identifier of cluster k, falling back to a
// positional name when the model carries none.
func (r *CompiledReference) ClusterID(k int) string {
	if r.clusters[k].id != "" {
		return r.clusters[k].id
	}
	return fmt.Sprintf("cluster-%d", k)
}

// CompileReference validates a reference model and factorizes each cluster
// covariance. A covariance that is not symmetric positive definite fails
// compilation with a NumericalError naming the cluster; nothing is ever
// scored against a partially valid reference.
func CompileReference(model *ReferenceModel) (*CompiledReference, error) {
	if model == nil || len(model.Clusters) == 0 {
		return nil, &ConfigurationError{Msg: "reference model has no clusters"}
	}

	dim := model.Dim
	if dim == 0 {
		dim = len(model.Clusters[0].Center)
	}
	if dim <= 0 {
		return nil, &ConfigurationError{Msg: "reference model has no embedding dimension"}
	}

	ref := &CompiledReference{
		Name:     model.Name,
		Dim:      dim,
		clusters: make([]compiledCluster, 0, len(model.Clusters)),
	}

	for k, c := range model.Clusters {
		if len(c.Center) != dim {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("cluster %d center length", k),
				Got:  len(c.Center),
				Want: dim,
			}
		}
		if len(c.Covariance) != dim*dim {
			return nil, &DimensionMismatchError{
				What: fmt.Sprintf("cluster %d covariance length", k),
				Got:  len(c.Covariance),
				Want: dim * dim,
			}
		}

		sym := mat.NewSymDense(dim, c.Covariance)
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return nil, &NumericalError{
				Cluster: k,
				Msg:     "covariance is singular or not positive definite",
			}
		}

		center := mat.NewVecDense(dim, nil)
		for i, v := range c.Center {
			center.SetVec(i, v)
		}

		ref.clusters = append(ref.clusters, compiledCluster{
			id:     c.ID,
			center: center,
			chol:   &chol,
		})
	}

	return ref, nil
}
