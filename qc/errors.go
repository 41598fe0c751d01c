package qc

import "fmt"

// ConfigurationError reports a scoring request that cannot be satisfied as
// configured, e.g. grouping by an attribute the batch does not carry. It is
// raised before any computation; there is never a silent fallback.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Msg
}

// DimensionMismatchError reports input arrays whose shapes disagree with
// the reference. Raised during validation, before any distance is computed.
type DimensionMismatchError struct {
	What string
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s is %d, want %d", e.What, e.Got, e.Want)
}

// NumericalError reports a covariance that is singular or not positive
// definite, identified by cluster index. The whole batch fails; no fallback
// distance is substituted.
type NumericalError struct {
	Cluster int
	Msg     string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("numerical: cluster %d: %s", e.Cluster, e.Msg)
}
