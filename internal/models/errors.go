package models

import (
	"github.com/pkg/errors"
)

// Error taxonomy shared by every stage of the measurement chain.
// Callers match with errors.Is; stages wrap them with errors.Wrapf.
var (
	// ErrShapeMismatch is returned when a stamp or Fourier array does not
	// match the grid it is used with
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUninitializedState is returned when an operation needs a cache
	// (PSF power, basis or noise model) that has not been set
	ErrUninitializedState = errors.New("uninitialized state")

	// ErrDeconvolution is returned when the PSF power inside the cutoff
	// disk is at or below the floor and no regularization is configured
	ErrDeconvolution = errors.New("deconvolution error")

	// ErrConfigurationInconsistency is returned when basis parameters do not
	// match the ones used to build a dependent cache, or are invalid for the grid
	ErrConfigurationInconsistency = errors.New("configuration inconsistency")
)

// Outcome classifies an error into a short label, "ok" for nil
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrUninitializedState):
		return "uninitialized"
	case errors.Is(err, ErrDeconvolution):
		return "deconvolution"
	case errors.Is(err, ErrConfigurationInconsistency):
		return "configuration"
	default:
		return "error"
	}
}
