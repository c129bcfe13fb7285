package noise

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/models"
	"fpfs/pkg/deconv"
	"fpfs/pkg/moments"
)

var errNoNoise = errors.Wrap(models.ErrUninitializedState, "noise power not set")

// Bias returns the moments produced by the noise power alone when it passes
// through the deconvolution and projection chain
func Bias(proj *moments.Projector, dec *deconv.Engine, noisePow []float64) (moments.Vector, error) {
	if noisePow == nil {
		return moments.Vector{}, errNoNoise
	}
	w, err := dec.PowerDisk(noisePow, 1)
	if err != nil {
		return moments.Vector{}, err
	}
	return proj.Project(w)
}

// Debias subtracts the noise-induced bias from raw moments
func Debias(raw moments.Vector, proj *moments.Projector, dec *deconv.Engine, noisePow []float64) (moments.Vector, error) {
	bias, err := Bias(proj, dec, noisePow)
	if err != nil {
		return moments.Vector{}, err
	}
	return raw.Sub(bias), nil
}

// Covariance propagates a noise power spectrum through the same linear
// projection used for the moments:
//
//	C_ab = sum_disk u_a u_b N / P
//
// where u are the real basis components. It is linear in the noise power
// and independent of the galaxy.
func Covariance(proj *moments.Projector, dec *deconv.Engine, noisePow []float64) (*mat.SymDense, error) {
	if noisePow == nil {
		return nil, errNoNoise
	}
	w, err := dec.PowerDisk(noisePow, 1)
	if err != nil {
		return nil, err
	}
	return project2(proj, w, 1), nil
}

// PowerCovariance returns the second-order noise terms of moments measured
// from a power spectrum:
//
//	N_ab = 2 sum_disk u_a u_b (N^2 + 2 N G) / P^2
//
// with G the noise-subtracted galaxy power. It depends on the galaxy.
func PowerCovariance(proj *moments.Projector, dec *deconv.Engine, galPow, noisePow []float64) (*mat.SymDense, error) {
	if noisePow == nil {
		return nil, errNoNoise
	}
	if len(galPow) != len(noisePow) {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "galaxy power has %d values, noise power %d",
			len(galPow), len(noisePow))
	}

	ep := make([]float64, len(galPow))
	for i, g := range galPow {
		n := noisePow[i]
		ep[i] = n*n + 2*n*(g-n)
	}
	w, err := dec.PowerDisk(ep, 2)
	if err != nil {
		return nil, err
	}
	return project2(proj, w, 2), nil
}

// project2 builds the symmetric matrix factor * sum u_a u_b w
func project2(proj *moments.Projector, w []float64, factor float64) *mat.SymDense {
	k := proj.Kernel()
	b := proj.Basis()
	cov := mat.NewSymDense(moments.NumComponents, nil)
	for i := 0; i < moments.NumComponents; i++ {
		for j := i; j < moments.NumComponents; j++ {
			cov.SetSym(i, j, factor*k.Dot3(b.Packed(i), b.Packed(j), w))
		}
	}
	return cov
}
