package fpfs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/models"
	"fpfs/pkg/moments"
)

func TestToShearFormula(t *testing.T) {
	v := moments.Vector{M00: 3, M22c: 0.4, M22s: -0.2, M40: 1}
	rc := DefaultResponse()

	s, err := ToShear(v, nil, rc, false)
	require.NoError(t, err)

	eSq := 0.1*0.1 + 0.05*0.05
	assert.InDelta(t, 4, s.Weight, 1e-15)
	assert.InDelta(t, 0.1, s.E1, 1e-15)
	assert.InDelta(t, -0.05, s.E2, 1e-15)
	assert.InDelta(t, 0.75, s.S0, 1e-15)
	assert.InDelta(t, eSq, s.ESquare, 1e-15)
	assert.InDelta(t, -(0.75-0.25+eSq)/math.Sqrt2, s.Response, 1e-15)
	assert.InDelta(t, (eSq-eSq*0.75)/math.Sqrt2, s.SelectionResponse, 1e-15)
	assert.Zero(t, s.Significance)
	assert.False(t, s.Detected)

	rc.FlipSign = true
	flipped, err := ToShear(v, nil, rc, false)
	require.NoError(t, err)
	assert.Equal(t, -s.Response, flipped.Response)
}

func TestToShearRevision(t *testing.T) {
	v := moments.Vector{M00: 3, M22c: 0.4, M22s: -0.2, M40: 1}
	rc := DefaultResponse()

	_, err := ToShear(v, nil, rc, true)
	assert.ErrorIs(t, err, ErrUninitializedState)

	// A vanishing noise covariance leaves the estimator unchanged
	zero := mat.NewSymDense(moments.NumComponents, nil)
	zero.SetSym(moments.M00, moments.M00, 1e-300)
	plain, err := ToShear(v, nil, rc, false)
	require.NoError(t, err)
	revised, err := ToShear(v, zero, rc, true)
	require.NoError(t, err)
	assert.InDelta(t, plain.E1, revised.E1, 1e-15)
	assert.InDelta(t, plain.Response, revised.Response, 1e-15)

	// N00N00 scales the flux ratio and ellipticity by 1/(1+ratio)
	cov := mat.NewSymDense(moments.NumComponents, nil)
	cov.SetSym(moments.M00, moments.M00, 16)
	revised, err = ToShear(v, cov, rc, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.1/2, revised.E1, 1e-15)
	assert.InDelta(t, (0.75+1)/2, revised.S0, 1e-15)
}

func TestToShearCovariance(t *testing.T) {
	cov := mat.NewSymDense(moments.NumComponents, nil)
	for i := 0; i < moments.NumComponents; i++ {
		cov.SetSym(i, i, float64(i+1))
	}

	// With M00 = 0 the weight is the constant and e = s0 = 0
	errs, err := ToShearCovariance(moments.Vector{}, cov, DefaultResponse())
	require.NoError(t, err)
	assert.InDelta(t, 3, errs.E1Var, 1e-15)
	assert.InDelta(t, 4, errs.E2Var, 1e-15)
	assert.InDelta(t, 1, errs.S0Var, 1e-15)
	assert.Zero(t, errs.E1S0Cov)
	assert.Zero(t, errs.E2S0Cov)

	_, err = ToShearCovariance(moments.Vector{}, nil, DefaultResponse())
	assert.ErrorIs(t, err, ErrUninitializedState)
	_, err = ToShearCovariance(moments.Vector{}, mat.NewSymDense(3, nil), DefaultResponse())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestToDetectionSignificance(t *testing.T) {
	cov := mat.NewSymDense(moments.NumComponents, nil)
	cov.SetSym(moments.M00, moments.M00, 4)
	rc := DefaultResponse()
	rc.DetectionThreshold = 1

	sig, detected, err := ToDetectionSignificance(moments.Vector{M00: 3}, cov, rc)
	require.NoError(t, err)
	assert.Equal(t, 1.5, sig)
	assert.True(t, detected)

	sig, detected, err = ToDetectionSignificance(moments.Vector{M00: 1}, cov, rc)
	require.NoError(t, err)
	assert.Equal(t, 0.5, sig)
	assert.False(t, detected)

	s, err := ToShear(moments.Vector{M00: 3}, cov, rc, false)
	require.NoError(t, err)
	assert.Equal(t, 1.5, s.Significance)

	_, _, err = ToDetectionSignificance(moments.Vector{M00: 3}, mat.NewSymDense(moments.NumComponents, nil), rc)
	assert.ErrorIs(t, err, ErrConfigurationInconsistency)
	assert.Equal(t, "configuration", models.Outcome(err))
}

func TestZeroWeight(t *testing.T) {
	_, err := ToShear(moments.Vector{M00: -1}, nil, DefaultResponse(), false)
	assert.ErrorIs(t, err, ErrConfigurationInconsistency)
	assert.Equal(t, "configuration", models.Outcome(err))
}
