package fpfs

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/models"
	"fpfs/pkg/moments"
)

// Shear is the shear estimator of one galaxy
type Shear struct {
	E1 float64 `yaml:"e1"`
	E2 float64 `yaml:"e2"`

	// Response is the ellipticity response to shear
	Response float64 `yaml:"response"`

	// Weight is M00 plus the weight constant
	Weight float64 `yaml:"weight"`

	// S0 is the flux ratio M00/Weight
	S0 float64 `yaml:"s0"`

	ESquare           float64 `yaml:"eSquare"`
	SelectionResponse float64 `yaml:"selectionResponse"`

	// Significance is M00 over its noise standard deviation, zero without a
	// covariance
	Significance float64 `yaml:"significance"`
	Detected     bool    `yaml:"detected"`
}

// ShearErrors are the noise variances and covariances of the ellipticities
// and the flux ratio
type ShearErrors struct {
	E1Var   float64 `yaml:"e1Var"`
	E2Var   float64 `yaml:"e2Var"`
	S0Var   float64 `yaml:"s0Var"`
	E1S0Cov float64 `yaml:"e1s0Cov"`
	E2S0Cov float64 `yaml:"e2s0Cov"`
}

// normalised holds the covariance entries used by the shear conversion,
// divided by weight^2
type normalised struct {
	n00n00, n00n22c, n00n22s, n00n40 float64
	n22cn22c, n22sn22s               float64
}

func normalise(cov *mat.SymDense, w2 float64) normalised {
	return normalised{
		n00n00:   cov.At(moments.M00, moments.M00) / w2,
		n00n22c:  cov.At(moments.M00, moments.M22c) / w2,
		n00n22s:  cov.At(moments.M00, moments.M22s) / w2,
		n00n40:   cov.At(moments.M00, moments.M40) / w2,
		n22cn22c: cov.At(moments.M22c, moments.M22c) / w2,
		n22sn22s: cov.At(moments.M22s, moments.M22s) / w2,
	}
}

func checkCovariance(cov *mat.SymDense) error {
	if cov == nil {
		return errors.Wrap(models.ErrUninitializedState, "moment covariance needs a noise model")
	}
	if n := cov.SymmetricDim(); n != moments.NumComponents {
		return errors.Wrapf(models.ErrShapeMismatch, "moment covariance is %dx%d, want %dx%d",
			n, n, moments.NumComponents, moments.NumComponents)
	}
	return nil
}

func weight(v moments.Vector, rc ResponseConfig) (float64, error) {
	w := v.M00 + rc.WeightConstant
	if w == 0 {
		return 0, errors.Wrapf(models.ErrConfigurationInconsistency,
			"ellipticity weight M00 + %g is zero", rc.WeightConstant)
	}
	return w, nil
}

// ToShear converts moments into ellipticities and their responses:
//
//	w = M00 + C, e = M22/w, s0 = M00/w, s4 = M40/w
//	R = Norm (s0 - s4 + e1^2 + e2^2) sign
//	RS = Norm (|e|^2 - |e|^2 s0)
//
// With revise the second-order noise bias is removed using cov, which is
// then required. The significance is filled from cov when it is given.
func ToShear(v moments.Vector, cov *mat.SymDense, rc ResponseConfig, revise bool) (Shear, error) {
	s, err := toShear(v, cov, rc, revise)
	if err != nil {
		return Shear{}, err
	}
	if cov != nil {
		if s.Significance, s.Detected, err = ToDetectionSignificance(v, cov, rc); err != nil {
			return Shear{}, err
		}
	}
	return s, nil
}

func toShear(v moments.Vector, cov *mat.SymDense, rc ResponseConfig, revise bool) (Shear, error) {
	w, err := weight(v, rc)
	if err != nil {
		return Shear{}, err
	}

	e1 := v.M22c / w
	e2 := v.M22s / w
	e1sq := e1 * e1
	e2sq := e2 * e2
	s0 := v.M00 / w
	s4 := v.M40 / w
	e1sqS0 := e1sq * s0
	e2sqS0 := e2sq * s0

	if revise {
		if err := checkCovariance(cov); err != nil {
			return Shear{}, err
		}
		n := normalise(cov, w*w)
		ratio := n.n00n00

		e1 = (e1 + n.n00n22c) / (1 + ratio)
		e2 = (e2 + n.n00n22s) / (1 + ratio)
		e1sq = (e1sq - n.n22cn22c + 4*e1*n.n00n22c) / (1 + 3*ratio)
		e2sq = (e2sq - n.n22sn22s + 4*e2*n.n00n22s) / (1 + 3*ratio)
		s0 = (s0 + n.n00n00) / (1 + ratio)
		s4 = (s4 + n.n00n40) / (1 + ratio)

		e1sqS0 = (e1sqS0 + 3*e1sq*n.n00n00 - s0*n.n22cn22c) / (1 + 6*ratio)
		e2sqS0 = (e2sqS0 + 3*e2sq*n.n00n00 - s0*n.n22sn22s) / (1 + 6*ratio)
	}

	sign := -1.0
	if rc.FlipSign {
		sign = 1
	}
	eSq := e1sq + e2sq
	return Shear{
		E1:                e1,
		E2:                e2,
		Response:          rc.Norm * (s0 - s4 + eSq) * sign,
		Weight:            w,
		S0:                s0,
		ESquare:           eSq,
		SelectionResponse: rc.Norm * (eSq - (e1sqS0 + e2sqS0)),
	}, nil
}

// ToShearCovariance propagates the moment covariance to the ellipticities
// and the flux ratio
func ToShearCovariance(v moments.Vector, cov *mat.SymDense, rc ResponseConfig) (ShearErrors, error) {
	if err := checkCovariance(cov); err != nil {
		return ShearErrors{}, err
	}
	w, err := weight(v, rc)
	if err != nil {
		return ShearErrors{}, err
	}

	e1 := v.M22c / w
	e2 := v.M22s / w
	s0 := v.M00 / w
	n := normalise(cov, w*w)
	ratio := n.n00n00

	return ShearErrors{
		E1Var:   n.n22cn22c - 4*e1*n.n00n22c + 3*ratio*e1*e1,
		E2Var:   n.n22sn22s - 4*e2*n.n00n22s + 3*ratio*e2*e2,
		S0Var:   n.n00n00 - 4*s0*n.n00n00 + 3*ratio*s0*s0,
		E1S0Cov: n.n00n22c - 2*s0*n.n00n22c - 2*e1*n.n00n00 + 3*ratio*e1*s0,
		E2S0Cov: n.n00n22s - 2*s0*n.n00n22s - 2*e2*n.n00n00 + 3*ratio*e2*s0,
	}, nil
}

// ToDetectionSignificance returns M00 / sqrt(C_00) and whether it exceeds
// the detection threshold
func ToDetectionSignificance(v moments.Vector, cov *mat.SymDense, rc ResponseConfig) (float64, bool, error) {
	if err := checkCovariance(cov); err != nil {
		return 0, false, err
	}
	c00 := cov.At(moments.M00, moments.M00)
	if !(c00 > 0) {
		return 0, false, errors.Wrapf(models.ErrConfigurationInconsistency,
			"M00 variance %g is not positive", c00)
	}
	sig := v.M00 / math.Sqrt(c00)
	return sig, sig > rc.DetectionThreshold, nil
}

// Shear converts the measurement with its own covariances: the revision
// uses PowerCovariance and the significance Covariance
func (m *Measurement) Shear(rc ResponseConfig, revise bool) (Shear, error) {
	var rev *mat.SymDense
	if revise {
		rev = m.PowerCovariance
	}
	s, err := toShear(m.Moments, rev, rc, revise)
	if err != nil {
		return Shear{}, err
	}
	if m.Covariance != nil {
		if s.Significance, s.Detected, err = ToDetectionSignificance(m.Moments, m.Covariance, rc); err != nil {
			return Shear{}, err
		}
	}
	return s, nil
}

// Errors propagates PowerCovariance to the shear estimator
func (m *Measurement) Errors(rc ResponseConfig) (ShearErrors, error) {
	return ToShearCovariance(m.Moments, m.PowerCovariance, rc)
}
