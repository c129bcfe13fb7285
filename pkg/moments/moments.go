// Package moments projects deconvolved Fourier data onto the shapelet basis.
package moments

import (
	"math"

	"github.com/pkg/errors"

	"fpfs/internal/kernel"
	"fpfs/internal/models"
	"fpfs/pkg/shapelet"
)

// Component indices into Vector.Values and the moment covariance matrix.
// They follow shapelet.Components.
const (
	M00 = iota
	M20
	M22c
	M22s
	M40
	M42c
	M42s

	// NumComponents is the length of a moment vector
	NumComponents
)

// Vector holds the shapelet moments of one galaxy
type Vector struct {
	// M00 is the flux-like moment
	M00 float64 `yaml:"M00"`

	// M20 is the size-like moment
	M20 float64 `yaml:"M20"`

	// M22c and M22s are the real and imaginary shear-sensitive moments
	M22c float64 `yaml:"M22c"`
	M22s float64 `yaml:"M22s"`

	// M40 is the fourth-order radial moment entering the shear response
	M40 float64 `yaml:"M40"`

	// M42c and M42s are the fourth-order spin-2 moments
	M42c float64 `yaml:"M42c"`
	M42s float64 `yaml:"M42s"`
}

// Names returns the component names in Values order
func Names() []string {
	names := make([]string, len(shapelet.Components))
	for i, c := range shapelet.Components {
		names[i] = c.Name
	}
	return names
}

// Values returns the components in their fixed order
func (v Vector) Values() []float64 {
	return []float64{v.M00, v.M20, v.M22c, v.M22s, v.M40, v.M42c, v.M42s}
}

// FromValues builds a vector from components in Values order
func FromValues(vals []float64) (Vector, error) {
	if len(vals) != NumComponents {
		return Vector{}, errors.Wrapf(models.ErrShapeMismatch, "moment vector needs %d components, got %d",
			NumComponents, len(vals))
	}
	return Vector{
		M00:  vals[M00],
		M20:  vals[M20],
		M22c: vals[M22c],
		M22s: vals[M22s],
		M40:  vals[M40],
		M42c: vals[M42c],
		M42s: vals[M42s],
	}, nil
}

// Sub returns v - o
func (v Vector) Sub(o Vector) Vector {
	a, b := v.Values(), o.Values()
	for i := range a {
		a[i] -= b[i]
	}
	out, _ := FromValues(a)
	return out
}

// IsFinite reports whether every component is finite
func (v Vector) IsFinite() bool {
	for _, x := range v.Values() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Projector projects disk-restricted data onto a basis with a fixed kernel
type Projector struct {
	basis  *shapelet.Basis
	kernel kernel.Kernel
}

// NewProjector binds a basis and a kernel
func NewProjector(basis *shapelet.Basis, k kernel.Kernel) *Projector {
	return &Projector{basis: basis, kernel: k}
}

// Basis returns the basis of the projector
func (p *Projector) Basis() *shapelet.Basis { return p.basis }

// Kernel returns the inner-loop kernel of the projector
func (p *Projector) Kernel() kernel.Kernel { return p.kernel }

// Project computes the moments of deconvolved data given on the basis disk,
// in the ordering of Basis.Disk. Every moment is the sum over the disk of
// the data times the basis component; the basis carries the 1/Scale
// normalisation so moments share units across stamp sizes.
func (p *Projector) Project(disk []float64) (Vector, error) {
	if len(disk) != len(p.basis.Disk()) {
		return Vector{}, errors.Wrapf(models.ErrShapeMismatch, "projection needs %d disk values, got %d",
			len(p.basis.Disk()), len(disk))
	}

	vals := make([]float64, NumComponents)
	for i := range vals {
		vals[i] = p.kernel.Dot(disk, p.basis.Packed(i))
	}
	return FromValues(vals)
}

// ProjectGrid is Project for data given on the full grid
func (p *Projector) ProjectGrid(data []float64) (Vector, error) {
	if err := p.basis.Grid().Check(len(data), "deconvolved data"); err != nil {
		return Vector{}, err
	}
	return p.Project(p.basis.Gather(data))
}
