// Package shapelet builds the polar shapelet basis on the Fourier grid.
package shapelet

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"fpfs/internal/models"
	"fpfs/pkg/fourier"
)

// MinOrder is the lowest radial order that still carries every moment
// component used downstream (M40 and M42)
const MinOrder = 4

// Params are the three parameters that define a basis. They must be
// identical for the basis and every cache derived from it.
type Params struct {
	// Order is the maximum radial order n
	Order int `yaml:"order"`

	// Scale is the Gaussian scale of the basis in Fourier pixels
	Scale float64 `yaml:"scale"`

	// Rlim is the hard cutoff radius in Fourier pixels; the basis is exactly
	// zero outside the disk |k| <= Rlim
	Rlim float64 `yaml:"rlim"`
}

// Validate checks the parameters against a grid
func (p Params) Validate(grid fourier.Grid) error {
	if p.Order < MinOrder {
		return errors.Wrapf(models.ErrConfigurationInconsistency, "basis order %d below minimum %d", p.Order, MinOrder)
	}
	if !(p.Scale > 0) || math.IsInf(p.Scale, 0) {
		return errors.Wrapf(models.ErrConfigurationInconsistency, "basis scale must be positive, got %g", p.Scale)
	}
	if !(p.Rlim > 0) || p.Rlim >= float64(grid.Size())/2 {
		return errors.Wrapf(models.ErrConfigurationInconsistency, "cutoff radius %g outside (0, %d)", p.Rlim, grid.Size()/2)
	}
	return nil
}

// Mode indexes a basis function by radial order N and angular order M
type Mode struct {
	N, M int
}

// Component describes one real moment component: the real or imaginary part
// of the projection onto a mode
type Component struct {
	Name string
	Mode Mode
	Imag bool
}

// Components lists the moment components in their fixed order
var Components = []Component{
	{Name: "M00", Mode: Mode{0, 0}},
	{Name: "M20", Mode: Mode{2, 0}},
	{Name: "M22c", Mode: Mode{2, 2}},
	{Name: "M22s", Mode: Mode{2, 2}, Imag: true},
	{Name: "M40", Mode: Mode{4, 0}},
	{Name: "M42c", Mode: Mode{4, 2}},
	{Name: "M42s", Mode: Mode{4, 2}, Imag: true},
}

// Basis is a finite set of polar shapelets sampled on a Fourier grid and
// truncated at the cutoff radius. A Basis is immutable once built.
type Basis struct {
	grid   fourier.Grid
	params Params

	// disk holds the flat grid indices inside the cutoff radius
	disk []int

	// modes holds every basis function restricted to the disk
	modes map[Mode][]complex128

	// packed holds the real vector of each entry of Components on the disk
	packed [][]float64
}

// Build generates the basis functions chi_{n,m} for 0 <= m <= n <= Order with
// n-m even.
//
// chi_{n,m}(k) = (-1)^d / Scale * sqrt(c!/(d! pi)) * L_c^m(r^2) r^m exp(-r^2/2) e^{i m theta}
//
// with r = |k|/Scale, c = (n-m)/2 and d = (n+m)/2.
func Build(grid fourier.Grid, params Params) (*Basis, error) {
	if err := params.Validate(grid); err != nil {
		return nil, err
	}

	b := &Basis{
		grid:   grid,
		params: params,
		disk:   grid.Disk(params.Rlim),
		modes:  make(map[Mode][]complex128),
	}

	for n := 0; n <= params.Order; n++ {
		for m := n; m >= 0; m -= 2 {
			b.modes[Mode{n, m}] = b.createMode(n, m)
		}
	}

	b.packed = make([][]float64, len(Components))
	for i, c := range Components {
		values := b.modes[c.Mode]
		v := make([]float64, len(values))
		for j, z := range values {
			if c.Imag {
				v[j] = imag(z)
			} else {
				v[j] = real(z)
			}
		}
		b.packed[i] = v
	}

	return b, nil
}

// createMode samples one basis function on the disk
func (b *Basis) createMode(n, m int) []complex128 {
	c := (n - m) / 2
	d := (n + m) / 2
	sign := 1.0
	if d%2 == 1 {
		sign = -1
	}
	norm := sign / b.params.Scale * math.Sqrt(factorial(c)/factorial(d)/math.Pi)

	values := make([]complex128, len(b.disk))
	for i, idx := range b.disk {
		ky, kx := b.grid.Coord(idx)
		x := float64(kx) / b.params.Scale
		y := float64(ky) / b.params.Scale
		r2 := x*x + y*y

		radial := norm * laguerre(c, m, r2) * math.Pow(r2, float64(m)/2) * math.Exp(-r2/2)

		angular := complex(1, 0)
		if m > 0 {
			if r2 == 0 {
				angular = 0
			} else {
				r := math.Sqrt(r2)
				unit := complex(x/r, y/r)
				for k := 0; k < m; k++ {
					angular *= unit
				}
			}
		}
		values[i] = complex(radial, 0) * angular
	}
	return values
}

// laguerre evaluates the generalised Laguerre polynomial L_n^m(x) by the
// three-term recursion
func laguerre(n, m int, x float64) float64 {
	l0 := 1.0
	if n == 0 {
		return l0
	}
	l1 := 1 + float64(m) - x
	for k := 2; k <= n; k++ {
		fk := float64(k)
		l0, l1 = l1, ((2*fk-1+float64(m)-x)*l1-(fk-1+float64(m))*l0)/fk
	}
	return l1
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

// Grid returns the grid the basis is sampled on
func (b *Basis) Grid() fourier.Grid { return b.grid }

// Params returns the parameters the basis was built with
func (b *Basis) Params() Params { return b.params }

// Disk returns the flat grid indices inside the cutoff radius.
// The returned slice must not be modified.
func (b *Basis) Disk() []int { return b.disk }

// Modes returns the modes present in the basis in (n, m) order
func (b *Basis) Modes() []Mode {
	out := make([]Mode, 0, len(b.modes))
	for n := 0; n <= b.params.Order; n++ {
		for m := n % 2; m <= n; m += 2 {
			out = append(out, Mode{n, m})
		}
	}
	return out
}

// Packed returns the real disk vector of Components[i].
// The returned slice must not be modified.
func (b *Basis) Packed(i int) []float64 { return b.packed[i] }

// Mode returns chi_{n,m} on the full grid, zero outside the cutoff disk
func (b *Basis) Mode(n, m int) ([]complex128, error) {
	values, ok := b.modes[Mode{n, m}]
	if !ok {
		return nil, errors.Wrapf(models.ErrConfigurationInconsistency, "mode (%d,%d) not in basis of order %d",
			n, m, b.params.Order)
	}
	out := make([]complex128, b.grid.Len())
	for i, idx := range b.disk {
		out[idx] = values[i]
	}
	return out, nil
}

// Inner returns the discrete inner product sum chi_a conj(chi_b) over the disk
func (b *Basis) Inner(a, c Mode) (complex128, error) {
	va, ok := b.modes[a]
	if !ok {
		return 0, errors.Wrapf(models.ErrConfigurationInconsistency, "mode %v not in basis", a)
	}
	vc, ok := b.modes[c]
	if !ok {
		return 0, errors.Wrapf(models.ErrConfigurationInconsistency, "mode %v not in basis", c)
	}

	var s complex128
	for i := range va {
		s += va[i] * cmplx.Conj(vc[i])
	}
	return s, nil
}

// Gather extracts the disk values of a full grid array
func (b *Basis) Gather(data []float64) []float64 {
	out := make([]float64, len(b.disk))
	for i, idx := range b.disk {
		out[i] = data[idx]
	}
	return out
}
