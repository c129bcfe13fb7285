package psf

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Form is a radially symmetric functional form fitted to a PSF power spectrum
type Form int

const (
	// FormNone keeps the raw spectrum
	FormNone Form = iota

	// FormGaussian fits P(k) = exp(a + b k^2) by weighted linear regression
	// of log P on k^2
	FormGaussian

	// FormRadial replaces the spectrum by its azimuthal average,
	// interpolated linearly in radius
	FormRadial
)

// minFitFraction is the fraction of the peak above which pixels enter the
// Gaussian regression
const minFitFraction = 1e-3

func (f Form) String() string {
	switch f {
	case FormGaussian:
		return "gaussian"
	case FormRadial:
		return "radial"
	default:
		return "none"
	}
}

// ParseForm parses the configuration name of a form
func ParseForm(s string) (Form, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return FormNone, nil
	case "gaussian":
		return FormGaussian, nil
	case "radial":
		return FormRadial, nil
	default:
		return FormNone, errors.Errorf("unknown psf fit form %q", s)
	}
}

// Fit smooths and extrapolates a PSF power spectrum with a parametric form to
// suppress pixel noise in the PSF estimate. The input is left untouched.
func Fit(p *Power, form Form) (*Power, error) {
	var values []float64
	var err error

	switch form {
	case FormNone:
		values = make([]float64, len(p.values))
		copy(values, p.values)
	case FormGaussian:
		values, err = fitGaussian(p)
	case FormRadial:
		values = fitRadial(p)
	default:
		err = errors.Errorf("unsupported psf fit form %d", form)
	}
	if err != nil {
		return nil, err
	}

	return &Power{grid: p.grid, values: values, form: form}, nil
}

// fitGaussian regresses log P against k^2 with weights P over pixels above
// a small fraction of the peak
func fitGaussian(p *Power) ([]float64, error) {
	peak := p.Peak()
	if !(peak > 0) {
		return nil, errors.New("gaussian fit needs a positive psf power peak")
	}

	var xs, ys, ws []float64
	for idx, v := range p.values {
		if v <= peak*minFitFraction {
			continue
		}
		ky, kx := p.grid.Coord(idx)
		xs = append(xs, float64(kx*kx+ky*ky))
		ys = append(ys, math.Log(v/peak))
		ws = append(ws, v/peak)
	}
	if len(xs) < 3 {
		return nil, errors.Errorf("gaussian fit needs at least 3 pixels above %g of the peak, got %d",
			minFitFraction, len(xs))
	}

	alpha, beta := stat.LinearRegression(xs, ys, ws, false)
	if !(beta < 0) {
		return nil, errors.Errorf("gaussian fit of psf power does not decay (slope %g)", beta)
	}

	out := make([]float64, len(p.values))
	for idx := range out {
		ky, kx := p.grid.Coord(idx)
		out[idx] = peak * math.Exp(alpha+beta*float64(kx*kx+ky*ky))
	}
	return out, nil
}

type radialNode struct {
	r, v float64
}

// fitRadial averages the spectrum in unit-width annuli and interpolates
// linearly between the annulus centroids
func fitRadial(p *Power) []float64 {
	bins := make(map[int]*struct {
		r, v float64
		n    int
	})
	for idx, v := range p.values {
		r := p.grid.Radius(idx)
		b := int(math.Round(r))
		acc, ok := bins[b]
		if !ok {
			acc = &struct {
				r, v float64
				n    int
			}{}
			bins[b] = acc
		}
		acc.r += r
		acc.v += v
		acc.n++
	}

	nodes := make([]radialNode, 0, len(bins))
	for _, acc := range bins {
		nodes = append(nodes, radialNode{r: acc.r / float64(acc.n), v: acc.v / float64(acc.n)})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].r < nodes[j].r })

	out := make([]float64, len(p.values))
	for idx := range out {
		out[idx] = interpolate(nodes, p.grid.Radius(idx))
	}
	return out
}

func interpolate(nodes []radialNode, r float64) float64 {
	if r <= nodes[0].r {
		return nodes[0].v
	}
	last := nodes[len(nodes)-1]
	if r >= last.r {
		return last.v
	}
	i := sort.Search(len(nodes), func(i int) bool { return nodes[i].r >= r })
	a, b := nodes[i-1], nodes[i]
	f := (r - a.r) / (b.r - a.r)
	return a.v*(1-f) + b.v*f
}
