// Package psf computes and models the Fourier power spectrum of the PSF,
// the denominator of every deconvolution.
package psf

import (
	"math"

	"fpfs/internal/models"
	"fpfs/pkg/fourier"
)

// Power is the centred Fourier power |FFT(psf)|^2 of a PSF on a grid.
// It is read-only once constructed; fits and resets produce a new Power.
type Power struct {
	grid   fourier.Grid
	values []float64
	form   Form
}

// FromImage computes the power spectrum of a PSF stamp
func FromImage(tr *fourier.Transformer, stamp *models.Stamp) (*Power, error) {
	values, err := tr.Power(stamp)
	if err != nil {
		return nil, err
	}
	return &Power{grid: tr.Grid(), values: values, form: FormNone}, nil
}

// FromArray wraps an externally computed centred power spectrum.
// The values are copied.
func FromArray(grid fourier.Grid, values []float64) (*Power, error) {
	if err := grid.Check(len(values), "psf power"); err != nil {
		return nil, err
	}
	v := make([]float64, len(values))
	copy(v, values)
	return &Power{grid: grid, values: v, form: FormNone}, nil
}

// Grid returns the grid of the spectrum
func (p *Power) Grid() fourier.Grid { return p.grid }

// Values returns the spectrum. The returned slice must not be modified.
func (p *Power) Values() []float64 { return p.values }

// Form reports the parametric form overlaid on the spectrum, FormNone if raw
func (p *Power) Form() Form { return p.form }

// Peak returns the power at zero frequency
func (p *Power) Peak() float64 {
	return p.values[p.grid.Index(0, 0)]
}

// NaiveRadius estimates the radius of the spectrum from the area above half
// of its maximum. The estimate is heavily influenced by noise.
func (p *Power) NaiveRadius() float64 {
	return NaiveRadius(p.values)
}

// NaiveRadius returns sqrt(#{|v| > max|v|/2} / pi)
func NaiveRadius(values []float64) float64 {
	maxVal := 0.0
	for _, v := range values {
		if a := math.Abs(v); a > maxVal {
			maxVal = a
		}
	}

	thres := maxVal * 0.5
	count := 0
	for _, v := range values {
		if math.Abs(v) > thres {
			count++
		}
	}
	return math.Sqrt(float64(count) / math.Pi)
}

// AutoScale derives the shapelet scale as beta times the naive radius of the
// PSF power, clamped to [minScale, maxScale]
func AutoScale(p *Power, beta, minScale, maxScale float64) float64 {
	s := p.NaiveRadius() * beta
	return math.Max(math.Min(s, maxScale), minScale)
}

// AutoRlim returns the smallest radius d in [N/5, N/2-1) where the shapelet
// Gaussian exp(-d^2/2/scale^2) divided by the peak-normalised PSF power,
// averaged over the two positive axes, drops to threshold or below. Beyond
// that radius the basis suppresses the deconvolved noise. When no radius
// qualifies the largest candidate is returned.
func AutoRlim(p *Power, scale, threshold float64) float64 {
	n := p.grid.Size()
	peak := p.Peak()

	last := n/2 - 2
	if last < 1 {
		last = 1
	}

	for dist := n / 5; dist < n/2-1; dist++ {
		g := math.Exp(-float64(dist*dist) / 2 / (scale * scale))
		ave := math.Abs(g * peak / p.values[p.grid.Index(dist, 0)])
		ave += math.Abs(g * peak / p.values[p.grid.Index(0, dist)])
		ave /= 2
		if ave <= threshold {
			return float64(dist)
		}
	}
	return float64(last)
}
