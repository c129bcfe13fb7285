package fourier

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"

	"fpfs/internal/models"
)

// Transformer converts square stamps to centred Fourier arrays and back.
// It is safe for concurrent use: FFT plans are pooled per call.
type Transformer struct {
	grid  Grid
	plans sync.Pool
}

// NewTransformer creates a transformer for the given grid
func NewTransformer(grid Grid) *Transformer {
	n := grid.Size()
	t := &Transformer{grid: grid}
	t.plans.New = func() any {
		return fourier.NewCmplxFFT(n)
	}
	return t
}

// Grid returns the grid the transformer works on
func (t *Transformer) Grid() Grid { return t.grid }

// Transform computes the centred 2D FFT of a stamp.
//
// Parameters:
//   - stamp: pixel data, must match the transformer grid
//
// Returns:
//   - The FFT as a row-major centred array of complex numbers
func (t *Transformer) Transform(stamp *models.Stamp) ([]complex128, error) {
	if stamp.Size != t.grid.Size() {
		return nil, errors.Wrapf(models.ErrShapeMismatch, "stamp is %dx%d, grid is %dx%d",
			stamp.Size, stamp.Size, t.grid.Size(), t.grid.Size())
	}
	if err := t.grid.Check(len(stamp.Data), "stamp"); err != nil {
		return nil, err
	}

	n := t.grid.Size()
	data := make([]complex128, n*n)
	for i, v := range stamp.Data {
		data[i] = complex(v, 0)
	}

	t.fft2D(data, false)
	return shift(data, n), nil
}

// Power computes the centred Fourier power |FFT|^2 of a stamp
func (t *Transformer) Power(stamp *models.Stamp) ([]float64, error) {
	f, err := t.Transform(stamp)
	if err != nil {
		return nil, err
	}
	return Power(f), nil
}

// Inverse transforms a centred Fourier array back to real pixel space.
// The result is normalised so that Inverse(Transform(s)) == s.
func (t *Transformer) Inverse(f []complex128) ([]float64, error) {
	if err := t.grid.Check(len(f), "fourier array"); err != nil {
		return nil, err
	}

	n := t.grid.Size()
	data := unshift(f, n)
	t.fft2D(data, true)

	norm := 1 / float64(n*n)
	out := make([]float64, n*n)
	for i, v := range data {
		out[i] = real(v) * norm
	}
	return out, nil
}

// fft2D performs an in-place unnormalised 2D FFT on uncentred data by
// transforming every row then every column
func (t *Transformer) fft2D(data []complex128, inverse bool) {
	n := t.grid.Size()
	plan := t.plans.Get().(*fourier.CmplxFFT)
	defer t.plans.Put(plan)

	line := make([]complex128, n)
	out := make([]complex128, n)
	apply := plan.Coefficients
	if inverse {
		apply = plan.Sequence
	}

	// Rows
	for i := 0; i < n; i++ {
		copy(line, data[i*n:(i+1)*n])
		apply(out, line)
		copy(data[i*n:(i+1)*n], out)
	}

	// Columns
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			line[i] = data[i*n+j]
		}
		apply(out, line)
		for i := 0; i < n; i++ {
			data[i*n+j] = out[i]
		}
	}
}

// Power returns |f|^2 element-wise
func Power(f []complex128) []float64 {
	p := make([]float64, len(f))
	for i, v := range f {
		p[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return p
}

// shift moves the zero frequency from index 0 to the grid centre
func shift(data []complex128, n int) []complex128 {
	out := make([]complex128, len(data))
	c := n / 2
	for i := 0; i < n; i++ {
		si := (i + c) % n
		for j := 0; j < n; j++ {
			out[si*n+(j+c)%n] = data[i*n+j]
		}
	}
	return out
}

// unshift is the inverse of shift
func unshift(data []complex128, n int) []complex128 {
	out := make([]complex128, len(data))
	c := n / 2
	for i := 0; i < n; i++ {
		si := (i + c) % n
		for j := 0; j < n; j++ {
			out[i*n+j] = data[si*n+(j+c)%n]
		}
	}
	return out
}
