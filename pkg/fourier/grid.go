// Package fourier provides the discrete Fourier grid shared by every stage of
// the measurement chain and the transforms between pixel space and it.
//
// All Fourier arrays are row-major, square and centred: the zero frequency
// sits at index (N/2, N/2) for both odd and even N, and the frequency of
// index i along an axis is i - N/2 in Fourier pixels.
package fourier

import (
	"math"

	"github.com/pkg/errors"

	"fpfs/internal/models"
)

// Grid is the coordinate system of spatial frequencies for N x N stamps
type Grid struct {
	n int
}

// NewGrid returns the Fourier grid for stamps of side n
func NewGrid(n int) (Grid, error) {
	if n < 2 {
		return Grid{}, errors.Wrapf(models.ErrShapeMismatch, "grid size must be at least 2, got %d", n)
	}
	return Grid{n: n}, nil
}

// Size returns the side length of the grid
func (g Grid) Size() int { return g.n }

// Len returns the number of grid points
func (g Grid) Len() int { return g.n * g.n }

// Center returns the index of the zero frequency along each axis
func (g Grid) Center() int { return g.n / 2 }

// Coord returns the frequency coordinates (ky, kx) of a flat index
func (g Grid) Coord(idx int) (ky, kx int) {
	c := g.n / 2
	return idx/g.n - c, idx%g.n - c
}

// Index returns the flat index of frequency (ky, kx)
func (g Grid) Index(ky, kx int) int {
	c := g.n / 2
	return (ky+c)*g.n + (kx + c)
}

// Radius returns |k| of a flat index
func (g Grid) Radius(idx int) float64 {
	ky, kx := g.Coord(idx)
	return math.Hypot(float64(kx), float64(ky))
}

// Disk returns the flat indices with kx^2+ky^2 <= r^2 in row-major order
func (g Grid) Disk(r float64) []int {
	r2 := r * r
	c := g.n / 2
	lo := c - int(math.Ceil(r))
	hi := c + int(math.Ceil(r))
	if lo < 0 {
		lo = 0
	}
	if hi > g.n-1 {
		hi = g.n - 1
	}

	idx := make([]int, 0, int(math.Pi*r2)+4*int(r)+1)
	for i := lo; i <= hi; i++ {
		ky := float64(i - c)
		for j := lo; j <= hi; j++ {
			kx := float64(j - c)
			if kx*kx+ky*ky <= r2 {
				idx = append(idx, i*g.n+j)
			}
		}
	}
	return idx
}

// Check verifies that an array of length l lives on this grid
func (g Grid) Check(l int, what string) error {
	if l != g.n*g.n {
		return errors.Wrapf(models.ErrShapeMismatch, "%s has %d values, grid %dx%d needs %d",
			what, l, g.n, g.n, g.n*g.n)
	}
	return nil
}
