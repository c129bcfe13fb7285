package models

import (
	"github.com/pkg/errors"
)

// Stamp represents a square postage-stamp cutout of a galaxy or a PSF
type Stamp struct {
	// Data is the pixel data as a 1D array in row-major order
	Data []float64

	// Size is the width and height of the stamp in pixels
	Size int
}

// NewStamp wraps row-major pixel data of a size x size stamp.
// The data is copied so later changes by the caller are not observed.
func NewStamp(data []float64, size int) (*Stamp, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "stamp size must be positive, got %d", size)
	}
	if len(data) != size*size {
		return nil, errors.Wrapf(ErrShapeMismatch, "stamp of size %d needs %d pixels, got %d",
			size, size*size, len(data))
	}

	s := &Stamp{
		Data: make([]float64, len(data)),
		Size: size,
	}
	copy(s.Data, data)
	return s, nil
}

// NewStampFromRows builds a stamp from a slice of equally long rows
func NewStampFromRows(rows [][]float64) (*Stamp, error) {
	size := len(rows)
	data := make([]float64, 0, size*size)
	for i, row := range rows {
		if len(row) != size {
			return nil, errors.Wrapf(ErrShapeMismatch, "row %d has %d pixels, stamp is %dx%d",
				i, len(row), size, size)
		}
		data = append(data, row...)
	}
	return NewStamp(data, size)
}

// At returns the pixel at row y and column x
func (s *Stamp) At(y, x int) float64 {
	return s.Data[y*s.Size+x]
}

// Clone returns a deep copy of the stamp
func (s *Stamp) Clone() *Stamp {
	c := &Stamp{
		Data: make([]float64, len(s.Data)),
		Size: s.Size,
	}
	copy(c.Data, s.Data)
	return c
}

// Rows returns the stamp as a slice of rows
func (s *Stamp) Rows() [][]float64 {
	rows := make([][]float64, s.Size)
	for y := range rows {
		rows[y] = make([]float64, s.Size)
		copy(rows[y], s.Data[y*s.Size:(y+1)*s.Size])
	}
	return rows
}
