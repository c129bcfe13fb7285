package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fpfs/internal/models"
	"fpfs/pkg/fpfs"
	"fpfs/pkg/moments"
	"fpfs/pkg/shapelet"
)

// stampDoc is one stamp in the input document, given either as rows or as
// row-major data
type stampDoc struct {
	ID   string      `yaml:"id,omitempty"`
	Rows [][]float64 `yaml:"rows,omitempty"`
	Data []float64   `yaml:"data,omitempty"`
}

// inputDoc is the measure input: one PSF and the galaxies measured with it
type inputDoc struct {
	PSF      stampDoc   `yaml:"psf"`
	Galaxies []stampDoc `yaml:"galaxies"`
}

// resultDoc is the outcome of one galaxy
type resultDoc struct {
	ID      string            `yaml:"id"`
	Outcome string            `yaml:"outcome"`
	Error   string            `yaml:"error,omitempty"`
	Moments *moments.Vector   `yaml:"moments,omitempty"`
	Shear   *fpfs.Shear       `yaml:"shear,omitempty"`
	Errors  *fpfs.ShearErrors `yaml:"errors,omitempty"`
}

// outputDoc is the measure output
type outputDoc struct {
	Params  shapelet.Params    `yaml:"params"`
	Kernel  string             `yaml:"kernel"`
	State   string             `yaml:"state"`
	Results []resultDoc        `yaml:"results"`
	Summary map[string]float64 `yaml:"summary"`
}

func (s stampDoc) stamp(size int) (*models.Stamp, error) {
	if len(s.Rows) > 0 {
		return models.NewStampFromRows(s.Rows)
	}
	return models.NewStamp(s.Data, size)
}

func readInput(path string) (*inputDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading input file: %w", err)
	}
	var in inputDoc
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("error parsing input file: %w", err)
	}
	return &in, nil
}
