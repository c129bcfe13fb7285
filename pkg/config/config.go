// Package config provides configuration loading and management for fpfs.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"fpfs/pkg/deconv"
	"fpfs/pkg/fourier"
	"fpfs/pkg/fpfs"
	"fpfs/pkg/noise"
	"fpfs/pkg/psf"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Grid parameters
	Grid struct {
		// Size is the side of every galaxy and PSF stamp in pixels
		Size int `yaml:"size"`
	} `yaml:"grid"`

	// Shapelet basis parameters
	Basis struct {
		// Order is the maximum radial order of the basis
		Order int `yaml:"order"`

		// Scale is the basis scale in Fourier pixels, 0 to derive it from the PSF
		Scale float64 `yaml:"scale"`

		// Beta multiplies the PSF naive radius when the scale is derived
		Beta float64 `yaml:"beta"`

		// ScaleMin and ScaleMax clamp a derived scale
		ScaleMin float64 `yaml:"scaleMin"`
		ScaleMax float64 `yaml:"scaleMax"`
	} `yaml:"basis"`

	// Cutoff radius parameters
	Cutoff struct {
		// Rlim is the cutoff radius in Fourier pixels, 0 to search for it
		Rlim float64 `yaml:"rlim"`

		// Threshold ends the search for the cutoff radius
		Threshold float64 `yaml:"threshold"`
	} `yaml:"cutoff"`

	// PSF parameters
	PSF struct {
		// Form is the smooth model fitted to the PSF power: none, gaussian or radial
		Form string `yaml:"form"`
	} `yaml:"psf"`

	// Deconvolution parameters
	Deconvolution struct {
		// Floor is the smallest acceptable PSF power inside the cutoff disk
		Floor float64 `yaml:"floor"`

		// Regularization clips small PSF power instead of failing, 0 to disable
		Regularization float64 `yaml:"regularization"`
	} `yaml:"deconvolution"`

	// Noise parameters
	Noise struct {
		// Enabled attaches a flat noise model to the task
		Enabled bool `yaml:"enabled"`

		// Variance is the per-pixel noise variance
		Variance float64 `yaml:"variance"`
	} `yaml:"noise"`

	// Shear response parameters
	Response struct {
		// WeightConstant is added to M00 to form the ellipticity weight
		WeightConstant float64 `yaml:"weightConstant"`

		// Norm multiplies the shear and selection responses
		Norm float64 `yaml:"norm"`

		// FlipSign selects the response sign convention
		FlipSign bool `yaml:"flipSign"`

		// DetectionThreshold is the M00 significance for detection
		DetectionThreshold float64 `yaml:"detectionThreshold"`

		// Revise removes the second-order noise bias from the ellipticities
		Revise bool `yaml:"revise"`
	} `yaml:"response"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many stamps are measured in parallel
		NumCores int `yaml:"numCores"`

		// Kernel selects the inner-loop strategy: auto, generic, unrolled or gonum
		Kernel string `yaml:"kernel"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Errors adds the shear error propagation to every result
		Errors bool `yaml:"errors"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	ref := fpfs.DefaultConfig(64)

	cfg.Grid.Size = ref.Size

	// Set default basis parameters
	cfg.Basis.Order = ref.Basis.Order
	cfg.Basis.Scale = ref.Basis.Scale
	cfg.Basis.Beta = ref.Basis.Beta
	cfg.Basis.ScaleMin = ref.Basis.ScaleMin
	cfg.Basis.ScaleMax = ref.Basis.ScaleMax

	cfg.Cutoff.Rlim = ref.Cutoff.Rlim
	cfg.Cutoff.Threshold = ref.Cutoff.Threshold

	cfg.PSF.Form = ref.PSFForm.String()

	cfg.Deconvolution.Floor = ref.Deconvolution.Floor
	cfg.Deconvolution.Regularization = ref.Deconvolution.Regularization

	cfg.Noise.Enabled = false
	cfg.Noise.Variance = 0

	// Set default response parameters
	cfg.Response.WeightConstant = ref.Response.WeightConstant
	cfg.Response.Norm = ref.Response.Norm
	cfg.Response.FlipSign = ref.Response.FlipSign
	cfg.Response.DetectionThreshold = ref.Response.DetectionThreshold
	cfg.Response.Revise = false

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Kernel = ref.Kernel

	cfg.Output.Errors = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig reads the YAML file at configPath over the defaults, so keys
// absent from the file keep their default value. A missing or empty file
// yields the defaults. Unknown keys are rejected.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening config %s: %w", configPath, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to configPath, creating its directory when needed
func SaveConfig(cfg *Config, configPath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("error creating config %s: %w", configPath, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("error writing config %s: %w", configPath, cerr)
		}
	}()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error encoding config %s: %w", configPath, err)
	}
	return enc.Close()
}

// CreateDefaultConfigFile writes DefaultConfig to configPath
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// TaskConfig converts the file configuration into a validated task configuration
func (c *Config) TaskConfig() (fpfs.Config, error) {
	form, err := psf.ParseForm(c.PSF.Form)
	if err != nil {
		return fpfs.Config{}, fmt.Errorf("invalid psf section: %w", err)
	}

	tc := fpfs.Config{
		Size: c.Grid.Size,
		Basis: fpfs.BasisConfig{
			Order:    c.Basis.Order,
			Scale:    c.Basis.Scale,
			Beta:     c.Basis.Beta,
			ScaleMin: c.Basis.ScaleMin,
			ScaleMax: c.Basis.ScaleMax,
		},
		Cutoff: fpfs.CutoffConfig{
			Rlim:      c.Cutoff.Rlim,
			Threshold: c.Cutoff.Threshold,
		},
		Deconvolution: deconv.Options{
			Floor:          c.Deconvolution.Floor,
			Regularization: c.Deconvolution.Regularization,
		},
		PSFForm: form,
		Response: fpfs.ResponseConfig{
			WeightConstant:     c.Response.WeightConstant,
			Norm:               c.Response.Norm,
			FlipSign:           c.Response.FlipSign,
			DetectionThreshold: c.Response.DetectionThreshold,
		},
		Kernel: c.Processing.Kernel,
	}
	if err := tc.Validate(); err != nil {
		return fpfs.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return tc, nil
}

// NoiseModel returns the configured noise model, nil when noise is disabled
func (c *Config) NoiseModel() (*noise.Model, error) {
	if !c.Noise.Enabled {
		return nil, nil
	}
	grid, err := fourier.NewGrid(c.Grid.Size)
	if err != nil {
		return nil, fmt.Errorf("invalid grid section: %w", err)
	}
	m, err := noise.Flat(grid, c.Noise.Variance)
	if err != nil {
		return nil, fmt.Errorf("invalid noise section: %w", err)
	}
	return m, nil
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	if _, err := c.TaskConfig(); err != nil {
		return err
	}
	if _, err := c.NoiseModel(); err != nil {
		return err
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	return nil
}
