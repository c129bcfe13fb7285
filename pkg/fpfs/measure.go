package fpfs

import (
	"gonum.org/v1/gonum/mat"

	"fpfs/internal/models"
	"fpfs/pkg/moments"
	"fpfs/pkg/noise"
	"fpfs/pkg/shapelet"
)

// Measurement holds the moments of one galaxy stamp
type Measurement struct {
	// Params are the basis parameters the moments were measured with
	Params shapelet.Params

	// Raw are the moments of the deconvolved galaxy power
	Raw moments.Vector

	// Moments are Raw minus the noise bias when a noise model is attached,
	// Raw otherwise
	Moments moments.Vector

	// Covariance is the moment covariance propagated linearly from the
	// noise power, nil without a noise model
	Covariance *mat.SymDense

	// PowerCovariance holds the second-order noise terms of the power
	// moments used by the revised shear estimator, nil without a noise model
	PowerCovariance *mat.SymDense
}

// Measure computes the moments of a galaxy stamp. It only reads the cache.
func (c *Cache) Measure(stamp *models.Stamp) (*Measurement, error) {
	if err := c.requireConfigured(); err != nil {
		return nil, err
	}

	galPow, err := c.transformer.Power(stamp)
	if err != nil {
		return nil, err
	}
	deconvolved, err := c.deconv.PowerDisk(galPow, 1)
	if err != nil {
		return nil, err
	}
	raw, err := c.projector.Project(deconvolved)
	if err != nil {
		return nil, err
	}

	m := &Measurement{
		Params:  c.basis.Params(),
		Raw:     raw,
		Moments: raw,
	}
	if c.noise == nil {
		return m, nil
	}

	noisePow, err := c.noise.Resolve(galPow, c.basis.Params().Rlim)
	if err != nil {
		return nil, err
	}

	if c.bias != nil {
		m.Moments = raw.Sub(*c.bias)
		m.Covariance = mat.NewSymDense(moments.NumComponents, nil)
		m.Covariance.CopySym(c.covariance)
	} else {
		if m.Moments, err = noise.Debias(raw, c.projector, c.deconv, noisePow); err != nil {
			return nil, err
		}
		if m.Covariance, err = noise.Covariance(c.projector, c.deconv, noisePow); err != nil {
			return nil, err
		}
	}

	if m.PowerCovariance, err = noise.PowerCovariance(c.projector, c.deconv, galPow, noisePow); err != nil {
		return nil, err
	}
	return m, nil
}

// Reconstruct returns the PSF-deconvolved image of a stamp, band limited to
// the cutoff disk
func (c *Cache) Reconstruct(stamp *models.Stamp) (*models.Stamp, error) {
	if err := c.requireConfigured(); err != nil {
		return nil, err
	}
	f, err := c.transformer.Transform(stamp)
	if err != nil {
		return nil, err
	}
	dec, err := c.deconv.Amplitude(f)
	if err != nil {
		return nil, err
	}
	data, err := c.transformer.Inverse(dec)
	if err != nil {
		return nil, err
	}
	return models.NewStamp(data, c.grid.Size())
}
