package fpfs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"fpfs/internal/models"
	"fpfs/pkg/noise"
)

func galaxySet(t *testing.T, n int) []*models.Stamp {
	t.Helper()
	stamps := make([]*models.Stamp, n)
	for i := range stamps {
		theta := math.Pi * float64(i) / float64(n)
		stamps[i] = convolved(t, 2+0.1*float64(i), 2, theta)
	}
	return stamps
}

func TestConcurrentMeasureMatchesSerial(t *testing.T) {
	task := configuredTask(t, testConfig())
	flat, err := noise.Flat(task.Cache().Grid(), 1e-6)
	require.NoError(t, err)
	require.NoError(t, task.ResetNoise(flat))

	stamps := galaxySet(t, 16)
	serial := make([]*Measurement, len(stamps))
	for i, s := range stamps {
		serial[i], err = task.Measure(s)
		require.NoError(t, err)
	}

	parallel := make([]*Measurement, len(stamps))
	var g errgroup.Group
	g.SetLimit(4)
	for i, s := range stamps {
		i, s := i, s
		g.Go(func() error {
			m, err := task.Measure(s)
			parallel[i] = m
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := range stamps {
		assert.Equal(t, serial[i].Moments, parallel[i].Moments, "stamp %d", i)
		assert.Equal(t, serial[i].Covariance.RawSymmetric().Data, parallel[i].Covariance.RawSymmetric().Data)
	}
}

// TestMeasureDuringRebuild swaps the cutoff radius while measurements run.
// Every measurement must match one complete snapshot.
func TestMeasureDuringRebuild(t *testing.T) {
	task := configuredTask(t, testConfig())
	stamps := galaxySet(t, 8)

	refs := map[float64][]*Measurement{}
	for _, rlim := range []float64{10, 12} {
		c, err := task.Cache().WithRlim(rlim)
		require.NoError(t, err)
		for _, s := range stamps {
			m, err := c.Measure(s)
			require.NoError(t, err)
			refs[rlim] = append(refs[rlim], m)
		}
	}

	results := make([]*Measurement, 64)
	var g errgroup.Group
	g.SetLimit(8)
	g.Go(func() error {
		for i := 0; i < 20; i++ {
			if err := task.SetRlim([]float64{10, 12}[i%2]); err != nil {
				return err
			}
		}
		return nil
	})
	for i := range results {
		i := i
		g.Go(func() error {
			m, err := task.Measure(stamps[i%len(stamps)])
			results[i] = m
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, m := range results {
		ref, ok := refs[m.Params.Rlim]
		require.True(t, ok, "unexpected cutoff radius %g", m.Params.Rlim)
		assert.Equal(t, ref[i%len(stamps)].Raw, m.Raw)
	}
}
