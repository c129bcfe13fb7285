package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fpfs/internal/models"
)

func TestObserveCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Observe(nil, time.Millisecond)
	r.Observe(nil, 2*time.Millisecond)
	r.Observe(errors.Wrap(models.ErrDeconvolution, "stamp 3"), time.Millisecond)
	r.Observe(errors.Wrapf(models.ErrShapeMismatch, "stamp %d", 4), time.Millisecond)
	r.Observe(errors.New("disk on fire"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.stamps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stamps.WithLabelValues("deconvolution")))

	counts := r.Counts()
	assert.Equal(t, map[string]float64{
		"ok":             2,
		"shape_mismatch": 1,
		"uninitialized":  0,
		"deconvolution":  1,
		"configuration":  0,
		"error":          1,
	}, counts)
	assert.Equal(t, uint64(5), r.Total())
}

func TestRecorderRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.Observe(errors.Wrap(models.ErrUninitializedState, "no psf"), time.Millisecond)

	expected := `
# HELP fpfs_stamps_total Number of stamps measured, by outcome
# TYPE fpfs_stamps_total counter
fpfs_stamps_total{outcome="configuration"} 0
fpfs_stamps_total{outcome="deconvolution"} 0
fpfs_stamps_total{outcome="error"} 0
fpfs_stamps_total{outcome="ok"} 0
fpfs_stamps_total{outcome="shape_mismatch"} 0
fpfs_stamps_total{outcome="uninitialized"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "fpfs_stamps_total"))

	// A second recorder on the same registry is a duplicate registration
	assert.Panics(t, func() { NewRecorder(reg) })
}
