package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVectors(n int) (a, b, c []float64) {
	a = make([]float64, n)
	b = make([]float64, n)
	c = make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = math.Sin(float64(i) * 0.37)
		b[i] = math.Cos(float64(i)*0.11) + 0.5
		c[i] = 1 / (1 + float64(i))
	}
	return a, b, c
}

func TestKernelsAgree(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 7, 113} {
		a, b, c := testVectors(n)
		ref, err := Select(Generic)
		require.NoError(t, err)
		wantDot := ref.Dot(a, b)
		wantDot3 := ref.Dot3(a, b, c)

		for _, name := range []string{Unrolled, Gonum, Auto} {
			k, err := Select(name)
			require.NoError(t, err)
			assert.InDelta(t, wantDot, k.Dot(a, b), 1e-12, "%s n=%d", name, n)
			assert.InDelta(t, wantDot3, k.Dot3(a, b, c), 1e-12, "%s n=%d", name, n)
		}
	}
}

func TestSelectAutoIsStable(t *testing.T) {
	k1, err := Select(Auto)
	require.NoError(t, err)
	k2, err := Select("")
	require.NoError(t, err)
	assert.Equal(t, k1.Name(), k2.Name())
	assert.NotEqual(t, Auto, k1.Name())
}

func TestSelectUnknown(t *testing.T) {
	_, err := Select("avx9000")
	assert.Error(t, err)
}
