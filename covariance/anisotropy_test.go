package covariance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLagMapNone(t *testing.T) {
	m, err := NewLagMap("none", []float64{0.5}, 2)
	require.NoError(t, err)

	dst := make([]float64, 2)
	m.Transform(dst, []float64{1, 2})
	assert.Equal(t, []float64{2, 4}, dst)
}

func TestLagMapAxiparallel(t *testing.T) {
	m, err := NewLagMap("axiparallel", []float64{0.5, 2}, 2)
	require.NoError(t, err)

	dst := make([]float64, 2)
	m.Transform(dst, []float64{1, 4})
	assert.Equal(t, []float64{2, 2}, dst)
}

func TestLagMapGeometricDiagonal(t *testing.T) {
	// A diagonal matrix must reproduce the axiparallel map.
	geo, err := NewLagMap("geometric", []float64{0.5, 0, 0, 2}, 2)
	require.NoError(t, err)
	axi, err := NewLagMap("axiparallel", []float64{0.5, 2}, 2)
	require.NoError(t, err)

	lag := []float64{0.3, -1.2}
	a := make([]float64, 2)
	b := make([]float64, 2)
	geo.Transform(a, lag)
	axi.Transform(b, lag)
	assert.InDelta(t, b[0], a[0], 1e-12)
	assert.InDelta(t, b[1], a[1], 1e-12)
}

func TestLagMapGeometricSingular(t *testing.T) {
	_, err := NewLagMap("geometric", []float64{1, 1, 1, 1}, 2)
	assert.Error(t, err)
}

func TestLagMapArgumentCounts(t *testing.T) {
	_, err := NewLagMap("none", nil, 2)
	assert.Error(t, err)

	_, err = NewLagMap("axiparallel", []float64{1}, 2)
	assert.Error(t, err)

	_, err = NewLagMap("geometric", []float64{1, 0, 0}, 2)
	assert.Error(t, err)
}

func TestLagMapUnknown(t *testing.T) {
	_, err := NewLagMap("radial", []float64{1}, 2)
	assert.ErrorIs(t, err, ErrUnknownAnisotropy)
}
