package randomfield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

func newPart(t *testing.T, c *comm.Comm, extensions []float64, cells []int) (*grid.Descriptor, *StochasticPart) {
	t.Helper()
	d, err := grid.Build(grid.Config{
		Extensions:      extensions,
		Cells:           cells,
		EmbeddingFactor: 2,
	}, c)
	require.NoError(t, err)
	s, err := NewStochasticPart(c, d)
	require.NoError(t, err)
	return d, s
}

func TestStochasticAlgebra(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		_, a := newPart(t, c, []float64{1}, []int{4})
		_, b := newPart(t, c, []float64{1}, []int{4})

		copy(a.data, []float64{1, 2, 3, 4})
		copy(b.data, []float64{4, 3, 2, 1})

		a.Add(b)
		assert.Equal(t, []float64{5, 5, 5, 5}, a.data)

		a.Sub(b)
		assert.Equal(t, []float64{1, 2, 3, 4}, a.data)

		a.Scale(2)
		assert.Equal(t, []float64{2, 4, 6, 8}, a.data)

		a.Axpy(b, -2)
		assert.Equal(t, []float64{-6, -2, 2, 6}, a.data)

		assert.Equal(t, 30., b.ScalarProduct(b))
		assert.Equal(t, 10., b.OneNorm())
		assert.InDelta(t, math.Sqrt(30), b.TwoNorm(), 1e-14)
		assert.Equal(t, 4., b.InfNorm())

		assert.False(t, a.Equal(b))
		clone := a.Clone()
		assert.True(t, a.Equal(clone))

		a.Zero()
		assert.Equal(t, 0., a.OneNorm())
		return nil
	})
	require.NoError(t, err)
}

func TestStochasticNormsParallel(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		_, s := newPart(t, c, []float64{1}, []int{8})
		for i := range s.data {
			s.data[i] = float64(4*c.Rank() + i + 1)
		}

		assert.Equal(t, 36., s.OneNorm())
		assert.InDelta(t, math.Sqrt(204), s.TwoNorm(), 1e-12)
		assert.Equal(t, 8., s.InfNorm())
		assert.Equal(t, 204., s.ScalarProduct(s))

		other := s.Clone()
		assert.True(t, s.Equal(other))
		if c.Rank() == 1 {
			other.data[0] += 1
		}
		assert.False(t, s.Equal(other))
		return nil
	})
	require.NoError(t, err)
}

func TestUnsupportedTopology(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		d, err := grid.Build(grid.Config{
			Extensions:      []float64{1, 1},
			Cells:           []int{4, 4},
			EmbeddingFactor: 2,
		}, c)
		require.NoError(t, err)

		_, err = NewStochasticPart(c, d)
		assert.ErrorIs(t, err, ErrUnsupportedTopology)
		return nil
	})
	require.NoError(t, err)
}

func TestBlockGeometryMismatch(t *testing.T) {
	err := comm.Run(4, func(c *comm.Comm) error {
		d, err := grid.Build(grid.Config{
			Extensions:      []float64{1, 1},
			Cells:           []int{3, 4},
			EmbeddingFactor: 2,
		}, c)
		require.NoError(t, err)

		_, err = NewStochasticPart(c, d)
		assert.ErrorIs(t, err, grid.ErrGeometryMismatch)
		return nil
	})
	require.NoError(t, err)
}

func TestEvaluateSingleRank(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, s := newPart(t, c, []float64{1, 1}, []int{4, 4})
		for i := range s.data {
			s.data[i] = float64(i)
		}

		location := make([]float64, 2)
		indices := make([]int, 2)
		for i0 := 0; i0 < 4; i0++ {
			for i1 := 0; i1 < 4; i1++ {
				indices[0], indices[1] = i0, i1
				d.IndicesToCoords(indices, []int{0, 0}, location)
				assert.Equal(t, float64(i0+4*i1), s.Evaluate(location))
			}
		}

		// One cell beyond the high x face wraps around periodically.
		d.IndicesToCoords([]int{4, 1}, []int{0, 0}, location)
		assert.Equal(t, float64(0+4*1), s.Evaluate(location))

		// One cell beyond the high y face.
		d.IndicesToCoords([]int{2, 4}, []int{0, 0}, location)
		assert.Equal(t, float64(2+4*0), s.Evaluate(location))
		return nil
	})
	require.NoError(t, err)
}

// globalField is the reference cell value used by the layout tests.
func globalField(i0, i1 int) float64 { return float64(i0 + 10*i1) }

func TestBlockLayout2D(t *testing.T) {
	err := comm.Run(4, func(c *comm.Comm) error {
		d, s := newPart(t, c, []float64{1, 1}, []int{8, 8})
		require.Equal(t, []int{8, 2}, d.LocalCells)
		require.Equal(t, []int{4, 4}, s.localEvalCells)

		for t0 := 0; t0 < d.LocalCells[1]; t0++ {
			for i0 := 0; i0 < 8; i0++ {
				s.data[i0+8*t0] = globalField(i0, d.LocalOffset[1]+t0)
			}
		}

		s.dataToEval()

		off := s.localEvalOffset
		for e1 := 0; e1 < 4; e1++ {
			for e0 := 0; e0 < 4; e0++ {
				want := globalField(off[0]+e0, off[1]+e1)
				assert.Equal(t, want, s.eval[e0+4*e1],
					"rank %d block cell (%d,%d)", c.Rank(), e0, e1)
			}
		}

		// Ghost panels cover one cell beyond each face, periodically.
		for e1 := 0; e1 < 4; e1++ {
			wantLow := globalField((off[0]+8-1)%8, off[1]+e1)
			wantHigh := globalField((off[0]+4)%8, off[1]+e1)
			assert.Equal(t, wantLow, s.overlap[0][e1], "rank %d low x", c.Rank())
			assert.Equal(t, wantHigh, s.overlap[1][e1], "rank %d high x", c.Rank())
		}
		for e0 := 0; e0 < 4; e0++ {
			wantLow := globalField(off[0]+e0, (off[1]+8-1)%8)
			wantHigh := globalField(off[0]+e0, (off[1]+4)%8)
			assert.Equal(t, wantLow, s.overlap[2][e0], "rank %d low y", c.Rank())
			assert.Equal(t, wantHigh, s.overlap[3][e0], "rank %d high y", c.Rank())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLayoutRoundTrip2D(t *testing.T) {
	err := comm.Run(4, func(c *comm.Comm) error {
		_, s := newPart(t, c, []float64{1, 1}, []int{8, 8})
		for i := range s.data {
			s.data[i] = float64(100*c.Rank() + i)
		}
		orig := append([]float64(nil), s.data...)

		s.dataToEval()
		for i := range s.data {
			s.data[i] = -1
		}
		s.evalToData()

		assert.Equal(t, orig, s.data, "rank %d", c.Rank())
		return nil
	})
	require.NoError(t, err)
}

func TestLayoutRoundTrip3D(t *testing.T) {
	err := comm.Run(8, func(c *comm.Comm) error {
		_, s := newPart(t, c, []float64{1, 1, 1}, []int{4, 4, 8})
		require.Equal(t, 2, s.procPerDim)

		for i := range s.data {
			s.data[i] = float64(1000*c.Rank() + i)
		}
		orig := append([]float64(nil), s.data...)

		s.dataToEval()
		s.evalToData()

		assert.Equal(t, orig, s.data, "rank %d", c.Rank())
		return nil
	})
	require.NoError(t, err)
}

func TestEvaluateAcrossRanks(t *testing.T) {
	err := comm.Run(4, func(c *comm.Comm) error {
		d, s := newPart(t, c, []float64{1, 1}, []int{8, 8})
		for t0 := 0; t0 < d.LocalCells[1]; t0++ {
			for i0 := 0; i0 < 8; i0++ {
				s.data[i0+8*t0] = globalField(i0, d.LocalOffset[1]+t0)
			}
		}

		// Every rank evaluates the cell centers of its own block.
		off := s.localEvalOffset
		location := make([]float64, 2)
		indices := make([]int, 2)
		for e1 := 0; e1 < 4; e1++ {
			for e0 := 0; e0 < 4; e0++ {
				indices[0], indices[1] = e0, e1
				d.IndicesToCoords(indices, off, location)
				want := globalField(off[0]+e0, off[1]+e1)
				assert.Equal(t, want, s.Evaluate(location), "rank %d", c.Rank())
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRefineCoarsenRoundTrip(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, s := newPart(t, c, []float64{1, 1}, []int{4, 4})
		for i := range s.data {
			s.data[i] = float64(i + 1)
		}
		orig := append([]float64(nil), s.data...)

		require.NoError(t, d.Refine())
		require.NoError(t, s.Refine())

		// Each coarse cell is replicated into its 2x2 children.
		for i1 := 0; i1 < 8; i1++ {
			for i0 := 0; i0 < 8; i0++ {
				want := orig[i0/2+4*(i1/2)]
				assert.Equal(t, want, s.data[i0+8*i1])
			}
		}

		require.NoError(t, d.Coarsen())
		require.NoError(t, s.Coarsen())
		assert.Equal(t, orig, s.data)
		return nil
	})
	require.NoError(t, err)
}

func TestRefineNoopAtMatchingLevel(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		_, s := newPart(t, c, []float64{1}, []int{4})
		copy(s.data, []float64{1, 2, 3, 4})
		require.NoError(t, s.Refine())
		assert.Equal(t, []float64{1, 2, 3, 4}, s.data)
		return nil
	})
	require.NoError(t, err)
}

func TestLocalizeBump(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, s := newPart(t, c, []float64{1}, []int{16})
		for i := range s.data {
			s.data[i] = 1
		}

		center := make([]float64, 1)
		d.IndicesToCoords([]int{8}, []int{0}, center)
		s.Localize(center, 0.02)

		factor := math.Pow(2*math.Pi, -0.5)
		assert.InDelta(t, factor, s.data[8], 1e-12)
		assert.InDelta(t, 0, s.data[0], 1e-9)
		assert.Greater(t, s.data[8], s.data[9])
		return nil
	})
	require.NoError(t, err)
}
