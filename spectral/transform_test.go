package spectral

import (
	"math"
	"testing"

	"github.com/mjibson/go-dsp/fft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

func testField(n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		x := float64(i)
		out[i] = complex(math.Sin(0.7*x)+0.3*math.Cos(2.1*x), 0)
	}
	return out
}

func TestForward1DMatchesReference(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := grid.Build(grid.Config{
			Extensions:      []float64{1},
			Cells:           []int{8},
			EmbeddingFactor: 2,
		}, c)
		if err != nil {
			return err
		}

		data := testField(d.LocalExtendedDomainSize)
		want := fft.FFT(append([]complex128(nil), data...))

		tr := NewTransformer(c, d)
		tr.Forward(data)

		for i := range data {
			assert.InDelta(t, real(want[i]), real(data[i]), 1e-10)
			assert.InDelta(t, imag(want[i]), imag(data[i]), 1e-10)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestForward2DMatchesReference(t *testing.T) {
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := grid.Build(grid.Config{
			Extensions:      []float64{1, 1},
			Cells:           []int{4, 4},
			EmbeddingFactor: 2,
		}, c)
		if err != nil {
			return err
		}

		n0 := d.ExtendedCells[0]
		n1 := d.ExtendedCells[1]
		data := testField(d.LocalExtendedDomainSize)

		rows := make([][]complex128, n1)
		for i1 := 0; i1 < n1; i1++ {
			rows[i1] = make([]complex128, n0)
			for i0 := 0; i0 < n0; i0++ {
				rows[i1][i0] = data[i0+n0*i1]
			}
		}
		want := fft.FFT2(rows)

		tr := NewTransformer(c, d)
		tr.Forward(data)

		for i1 := 0; i1 < n1; i1++ {
			for i0 := 0; i0 < n0; i0++ {
				got := data[i0+n0*i1]
				assert.InDelta(t, real(want[i1][i0]), real(got), 1e-10)
				assert.InDelta(t, imag(want[i1][i0]), imag(got), 1e-10)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRoundTripIsIdentity(t *testing.T) {
	cases := []struct {
		extensions []float64
		cells      []int
	}{
		{[]float64{1}, []int{16}},
		{[]float64{1, 1}, []int{4, 8}},
		{[]float64{1, 1, 1}, []int{4, 4, 4}},
	}

	for _, tc := range cases {
		err := comm.Run(1, func(c *comm.Comm) error {
			d, err := grid.Build(grid.Config{
				Extensions:      tc.extensions,
				Cells:           tc.cells,
				EmbeddingFactor: 2,
			}, c)
			if err != nil {
				return err
			}

			data := testField(d.LocalExtendedDomainSize)
			orig := append([]complex128(nil), data...)

			tr := NewTransformer(c, d)
			tr.Forward(data)
			tr.Backward(data)

			for i := range data {
				assert.InDelta(t, real(orig[i]), real(data[i]), 1e-10)
				assert.InDelta(t, imag(orig[i]), imag(data[i]), 1e-10)
			}
			return nil
		})
		require.NoError(t, err)
	}
}

// TestParallelMatchesSerial transforms the same global data on one rank and on
// two ranks and compares the gathered spectra.
func TestParallelMatchesSerial(t *testing.T) {
	cfg := grid.Config{
		Extensions:      []float64{1, 1},
		Cells:           []int{4, 4},
		EmbeddingFactor: 2,
	}

	var serial []complex128
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := grid.Build(cfg, c)
		if err != nil {
			return err
		}
		data := testField(d.LocalExtendedDomainSize)
		NewTransformer(c, d).Forward(data)
		serial = data
		return nil
	})
	require.NoError(t, err)

	err = comm.Run(2, func(c *comm.Comm) error {
		d, err := grid.Build(cfg, c)
		if err != nil {
			return err
		}

		// The slab of rank r is a contiguous block of the global field.
		global := testField(d.ExtendedDomainSize)
		local := make([]complex128, d.LocalExtendedDomainSize)
		copy(local, global[c.Rank()*d.LocalExtendedDomainSize:])

		NewTransformer(c, d).Forward(local)

		gathered := c.AllgatherComplex(local)
		for i := range gathered {
			assert.InDelta(t, real(serial[i]), real(gathered[i]), 1e-10)
			assert.InDelta(t, imag(serial[i]), imag(gathered[i]), 1e-10)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestParallel1DMatchesSerial(t *testing.T) {
	cfg := grid.Config{
		Extensions:      []float64{1},
		Cells:           []int{16},
		EmbeddingFactor: 2,
	}

	var serial []complex128
	err := comm.Run(1, func(c *comm.Comm) error {
		d, err := grid.Build(cfg, c)
		if err != nil {
			return err
		}
		data := testField(d.LocalExtendedDomainSize)
		NewTransformer(c, d).Forward(data)
		serial = data
		return nil
	})
	require.NoError(t, err)

	err = comm.Run(2, func(c *comm.Comm) error {
		d, err := grid.Build(cfg, c)
		if err != nil {
			return err
		}

		global := testField(d.ExtendedDomainSize)
		local := make([]complex128, d.LocalExtendedDomainSize)
		copy(local, global[d.Local0Start:])

		NewTransformer(c, d).Forward(local)

		gathered := c.AllgatherComplex(local)
		for i := range gathered {
			assert.InDelta(t, real(serial[i]), real(gathered[i]), 1e-10)
			assert.InDelta(t, imag(serial[i]), imag(gathered[i]), 1e-10)
		}
		return nil
	})
	require.NoError(t, err)
}
