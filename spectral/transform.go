// Package spectral implements the distributed Fourier machinery: slab
// transforms over the embedded torus, the matrix (spectral symbol) and field
// backends built on them, and the normal random number generators feeding the
// sampler.
package spectral

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

// Transformer performs unnormalized forward and backward Fourier transforms
// of slab-distributed data on the embedded torus. Axes below the last are
// fully local and transformed line by line; the last axis is split across
// ranks and handled by an all-to-all transpose. Backward divides by the
// extended domain size, so a forward/backward round trip is the identity.
type Transformer struct {
	comm *comm.Comm
	desc *grid.Descriptor

	plans map[int]*fourier.CmplxFFT
}

// NewTransformer creates a transformer bound to a communicator and a domain
// descriptor. Plans are cached per line length and reused across refinement
// levels.
func NewTransformer(c *comm.Comm, d *grid.Descriptor) *Transformer {
	return &Transformer{
		comm:  c,
		desc:  d,
		plans: make(map[int]*fourier.CmplxFFT),
	}
}

func (t *Transformer) plan(n int) *fourier.CmplxFFT {
	p, ok := t.plans[n]
	if !ok {
		p = fourier.NewCmplxFFT(n)
		t.plans[n] = p
	}
	return p
}

// Forward transforms slab data in place, unnormalized.
func (t *Transformer) Forward(data []complex128) {
	t.transform(data, false)
}

// Backward inverse-transforms slab data in place and divides by the extended
// domain size.
func (t *Transformer) Backward(data []complex128) {
	t.transform(data, true)

	scale := 1. / float64(t.desc.ExtendedDomainSize)
	for i := range data {
		data[i] *= complex(scale, 0)
	}
}

func (t *Transformer) transform(data []complex128, inverse bool) {
	d := t.desc

	if d.Dim == 1 {
		t.transformLine1D(data, inverse)
		return
	}

	bound := d.LocalExtendedCells
	for axis := 0; axis < d.Dim-1; axis++ {
		t.transformAxis(data, bound, axis, inverse)
	}
	t.transformLastAxis(data, inverse)
}

// transformAxis runs line transforms along a fully local axis.
func (t *Transformer) transformAxis(data []complex128, bound []int, axis int, inverse bool) {
	n := bound[axis]
	plan := t.plan(n)

	stride := 1
	for k := 0; k < axis; k++ {
		stride *= bound[k]
	}
	blockSize := stride * n

	line := make([]complex128, n)
	out := make([]complex128, n)

	for blockStart := 0; blockStart < len(data); blockStart += blockSize {
		for off := 0; off < stride; off++ {
			base := blockStart + off
			for j := 0; j < n; j++ {
				line[j] = data[base+j*stride]
			}
			if inverse {
				plan.Sequence(out, line)
			} else {
				plan.Coefficients(out, line)
			}
			for j := 0; j < n; j++ {
				data[base+j*stride] = out[j]
			}
		}
	}
}

// transformLastAxis transforms the rank-split axis: transpose plane chunks
// across all ranks, run full-length line transforms, transpose back.
func (t *Transformer) transformLastAxis(data []complex128, inverse bool) {
	d := t.desc
	size := t.comm.Size()
	rank := t.comm.Rank()

	nLast := d.ExtendedCells[d.Dim-1]
	rows := d.LocalN0
	plane := d.LocalExtendedDomainSize / rows

	lo := func(s int) int { return s * plane / size }

	if size == 1 {
		t.transformAxis(data, d.LocalExtendedCells, d.Dim-1, inverse)
		return
	}

	// Scatter plane chunks: rank s receives columns [lo(s), lo(s+1)) of
	// every row held anywhere.
	chunks := make([][]complex128, size)
	for s := 0; s < size; s++ {
		w := lo(s+1) - lo(s)
		chunk := make([]complex128, rows*w)
		for tt := 0; tt < rows; tt++ {
			copy(chunk[tt*w:(tt+1)*w], data[tt*plane+lo(s):tt*plane+lo(s+1)])
		}
		chunks[s] = chunk
	}
	recv := t.comm.AlltoAllComplex(chunks)

	w := lo(rank+1) - lo(rank)
	lines := make([]complex128, w*nLast)
	for r := 0; r < size; r++ {
		for tt := 0; tt < rows; tt++ {
			global := r*rows + tt
			for j := 0; j < w; j++ {
				lines[j*nLast+global] = recv[r][tt*w+j]
			}
		}
	}

	plan := t.plan(nLast)
	out := make([]complex128, nLast)
	for j := 0; j < w; j++ {
		line := lines[j*nLast : (j+1)*nLast]
		if inverse {
			plan.Sequence(out, line)
		} else {
			plan.Coefficients(out, line)
		}
		copy(line, out)
	}

	// Transpose back into the slab layout.
	back := make([][]complex128, size)
	for r := 0; r < size; r++ {
		chunk := make([]complex128, rows*w)
		for tt := 0; tt < rows; tt++ {
			global := r*rows + tt
			for j := 0; j < w; j++ {
				chunk[tt*w+j] = lines[j*nLast+global]
			}
		}
		back[r] = chunk
	}
	result := t.comm.AlltoAllComplex(back)

	for s := 0; s < size; s++ {
		ws := lo(s+1) - lo(s)
		for tt := 0; tt < rows; tt++ {
			copy(data[tt*plane+lo(s):tt*plane+lo(s+1)], result[s][tt*ws:(tt+1)*ws])
		}
	}
}

// transformLine1D gathers the full line, transforms it locally and keeps the
// owned slab. The cells[0] mod P^2 divisibility keeps the geometry ready for
// a two-step distributed variant.
func (t *Transformer) transformLine1D(data []complex128, inverse bool) {
	d := t.desc

	if t.comm.Size() == 1 {
		plan := t.plan(len(data))
		out := make([]complex128, len(data))
		if inverse {
			plan.Sequence(out, data)
		} else {
			plan.Coefficients(out, data)
		}
		copy(data, out)
		return
	}

	full := t.comm.AllgatherComplex(data)
	plan := t.plan(len(full))
	out := make([]complex128, len(full))
	if inverse {
		plan.Sequence(out, full)
	} else {
		plan.Coefficients(out, full)
	}
	copy(data, out[d.Local0Start:d.Local0Start+d.LocalN0])
}
