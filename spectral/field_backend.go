package spectral

import (
	"math"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

// FieldBackend holds the working field on the embedded torus. It moves data
// between the physical slab layout and the extended buffer, transforms in
// place, and exposes per-bin spectral writes for the sampler and the
// multiplication pipelines.
type FieldBackend interface {
	Allocate()
	LocalFieldSize() int
	LocalFieldCells() []int
	FieldToExtended(input []float64)
	ExtendedToField(output []float64, which int)
	ForwardTransform()
	BackwardTransform()
	TransposeIfNeeded()
	Set(index int, lambda, r1, r2 float64)
	Mult(index int, s float64)
	HasSpareField() bool
}

// DFTField is the complex-valued field backend. One backward transform of a
// spectrum filled with two independent normal draws per bin yields two
// independent real fields, the second available through which == 1.
type DFTField struct {
	comm *comm.Comm
	desc *grid.Descriptor
	tr   *Transformer

	buf      []complex128
	planeMap []int
	level    int
}

// NewDFTField creates the complex field backend.
func NewDFTField(c *comm.Comm, d *grid.Descriptor, tr *Transformer) *DFTField {
	return &DFTField{comm: c, desc: d, tr: tr, level: -1}
}

// Allocate sizes the torus buffer for the current geometry.
func (f *DFTField) Allocate() {
	if f.buf == nil || len(f.buf) != f.desc.LocalExtendedDomainSize || f.level != f.desc.Level {
		f.buf = make([]complex128, f.desc.LocalExtendedDomainSize)
		f.planeMap = nil
		f.level = f.desc.Level
	}
}

func (f *DFTField) LocalFieldSize() int    { return f.desc.LocalExtendedDomainSize }
func (f *DFTField) LocalFieldCells() []int { return f.desc.LocalExtendedCells }

// physPlaneMap gives, for each flat index of the physical plane below the
// last axis, its flat position within the extended plane.
func (f *DFTField) physPlaneMap() []int {
	if f.planeMap != nil {
		return f.planeMap
	}

	d := f.desc
	physPlane := 1
	for i := 0; i < d.Dim-1; i++ {
		physPlane *= d.Cells[i]
	}

	f.planeMap = make([]int, physPlane)
	if d.Dim == 1 {
		f.planeMap[0] = 0
		return f.planeMap
	}

	physBound := d.Cells[:d.Dim-1]
	extBound := d.ExtendedCells[:d.Dim-1]
	indices := make([]int, d.Dim-1)
	for j := 0; j < physPlane; j++ {
		grid.IndexToIndices(j, indices, physBound)
		f.planeMap[j] = grid.IndicesToIndex(indices, extBound)
	}
	return f.planeMap
}

// FieldToExtended copies a slab-layout physical field into the torus buffer,
// zero-padding the embedding. With an embedding factor m > 1 the physical
// rows of m consecutive ranks collapse onto one extended-slab owner, so rank
// r ships its padded rows to rank r/m.
func (f *DFTField) FieldToExtended(input []float64) {
	f.Allocate()
	for i := range f.buf {
		f.buf[i] = 0
	}

	d := f.desc
	m := d.EmbeddingFactor
	size := f.comm.Size()
	rank := f.comm.Rank()

	rowsPhys := d.LocalCells[d.Dim-1]
	physPlane := d.LocalDomainSize / rowsPhys
	extPlane := d.LocalExtendedDomainSize / d.LocalN0
	pm := f.physPlaneMap()

	place := func(rows []float64, rowOffset int) {
		for t := 0; t < rowsPhys; t++ {
			base := (rowOffset + t) * extPlane
			row := rows[t*extPlane : (t+1)*extPlane]
			for j, v := range row {
				f.buf[base+j] = complex(v, 0)
			}
		}
	}

	// Pad each physical row into extended plane layout.
	padded := make([]float64, rowsPhys*extPlane)
	for t := 0; t < rowsPhys; t++ {
		row := input[t*physPlane : (t+1)*physPlane]
		dst := padded[t*extPlane : (t+1)*extPlane]
		for j, v := range row {
			dst[pm[j]] = v
		}
	}

	dst := rank / m
	if dst != rank {
		f.comm.Send(dst, padded)
	}

	if rank <= (size-1)/m {
		for s := 0; s < m; s++ {
			src := rank*m + s
			if src >= size {
				break
			}
			if src == rank {
				place(padded, s*rowsPhys)
			} else {
				place(f.comm.Recv(src), s*rowsPhys)
			}
		}
	}
}

// ExtendedToField extracts the physical subregion back into slab layout.
// which selects the real part (0) or the spare imaginary part (1).
func (f *DFTField) ExtendedToField(output []float64, which int) {
	d := f.desc
	m := d.EmbeddingFactor
	size := f.comm.Size()
	rank := f.comm.Rank()

	rowsPhys := d.LocalCells[d.Dim-1]
	physPlane := d.LocalDomainSize / rowsPhys
	extPlane := d.LocalExtendedDomainSize / d.LocalN0
	pm := f.physPlaneMap()

	extract := func(rowOffset int) []float64 {
		rows := make([]float64, rowsPhys*physPlane)
		for t := 0; t < rowsPhys; t++ {
			base := (rowOffset + t) * extPlane
			dst := rows[t*physPlane : (t+1)*physPlane]
			for j := range dst {
				v := f.buf[base+pm[j]]
				if which == 0 {
					dst[j] = real(v)
				} else {
					dst[j] = imag(v)
				}
			}
		}
		return rows
	}

	if rank <= (size-1)/m {
		for s := 0; s < m; s++ {
			target := rank*m + s
			if target >= size {
				break
			}
			if target != rank {
				f.comm.Send(target, extract(s*rowsPhys))
			}
		}
	}

	src := rank / m
	if src == rank {
		copy(output, extract((rank%m)*rowsPhys))
	} else {
		copy(output, f.comm.Recv(src))
	}
}

// ForwardTransform transforms the torus buffer in place, unnormalized.
func (f *DFTField) ForwardTransform() {
	f.tr.Forward(f.buf)
}

// BackwardTransform inverse-transforms and divides by the extended domain
// size.
func (f *DFTField) BackwardTransform() {
	f.tr.Backward(f.buf)
}

// TransposeIfNeeded is a layout hook for transforms that leave their output
// transposed; the complex backend stores slab order throughout.
func (f *DFTField) TransposeIfNeeded() {}

// Set writes one spectral sample. The sqrt of the extended domain size
// compensates the backward normalization, so the extracted field carries
// unit-variance noise scaled by lambda.
func (f *DFTField) Set(index int, lambda, r1, r2 float64) {
	s := math.Sqrt(float64(f.desc.ExtendedDomainSize))
	f.buf[index] = complex(lambda*r1*s, lambda*r2*s)
}

// Mult scales one spectral bin.
func (f *DFTField) Mult(index int, s float64) {
	f.buf[index] *= complex(s, 0)
}

// HasSpareField reports that the imaginary extraction is an independent
// sample.
func (f *DFTField) HasSpareField() bool { return true }
