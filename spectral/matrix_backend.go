package spectral

import (
	"github.com/structgrid/gaussrf/grid"
)

// MatrixBackend stores the spectral symbol of the embedded covariance on the
// local slab. The fill loop writes covariance values through Set, a forward
// transform turns them into the symbol, and Eval serves the multiplication
// pipelines afterwards. LocalMatrixSize and LocalMatrixCells describe the
// layout of the current phase: the fill buffer before the transform, the
// stored symbol after it.
type MatrixBackend interface {
	Allocate()
	Valid() bool
	Invalidate()
	LocalMatrixSize() int
	LocalMatrixCells() []int
	LocalMatrixOffset() []int
	LocalEvalMatrixCells() []int
	Set(index int, value float64)
	Get(index int) float64
	ForwardTransform()
	Finalize()
	EvalIndex(index int) float64
	EvalIndices(indices []int) float64
}

// DFTMatrix stores the symbol over the full complex transform layout. It is
// valid for every dimension and anisotropy.
type DFTMatrix struct {
	desc *grid.Descriptor
	tr   *Transformer

	fill   []complex128
	symbol []float64
	valid  bool
}

// NewDFTMatrix creates a full-layout matrix backend.
func NewDFTMatrix(d *grid.Descriptor, tr *Transformer) *DFTMatrix {
	return &DFTMatrix{desc: d, tr: tr}
}

// Allocate prepares the fill buffer and discards any previous symbol.
func (m *DFTMatrix) Allocate() {
	m.fill = make([]complex128, m.desc.LocalExtendedDomainSize)
	m.symbol = nil
	m.valid = false
}

// Valid reports whether the symbol matches the current geometry.
func (m *DFTMatrix) Valid() bool { return m.valid }

// Invalidate marks the symbol stale, forcing a refill on next use.
func (m *DFTMatrix) Invalidate() {
	m.valid = false
	m.fill = nil
	m.symbol = nil
}

func (m *DFTMatrix) LocalMatrixSize() int        { return m.desc.LocalExtendedDomainSize }
func (m *DFTMatrix) LocalMatrixCells() []int     { return m.desc.LocalExtendedCells }
func (m *DFTMatrix) LocalMatrixOffset() []int    { return m.desc.LocalExtendedOffset }
func (m *DFTMatrix) LocalEvalMatrixCells() []int { return m.desc.LocalExtendedCells }

func (m *DFTMatrix) Set(index int, value float64) {
	if m.fill != nil {
		m.fill[index] = complex(value, 0)
		return
	}
	m.symbol[index] = value
}

func (m *DFTMatrix) Get(index int) float64 {
	return m.symbol[index]
}

// ForwardTransform produces the symbol. The covariance is real and
// centro-symmetric, so the transformed entries are real up to roundoff.
func (m *DFTMatrix) ForwardTransform() {
	m.tr.Forward(m.fill)
	m.symbol = make([]float64, len(m.fill))
	for i, v := range m.fill {
		m.symbol[i] = real(v)
	}
	m.fill = nil
}

// Finalize marks the audited symbol ready for use.
func (m *DFTMatrix) Finalize() { m.valid = true }

func (m *DFTMatrix) EvalIndex(index int) float64 { return m.symbol[index] }

func (m *DFTMatrix) EvalIndices(indices []int) float64 {
	return m.symbol[grid.IndicesToIndex(indices, m.desc.LocalExtendedCells)]
}

// R2CMatrix stores only the nonredundant half of the symbol along the first
// axis, exploiting the even symmetry present when the anisotropy is "none" or
// "axiparallel". Used by default for dim > 1.
type R2CMatrix struct {
	desc *grid.Descriptor
	tr   *Transformer

	fill         []complex128
	symbol       []float64
	compactCells []int
	valid        bool
}

// NewR2CMatrix creates a half-storage matrix backend. The caller must ensure
// the symbol is even along the first axis.
func NewR2CMatrix(d *grid.Descriptor, tr *Transformer) *R2CMatrix {
	return &R2CMatrix{desc: d, tr: tr}
}

// Allocate prepares the full-layout fill buffer.
func (m *R2CMatrix) Allocate() {
	m.fill = make([]complex128, m.desc.LocalExtendedDomainSize)
	m.symbol = nil
	m.compactCells = nil
	m.valid = false
}

func (m *R2CMatrix) Valid() bool { return m.valid }

func (m *R2CMatrix) Invalidate() {
	m.valid = false
	m.fill = nil
	m.symbol = nil
	m.compactCells = nil
}

func (m *R2CMatrix) LocalMatrixSize() int {
	if m.symbol != nil {
		return len(m.symbol)
	}
	return m.desc.LocalExtendedDomainSize
}

func (m *R2CMatrix) LocalMatrixCells() []int {
	if m.compactCells != nil {
		return m.compactCells
	}
	return m.desc.LocalExtendedCells
}

func (m *R2CMatrix) LocalMatrixOffset() []int { return m.desc.LocalExtendedOffset }

func (m *R2CMatrix) LocalEvalMatrixCells() []int {
	return m.compactCells
}

func (m *R2CMatrix) Set(index int, value float64) {
	if m.fill != nil {
		m.fill[index] = complex(value, 0)
		return
	}
	m.symbol[index] = value
}

func (m *R2CMatrix) Get(index int) float64 { return m.symbol[index] }

// ForwardTransform produces the symbol and compacts the redundant half of
// the first axis away.
func (m *R2CMatrix) ForwardTransform() {
	m.tr.Forward(m.fill)

	d := m.desc
	full := d.LocalExtendedCells
	m.compactCells = append([]int(nil), full...)
	m.compactCells[0] = full[0]/2 + 1

	size := 1
	for _, n := range m.compactCells {
		size *= n
	}
	m.symbol = make([]float64, size)

	indices := make([]int, d.Dim)
	for ci := 0; ci < size; ci++ {
		grid.IndexToIndices(ci, indices, m.compactCells)
		m.symbol[ci] = real(m.fill[grid.IndicesToIndex(indices, full)])
	}
	m.fill = nil
}

func (m *R2CMatrix) Finalize() { m.valid = true }

// EvalIndex is only meaningful for layouts identical to the field backend;
// R2CMatrix never matches, so the operator goes through EvalIndices.
func (m *R2CMatrix) EvalIndex(index int) float64 { return m.symbol[index] }

// EvalIndices mirrors the first axis into the stored half before lookup.
func (m *R2CMatrix) EvalIndices(indices []int) float64 {
	n0 := m.desc.LocalExtendedCells[0]
	i0 := indices[0]
	if i0 > n0/2 {
		i0 = n0 - i0
	}

	index := i0
	stride := m.compactCells[0]
	for k := 1; k < len(indices); k++ {
		index += stride * indices[k]
		stride *= m.compactCells[k]
	}
	return m.symbol[index]
}
