// Package grid holds the domain descriptor for structured Cartesian grids:
// geometry, process decomposition, slab sizes for the distributed transforms,
// and the index/coordinate conversions shared by every layer above it.
package grid

import (
	"errors"
	"fmt"
	"log"

	"github.com/structgrid/gaussrf/comm"
)

// ErrGeometryMismatch indicates cell counts that cannot be distributed over
// the process count, or a coarsening request on an odd cell count.
var ErrGeometryMismatch = errors.New("geometry incompatible with process grid")

// Config carries the geometry parameters of a descriptor.
type Config struct {
	Extensions      []float64
	Cells           []int
	EmbeddingFactor int
	Periodic        bool
	Verbose         bool
}

// Descriptor describes the global grid and this rank's share of it, for both
// the physical domain and the embedded torus. It is immutable between calls
// to Refine and Coarsen.
type Descriptor struct {
	Dim  int
	Rank int
	Size int

	Extensions []float64
	Cells      []int
	Meshsize   []float64
	CellVolume float64
	Level      int

	EmbeddingFactor int
	Periodic        bool
	Verbose         bool

	ProcPerDim []int

	// Slab decomposition along the last axis of the embedded torus.
	LocalN0     int
	Local0Start int

	DomainSize      int
	LocalCells      []int
	LocalOffset     []int
	LocalDomainSize int

	ExtendedCells           []int
	ExtendedDomainSize      int
	LocalExtendedCells      []int
	LocalExtendedOffset     []int
	LocalExtendedDomainSize int
}

// Build validates the configuration, balances the process grid and derives
// all per-rank sizes and offsets.
func Build(cfg Config, c *comm.Comm) (*Descriptor, error) {
	dim := len(cfg.Cells)
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("%w: dimension %d not in {1,2,3}", ErrGeometryMismatch, dim)
	}
	if len(cfg.Extensions) != dim {
		return nil, fmt.Errorf("%w: %d extensions for %d cells entries",
			ErrGeometryMismatch, len(cfg.Extensions), dim)
	}

	m := cfg.EmbeddingFactor
	if m < 1 {
		m = 2
	}
	if cfg.Periodic && m != 1 {
		if cfg.Verbose && c.Rank() == 0 {
			log.Println("periodic boundary conditions are synonymous with embeddingFactor == 1, enforcing consistency")
		}
		m = 1
	}

	d := &Descriptor{
		Dim:             dim,
		Rank:            c.Rank(),
		Size:            c.Size(),
		Extensions:      append([]float64(nil), cfg.Extensions...),
		Cells:           append([]int(nil), cfg.Cells...),
		EmbeddingFactor: m,
		Periodic:        cfg.Periodic,
		Verbose:         cfg.Verbose,
		ProcPerDim:      Balance(cfg.Cells, c.Size()),
	}

	if err := d.update(); err != nil {
		return nil, err
	}
	return d, nil
}

// update recomputes all derived quantities. Called after construction and
// after each refine or coarsen.
func (d *Descriptor) update() error {
	dim := d.Dim

	if d.Cells[dim-1]%d.Size != 0 {
		return fmt.Errorf("%w: number of cells in last dimension has to be multiple of numProc",
			ErrGeometryMismatch)
	}
	if dim == 1 && d.Cells[0]%(d.Size*d.Size) != 0 {
		return fmt.Errorf("%w: in 1D, number of cells has to be multiple of numProc^2",
			ErrGeometryMismatch)
	}

	d.Meshsize = make([]float64, dim)
	d.ExtendedCells = make([]int, dim)
	for i := 0; i < dim; i++ {
		d.Meshsize[i] = d.Extensions[i] / float64(d.Cells[i])
		d.ExtendedCells[i] = d.EmbeddingFactor * d.Cells[i]
	}

	d.LocalN0 = d.ExtendedCells[dim-1] / d.Size
	d.Local0Start = d.LocalN0 * d.Rank

	d.LocalCells = make([]int, dim)
	d.LocalOffset = make([]int, dim)
	d.LocalExtendedCells = make([]int, dim)
	d.LocalExtendedOffset = make([]int, dim)
	for i := 0; i < dim-1; i++ {
		d.LocalExtendedCells[i] = d.ExtendedCells[i]
		d.LocalCells[i] = d.Cells[i]
	}
	d.LocalExtendedCells[dim-1] = d.LocalN0
	d.LocalExtendedOffset[dim-1] = d.Local0Start
	d.LocalCells[dim-1] = d.LocalN0 / d.EmbeddingFactor
	d.LocalOffset[dim-1] = d.Local0Start / d.EmbeddingFactor

	d.DomainSize = 1
	d.ExtendedDomainSize = 1
	d.LocalDomainSize = 1
	d.LocalExtendedDomainSize = 1
	d.CellVolume = 1.
	for i := 0; i < dim; i++ {
		d.DomainSize *= d.Cells[i]
		d.ExtendedDomainSize *= d.ExtendedCells[i]
		d.LocalDomainSize *= d.LocalCells[i]
		d.LocalExtendedDomainSize *= d.LocalExtendedCells[i]
		d.CellVolume *= d.Meshsize[i]
	}

	if d.Verbose && d.Rank == 0 {
		log.Printf("field size:        %d", d.LocalDomainSize)
		log.Printf("field cells:       %v", d.Cells)
		log.Printf("field local cells: %v", d.LocalCells)
		log.Printf("field cell volume: %g", d.CellVolume)
	}

	return nil
}

// Refine doubles the resolution along every axis.
func (d *Descriptor) Refine() error {
	for i := range d.Cells {
		d.Cells[i] *= 2
	}
	d.Level++
	return d.update()
}

// Coarsen halves the resolution along every axis. Odd cell counts cannot be
// coarsened.
func (d *Descriptor) Coarsen() error {
	for i := range d.Cells {
		if d.Cells[i]%2 != 0 {
			return fmt.Errorf("%w: cannot coarsen odd number of cells", ErrGeometryMismatch)
		}
		d.Cells[i] /= 2
	}
	d.Level--
	return d.update()
}

// IndicesToIndex flattens an index tuple, with indices[0] varying fastest.
func IndicesToIndex(indices, bound []int) int {
	index := indices[len(indices)-1]
	for i := len(indices) - 2; i >= 0; i-- {
		index = indices[i] + bound[i]*index
	}
	return index
}

// IndexToIndices recovers the index tuple of a flattened index.
func IndexToIndices(index int, indices, bound []int) {
	for i := 0; i < len(bound); i++ {
		indices[i] = index % bound[i]
		index /= bound[i]
	}
}

// CoordsToIndices maps a spatial location to local cell indices relative to
// offset. Indices may be negative or beyond the local bound when the location
// lies outside the local block.
func (d *Descriptor) CoordsToIndices(location []float64, indices, offset []int) {
	for i := 0; i < d.Dim; i++ {
		global := int(location[i] * (float64(d.Cells[i]) + 1e-6) / d.Extensions[i])
		indices[i] = global - offset[i]
	}
}

// IndicesToCoords maps local cell indices (relative to offset) to the spatial
// coordinates of the cell center.
func (d *Descriptor) IndicesToCoords(indices, offset []int, location []float64) {
	for i := 0; i < d.Dim; i++ {
		global := indices[i] + offset[i]
		location[i] = (float64(global) + 0.5) * d.Extensions[i] / float64(d.Cells[i])
	}
}
