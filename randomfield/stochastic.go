package randomfield

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

// StochasticPart holds the cell values of a random field. The primary storage
// is the slab layout the transforms use; point evaluation works on a separate
// block decomposition with one layer of ghost panels, rebuilt lazily whenever
// the data changes.
type StochasticPart struct {
	comm *comm.Comm
	desc *grid.Descriptor

	level           int
	procPerDim      int
	localEvalCells  []int
	localEvalOffset []int

	data    []float64
	eval    []float64
	overlap [][]float64

	evalValid bool
}

// NewStochasticPart creates a zero field on the current geometry.
func NewStochasticPart(c *comm.Comm, d *grid.Descriptor) (*StochasticPart, error) {
	s := &StochasticPart{comm: c, desc: d}
	if err := s.update(); err != nil {
		return nil, err
	}
	return s, nil
}

func intPow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// update sizes the containers for the current refinement level. The block
// decomposition needs the rank count to be a perfect dim-th power.
func (s *StochasticPart) update() error {
	d := s.desc
	size := s.comm.Size()

	p := 1
	for intPow(p, d.Dim) != size {
		if intPow(p, d.Dim) > size {
			return ErrUnsupportedTopology
		}
		p++
	}
	s.procPerDim = p

	s.localEvalCells = make([]int, d.Dim)
	s.localEvalOffset = make([]int, d.Dim)
	for i := 0; i < d.Dim; i++ {
		if d.Cells[i]%p != 0 {
			return fmt.Errorf("%w: cells[%d] = %d not divisible by %d block ranks",
				grid.ErrGeometryMismatch, i, d.Cells[i], p)
		}
		s.localEvalCells[i] = d.Cells[i] / p
	}
	rank := s.comm.Rank()
	for i := 0; i < d.Dim; i++ {
		s.localEvalOffset[i] = (rank / intPow(p, i)) % p * s.localEvalCells[i]
	}

	s.data = make([]float64, d.LocalDomainSize)
	s.eval = make([]float64, d.LocalDomainSize)
	s.overlap = make([][]float64, 2*d.Dim)
	for i := 0; i < d.Dim; i++ {
		s.overlap[2*i] = make([]float64, d.LocalDomainSize/s.localEvalCells[i])
		s.overlap[2*i+1] = make([]float64, d.LocalDomainSize/s.localEvalCells[i])
	}

	s.level = d.Level
	s.evalValid = false
	return nil
}

// Clone returns a deep copy sharing the communicator and descriptor.
func (s *StochasticPart) Clone() *StochasticPart {
	out := &StochasticPart{
		comm:            s.comm,
		desc:            s.desc,
		level:           s.level,
		procPerDim:      s.procPerDim,
		localEvalCells:  append([]int(nil), s.localEvalCells...),
		localEvalOffset: append([]int(nil), s.localEvalOffset...),
		data:            append([]float64(nil), s.data...),
		eval:            append([]float64(nil), s.eval...),
		overlap:         make([][]float64, len(s.overlap)),
		evalValid:       s.evalValid,
	}
	for i, panel := range s.overlap {
		out.overlap[i] = append([]float64(nil), panel...)
	}
	return out
}

// Data exposes the slab-layout cell values. Callers that modify the slice
// must call Invalidate afterwards.
func (s *StochasticPart) Data() []float64 { return s.data }

// Invalidate marks the evaluation layout stale.
func (s *StochasticPart) Invalidate() { s.evalValid = false }

// Zero sets all cell values to zero.
func (s *StochasticPart) Zero() {
	for i := range s.data {
		s.data[i] = 0
	}
	s.evalValid = false
}

// Add accumulates other into s.
func (s *StochasticPart) Add(other *StochasticPart) {
	floats.Add(s.data, other.data)
	s.evalValid = false
}

// Sub subtracts other from s.
func (s *StochasticPart) Sub(other *StochasticPart) {
	floats.Sub(s.data, other.data)
	s.evalValid = false
}

// Scale multiplies the field by alpha.
func (s *StochasticPart) Scale(alpha float64) {
	floats.Scale(alpha, s.data)
	s.evalValid = false
}

// Axpy adds alpha times other to s.
func (s *StochasticPart) Axpy(other *StochasticPart, alpha float64) {
	floats.AddScaled(s.data, alpha, other.data)
	s.evalValid = false
}

// ScalarProduct returns the global inner product of two fields. All ranks
// obtain the same value.
func (s *StochasticPart) ScalarProduct(other *StochasticPart) float64 {
	return s.comm.AllreduceSum(floats.Dot(s.data, other.data))
}

// OneNorm returns the global sum of absolute cell values.
func (s *StochasticPart) OneNorm() float64 {
	local := 0.
	for _, v := range s.data {
		local += math.Abs(v)
	}
	return s.comm.AllreduceSum(local)
}

// TwoNorm returns the global Euclidean norm.
func (s *StochasticPart) TwoNorm() float64 {
	return math.Sqrt(s.ScalarProduct(s))
}

// InfNorm returns the global maximum absolute cell value.
func (s *StochasticPart) InfNorm() float64 {
	local := 0.
	for _, v := range s.data {
		if a := math.Abs(v); a > local {
			local = a
		}
	}
	return s.comm.AllreduceMax(local)
}

// Equal reports whether both fields hold identical cell values everywhere.
func (s *StochasticPart) Equal(other *StochasticPart) bool {
	local := floats.Equal(s.data, other.data)
	return s.comm.AllreduceAnd(local)
}

// Localize multiplies the field with a normalized Gaussian bump around
// center, suppressing everything beyond a few radii.
func (s *StochasticPart) Localize(center []float64, radius float64) {
	d := s.desc
	factor := math.Pow(2*math.Pi, -float64(d.Dim)/2)

	indices := make([]int, d.Dim)
	location := make([]float64, d.Dim)
	for i := range s.data {
		grid.IndexToIndices(i, indices, d.LocalCells)
		d.IndicesToCoords(indices, d.LocalOffset, location)

		distSquared := 0.
		for j := 0; j < d.Dim; j++ {
			diff := location[j] - center[j]
			distSquared += diff * diff
		}
		s.data[i] *= factor * math.Exp(-0.5*distSquared/(radius*radius))
	}
	s.evalValid = false
}

// Refine doubles the resolution, replicating each coarse cell value into its
// 2^dim children. The descriptor must already be at the finer level.
func (s *StochasticPart) Refine() error {
	if s.level == s.desc.Level {
		return nil
	}

	oldData := s.data
	if err := s.update(); err != nil {
		return err
	}

	d := s.desc
	oldLocalCells := make([]int, d.Dim)
	for i := 0; i < d.Dim; i++ {
		oldLocalCells[i] = d.LocalCells[i] / 2
	}

	oldIndices := make([]int, d.Dim)
	newIndices := make([]int, d.Dim)
	oldSize := len(oldData)
	for oldIndex := 0; oldIndex < oldSize; oldIndex++ {
		grid.IndexToIndices(oldIndex, oldIndices, oldLocalCells)
		for i := 0; i < d.Dim; i++ {
			newIndices[i] = 2 * oldIndices[i]
		}
		base := grid.IndicesToIndex(newIndices, d.LocalCells)
		value := oldData[oldIndex]

		for child := 0; child < 1<<d.Dim; child++ {
			offset := 0
			stride := 1
			for i := 0; i < d.Dim; i++ {
				if child&(1<<i) != 0 {
					offset += stride
				}
				stride *= d.LocalCells[i]
			}
			s.data[base+offset] = value
		}
	}

	s.evalValid = false
	return nil
}

// Coarsen halves the resolution, averaging each block of 2^dim fine cells
// into its parent. The descriptor must already be at the coarser level.
func (s *StochasticPart) Coarsen() error {
	if s.level == s.desc.Level {
		return nil
	}

	oldData := s.data
	if err := s.update(); err != nil {
		return err
	}

	d := s.desc
	oldLocalCells := make([]int, d.Dim)
	for i := 0; i < d.Dim; i++ {
		oldLocalCells[i] = d.LocalCells[i] * 2
	}

	newIndices := make([]int, d.Dim)
	fineIndices := make([]int, d.Dim)
	weight := 1. / float64(int(1)<<d.Dim)
	for newIndex := range s.data {
		grid.IndexToIndices(newIndex, newIndices, d.LocalCells)

		sum := 0.
		for child := 0; child < 1<<d.Dim; child++ {
			for i := 0; i < d.Dim; i++ {
				fineIndices[i] = 2 * newIndices[i]
				if child&(1<<i) != 0 {
					fineIndices[i]++
				}
			}
			sum += oldData[grid.IndicesToIndex(fineIndices, oldLocalCells)]
		}
		s.data[newIndex] = sum * weight
	}

	s.evalValid = false
	return nil
}

// Evaluate returns the cell value at the given location. The location must
// lie within the local block or at most one cell beyond its boundary; the
// ghost panels cover the one-cell halo.
func (s *StochasticPart) Evaluate(location []float64) float64 {
	if !s.evalValid {
		s.dataToEval()
	}

	d := s.desc
	evalIndices := make([]int, d.Dim)
	d.CoordsToIndices(location, evalIndices, s.localEvalOffset)

	outAxis := -1
	outCount := 0
	panel := 0
	for i := 0; i < d.Dim; i++ {
		if evalIndices[i] < 0 {
			outAxis, panel = i, 2*i
			outCount++
		} else if evalIndices[i] >= s.localEvalCells[i] {
			outAxis, panel = i, 2*i+1
			outCount++
		}
	}

	if outCount == 1 {
		iNext := (outAxis + 1) % d.Dim
		index := 0
		if d.Dim > 1 {
			index = evalIndices[iNext]
		}
		if d.Dim == 3 {
			iNextNext := (outAxis + 2) % d.Dim
			index += evalIndices[iNextNext] * s.localEvalCells[iNext]
		}
		return s.overlap[panel][index]
	}

	for i := 0; i < d.Dim; i++ {
		if evalIndices[i] < 0 {
			evalIndices[i] = 0
		} else if evalIndices[i] >= s.localEvalCells[i] {
			evalIndices[i] = s.localEvalCells[i] - 1
		}
	}
	return s.eval[grid.IndicesToIndex(evalIndices, s.localEvalCells)]
}

// dataToEval converts the striped transform layout into the block layout and
// refreshes the ghost panels. Each group of numComms consecutive ranks owns
// the stripes of one block column and exchanges resorted slices all-to-all
// within the group.
func (s *StochasticPart) dataToEval() {
	d := s.desc
	size := s.comm.Size()
	rank := s.comm.Rank()
	p := s.procPerDim

	if size == 1 {
		copy(s.eval, s.data)
		s.exchangeOverlap()
		s.evalValid = true
		return
	}

	if d.Dim == 1 {
		copy(s.eval, s.data)
		s.exchangeOverlap()
		s.evalValid = true
		return
	}

	resorted := s.resortToBlocks(s.data)

	numComms := p
	if d.Dim == 3 {
		numComms = p * p
	}
	chunk := d.LocalDomainSize / numComms
	groupBase := (rank / numComms) * numComms
	for i := 0; i < numComms; i++ {
		partner := groupBase + i
		if partner == rank {
			copy(s.eval[i*chunk:(i+1)*chunk], resorted[i*chunk:(i+1)*chunk])
			continue
		}
		s.comm.Send(partner, resorted[i*chunk:(i+1)*chunk])
	}
	for i := 0; i < numComms; i++ {
		partner := groupBase + i
		if partner == rank {
			continue
		}
		copy(s.eval[i*chunk:(i+1)*chunk], s.comm.Recv(partner))
	}
	s.comm.Barrier()

	s.exchangeOverlap()
	s.evalValid = true
}

// evalToData converts the block layout back into the striped layout, undoing
// dataToEval.
func (s *StochasticPart) evalToData() {
	d := s.desc
	size := s.comm.Size()
	rank := s.comm.Rank()
	p := s.procPerDim

	if size == 1 || d.Dim == 1 {
		copy(s.data, s.eval)
		return
	}

	numComms := p
	if d.Dim == 3 {
		numComms = p * p
	}
	chunk := d.LocalDomainSize / numComms
	groupBase := (rank / numComms) * numComms
	resorted := make([]float64, d.LocalDomainSize)
	for i := 0; i < numComms; i++ {
		partner := groupBase + i
		if partner == rank {
			copy(resorted[i*chunk:(i+1)*chunk], s.eval[i*chunk:(i+1)*chunk])
			continue
		}
		s.comm.Send(partner, s.eval[i*chunk:(i+1)*chunk])
	}
	for i := 0; i < numComms; i++ {
		partner := groupBase + i
		if partner == rank {
			continue
		}
		copy(resorted[i*chunk:(i+1)*chunk], s.comm.Recv(partner))
	}

	s.resortFromBlocks(resorted, s.data)
	s.comm.Barrier()
}

// resortToBlocks permutes slices of the striped layout so that consecutive
// chunks of the result belong to consecutive ranks of the block group.
func (s *StochasticPart) resortToBlocks(data []float64) []float64 {
	d := s.desc
	p := s.procPerDim

	numSlices := p * d.LocalDomainSize / d.LocalCells[0]
	sliceSize := d.LocalDomainSize / numSlices
	resorted := make([]float64, d.LocalDomainSize)

	for i := 0; i < numSlices; i++ {
		iNew := s.sliceTarget(i)
		copy(resorted[iNew*sliceSize:(iNew+1)*sliceSize], data[i*sliceSize:(i+1)*sliceSize])
	}
	return resorted
}

// resortFromBlocks applies the inverse permutation.
func (s *StochasticPart) resortFromBlocks(resorted, data []float64) {
	d := s.desc
	p := s.procPerDim

	numSlices := p * d.LocalDomainSize / d.LocalCells[0]
	sliceSize := d.LocalDomainSize / numSlices

	for i := 0; i < numSlices; i++ {
		iNew := s.sliceTarget(i)
		copy(data[i*sliceSize:(i+1)*sliceSize], resorted[iNew*sliceSize:(iNew+1)*sliceSize])
	}
}

// sliceTarget maps stripe slice i to its position in the block ordering.
func (s *StochasticPart) sliceTarget(i int) int {
	d := s.desc
	p := s.procPerDim

	if d.Dim == 3 {
		ny := d.LocalCells[d.Dim-2]
		nz := d.LocalCells[d.Dim-1]
		dy := ny / p

		term1 := (i % p) * (dy * nz)
		term2 := ((i / (dy * p) * dy) % ny) * (nz * p)
		term3 := (i / (ny * p)) * dy
		term4 := (i / p) % dy
		return term1 + term2 + term3 + term4
	}
	return i/p + (i%p)*d.LocalCells[d.Dim-1]
}

// blockNeighbors returns the 2*dim neighbor ranks of the block decomposition,
// low side before high side per axis, with periodic wraparound.
func (s *StochasticPart) blockNeighbors() []int {
	d := s.desc
	size := s.comm.Size()
	rank := s.comm.Rank()
	p := s.procPerDim

	neighbor := make([]int, 2*d.Dim)
	for i := 0; i < d.Dim; i++ {
		group := intPow(p, i+1)
		base := (rank / group) * group
		step := intPow(p, i)
		if i == d.Dim-1 {
			neighbor[2*i] = (rank + size - step) % size
			neighbor[2*i+1] = (rank + step) % size
		} else {
			neighbor[2*i] = base + (rank+group-step)%group
			neighbor[2*i+1] = base + (rank+step)%group
		}
	}
	return neighbor
}

// exchangeOverlap refreshes the ghost panels from the block neighbors. Panels
// extracted from the first and last layer along each axis travel to the
// opposite side; an axis with a single block copies locally.
func (s *StochasticPart) exchangeOverlap() {
	d := s.desc
	rank := s.comm.Rank()

	extract := make([][]float64, 2*d.Dim)
	for i := range extract {
		extract[i] = make([]float64, len(s.overlap[i]))
	}

	evalIndices := make([]int, d.Dim)
	for i := 0; i < d.Dim; i++ {
		iNext := (i + 1) % d.Dim
		iNextNext := (i + 2) % d.Dim

		panelSize := len(extract[2*i])
		for flat := 0; flat < panelSize; flat++ {
			for k := 0; k < d.Dim; k++ {
				evalIndices[k] = 0
			}
			if d.Dim > 1 {
				evalIndices[iNext] = flat % s.localEvalCells[iNext]
			}
			if d.Dim == 3 {
				evalIndices[iNextNext] = flat / s.localEvalCells[iNext]
			}

			evalIndices[i] = 0
			extract[2*i][flat] = s.eval[grid.IndicesToIndex(evalIndices, s.localEvalCells)]

			evalIndices[i] = s.localEvalCells[i] - 1
			extract[2*i+1][flat] = s.eval[grid.IndicesToIndex(evalIndices, s.localEvalCells)]
		}
	}

	neighbor := s.blockNeighbors()
	for i := 0; i < d.Dim; i++ {
		if neighbor[2*i] == rank && neighbor[2*i+1] == rank {
			copy(s.overlap[2*i+1], extract[2*i])
			copy(s.overlap[2*i], extract[2*i+1])
			continue
		}

		s.comm.Send(neighbor[2*i], extract[2*i])
		copy(s.overlap[2*i+1], s.comm.Recv(neighbor[2*i+1]))

		s.comm.Send(neighbor[2*i+1], extract[2*i+1])
		copy(s.overlap[2*i], s.comm.Recv(neighbor[2*i]))
	}
	s.comm.Barrier()
}
