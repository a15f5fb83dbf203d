package randomfield

import (
	"fmt"
	"log"
	"math"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/covariance"
	"github.com/structgrid/gaussrf/grid"
	"github.com/structgrid/gaussrf/spectral"
)

// Operator is the covariance matrix of a stationary Gaussian random field,
// represented by its spectral symbol on the embedded torus. It provides
// multiplication with the matrix, its root and its inverse, and draws
// correlated samples.
type Operator struct {
	comm *comm.Comm
	desc *grid.Descriptor
	cfg  *Config

	matrix spectral.MatrixBackend
	field  spectral.FieldBackend
	rng    spectral.RNG

	kernel covariance.Kernel
	lagMap covariance.LagMap

	spare []float64
}

// NewOperator creates the covariance operator for the given configuration.
// The spectral symbol itself is computed lazily on first use. For dim > 1
// the symbol is stored in the compact half-spectrum layout unless the
// geometric anisotropy breaks its symmetry.
func NewOperator(c *comm.Comm, d *grid.Descriptor, cfg *Config) (*Operator, error) {
	kernel, err := covariance.ByName(cfg.Covariance)
	if err != nil {
		return nil, err
	}
	lagMap, err := covariance.NewLagMap(cfg.Anisotropy, cfg.CorrLength, d.Dim)
	if err != nil {
		return nil, err
	}
	rng, err := spectral.NewRNG(cfg.RNG)
	if err != nil {
		return nil, err
	}

	tr := spectral.NewTransformer(c, d)

	var matrix spectral.MatrixBackend
	if d.Dim > 1 && cfg.Anisotropy != "geometric" {
		matrix = spectral.NewR2CMatrix(d, tr)
	} else {
		matrix = spectral.NewDFTMatrix(d, tr)
	}

	return &Operator{
		comm:   c,
		desc:   d,
		cfg:    cfg,
		matrix: matrix,
		field:  spectral.NewDFTField(c, d, tr),
		rng:    rng,
		kernel: kernel,
		lagMap: lagMap,
	}, nil
}

// Invalidate discards the spectral symbol and any spare sample, forcing a
// recomputation on the next operation. Call after refining or coarsening.
func (o *Operator) Invalidate() {
	o.matrix.Invalidate()
	o.spare = nil
}

// GenerateField overwrites part with a correlated sample. One backward
// transform yields two independent fields; the second is kept and consumed
// by the next call, which then ignores the seed.
func (o *Operator) GenerateField(seed uint64, part *StochasticPart) error {
	if o.spare != nil {
		copy(part.data, o.spare)
		o.spare = nil
		part.evalValid = false
		return nil
	}

	if !o.matrix.Valid() {
		if err := o.fillTransformedMatrix(); err != nil {
			return err
		}
	}

	o.field.Allocate()
	o.rng.Seed(seed + uint64(o.comm.Rank()))
	o.field.TransposeIfNeeded()

	if o.sameLayout() {
		for index := 0; index < o.field.LocalFieldSize(); index++ {
			lambda := math.Sqrt(o.matrix.EvalIndex(index))
			o.field.Set(index, lambda, o.rng.Sample(), o.rng.Sample())
		}
	} else {
		indices := make([]int, o.desc.Dim)
		for index := 0; index < o.field.LocalFieldSize(); index++ {
			grid.IndexToIndices(index, indices, o.field.LocalFieldCells())
			lambda := math.Sqrt(o.matrix.EvalIndices(indices))
			o.field.Set(index, lambda, o.rng.Sample(), o.rng.Sample())
		}
	}

	o.field.BackwardTransform()

	o.field.ExtendedToField(part.data, 0)
	part.evalValid = false

	if o.field.HasSpareField() {
		o.spare = make([]float64, len(part.data))
		o.field.ExtendedToField(o.spare, 1)
	}
	return nil
}

// GenerateUncorrelatedField overwrites part with white noise, one standard
// normal draw per cell.
func (o *Operator) GenerateUncorrelatedField(seed uint64, part *StochasticPart) error {
	rng, err := spectral.NewRNG(o.cfg.RNG)
	if err != nil {
		return err
	}
	rng.Seed(seed + uint64(o.comm.Rank()))

	for i := range part.data {
		part.data[i] = rng.Sample()
	}
	part.evalValid = false
	return nil
}

// SetVarianceAsField sets every cell to the configured variance.
func (o *Operator) SetVarianceAsField(part *StochasticPart) {
	for i := range part.data {
		part.data[i] = o.cfg.Variance
	}
	part.evalValid = false
}

// Times multiplies the field with the covariance matrix.
func (o *Operator) Times(input *StochasticPart) (*StochasticPart, error) {
	output := input.Clone()
	if err := o.multiplyExtended(output.data, output.data); err != nil {
		return nil, err
	}
	output.evalValid = false
	return output, nil
}

// MultiplyRoot multiplies the field with the root of the covariance matrix,
// exact up to the boundary effects of the embedding.
func (o *Operator) MultiplyRoot(input *StochasticPart) (*StochasticPart, error) {
	output := input.Clone()
	if err := o.multiplyRootExtended(output.data, output.data); err != nil {
		return nil, err
	}
	output.evalValid = false
	return output, nil
}

// MultiplyInverse multiplies the field with the inverse of the covariance
// matrix. The spectral inverse on the torus only preconditions the problem;
// conjugate gradients correct for the boundary mismatch.
func (o *Operator) MultiplyInverse(input *StochasticPart) (*StochasticPart, error) {
	output := input.Clone()

	localZero := true
	for _, v := range input.data {
		if math.Abs(v) > 1e-10 {
			localZero = false
			break
		}
	}
	if o.comm.AllreduceAnd(localZero) {
		return output, nil
	}

	if err := o.multiplyInverseExtended(output.data, output.data); err != nil {
		return nil, err
	}
	converged, err := o.innerCG(output.data, input.data, true)
	if err != nil {
		return nil, err
	}
	if !converged && o.cfg.StrictCG {
		return nil, ErrCGStalled
	}
	output.evalValid = false
	return output, nil
}

// sameLayout reports whether the symbol storage matches the field layout, so
// the multiplication loops can skip the index decomposition.
func (o *Operator) sameLayout() bool {
	mc := o.matrix.LocalEvalMatrixCells()
	fc := o.field.LocalFieldCells()
	for i := 0; i < o.desc.Dim; i++ {
		if mc[i] != fc[i] {
			return false
		}
	}
	return true
}

// fillTransformedMatrix computes the spectral symbol: covariance values on
// the embedded torus, transformed, audited for negative eigenvalues and
// clamped at zero.
func (o *Operator) fillTransformedMatrix() error {
	d := o.desc
	o.matrix.Allocate()

	m := float64(d.EmbeddingFactor)
	indices := make([]int, d.Dim)
	coord := make([]float64, d.Dim)
	transCoord := make([]float64, d.Dim)
	offset := o.matrix.LocalMatrixOffset()
	cells := o.matrix.LocalMatrixCells()

	for index := 0; index < o.matrix.LocalMatrixSize(); index++ {
		grid.IndexToIndices(index, indices, cells)
		for i := 0; i < d.Dim; i++ {
			coord[i] = float64(indices[i]+offset[i]) * d.Meshsize[i]
			if coord[i] > 0.5*d.Extensions[i]*m {
				coord[i] -= d.Extensions[i] * m
			}
		}
		o.lagMap.Transform(transCoord, coord)
		o.matrix.Set(index, o.kernel(o.cfg.Variance, transCoord))
	}

	o.matrix.ForwardTransform()

	var mySmall, myNegative, mySmallNegative int
	mySmallest := math.MaxFloat64
	for index := 0; index < o.matrix.LocalMatrixSize(); index++ {
		value := o.matrix.Get(index)
		if value < mySmallest {
			mySmallest = value
		}

		if value < 1e-6 {
			if value < 1e-10 {
				if value > -1e-10 {
					mySmallNegative++
				} else {
					myNegative++
				}
			} else {
				mySmall++
			}
		}

		if value < 0 {
			o.matrix.Set(index, 0)
		}
	}

	counts := o.comm.AllreduceSumInts([]int{mySmall, mySmallNegative, myNegative})
	smallest := o.comm.AllreduceMin(mySmallest)
	small, smallNegative, negative := counts[0], counts[1], counts[2]

	if o.cfg.Verbose && o.comm.Rank() == 0 {
		log.Printf("%d small, %d small negative and %d large negative eigenvalues in covariance matrix, smallest %g",
			small, smallNegative, negative, smallest)
	}

	if negative > 0 && !o.cfg.Approximate {
		return fmt.Errorf("%w: consider increasing embeddingFactor, or alternatively allow generation of approximate samples",
			ErrNonPositiveSpectrum)
	}

	o.matrix.Finalize()
	return nil
}

// innerCG runs preconditioned conjugate gradients on the covariance system,
// monitoring the energy functional rather than the residual norm.
func (o *Operator) innerCG(iter, solution []float64, precondition bool) (bool, error) {
	n := len(iter)
	tempSolution := append([]float64(nil), solution...)
	matrixTimesSolution := make([]float64, n)
	matrixTimesIter := make([]float64, n)
	residual := make([]float64, n)
	precResidual := make([]float64, n)
	direction := make([]float64, n)
	matrixTimesDirection := make([]float64, n)

	if err := o.multiplyExtended(tempSolution, matrixTimesSolution); err != nil {
		return false, err
	}
	if err := o.multiplyExtended(iter, matrixTimesIter); err != nil {
		return false, err
	}

	for i := range residual {
		residual[i] = solution[i] - matrixTimesIter[i]
	}

	if precondition {
		if err := o.multiplyInverseExtended(residual, precResidual); err != nil {
			return false, err
		}
	} else {
		copy(precResidual, residual)
	}
	copy(direction, precResidual)

	dot := func(a, b []float64) float64 {
		local := 0.
		for i := range a {
			local += a[i] * b[i]
		}
		return o.comm.AllreduceSum(local)
	}
	energy := func() float64 {
		local := 0.
		for i := range iter {
			local += iter[i] * (0.5*matrixTimesIter[i] - solution[i])
		}
		return o.comm.AllreduceSum(local)
	}

	converged := false
	scalarProd := dot(precResidual, residual)
	scalarProd2 := dot(residual, residual)
	if math.Sqrt(math.Abs(scalarProd2)) < 1e-6 {
		converged = true
	}

	firstValue := energy()

	count := 0
	for !converged && count < o.cfg.CGIterations {
		if err := o.multiplyExtended(direction, matrixTimesDirection); err != nil {
			return false, err
		}

		alpha := scalarProd / dot(direction, matrixTimesDirection)
		oldValue := energy()

		for i := range iter {
			iter[i] += alpha * direction[i]
			matrixTimesIter[i] += alpha * matrixTimesDirection[i]
		}

		value := energy()

		for i := range residual {
			residual[i] = solution[i] - matrixTimesIter[i]
		}

		if precondition {
			if err := o.multiplyInverseExtended(residual, precResidual); err != nil {
				return false, err
			}
		} else {
			copy(precResidual, residual)
		}

		beta := 1. / scalarProd
		scalarProd = dot(precResidual, residual)
		beta *= scalarProd

		for i := range direction {
			direction[i] = precResidual[i] + beta*direction[i]
		}

		if value != firstValue {
			if math.Abs(value-oldValue)/math.Abs(value-firstValue) < 1e-16 {
				converged = true
			}
		}
		count++
	}

	if o.cfg.Verbose && o.comm.Rank() == 0 {
		log.Printf("%d iterations", count)
	}
	return converged, nil
}

// multiplyExtended applies the covariance matrix through the torus: embed,
// transform, scale each spectral bin with the symbol, transform back and
// extract.
func (o *Operator) multiplyExtended(input, output []float64) error {
	return o.applySymbol(input, output, func(v float64) float64 { return v })
}

// multiplyRootExtended scales with the square root of the symbol.
func (o *Operator) multiplyRootExtended(input, output []float64) error {
	return o.applySymbol(input, output, math.Sqrt)
}

// multiplyInverseExtended scales with the reciprocal of the symbol. This is
// the inverse on the torus only; callers correct the boundary effects.
func (o *Operator) multiplyInverseExtended(input, output []float64) error {
	return o.applySymbol(input, output, func(v float64) float64 { return 1. / v })
}

func (o *Operator) applySymbol(input, output []float64, f func(float64) float64) error {
	if !o.matrix.Valid() {
		if err := o.fillTransformedMatrix(); err != nil {
			return err
		}
	}

	o.field.FieldToExtended(input)
	o.field.ForwardTransform()

	if o.sameLayout() {
		for index := 0; index < o.field.LocalFieldSize(); index++ {
			o.field.Mult(index, f(o.matrix.EvalIndex(index)))
		}
	} else {
		indices := make([]int, o.desc.Dim)
		for index := 0; index < o.field.LocalFieldSize(); index++ {
			grid.IndexToIndices(index, indices, o.field.LocalFieldCells())
			o.field.Mult(index, f(o.matrix.EvalIndices(indices)))
		}
	}

	o.field.BackwardTransform()
	o.field.ExtendedToField(output, 0)
	return nil
}
