// Package randomfield generates stationary Gaussian random fields on
// structured Cartesian grids via circulant embedding, with multiplication by
// the covariance matrix, its root and their inverses.
package randomfield

import (
	"math"

	"github.com/structgrid/gaussrf/comm"
	"github.com/structgrid/gaussrf/grid"
)

// RandomField couples a stochastic part with its covariance operator.
// Optional caches keep the preimages under C and C^1/2, which turns pairs of
// mutually inverse multiplications into cheap copies and preserves exact
// inverses across refinement.
type RandomField struct {
	comm *comm.Comm
	desc *grid.Descriptor
	cfg  Config
	op   *Operator

	stochastic *StochasticPart

	invMatvec          *StochasticPart
	invMatvecValid     bool
	invRootMatvec      *StochasticPart
	invRootMatvecValid bool

	// AllowNonWorldComm permits generation on a sub-communicator, which
	// otherwise fails because different groups would draw inconsistent
	// samples.
	AllowNonWorldComm bool
}

// New creates a zero random field on the given communicator.
func New(c *comm.Comm, cfg Config) (*RandomField, error) {
	desc, err := grid.Build(grid.Config{
		Extensions:      cfg.Extensions,
		Cells:           cfg.Cells,
		EmbeddingFactor: cfg.EmbeddingFactor,
		Periodic:        cfg.Periodic,
		Verbose:         cfg.Verbose,
	}, c)
	if err != nil {
		return nil, err
	}

	op, err := NewOperator(c, desc, &cfg)
	if err != nil {
		return nil, err
	}

	f := &RandomField{comm: c, desc: desc, cfg: cfg, op: op}
	if f.stochastic, err = NewStochasticPart(c, desc); err != nil {
		return nil, err
	}
	if cfg.CacheInvMatvec {
		if f.invMatvec, err = NewStochasticPart(c, desc); err != nil {
			return nil, err
		}
	}
	if cfg.CacheInvRootMatvec {
		if f.invRootMatvec, err = NewStochasticPart(c, desc); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Config returns the configuration the field was built with.
func (f *RandomField) Config() Config { return f.cfg }

// CellVolume returns the volume of one grid cell at the current level.
func (f *RandomField) CellVolume() float64 { return f.desc.CellVolume }

// Stochastic exposes the cell values of the field.
func (f *RandomField) Stochastic() *StochasticPart { return f.stochastic }

// Generate draws a correlated sample with the given seed. Generation on a
// sub-communicator is refused unless AllowNonWorldComm is set, since ranks
// outside the group would hold unrelated values.
func (f *RandomField) Generate(seed uint64) error {
	if !f.comm.IsWorld() && !f.AllowNonWorldComm {
		return ErrNonWorldComm
	}

	if err := f.op.GenerateField(seed, f.stochastic); err != nil {
		return err
	}
	f.invMatvecValid = false
	f.invRootMatvecValid = false
	return nil
}

// GenerateUncorrelated draws white noise with the given seed.
func (f *RandomField) GenerateUncorrelated(seed uint64) error {
	if !f.comm.IsWorld() && !f.AllowNonWorldComm {
		return ErrNonWorldComm
	}

	if err := f.op.GenerateUncorrelatedField(seed, f.stochastic); err != nil {
		return err
	}
	f.invMatvecValid = false
	f.invRootMatvecValid = false
	return nil
}

// SetVarianceAsField sets every cell to the configured variance.
func (f *RandomField) SetVarianceAsField() {
	f.op.SetVarianceAsField(f.stochastic)
	f.invMatvecValid = false
	f.invRootMatvecValid = false
}

// Evaluate returns the field value at the given location within the local
// block or its one-cell halo.
func (f *RandomField) Evaluate(location []float64) float64 {
	return f.stochastic.Evaluate(location)
}

// Zero makes the field homogeneous. The zero field is its own preimage, so
// the caches become valid.
func (f *RandomField) Zero() {
	f.stochastic.Zero()

	if f.cfg.CacheInvMatvec {
		f.invMatvec.Zero()
		f.invMatvecValid = true
	}
	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvec.Zero()
		f.invRootMatvecValid = true
	}
}

// RefineMatrix doubles the resolution of the covariance matrix.
func (f *RandomField) RefineMatrix() error {
	if err := f.desc.Refine(); err != nil {
		return err
	}
	f.op.Invalidate()
	return nil
}

// CoarsenMatrix halves the resolution of the covariance matrix.
func (f *RandomField) CoarsenMatrix() error {
	if err := f.desc.Coarsen(); err != nil {
		return err
	}
	f.op.Invalidate()
	return nil
}

// Refine doubles the resolution of the field. When a cache is valid the
// refined field is reconstructed from the refined preimage, so the cached
// inverse stays exact instead of merely interpolated. Call RefineMatrix
// first.
func (f *RandomField) Refine() error {
	scale := math.Pow(0.5, -float64(f.desc.Dim))
	return f.changeResolution(scale, (*StochasticPart).Refine)
}

// Coarsen halves the resolution of the field, averaging cell blocks. Call
// CoarsenMatrix first.
func (f *RandomField) Coarsen() error {
	scale := math.Pow(0.5, float64(f.desc.Dim))
	return f.changeResolution(scale, (*StochasticPart).Coarsen)
}

func (f *RandomField) changeResolution(scale float64, resample func(*StochasticPart) error) error {
	switch {
	case f.cfg.CacheInvMatvec && f.invMatvecValid:
		if err := resample(f.invMatvec); err != nil {
			return err
		}
		stochastic, err := f.op.Times(f.invMatvec)
		if err != nil {
			return err
		}
		f.stochastic = stochastic

		f.stochastic.Scale(scale)
		f.invMatvec.Scale(scale)

		if f.cfg.CacheInvRootMatvec {
			invRoot, err := f.op.MultiplyRoot(f.invMatvec)
			if err != nil {
				return err
			}
			f.invRootMatvec = invRoot
			f.invRootMatvecValid = true
		}

	case f.cfg.CacheInvRootMatvec && f.invRootMatvecValid:
		if err := resample(f.invRootMatvec); err != nil {
			return err
		}
		stochastic, err := f.op.MultiplyRoot(f.invRootMatvec)
		if err != nil {
			return err
		}
		f.stochastic = stochastic

		f.stochastic.Scale(scale)
		f.invRootMatvec.Scale(scale)

		if f.cfg.CacheInvMatvec {
			f.invMatvec = f.stochastic.Clone()
			f.invMatvecValid = false
		}

	default:
		if err := resample(f.stochastic); err != nil {
			return err
		}
		if f.cfg.CacheInvMatvec {
			if err := resample(f.invMatvec); err != nil {
				return err
			}
		}
		if f.cfg.CacheInvRootMatvec {
			if err := resample(f.invRootMatvec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Add accumulates other into f. A cache stays valid only if both fields
// carried a valid one.
func (f *RandomField) Add(other *RandomField) {
	f.mergeCaches(other, (*StochasticPart).Add)
	f.stochastic.Add(other.stochastic)
}

// Sub subtracts other from f.
func (f *RandomField) Sub(other *RandomField) {
	f.mergeCaches(other, (*StochasticPart).Sub)
	f.stochastic.Sub(other.stochastic)
}

func (f *RandomField) mergeCaches(other *RandomField, op func(*StochasticPart, *StochasticPart)) {
	if f.cfg.CacheInvMatvec {
		if other.cfg.CacheInvMatvec {
			op(f.invMatvec, other.invMatvec)
			f.invMatvecValid = f.invMatvecValid && other.invMatvecValid
		} else {
			f.invMatvecValid = false
		}
	}
	if f.cfg.CacheInvRootMatvec {
		if other.cfg.CacheInvRootMatvec {
			op(f.invRootMatvec, other.invRootMatvec)
			f.invRootMatvecValid = f.invRootMatvecValid && other.invRootMatvecValid
		} else {
			f.invRootMatvecValid = false
		}
	}
}

// Scale multiplies the field by alpha. Scaling commutes with the covariance
// operator, so cache validity is unaffected.
func (f *RandomField) Scale(alpha float64) {
	f.stochastic.Scale(alpha)

	if f.cfg.CacheInvMatvec {
		f.invMatvec.Scale(alpha)
	}
	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvec.Scale(alpha)
	}
}

// Axpy adds alpha times other to f.
func (f *RandomField) Axpy(other *RandomField, alpha float64) {
	f.mergeCaches(other, func(dst, src *StochasticPart) {
		dst.Axpy(src, alpha)
	})
	f.stochastic.Axpy(other.stochastic, alpha)
}

// ScalarProduct returns the global inner product of two fields.
func (f *RandomField) ScalarProduct(other *RandomField) float64 {
	return f.stochastic.ScalarProduct(other.stochastic)
}

// TimesMatrix multiplies the field with the covariance matrix. The previous
// field becomes the cached preimage.
func (f *RandomField) TimesMatrix() error {
	if f.cfg.CacheInvMatvec {
		f.invMatvec = f.stochastic.Clone()
		f.invMatvecValid = true
	}

	if f.cfg.CacheInvRootMatvec {
		invRoot, err := f.op.MultiplyRoot(f.stochastic)
		if err != nil {
			return err
		}
		f.invRootMatvec = invRoot
		f.invRootMatvecValid = true
	}

	stochastic, err := f.op.Times(f.stochastic)
	if err != nil {
		return err
	}
	f.stochastic = stochastic
	return nil
}

// TimesInverseMatrix multiplies the field with the inverse of the covariance
// matrix, served from the cache when possible.
func (f *RandomField) TimesInverseMatrix() error {
	if f.cfg.CacheInvMatvec && f.invMatvecValid {
		if f.cfg.CacheInvRootMatvec {
			f.invRootMatvecValid = false
		}

		f.stochastic = f.invMatvec.Clone()
		f.invMatvecValid = false
		return nil
	}

	stochastic, err := f.op.MultiplyInverse(f.stochastic)
	if err != nil {
		return err
	}
	f.stochastic = stochastic

	if f.cfg.CacheInvMatvec {
		f.invMatvecValid = false
	}
	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvecValid = false
	}
	return nil
}

// TimesMatrixRoot multiplies the field with the root of the covariance
// matrix, shifting the root cache one application down.
func (f *RandomField) TimesMatrixRoot() error {
	if f.cfg.CacheInvMatvec && f.cfg.CacheInvRootMatvec {
		f.invMatvec = f.invRootMatvec.Clone()
		f.invMatvecValid = f.invRootMatvecValid
	} else if f.cfg.CacheInvMatvec {
		f.invMatvecValid = false
	}

	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvec = f.stochastic.Clone()
		f.invRootMatvecValid = true
	}

	stochastic, err := f.op.MultiplyRoot(f.stochastic)
	if err != nil {
		return err
	}
	f.stochastic = stochastic
	return nil
}

// TimesInvMatRoot multiplies the field with the inverse root of the
// covariance matrix.
func (f *RandomField) TimesInvMatRoot() error {
	if f.cfg.CacheInvRootMatvec && f.invRootMatvecValid {
		f.stochastic = f.invRootMatvec.Clone()
		f.invRootMatvecValid = false

		if f.cfg.CacheInvMatvec {
			f.invRootMatvec = f.invMatvec.Clone()
			f.invRootMatvecValid = f.invMatvecValid
			f.invMatvecValid = false
		}
		return nil
	}

	stochastic, err := f.op.MultiplyInverse(f.stochastic)
	if err != nil {
		return err
	}
	f.stochastic = stochastic

	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvec = f.stochastic.Clone()
		f.invRootMatvecValid = true
	}

	stochastic, err = f.op.MultiplyRoot(f.stochastic)
	if err != nil {
		return err
	}
	f.stochastic = stochastic

	if f.cfg.CacheInvMatvec {
		f.invMatvecValid = false
	}
	return nil
}

// OneNorm returns the global sum of absolute cell values.
func (f *RandomField) OneNorm() float64 { return f.stochastic.OneNorm() }

// TwoNorm returns the global Euclidean norm.
func (f *RandomField) TwoNorm() float64 {
	return math.Sqrt(f.ScalarProduct(f))
}

// InfNorm returns the global maximum absolute cell value.
func (f *RandomField) InfNorm() float64 { return f.stochastic.InfNorm() }

// Equal reports whether both fields hold identical cell values.
func (f *RandomField) Equal(other *RandomField) bool {
	return f.stochastic.Equal(other.stochastic)
}

// Localize multiplies the field with a Gaussian bump around center. The
// caches cannot track a pointwise product and become invalid.
func (f *RandomField) Localize(center []float64, radius float64) {
	f.stochastic.Localize(center, radius)

	if f.cfg.CacheInvMatvec {
		f.invMatvecValid = false
	}
	if f.cfg.CacheInvRootMatvec {
		f.invRootMatvecValid = false
	}
}
