package covariance

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownAnisotropy indicates an anisotropy name outside the supported
// set.
var ErrUnknownAnisotropy = errors.New(`anisotropy must be "none", "axiparallel" or "geometric"`)

// LagMap transforms a spatial lag before kernel evaluation.
type LagMap interface {
	Transform(dst, lag []float64)
}

// NewLagMap builds the lag map for the given anisotropy kind. corrLength
// carries one entry for "none", dim entries for "axiparallel" and dim*dim
// row-major entries for "geometric".
func NewLagMap(kind string, corrLength []float64, dim int) (LagMap, error) {
	switch kind {
	case "none":
		if len(corrLength) < 1 {
			return nil, fmt.Errorf("correlation length missing")
		}
		return scaledIdentity{length: corrLength[0]}, nil
	case "axiparallel":
		if len(corrLength) != dim {
			return nil, fmt.Errorf("axiparallel anisotropy needs %d correlation lengths, got %d",
				dim, len(corrLength))
		}
		return diagonal{lengths: append([]float64(nil), corrLength...)}, nil
	case "geometric":
		if len(corrLength) != dim*dim {
			return nil, fmt.Errorf("geometric anisotropy needs %d matrix entries, got %d",
				dim*dim, len(corrLength))
		}
		g := mat.NewDense(dim, dim, append([]float64(nil), corrLength...))
		var inv mat.Dense
		if err := inv.Inverse(g); err != nil {
			return nil, fmt.Errorf("anisotropy matrix not invertible: %v", err)
		}
		return general{inv: &inv, dim: dim}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAnisotropy, kind)
}

// scaledIdentity divides every component by a single correlation length.
type scaledIdentity struct {
	length float64
}

func (s scaledIdentity) Transform(dst, lag []float64) {
	for i := range lag {
		dst[i] = lag[i] / s.length
	}
}

// diagonal divides each component by its own correlation length.
type diagonal struct {
	lengths []float64
}

func (d diagonal) Transform(dst, lag []float64) {
	for i := range lag {
		dst[i] = lag[i] / d.lengths[i]
	}
}

// general applies the inverse of a full correlation-length matrix, so a
// diagonal matrix reduces to the axiparallel map.
type general struct {
	inv *mat.Dense
	dim int
}

func (g general) Transform(dst, lag []float64) {
	for i := 0; i < g.dim; i++ {
		sum := 0.
		for j := 0; j < g.dim; j++ {
			sum += g.inv.At(i, j) * lag[j]
		}
		dst[i] = sum
	}
}
