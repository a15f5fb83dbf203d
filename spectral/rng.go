package spectral

import (
	"fmt"
	mrand "math/rand"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// RNG produces independent standard normal draws. Reseeding restarts the
// stream deterministically.
type RNG interface {
	Seed(seed uint64)
	Sample() float64
}

// NewRNG selects an RNG backend by name: "std" for the standard library
// engine, "gonum" for the distuv sampler.
func NewRNG(kind string) (RNG, error) {
	switch kind {
	case "", "std":
		return NewStdRNG(0), nil
	case "gonum":
		return NewGonumRNG(0), nil
	}
	return nil, fmt.Errorf("rng backend %q not known", kind)
}

// StdRNG draws from math/rand's normal generator.
type StdRNG struct {
	src *mrand.Rand
}

// NewStdRNG creates a seeded standard-library generator.
func NewStdRNG(seed uint64) *StdRNG {
	return &StdRNG{src: mrand.New(mrand.NewSource(int64(seed)))}
}

func (r *StdRNG) Seed(seed uint64) {
	r.src = mrand.New(mrand.NewSource(int64(seed)))
}

func (r *StdRNG) Sample() float64 {
	return r.src.NormFloat64()
}

// GonumRNG draws from a distuv normal distribution over an exp/rand source.
type GonumRNG struct {
	dist distuv.Normal
}

// NewGonumRNG creates a seeded gonum generator.
func NewGonumRNG(seed uint64) *GonumRNG {
	return &GonumRNG{dist: distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   xrand.NewSource(seed),
	}}
}

func (r *GonumRNG) Seed(seed uint64) {
	r.dist.Src = xrand.NewSource(seed)
}

func (r *GonumRNG) Sample() float64 {
	return r.dist.Rand()
}
