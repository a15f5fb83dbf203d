// Package covariance provides the stationary covariance kernels and the
// anisotropy maps applied to the lag before kernel evaluation. Kernels are
// pure functions of the variance and the transformed lag.
package covariance

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownKernel indicates a covariance name outside the supported set.
var ErrUnknownKernel = errors.New("covariance structure not known")

// Kernel evaluates a stationary covariance at a transformed lag.
type Kernel func(variance float64, lag []float64) float64

// ByName returns the kernel for one of the supported covariance names.
func ByName(name string) (Kernel, error) {
	switch name {
	case "exponential":
		return Exponential, nil
	case "gaussian":
		return Gaussian, nil
	case "spherical":
		return Spherical, nil
	case "separableExponential":
		return SeparableExponential, nil
	case "matern32":
		return Matern32, nil
	case "matern52":
		return Matern52, nil
	case "dampedOscillation":
		return DampedOscillation, nil
	case "cauchy":
		return Cauchy, nil
	case "cubic":
		return Cubic, nil
	case "whiteNoise":
		return WhiteNoise, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
}

func sumSquares(lag []float64) float64 {
	sum := 0.
	for _, x := range lag {
		sum += x * x
	}
	return sum
}

// Exponential is variance * exp(-h) with h the Euclidean lag norm.
func Exponential(variance float64, lag []float64) float64 {
	return variance * math.Exp(-math.Sqrt(sumSquares(lag)))
}

// Gaussian is variance * exp(-h^2).
func Gaussian(variance float64, lag []float64) float64 {
	return variance * math.Exp(-sumSquares(lag))
}

// Spherical has compact support on h <= 1.
func Spherical(variance float64, lag []float64) float64 {
	h := math.Sqrt(sumSquares(lag))
	if h > 1. {
		return 0.
	}
	return variance * (1. - 1.5*h + 0.5*h*h*h)
}

// SeparableExponential is variance * exp(-sum |lag_i|), a product of 1D
// exponential kernels.
func SeparableExponential(variance float64, lag []float64) float64 {
	sum := 0.
	for _, x := range lag {
		sum += math.Abs(x)
	}
	return variance * math.Exp(-sum)
}

// Matern32 is the Matern kernel with smoothness 3/2.
func Matern32(variance float64, lag []float64) float64 {
	h := math.Sqrt(sumSquares(lag))
	return variance * (1. + math.Sqrt(3.)*h) * math.Exp(-math.Sqrt(3.)*h)
}

// Matern52 is the Matern kernel with smoothness 5/2.
func Matern52(variance float64, lag []float64) float64 {
	h := math.Sqrt(sumSquares(lag))
	return variance * (1. + math.Sqrt(5.)*h + 5./3.*h*h) * math.Exp(-math.Sqrt(5.)*h)
}

// DampedOscillation is variance * exp(-h) * cos(h). Its spectrum dips below
// zero for short embeddings, which makes it the usual stress test for the
// spectral audit.
func DampedOscillation(variance float64, lag []float64) float64 {
	h := math.Sqrt(sumSquares(lag))
	return variance * math.Exp(-h) * math.Cos(h)
}

// Cauchy is the generalized Cauchy kernel variance * (1 + h^2)^-3.
func Cauchy(variance float64, lag []float64) float64 {
	h2 := sumSquares(lag)
	return variance * math.Pow(1.+h2, -3.)
}

// Cubic is the compactly supported cubic model on h <= 1.
func Cubic(variance float64, lag []float64) float64 {
	h := math.Sqrt(sumSquares(lag))
	if h > 1. {
		return 0.
	}
	h2 := h * h
	return variance * (1. - 7.*h2 + 8.75*h2*h - 3.5*h2*h2*h + 0.75*h2*h2*h2*h)
}

// WhiteNoise is the identity covariance: variance at zero lag, zero
// elsewhere.
func WhiteNoise(variance float64, lag []float64) float64 {
	for _, x := range lag {
		if math.Abs(x) > 1e-10 {
			return 0.
		}
	}
	return variance
}
