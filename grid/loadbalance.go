package grid

import "math"

// Balance distributes a structured grid of the given per-axis sizes across
// size processes. It searches all factorizations of the process count over
// the axes and keeps the one minimizing the maximum per-axis slab width,
// penalizing axes whose cell count does not divide evenly by a factor of
// three.
func Balance(cells []int, size int) []int {
	dim := len(cells)
	dims := make([]int, dim)
	trydims := make([]int, dim)
	opt := math.MaxFloat64

	optimizeDims(dim-1, cells, size, dims, trydims, &opt)
	return dims
}

func optimizeDims(i int, cells []int, p int, dims, trydims []int, opt *float64) {
	if i > 0 {
		for k := 1; k <= p; k++ {
			if p%k == 0 {
				trydims[i] = k
				optimizeDims(i-1, cells, p/k, dims, trydims, opt)
			}
		}
		return
	}

	trydims[0] = p

	m := -1.
	for k := range cells {
		mm := float64(cells[k]) / float64(trydims[k])
		if math.Mod(float64(cells[k]), float64(trydims[k])) > 0.0001 {
			mm *= 3
		}
		if mm > m {
			m = mm
		}
	}
	if m < *opt {
		*opt = m
		copy(dims, trydims)
	}
}
