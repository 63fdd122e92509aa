// Package nnls solves non-negative least squares problems with the
// Lawson-Hanson active-set method: find x >= 0 minimizing ||a*x - b||.
package nnls

import (
	"errors"
	"fmt"
	"math"
)

const machEps = 2.220446049250313e-16

// ErrIterationLimit reports that the active-set iteration failed to
// converge within its iteration cap, which only happens on severely
// ill-conditioned inputs.
var ErrIterationLimit = errors.New("nnls: iteration limit reached")

// Solve minimizes ||a*x - b||_2 subject to x >= 0. a is an m-by-n
// matrix in row-major order. It returns the solution vector and the
// residual norm ||a*x - b||_2 at the solution. The inputs are not
// modified.
func Solve(a []float64, m, n int, b []float64) ([]float64, float64, error) {
	if m <= 0 || n <= 0 {
		return nil, 0, fmt.Errorf("nnls: matrix shape (%d, %d), dimensions must be positive", m, n)
	}
	if len(a) != m*n {
		return nil, 0, fmt.Errorf("nnls: matrix has %d values, shape (%d, %d) needs %d", len(a), m, n, m*n)
	}
	if len(b) != m {
		return nil, 0, fmt.Errorf("nnls: right-hand side has %d values, expected %d", len(b), m)
	}

	// Gradient tolerance scaled to the matrix magnitude.
	var amax float64
	for _, v := range a {
		if av := math.Abs(v); av > amax {
			amax = av
		}
	}
	tol := 10 * machEps * amax * float64(max(m, n))

	x := make([]float64, n)
	passive := make([]bool, n)
	resid := make([]float64, m)
	copy(resid, b)

	maxIter := 3 * n
	iter := 0
	for {
		// Most negative gradient of the active (zero) coordinates.
		best, bestW := -1, tol
		for j := 0; j < n; j++ {
			if passive[j] {
				continue
			}
			var w float64
			for r := 0; r < m; r++ {
				w += a[r*n+j] * resid[r]
			}
			if w > bestW {
				best, bestW = j, w
			}
		}
		if best < 0 {
			break
		}
		passive[best] = true

		for {
			iter++
			if iter > maxIter {
				return nil, 0, ErrIterationLimit
			}

			idx := passiveIndices(passive)
			z, err := solvePassive(a, m, n, b, idx)
			if err != nil {
				return nil, 0, err
			}

			feasible := true
			for _, v := range z {
				if v <= 0 {
					feasible = false
					break
				}
			}
			if feasible {
				for i, j := range idx {
					x[j] = z[i]
				}
				break
			}

			// Step toward z until the first coordinate hits zero, then
			// drop that coordinate from the passive set.
			alpha := math.Inf(1)
			drop := -1
			for i, j := range idx {
				if z[i] <= 0 {
					if t := x[j] / (x[j] - z[i]); t < alpha {
						alpha, drop = t, j
					}
				}
			}
			if drop < 0 {
				// Exact-zero degeneracy: retire the offending
				// coordinates and let the outer loop re-evaluate.
				for i, j := range idx {
					if z[i] <= 0 && x[j] == 0 {
						passive[j] = false
					}
				}
				break
			}
			for i, j := range idx {
				x[j] += alpha * (z[i] - x[j])
			}
			x[drop] = 0
			passive[drop] = false
			for i, j := range idx {
				if j != drop && z[i] <= 0 && x[j] <= 0 {
					x[j] = 0
					passive[j] = false
				}
			}
		}

		for r := 0; r < m; r++ {
			s := b[r]
			for j := 0; j < n; j++ {
				if x[j] != 0 {
					s -= a[r*n+j] * x[j]
				}
			}
			resid[r] = s
		}
	}

	var rnorm float64
	for _, v := range resid {
		rnorm += v * v
	}
	return x, math.Sqrt(rnorm), nil
}

func passiveIndices(passive []bool) []int {
	var idx []int
	for j, p := range passive {
		if p {
			idx = append(idx, j)
		}
	}
	return idx
}

// solvePassive solves the unconstrained least squares problem restricted
// to the passive columns via the normal equations.
func solvePassive(a []float64, m, n int, b []float64, idx []int) ([]float64, error) {
	k := len(idx)
	g := make([]float64, k*k)
	c := make([]float64, k)
	for i := 0; i < k; i++ {
		ci := idx[i]
		for j := i; j < k; j++ {
			cj := idx[j]
			var s float64
			for r := 0; r < m; r++ {
				s += a[r*n+ci] * a[r*n+cj]
			}
			g[i*k+j] = s
			g[j*k+i] = s
		}
		var s float64
		for r := 0; r < m; r++ {
			s += a[r*n+ci] * b[r]
		}
		c[i] = s
	}
	return solveLinear(g, c, k)
}

// solveLinear solves g*z = c in place with partial pivoting.
func solveLinear(g, c []float64, k int) ([]float64, error) {
	var gmax float64
	for _, v := range g {
		if av := math.Abs(v); av > gmax {
			gmax = av
		}
	}
	if gmax == 0 {
		return nil, errors.New("nnls: zero normal matrix")
	}
	small := gmax * machEps * float64(k) * 16

	for col := 0; col < k; col++ {
		p := col
		for r := col + 1; r < k; r++ {
			if math.Abs(g[r*k+col]) > math.Abs(g[p*k+col]) {
				p = r
			}
		}
		if math.Abs(g[p*k+col]) <= small {
			return nil, errors.New("nnls: singular passive set")
		}
		if p != col {
			for cc := 0; cc < k; cc++ {
				g[p*k+cc], g[col*k+cc] = g[col*k+cc], g[p*k+cc]
			}
			c[p], c[col] = c[col], c[p]
		}
		piv := g[col*k+col]
		for r := col + 1; r < k; r++ {
			f := g[r*k+col] / piv
			if f == 0 {
				continue
			}
			for cc := col; cc < k; cc++ {
				g[r*k+cc] -= f * g[col*k+cc]
			}
			c[r] -= f * c[col]
		}
	}

	z := make([]float64, k)
	for r := k - 1; r >= 0; r-- {
		s := c[r]
		for cc := r + 1; cc < k; cc++ {
			s -= g[r*k+cc] * z[cc]
		}
		z[r] = s / g[r*k+r]
	}
	return z, nil
}
