package nmf

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// runSparse factorizes v with a Hoyer sparseness constraint on W: W takes
// projected gradient steps with an adaptive step size while H keeps the
// plain multiplicative update. The projection fixes each W column's L1/L2
// ratio to the requested sparseness.
func runSparse(v *mat.Dense, rank int, opts Options, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	rows, cols := v.Dims()

	w := randomDense(rows, rank, rng)
	h := randomDense(rank, cols, rng)
	projectColumns(w, opts.Sparseness)

	step := 1.0
	obj := frobeniusSq(v, w, h)

	var wtv, wtw, hden mat.Dense
	var diff, grad mat.Dense
	for it := 0; it < opts.MaxIter; it++ {
		// Gradient of the Frobenius objective w.r.t. W is (WH - V)H'.
		diff.Mul(w, h)
		diff.Sub(&diff, v)
		grad.Mul(&diff, h.T())

		// Step, project, and shrink the step until the objective stops
		// increasing. Bounded halving keeps the run's cost fixed.
		accepted := false
		for try := 0; try < 10; try++ {
			cand := mat.DenseCopyOf(w)
			var scaled mat.Dense
			scaled.Scale(step, &grad)
			cand.Sub(cand, &scaled)
			projectColumns(cand, opts.Sparseness)

			if next := frobeniusSq(v, cand, h); next <= obj {
				w = cand
				obj = next
				step *= 1.2
				accepted = true
				break
			}
			step /= 2
		}
		if !accepted {
			// Objective is stuck at the current point; H may still move.
			step /= 2
		}

		// H <- H * (W'V) / (W'W H)
		wtv.Mul(w.T(), v)
		wtw.Mul(w.T(), w)
		hden.Mul(&wtw, h)
		mulDivInPlace(h, &wtv, &hden)
		obj = frobeniusSq(v, w, h)
	}
	return w, h
}

func randomDense(r, c int, rng *rand.Rand) *mat.Dense {
	d := mat.NewDense(r, c, nil)
	data := d.RawMatrix().Data
	for i := range data {
		data[i] = rng.Float64()
	}
	return d
}

// projectColumns projects every column of w onto the non-negative set with
// a fixed Hoyer sparseness: the column keeps its L2 norm while its L1 norm
// is set to the value the sparseness coefficient dictates.
func projectColumns(w *mat.Dense, sparseness float64) {
	rows, cols := w.Dims()
	dim := float64(rows)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, w)
		l2 := math.Sqrt(floats.Dot(col, col))
		if l2 == 0 {
			continue
		}
		l1 := l2 * (math.Sqrt(dim) - (math.Sqrt(dim)-1)*sparseness)
		projected := hoyerProject(col, l1, l2)
		w.SetCol(j, projected)
	}
}

// hoyerProject finds the closest non-negative vector to x with the given
// L1 and L2 norms (Hoyer, "Non-negative matrix factorization with
// sparseness constraints", JMLR 2004). It walks the constraint surface,
// zeroing negative components and re-solving until the result is feasible.
func hoyerProject(x []float64, l1, l2 float64) []float64 {
	n := len(x)
	s := make([]float64, n)
	zeroed := make([]bool, n)
	nZeroed := 0

	// Start on the L1 hyperplane.
	var sum float64
	for _, v := range x {
		sum += v
	}
	shift := (l1 - sum) / float64(n)
	for i, v := range x {
		s[i] = v + shift
	}

	for iter := 0; iter < n+1; iter++ {
		// Midpoint of the hyperplane section restricted to the non-zeroed
		// coordinates.
		m := make([]float64, n)
		free := float64(n - nZeroed)
		for i := range m {
			if !zeroed[i] {
				m[i] = l1 / free
			}
		}

		// Solve ||m + alpha (s - m)||^2 = l2^2 for alpha >= 0 and move to
		// the sphere along the section.
		wdir := make([]float64, n)
		for i := range wdir {
			wdir[i] = s[i] - m[i]
		}
		a := floats.Dot(wdir, wdir)
		b := 2 * floats.Dot(wdir, m)
		c := floats.Dot(m, m) - l2*l2
		alpha := 1.0
		if a > 0 {
			disc := b*b - 4*a*c
			if disc < 0 {
				disc = 0
			}
			alpha = (-b + math.Sqrt(disc)) / (2 * a)
		}
		for i := range s {
			s[i] = m[i] + alpha*wdir[i]
		}

		// Feasible once nothing is negative.
		neg := false
		for i, v := range s {
			if v < 0 {
				zeroed[i] = true
				s[i] = 0
				neg = true
			}
		}
		if !neg {
			return s
		}

		nZeroed = 0
		for _, z := range zeroed {
			if z {
				nZeroed++
			}
		}
		if nZeroed >= n {
			return s
		}

		// Redistribute the L1 excess over the remaining coordinates.
		sum = 0
		for _, v := range s {
			sum += v
		}
		adjust := (sum - l1) / float64(n-nZeroed)
		for i := range s {
			if !zeroed[i] {
				s[i] -= adjust
			}
		}
	}
	return s
}
