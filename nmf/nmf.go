// Package nmf implements the stochastic factorization core: single
// non-negative matrix factorization runs (plain multiplicative updates or
// the Hoyer sparseness-constrained variant), the connectivity matrices they
// induce, and the consensus aggregation that turns many cheap runs into a
// stability measurement for one candidate rank.
package nmf

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/episense/spike.report/eeg"
)

// Mode selects the factorization variant. It is fixed once per pipeline
// run, not per call.
type Mode int

const (
	// ModePlain runs standard multiplicative-update NMF with a Frobenius
	// objective.
	ModePlain Mode = iota

	// ModeSparse applies a Hoyer sparseness constraint to the W factor via
	// projected gradient steps.
	ModeSparse
)

// Default factorization parameters. Ten iterations is a deliberately cheap
// fit: rank stability comes from repeating runs, not from polishing any
// single one.
const (
	DefaultMaxIter = 10
	DefaultRuns    = 100
)

// epsGuard keeps multiplicative-update denominators away from zero.
const epsGuard = 1e-12

// Options configures a factorization run and the consensus aggregation
// built on top of it.
type Options struct {
	Mode Mode

	// Sparseness is the Hoyer sparseness coefficient for W, in (0,1].
	// Required for ModeSparse, ignored for ModePlain.
	Sparseness float64

	// MaxIter bounds the inner update iterations of one run.
	MaxIter int

	// Runs is the number of stochastic runs aggregated per rank.
	Runs int

	// Seed makes the per-rank run sequence reproducible when non-zero.
	// Left at zero, every aggregation draws a fresh seed; run-to-run
	// diversity is what the consensus step measures.
	Seed int64

	// Verbose enables per-run debug logging.
	Verbose bool
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Runs <= 0 {
		o.Runs = DefaultRuns
	}
	return o
}

func (o Options) validate() error {
	if o.Mode == ModeSparse && (o.Sparseness <= 0 || o.Sparseness > 1) {
		return fmt.Errorf("%w: sparseness %g outside (0,1]", eeg.ErrShapeMismatch, o.Sparseness)
	}
	if o.Sparseness < 0 {
		return fmt.Errorf("%w: negative sparseness %g", eeg.ErrShapeMismatch, o.Sparseness)
	}
	return nil
}

// Result is the outcome of one factorization run. It is owned by the run
// that produced it; the consensus aggregator reads but never mutates it.
type Result struct {
	W         *mat.Dense // channels x rank
	H         *mat.Dense // rank x time
	Labels    []int      // arg-max component per time point
	Objective float64    // ||V - WH||_F^2 at the final iteration
}

// Connectivity materializes the co-clustering matrix of the run: entry
// (i,j) is 1 when time points i and j share the same dominant component.
func (r *Result) Connectivity() *mat.SymDense {
	n := len(r.Labels)
	conn := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if r.Labels[i] == r.Labels[j] {
				conn.SetSym(i, j, 1)
			}
		}
	}
	return conn
}

// Run performs one randomized factorization of the non-negative matrix v
// (channels x time) at the given rank. Initialization is drawn from rng,
// so repeated calls differ; that diversity is what consensus aggregation
// relies on. A non-finite final objective is a per-run convergence failure.
func Run(v *mat.Dense, rank int, opts Options, rng *rand.Rand) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rows, cols := v.Dims()
	if rank < 1 || rank > rows || rank > cols {
		return nil, fmt.Errorf("%w: rank %d for %dx%d matrix", eeg.ErrShapeMismatch, rank, rows, cols)
	}

	var w, h *mat.Dense
	if opts.Mode == ModeSparse {
		w, h = runSparse(v, rank, opts, rng)
	} else {
		w, h = runPlain(v, rank, opts, rng)
	}

	obj := frobeniusSq(v, w, h)
	if math.IsNaN(obj) || math.IsInf(obj, 0) {
		return nil, fmt.Errorf("%w: objective %v at rank %d", eeg.ErrConvergence, obj, rank)
	}

	return &Result{W: w, H: h, Labels: argmaxColumns(h), Objective: obj}, nil
}

// runPlain is standard Lee-Seung multiplicative updates on a Frobenius
// objective, seeded in the random_vcol style: each W column starts as the
// mean of a handful of random data columns, each H row as the mean of a
// handful of random data rows.
func runPlain(v *mat.Dense, rank int, opts Options, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	w := seedColumnMeans(v, rank, rng)
	h := seedRowMeans(v, rank, rng)

	var wtv, wtw, hden mat.Dense
	var vht, hht, wden mat.Dense
	for it := 0; it < opts.MaxIter; it++ {
		// H <- H * (W'V) / (W'W H)
		wtv.Mul(w.T(), v)
		wtw.Mul(w.T(), w)
		hden.Mul(&wtw, h)
		mulDivInPlace(h, &wtv, &hden)

		// W <- W * (VH') / (W H H')
		vht.Mul(v, h.T())
		hht.Mul(h, h.T())
		wden.Mul(w, &hht)
		mulDivInPlace(w, &vht, &wden)
	}
	return w, h
}

// mulDivInPlace applies x *= num/den elementwise with a denominator guard.
func mulDivInPlace(x, num, den *mat.Dense) {
	xd := x.RawMatrix().Data
	nd := num.RawMatrix().Data
	dd := den.RawMatrix().Data
	for i := range xd {
		xd[i] *= nd[i] / (dd[i] + epsGuard)
	}
}

// seedColumnMeans builds a rows x rank matrix whose columns are means of
// randomly chosen columns of v.
func seedColumnMeans(v *mat.Dense, rank int, rng *rand.Rand) *mat.Dense {
	rows, cols := v.Dims()
	p := cols / 5
	if p < 1 {
		p = 1
	}
	w := mat.NewDense(rows, rank, nil)
	for q := 0; q < rank; q++ {
		for s := 0; s < p; s++ {
			j := rng.Intn(cols)
			for i := 0; i < rows; i++ {
				w.Set(i, q, w.At(i, q)+v.At(i, j))
			}
		}
		for i := 0; i < rows; i++ {
			w.Set(i, q, w.At(i, q)/float64(p))
		}
	}
	return w
}

// seedRowMeans builds a rank x cols matrix whose rows are means of randomly
// chosen rows of v.
func seedRowMeans(v *mat.Dense, rank int, rng *rand.Rand) *mat.Dense {
	rows, cols := v.Dims()
	p := rows / 5
	if p < 1 {
		p = 1
	}
	h := mat.NewDense(rank, cols, nil)
	for q := 0; q < rank; q++ {
		for s := 0; s < p; s++ {
			i := rng.Intn(rows)
			for j := 0; j < cols; j++ {
				h.Set(q, j, h.At(q, j)+v.At(i, j))
			}
		}
		for j := 0; j < cols; j++ {
			h.Set(q, j, h.At(q, j)/float64(p))
		}
	}
	return h
}

// frobeniusSq returns ||v - w h||_F^2.
func frobeniusSq(v, w, h *mat.Dense) float64 {
	var rec mat.Dense
	rec.Mul(w, h)
	rec.Sub(v, &rec)
	return mat.Norm(&rec, 2) * mat.Norm(&rec, 2)
}

// argmaxColumns assigns every time point (column of h) to its dominant
// component. Ties go to the lowest component index.
func argmaxColumns(h *mat.Dense) []int {
	rank, cols := h.Dims()
	labels := make([]int, cols)
	for j := 0; j < cols; j++ {
		best, arg := math.Inf(-1), 0
		for i := 0; i < rank; i++ {
			if v := h.At(i, j); v > best {
				best, arg = v, i
			}
		}
		labels[j] = arg
	}
	return labels
}
