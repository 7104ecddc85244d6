package nmf

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/episense/spike.report/eeg"
)

// RankResult is the consensus aggregation of many factorization runs at one
// rank. Consensus is frozen after the averaging pass; nothing mutates it
// afterwards.
type RankResult struct {
	Rank int

	// Consensus holds the fraction of successful runs in which each pair
	// of time points shared a dominant component. Symmetric, entries in
	// [0,1], unit diagonal.
	Consensus *mat.SymDense

	// WBest and HBest belong to the run with the lowest final objective.
	WBest *mat.Dense
	HBest *mat.Dense

	MinObjective float64
	Cophenetic   float64
	Instability  float64

	// RunsFailed counts runs discarded for non-finite objectives.
	RunsFailed int
}

// AggregateRank executes opts.Runs independent factorization runs of v at
// the given rank, averages their connectivity matrices into a consensus
// matrix, and scores its stability with the cophenetic correlation of an
// average-linkage clustering.
//
// The representative factorization is the run with the strictly lowest
// objective; an equal later objective never displaces an earlier one. Runs
// that fail to converge are skipped; if every run fails the rank is
// reported failed rather than returning an empty result.
//
// Runs execute sequentially: rank-level fan-out supplies the parallelism,
// and a fixed run order keeps the first-minimum tie-break deterministic
// for a given seed.
func AggregateRank(v *mat.Dense, rank int, opts Options) (*RankResult, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))

	_, cols := v.Dims()
	sum := mat.NewSymDense(cols, nil)

	res := &RankResult{Rank: rank, MinObjective: math.Inf(1)}
	var lastErr error
	succeeded := 0
	for run := 0; run < opts.Runs; run++ {
		if opts.Verbose {
			log.Printf("nmf: rank %d run %d/%d", rank, run+1, opts.Runs)
		}
		r, err := Run(v, rank, opts, rng)
		if err != nil {
			res.RunsFailed++
			lastErr = err
			continue
		}
		succeeded++
		accumulate(sum, r.Labels)
		if r.Objective < res.MinObjective {
			res.MinObjective = r.Objective
			res.WBest = r.W
			res.HBest = r.H
		}
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("%w %d after %d runs: %v", eeg.ErrRankFailed, rank, opts.Runs, lastErr)
	}

	scaleSym(sum, 1/float64(succeeded))
	res.Consensus = sum
	res.Cophenetic = CopheneticCorrelation(sum)
	res.Instability = 1 - res.Cophenetic

	if opts.Verbose {
		log.Printf("nmf: rank %d finished %d/%d runs, min objective %.6g, instability %.4f",
			rank, succeeded, opts.Runs, res.MinObjective, res.Instability)
	}
	return res, nil
}

// accumulate adds the run's connectivity (implied by its labels) into the
// consensus accumulator without materializing the per-run matrix.
func accumulate(sum *mat.SymDense, labels []int) {
	n := len(labels)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if labels[i] == labels[j] {
				sum.SetSym(i, j, sum.At(i, j)+1)
			}
		}
	}
}

func scaleSym(s *mat.SymDense, f float64) {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, s.At(i, j)*f)
		}
	}
}
