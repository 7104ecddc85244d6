// Package rankselect chooses the optimal factorization rank. Every rank in
// a candidate range gets its own consensus aggregation (ranks fan out over
// a worker pool), then the consensus matrices are compared through their
// empirical CDFs: the rank with the largest relative gain in CDF area
// (delta-K) wins. A KL-style delta-Y is computed alongside for reporting.
package rankselect

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/episense/spike.report/eeg"
	"github.com/episense/spike.report/nmf"
)

// CDF discretization. The offset keeps later ratio and log steps away from
// zero; it feeds straight into delta-K so it is part of the contract, not
// an implementation detail.
const (
	cdfBins   = 100
	cdfOffset = 1e-10
)

// Options configures the rank sweep.
type Options struct {
	// Factorization is passed through to every consensus aggregation.
	Factorization nmf.Options

	// Workers caps the rank-level worker pool. Zero or negative means one
	// worker per available CPU. Oversubscription is harmless; ranks just
	// queue.
	Workers int

	Verbose bool
}

// Metrics is one row of the per-rank report. Err is non-nil for ranks that
// failed aggregation; such rows carry no statistics but stay in the table
// so a failed rank is distinguishable from one never requested.
type Metrics struct {
	Rank         int
	MinObjective float64
	Cophenetic   float64
	Instability  float64
	CDFArea      float64
	DeltaK       float64
	DeltaY       float64
	RunsFailed   int
	Err          error
}

// Failed reports whether this rank was excluded from selection.
func (m Metrics) Failed() bool { return m.Err != nil }

// Selection is the winning rank with its representative factorization.
type Selection struct {
	Rank int
	W    *mat.Dense // channels x rank
	H    *mat.Dense // rank x time
}

// Result is the full outcome of a rank sweep.
type Result struct {
	// Metrics holds one row per requested rank, in rank order.
	Metrics []Metrics

	// Selection is the optimal rank and its factorization.
	Selection Selection

	// PerRank exposes each surviving rank's aggregation (consensus matrix
	// included) for downstream consumers; entries are nil for failed
	// ranks. Indexed by rank - kMin.
	PerRank []*nmf.RankResult
}

// Select sweeps ranks kMin through kMax inclusive over the non-negative
// feature matrix v and picks the most stable rank. Per-rank failures are
// isolated: they are reported in the metrics table and excluded from the
// statistics. Only zero surviving ranks is fatal.
func Select(v *mat.Dense, kMin, kMax int, opts Options) (*Result, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil feature matrix", eeg.ErrShapeMismatch)
	}
	if kMin < 1 || kMin > kMax {
		return nil, fmt.Errorf("%w: rank range [%d,%d]", eeg.ErrShapeMismatch, kMin, kMax)
	}
	if min := floats.Min(v.RawMatrix().Data); min < 0 {
		return nil, fmt.Errorf("%w: feature matrix has negative entry %g", eeg.ErrShapeMismatch, min)
	}

	nRanks := kMax - kMin + 1
	perRank := make([]*nmf.RankResult, nRanks)
	errs := make([]error, nRanks)

	// Fan out one aggregation per rank. Results land in slices indexed by
	// rank offset, so completion order never matters.
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > nRanks {
		workers = nRanks
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				fopts := opts.Factorization
				if fopts.Seed != 0 {
					// Distinct streams per rank; otherwise every rank
					// would replay the same run sequence.
					fopts.Seed += int64(idx)
				}
				perRank[idx], errs[idx] = nmf.AggregateRank(v, kMin+idx, fopts)
			}
		}()
	}
	for idx := 0; idx < nRanks; idx++ {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	res := &Result{
		Metrics: make([]Metrics, nRanks),
		PerRank: perRank,
	}
	var surviving []int
	for idx := 0; idx < nRanks; idx++ {
		m := Metrics{Rank: kMin + idx, Err: errs[idx]}
		if rr := perRank[idx]; rr != nil {
			m.MinObjective = rr.MinObjective
			m.Cophenetic = rr.Cophenetic
			m.Instability = rr.Instability
			m.RunsFailed = rr.RunsFailed
			surviving = append(surviving, idx)
		}
		res.Metrics[idx] = m
	}

	if len(surviving) == 0 {
		return nil, fmt.Errorf("%w: all %d ranks failed, first error: %v",
			eeg.ErrSelectionUndetermined, nRanks, errs[0])
	}

	// CDF statistics over the surviving ranks, in rank order.
	cdfs := make([][]float64, len(surviving))
	areas := make([]float64, len(surviving))
	for i, idx := range surviving {
		cdfs[i] = consensusCDF(perRank[idx].Consensus)
		areas[i] = cdfArea(cdfs[i])
		res.Metrics[idx].CDFArea = areas[i]
	}
	deltaK, deltaY := deltaStatistics(areas, cdfs)
	for i, idx := range surviving {
		res.Metrics[idx].DeltaK = deltaK[i]
		res.Metrics[idx].DeltaY = deltaY[i]
	}

	winner := surviving[argmax(deltaK)]
	if perRank[winner] == nil || perRank[winner].WBest == nil {
		// Selection pointed at an excluded rank; fall back to the most
		// stable survivor.
		winner = surviving[0]
		for _, idx := range surviving {
			if perRank[idx].Instability < perRank[winner].Instability {
				winner = idx
			}
		}
	}

	res.Selection = Selection{
		Rank: kMin + winner,
		W:    perRank[winner].WBest,
		H:    perRank[winner].HBest,
	}

	if opts.Verbose {
		log.Printf("rankselect: optimal rank k = %d (%d/%d ranks survived)",
			res.Selection.Rank, len(surviving), nRanks)
	}
	return res, nil
}

// consensusCDF builds the empirical CDF of the consensus entries on a fixed
// 100-bin histogram spanning [0,1]. The upper triangle including the
// diagonal is counted with density normalization, while the cumulative sum
// is scaled by the strict pair count; the arithmetic is preserved exactly
// because delta-K inherits it.
func consensusCDF(c *mat.SymDense) []float64 {
	n := c.SymmetricDim()
	const width = 1.0 / cdfBins

	counts := make([]float64, cdfBins)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			b := int(c.At(i, j) / width)
			if b >= cdfBins {
				b = cdfBins - 1 // 1.0 lands in the top bin
			}
			if b < 0 {
				b = 0
			}
			counts[b]++
			total++
		}
	}

	pairs := float64(n*(n-1)) / 2
	if pairs == 0 {
		pairs = 1
	}

	cdf := make([]float64, cdfBins)
	cum := 0.0
	for b, raw := range counts {
		cum += raw / (total * width)
		cdf[b] = cum/pairs + cdfOffset
	}
	return cdf
}

// cdfArea is the Riemann sum over all but the last bin.
func cdfArea(cdf []float64) float64 {
	const width = 1.0 / cdfBins
	return floats.Sum(cdf[:len(cdf)-1]) * width
}

// deltaStatistics derives the rank-selection statistics: delta-K is the
// relative CDF-area change against the previous rank (the first rank keeps
// its raw area as a base case), delta-Y the summed relative entropy between
// consecutive CDFs.
func deltaStatistics(areas []float64, cdfs [][]float64) (deltaK, deltaY []float64) {
	deltaK = make([]float64, len(areas))
	deltaY = make([]float64, len(areas))
	if len(areas) == 0 {
		return deltaK, deltaY
	}
	deltaK[0] = areas[0]
	for i := 1; i < len(areas); i++ {
		deltaK[i] = (areas[i] - areas[i-1]) / areas[i-1]
		var y float64
		for b := range cdfs[i] {
			y += relEntr(cdfs[i][b], cdfs[i-1][b])
		}
		deltaY[i] = y
	}
	return deltaK, deltaY
}

// relEntr is the elementwise relative entropy p*log(p/q) with the standard
// conventions for zero arguments. The CDF offset keeps both arguments
// positive in practice.
func relEntr(p, q float64) float64 {
	switch {
	case p > 0 && q > 0:
		return p * math.Log(p/q)
	case p == 0 && q >= 0:
		return 0
	default:
		return math.Inf(1)
	}
}

func argmax(x []float64) int {
	best, arg := math.Inf(-1), 0
	for i, v := range x {
		if v > best {
			best, arg = v, i
		}
	}
	return arg
}
