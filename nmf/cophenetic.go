package nmf

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CopheneticCorrelation measures how faithfully an average-linkage
// hierarchical clustering of the consensus matrix preserves the pairwise
// distances it was built from. Entries are similarities, so distances are
// 1 - s. A correlation near 1 means the rank produced a stable clustering;
// the aggregator reports 1 - correlation as instability.
func CopheneticCorrelation(consensus *mat.SymDense) float64 {
	n := consensus.SymmetricDim()
	if n < 3 {
		// Fewer than two pairwise distances: correlation is undefined and
		// the clustering is trivially consistent.
		return 1
	}

	dist := make([]float64, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist[condensedIndex(i, j, n)] = 1 - consensus.At(i, j)
		}
	}

	coph := averageLinkageCophenet(dist, n)

	r := stat.Correlation(dist, coph, nil)
	if math.IsNaN(r) {
		// Zero variance on either side (e.g. an all-ones consensus).
		// Identical vectors are a perfect fit; anything else is not.
		for i := range dist {
			if math.Abs(dist[i]-coph[i]) > 1e-12 {
				return 0
			}
		}
		return 1
	}
	return r
}

// averageLinkageCophenet clusters the condensed distance vector with
// average linkage (Lance-Williams update) and returns the condensed
// cophenetic distances: for every pair, the merge height at which its two
// points first joined the same cluster.
func averageLinkageCophenet(dist []float64, n int) []float64 {
	coph := make([]float64, len(dist))

	// Working copy of the distance matrix between active clusters.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := dist[condensedIndex(i, j, n)]
			d[i][j], d[j][i] = v, v
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	members := make([][]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
		members[i] = []int{i}
	}

	for merge := 0; merge < n-1; merge++ {
		// Closest active pair.
		best := math.Inf(1)
		bi, bj := -1, -1
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && d[i][j] < best {
					best, bi, bj = d[i][j], i, j
				}
			}
		}

		// The merge height is the cophenetic distance for every pair that
		// straddles the two clusters.
		for _, a := range members[bi] {
			for _, b := range members[bj] {
				coph[condensedIndex(a, b, n)] = best
			}
		}

		// Lance-Williams average linkage: the merged cluster's distance to
		// any other cluster is the size-weighted mean of its parts.
		ni, nj := float64(size[bi]), float64(size[bj])
		for k := 0; k < n; k++ {
			if k == bi || k == bj || !active[k] {
				continue
			}
			v := (ni*d[bi][k] + nj*d[bj][k]) / (ni + nj)
			d[bi][k], d[k][bi] = v, v
		}

		active[bj] = false
		size[bi] += size[bj]
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
	}

	return coph
}

// condensedIndex maps a pair (i, j) with i < j to its position in the
// condensed upper-triangle vector of an n x n matrix.
func condensedIndex(i, j, n int) int {
	if i > j {
		i, j = j, i
	}
	return n*i - i*(i+1)/2 + j - i - 1
}
