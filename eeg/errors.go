package eeg

import "errors"

// Error sentinels for the pipeline's failure taxonomy. Per-run and per-rank
// failures are isolated from sibling work; only shape errors and a fully
// failed rank range abort a pipeline run.
var (
	// ErrShapeMismatch covers malformed input: label/channel count
	// mismatch, non-positive sampling rate, empty signal.
	ErrShapeMismatch = errors.New("input shape mismatch")

	// ErrConvergence marks a single factorization run that ended with a
	// non-finite objective.
	ErrConvergence = errors.New("factorization did not converge")

	// ErrRankFailed marks a rank whose every run failed, leaving no
	// representative factorization.
	ErrRankFailed = errors.New("no representative factorization for rank")

	// ErrSelectionUndetermined is returned when zero ranks survive and no
	// optimal rank can be chosen.
	ErrSelectionUndetermined = errors.New("rank selection undetermined")
)
