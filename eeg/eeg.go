// Package eeg holds the shared domain types for the spike extraction
// pipeline: channel-labeled signal matrices, the non-negative feature
// matrices that feed factorization, and the error taxonomy shared by the
// downstream packages.
package eeg

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// SignalMatrix is a uniformly sampled multichannel recording. Rows are
// channels, columns are time samples. All channels share the same length
// and sampling rate.
type SignalMatrix struct {
	Data         *mat.Dense
	ChannelNames []string
	SampleRate   float64 // Hz

	// StartTime anchors the recording for timeline reconstruction only;
	// no core computation depends on it.
	StartTime time.Time
}

// Channels returns the number of channels (rows).
func (s *SignalMatrix) Channels() int {
	if s.Data == nil {
		return 0
	}
	r, _ := s.Data.Dims()
	return r
}

// Samples returns the number of time samples (columns).
func (s *SignalMatrix) Samples() int {
	if s.Data == nil {
		return 0
	}
	_, c := s.Data.Dims()
	return c
}

// Validate rejects malformed input before any computation runs.
func (s *SignalMatrix) Validate() error {
	if s.Data == nil || s.Samples() == 0 || s.Channels() == 0 {
		return fmt.Errorf("%w: empty signal", ErrShapeMismatch)
	}
	if len(s.ChannelNames) != s.Channels() {
		return fmt.Errorf("%w: %d channel labels for %d channels",
			ErrShapeMismatch, len(s.ChannelNames), s.Channels())
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: non-positive sampling rate %g", ErrShapeMismatch, s.SampleRate)
	}
	return nil
}

// FeatureMatrix is a non-negative channels-by-time matrix at the feature
// rate, produced by the line-length transform.
type FeatureMatrix struct {
	Data         *mat.Dense
	ChannelNames []string
	Rate         float64 // Hz
	StartTime    time.Time
}

// Channels returns the number of channels (rows).
func (f *FeatureMatrix) Channels() int {
	r, _ := f.Data.Dims()
	return r
}

// Samples returns the number of feature-rate time points (columns).
func (f *FeatureMatrix) Samples() int {
	_, c := f.Data.Dims()
	return c
}

// NormalizeRows scales every row to unit L2 norm in place. Zero rows are
// left untouched. Factorization requires normalized non-negative input.
func (f *FeatureMatrix) NormalizeRows() {
	r, c := f.Data.Dims()
	for i := 0; i < r; i++ {
		row := f.Data.RawRowView(i)
		var ss float64
		for _, v := range row {
			ss += v * v
		}
		if ss == 0 {
			continue
		}
		inv := 1 / math.Sqrt(ss)
		for j := 0; j < c; j++ {
			row[j] *= inv
		}
	}
}

// Timeline reconstructs n timestamps spaced 1/rate seconds apart starting
// at start. Used only to label detection functions on the way out.
func Timeline(start time.Time, n int, rate float64) []time.Time {
	times := make([]time.Time, n)
	step := float64(time.Second) / rate
	for i := range times {
		times[i] = start.Add(time.Duration(float64(i) * step))
	}
	return times
}
