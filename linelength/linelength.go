// Package linelength computes the windowed line-length feature of a
// multichannel recording: the summed absolute sample-to-sample difference
// over a sliding window, centered on the feature point and downsampled to a
// fixed feature rate. Line length is a robust detector of high-activity
// events in EEG; the downsampled feature matrix is what the factorization
// stages consume.
package linelength

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/episense/spike.report/eeg"
)

// Default transform parameters. The 40 ms window and 50 Hz feature rate
// follow the standard line-length spike detection setup.
const (
	DefaultWindowMillis = 40.0
	DefaultFeatureRate  = 50.0
	DefaultChunkTarget  = 40000
)

// Options configures the line-length transform.
type Options struct {
	// WindowMillis is the sliding window length in milliseconds. It is
	// converted to samples at the input rate and rounded to the nearest
	// even integer, floored at 2.
	WindowMillis float64

	// FeatureRate is the output sampling rate in Hz.
	FeatureRate float64

	// ChunkTarget is the approximate number of samples per processing
	// chunk. Long recordings are split into evenly spaced chunks so the
	// per-chunk working set stays bounded.
	ChunkTarget int

	// Workers caps the channel-shard worker pool. Zero or negative means
	// one worker per available CPU.
	Workers int

	// Verbose enables per-shard progress logging.
	Verbose bool
}

// DefaultOptions returns the standard transform configuration.
func DefaultOptions() Options {
	return Options{
		WindowMillis: DefaultWindowMillis,
		FeatureRate:  DefaultFeatureRate,
		ChunkTarget:  DefaultChunkTarget,
	}
}

func (o Options) withDefaults() Options {
	if o.WindowMillis <= 0 {
		o.WindowMillis = DefaultWindowMillis
	}
	if o.FeatureRate <= 0 {
		o.FeatureRate = DefaultFeatureRate
	}
	if o.ChunkTarget <= 0 {
		o.ChunkTarget = DefaultChunkTarget
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// EffectiveWindow converts a millisecond window to samples at rate,
// rounded to the nearest even integer and floored at 2. An even window
// splits symmetrically when the output is re-centered.
func EffectiveWindow(windowMillis, rate float64) int {
	w := 2 * int(math.Round(rate*windowMillis/2000))
	if w < 2 {
		w = 2
	}
	return w
}

// Transform computes the centered, downsampled line length of sig. The
// output has one row per input channel, in input order, and is clamped
// non-negative after resampling.
func Transform(sig *eeg.SignalMatrix, opts Options) (*eeg.FeatureMatrix, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if sig.Samples() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", eeg.ErrShapeMismatch, sig.Samples())
	}
	opts = opts.withDefaults()

	channels := sig.Channels()
	samples := sig.Samples()
	wEff := EffectiveWindow(opts.WindowMillis, sig.SampleRate)

	// Line length is computed on samples-1 successive differences, so the
	// raw feature axis is one shorter than the signal.
	rawLen := samples - 1
	outLen := resampledLength(rawLen, sig.SampleRate, opts.FeatureRate)
	if outLen < 1 {
		return nil, fmt.Errorf("%w: recording too short for %g Hz feature rate", eeg.ErrShapeMismatch, opts.FeatureRate)
	}
	out := mat.NewDense(channels, outLen, nil)

	bounds := chunkBounds(samples, opts.ChunkTarget)

	// Channel shards are independent; each worker owns a contiguous row
	// range of the output, so reassembly in input order is free.
	workers := opts.Workers
	if workers > channels {
		workers = channels
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * channels / workers
		hi := (w + 1) * channels / workers
		if lo == hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			raw := make([]float64, rawLen)
			for ch := lo; ch < hi; ch++ {
				lineLengthChannel(sig.Data.RawRowView(ch), raw, wEff, bounds)
				center(raw, wEff)
				resampled := fourierResample(raw, outLen)
				clampNonNegative(resampled)
				out.SetRow(ch, resampled)
			}
		}(lo, hi)
	}
	wg.Wait()

	if opts.Verbose {
		log.Printf("linelength: %d channels, %d samples -> %d feature points (w_eff=%d, %d chunks, %d workers)",
			channels, samples, outLen, wEff, len(bounds)-1, workers)
	}

	return &eeg.FeatureMatrix{
		Data:         out,
		ChannelNames: append([]string(nil), sig.ChannelNames...),
		Rate:         opts.FeatureRate,
		StartTime:    sig.StartTime,
	}, nil
}

// chunkBounds returns evenly spaced chunk boundaries over [0, samples-1].
// Short signals degrade to a single chunk (two boundaries), never fewer.
func chunkBounds(samples, chunkTarget int) []int {
	n := int(math.Round(float64(samples) / float64(chunkTarget)))
	if n < 2 {
		n = 2
	}
	bounds := make([]int, n)
	for i := range bounds {
		bounds[i] = int(math.Round(float64(i) * float64(samples-1) / float64(n-1)))
	}
	return bounds
}

// lineLengthChannel fills dst (length len(x)-1) with the windowed line
// length of one channel. Each chunk is processed with a trailing pad of
// wEff samples taken from the next chunk, or zeros at the end of the
// recording, so windows never read past a chunk in flight. A prefix sum
// over the absolute differences makes each window O(1); the result is
// identical to summing |x[t+j+1]-x[t+j]| over the window directly.
func lineLengthChannel(x, dst []float64, wEff int, bounds []int) {
	last := len(bounds) - 1
	var prefix []float64
	for idx := 0; idx < last; idx++ {
		start, end := bounds[idx], bounds[idx+1]
		segLen := end - start + wEff
		if cap(prefix) < segLen {
			prefix = make([]float64, segLen)
		}
		prefix = prefix[:segLen]

		// prefix[i] = sum of |x[start+j+1]-x[start+j]| for j < i, with the
		// signal treated as zero past its end (final-chunk padding).
		prefix[0] = 0
		for i := 1; i < segLen; i++ {
			a, b := padded(x, start+i-1), padded(x, start+i)
			prefix[i] = prefix[i-1] + math.Abs(b-a)
		}
		for t := start; t < end; t++ {
			dst[t] = prefix[t-start+wEff-1] - prefix[t-start]
		}
	}
}

func padded(x []float64, i int) float64 {
	if i >= len(x) {
		return 0
	}
	return x[i]
}

// center shifts the line length right by half a window with zero fill,
// discarding the same amount at the end, so each feature point sits at the
// middle of the window that produced it.
func center(raw []float64, wEff int) {
	half := wEff / 2
	if half >= len(raw) {
		half = len(raw)
	}
	copy(raw[half:], raw[:len(raw)-half])
	for i := 0; i < half; i++ {
		raw[i] = 0
	}
}

func clampNonNegative(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// StdAcrossChannels collapses the channel axis to the per-sample standard
// deviation of the feature matrix. The result is a single detection trace
// covering all channels at once.
func StdAcrossChannels(f *eeg.FeatureMatrix) []float64 {
	rows, cols := f.Data.Dims()
	col := make([]float64, rows)
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, f.Data)
		mean := stat.Mean(col, nil)
		var ss float64
		for _, v := range col {
			d := v - mean
			ss += d * d
		}
		out[j] = math.Sqrt(ss / float64(rows))
	}
	return out
}
