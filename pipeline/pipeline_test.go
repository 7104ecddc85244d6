package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/episense/spike.report/eeg"
	"github.com/episense/spike.report/nmf"
)

// syntheticRecording builds a multichannel signal with periodic sharp
// transients riding on background noise, the shape line length is built to
// expose.
func syntheticRecording(channels, samples int, rate float64, seed int64) *eeg.SignalMatrix {
	rng := rand.New(rand.NewSource(seed))
	data := mat.NewDense(channels, samples, nil)
	names := make([]string, channels)
	for i := 0; i < channels; i++ {
		names[i] = fmt.Sprintf("ch%02d", i)
		for j := 0; j < samples; j++ {
			v := 0.2 * rng.NormFloat64()
			// Spikes on the first half of the channels every 2 seconds,
			// on the rest offset by a second.
			period := int(2 * rate)
			offset := 0
			if i >= channels/2 {
				offset = period / 2
			}
			if (j+offset)%period < int(rate/25) {
				v += 5
			}
			data.Set(i, j, v)
		}
	}
	return &eeg.SignalMatrix{
		Data:         data,
		ChannelNames: names,
		SampleRate:   rate,
		StartTime:    time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	sig := syntheticRecording(4, 5000, 500, 1)

	p, err := New(Config{
		RankMin: 2,
		RankMax: 4,
		Runs:    5,
		Seed:    17,
	})
	require.NoError(t, err)

	res, err := p.Run(sig)
	require.NoError(t, err)

	require.GreaterOrEqual(t, res.Rank, 2)
	require.LessOrEqual(t, res.Rank, 4)
	assert.Len(t, res.Metrics, 3)
	assert.Empty(t, res.Warnings)

	// Component i's basis and detection functions share an index.
	require.Len(t, res.BasisFunctions, res.Rank)
	require.Len(t, res.DetectionFunctions, res.Rank)
	for i := 0; i < res.Rank; i++ {
		assert.Equal(t, fmt.Sprintf("W%d", i), res.BasisFunctions[i].Label)
		assert.Equal(t, fmt.Sprintf("H%d", i), res.DetectionFunctions[i].Label)
		assert.Len(t, res.BasisFunctions[i].Data, 4)
		assert.Len(t, res.DetectionFunctions[i].Data, 500)
		assert.Equal(t, sig.ChannelNames, res.BasisFunctions[i].ChannelNames)
	}

	// 10 s at 500 Hz downsampled to 50 Hz: 500 feature points starting at
	// the recording start, spaced 20 ms.
	times := res.DetectionFunctions[0].Times
	require.Len(t, times, 500)
	assert.True(t, times[0].Equal(sig.StartTime))
	assert.Equal(t, 20*time.Millisecond, times[1].Sub(times[0]))

	require.Len(t, res.StdLineLength.Data, 500)
	for i, v := range res.StdLineLength.Data {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("std line length[%d] = %v", i, v)
		}
	}
}

func TestPipelineRecordingID(t *testing.T) {
	sig := syntheticRecording(4, 2000, 250, 2)

	p, err := New(Config{
		RankMin:     2,
		RankMax:     2,
		Runs:        2,
		Seed:        3,
		RecordingID: "case042",
	})
	require.NoError(t, err)

	res, err := p.Run(sig)
	require.NoError(t, err)

	assert.Equal(t, "case042_W0", res.BasisFunctions[0].UniqueID)
	assert.Equal(t, "case042_H0", res.DetectionFunctions[0].UniqueID)
	assert.Equal(t, "case042_std_line_length", res.StdLineLength.UniqueID)
}

func TestPipelineGeneratedID(t *testing.T) {
	sig := syntheticRecording(4, 2000, 250, 4)

	p, err := New(Config{RankMin: 2, RankMax: 2, Runs: 2, Seed: 5})
	require.NoError(t, err)

	res, err := p.Run(sig)
	require.NoError(t, err)

	// Without a recording ID every artifact shares one generated prefix.
	id := res.BasisFunctions[0].UniqueID
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "_W0", id)
}

func TestPipelinePartialResults(t *testing.T) {
	// A 4-channel recording cannot factor at rank 5; those ranks surface
	// as warnings while the rest of the sweep proceeds.
	sig := syntheticRecording(4, 2000, 250, 6)

	p, err := New(Config{RankMin: 2, RankMax: 5, Runs: 2, Seed: 7})
	require.NoError(t, err)

	res, err := p.Run(sig)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Warnings)
	assert.Len(t, res.Metrics, 4)
	failed := 0
	for _, m := range res.Metrics {
		if m.Failed() {
			failed++
			assert.Equal(t, 5, m.Rank)
		}
	}
	assert.Equal(t, 1, failed)
	assert.LessOrEqual(t, res.Rank, 4)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{RankMin: 5, RankMax: 3})
	assert.ErrorIs(t, err, eeg.ErrShapeMismatch)

	_, err = New(Config{Mode: nmf.ModeSparse})
	assert.ErrorIs(t, err, eeg.ErrShapeMismatch)
}

func TestPipelineSparseMode(t *testing.T) {
	sig := syntheticRecording(6, 1500, 250, 8)

	p, err := New(Config{
		RankMin:    2,
		RankMax:    3,
		Runs:       3,
		Mode:       nmf.ModeSparse,
		Sparseness: 0.5,
		Seed:       9,
	})
	require.NoError(t, err)

	res, err := p.Run(sig)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Rank, 2)
	assert.LessOrEqual(t, res.Rank, 3)
}
