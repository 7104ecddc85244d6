package eeg

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func TestSignalMatrixValidate(t *testing.T) {
	base := func() *SignalMatrix {
		return &SignalMatrix{
			Data:         mat.NewDense(2, 10, nil),
			ChannelNames: []string{"Fp1", "Fp2"},
			SampleRate:   500,
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid signal rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SignalMatrix)
	}{
		{"nil data", func(s *SignalMatrix) { s.Data = nil }},
		{"label mismatch", func(s *SignalMatrix) { s.ChannelNames = []string{"Fp1"} }},
		{"zero rate", func(s *SignalMatrix) { s.SampleRate = 0 }},
		{"negative rate", func(s *SignalMatrix) { s.SampleRate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("error %v is not ErrShapeMismatch", err)
			}
		})
	}
}

func TestNormalizeRows(t *testing.T) {
	f := &FeatureMatrix{
		Data: mat.NewDense(3, 2, []float64{
			3, 4, // norm 5
			0, 0, // zero row stays zero
			1, 0, // already unit
		}),
		ChannelNames: []string{"a", "b", "c"},
		Rate:         50,
	}
	f.NormalizeRows()

	want := []float64{0.6, 0.8, 0, 0, 1, 0}
	for i, w := range want {
		got := f.Data.RawMatrix().Data[i]
		if math.Abs(got-w) > 1e-12 {
			t.Errorf("entry %d = %v, want %v", i, got, w)
		}
	}
}

func TestNormalizeRowsUnitNorm(t *testing.T) {
	data := mat.NewDense(4, 7, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 7; j++ {
			data.Set(i, j, float64(i*7+j+1))
		}
	}
	f := &FeatureMatrix{Data: data}
	f.NormalizeRows()

	for i := 0; i < 4; i++ {
		var ss float64
		for _, v := range data.RawRowView(i) {
			ss += v * v
		}
		if math.Abs(ss-1) > 1e-12 {
			t.Errorf("row %d squared norm = %v, want 1", i, ss)
		}
	}
}

func TestTimeline(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	times := Timeline(start, 101, 50)

	if len(times) != 101 {
		t.Fatalf("len = %d, want 101", len(times))
	}
	if !times[0].Equal(start) {
		t.Errorf("times[0] = %v, want %v", times[0], start)
	}
	// 100 steps at 50 Hz = 2 seconds.
	if got, want := times[100].Sub(start), 2*time.Second; got != want {
		t.Errorf("span = %v, want %v", got, want)
	}
	for i := 1; i < len(times); i++ {
		if step := times[i].Sub(times[i-1]); step != 20*time.Millisecond {
			t.Fatalf("step %d = %v, want 20ms", i, step)
		}
	}
}
