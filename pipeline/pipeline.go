// Package pipeline wires the full spike extraction chain: line-length
// transform, row normalization, rank-swept NMF consensus clustering, and
// packaging of the winning factorization into labeled basis and detection
// functions.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/episense/spike.report/eeg"
	"github.com/episense/spike.report/linelength"
	"github.com/episense/spike.report/nmf"
	"github.com/episense/spike.report/rankselect"
)

// Default rank sweep bounds.
const (
	DefaultRankMin = 2
	DefaultRankMax = 10
)

// Config holds every pipeline knob. The zero value plus ApplyDefaults is a
// working configuration.
type Config struct {
	LineLength linelength.Options

	// RankMin and RankMax bound the candidate rank range, inclusive.
	RankMin int
	RankMax int

	// Runs is the number of factorization runs aggregated per rank.
	Runs int

	// Mode selects plain or sparseness-constrained factorization;
	// Sparseness is the Hoyer coefficient for the latter.
	Mode       nmf.Mode
	Sparseness float64

	// MaxIter bounds the inner iterations of one factorization run.
	MaxIter int

	// Workers caps the rank-level worker pool.
	Workers int

	// Seed makes the sweep reproducible when non-zero.
	Seed int64

	// RecordingID prefixes artifact IDs. Empty means a fresh UUID per run.
	RecordingID string

	Verbose bool
}

// ApplyDefaults fills unset fields with the standard configuration.
func (c *Config) ApplyDefaults() {
	if c.LineLength.WindowMillis <= 0 {
		c.LineLength.WindowMillis = linelength.DefaultWindowMillis
	}
	if c.LineLength.FeatureRate <= 0 {
		c.LineLength.FeatureRate = linelength.DefaultFeatureRate
	}
	if c.RankMin <= 0 {
		c.RankMin = DefaultRankMin
	}
	if c.RankMax <= 0 {
		c.RankMax = DefaultRankMax
	}
	if c.Runs <= 0 {
		c.Runs = nmf.DefaultRuns
	}
	if c.MaxIter <= 0 {
		c.MaxIter = nmf.DefaultMaxIter
	}
}

// BasisFunction is one column of the winning W: a component's weighting
// across channels. Its index matches the detection function built from the
// same component.
type BasisFunction struct {
	Label        string
	UniqueID     string
	ChannelNames []string
	Data         []float64
}

// DetectionFunction is one row of the winning H: a component's activation
// over time, or the auxiliary std-line-length trace. Times are rebuilt from
// the recording start at the feature rate.
type DetectionFunction struct {
	Label    string
	UniqueID string
	Times    []time.Time
	Data     []float64
}

// Result is a completed pipeline run. Warnings list ranks that failed and
// were excluded from selection; a non-empty list still carries a valid
// selection built from the surviving ranks.
type Result struct {
	Rank               int
	Metrics            []rankselect.Metrics
	BasisFunctions     []BasisFunction
	DetectionFunctions []DetectionFunction
	StdLineLength      DetectionFunction
	Warnings           []string
}

// Pipeline is the orchestrator. Construct with New, reuse freely; Run is
// safe for concurrent use since all state lives in the call.
type Pipeline struct {
	cfg Config
}

// New validates cfg and returns a ready pipeline.
func New(cfg Config) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if cfg.RankMin < 1 || cfg.RankMin > cfg.RankMax {
		return nil, fmt.Errorf("%w: rank range [%d,%d]", eeg.ErrShapeMismatch, cfg.RankMin, cfg.RankMax)
	}
	if cfg.Mode == nmf.ModeSparse && cfg.Sparseness <= 0 {
		return nil, fmt.Errorf("%w: sparse mode needs a positive sparseness", eeg.ErrShapeMismatch)
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run executes the full chain on one recording.
func (p *Pipeline) Run(sig *eeg.SignalMatrix) (*Result, error) {
	cfg := p.cfg

	features, err := linelength.Transform(sig, cfg.LineLength)
	if err != nil {
		return nil, fmt.Errorf("line length: %w", err)
	}

	// The auxiliary trace is taken before normalization so its amplitude
	// still reflects the raw line length.
	stdTrace := linelength.StdAcrossChannels(features)

	features.NormalizeRows()

	sel, err := rankselect.Select(features.Data, cfg.RankMin, cfg.RankMax, rankselect.Options{
		Factorization: nmf.Options{
			Mode:       cfg.Mode,
			Sparseness: cfg.Sparseness,
			MaxIter:    cfg.MaxIter,
			Runs:       cfg.Runs,
			Seed:       cfg.Seed,
			Verbose:    cfg.Verbose,
		},
		Workers: cfg.Workers,
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("rank selection: %w", err)
	}

	prefix := cfg.RecordingID
	if prefix == "" {
		prefix = uuid.NewString()
	}

	times := eeg.Timeline(features.StartTime, features.Samples(), features.Rate)

	res := &Result{
		Rank:    sel.Selection.Rank,
		Metrics: sel.Metrics,
		StdLineLength: DetectionFunction{
			Label:    "Std Line Length",
			UniqueID: prefix + "_std_line_length",
			Times:    times,
			Data:     stdTrace,
		},
	}
	for _, m := range sel.Metrics {
		if m.Failed() {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rank %d excluded: %v", m.Rank, m.Err))
		}
	}

	// Component i's basis and detection functions share the index across
	// both slices.
	w, h := sel.Selection.W, sel.Selection.H
	for i := 0; i < res.Rank; i++ {
		wRows, _ := w.Dims()
		basis := make([]float64, wRows)
		for r := 0; r < wRows; r++ {
			basis[r] = w.At(r, i)
		}
		res.BasisFunctions = append(res.BasisFunctions, BasisFunction{
			Label:        fmt.Sprintf("W%d", i),
			UniqueID:     fmt.Sprintf("%s_W%d", prefix, i),
			ChannelNames: features.ChannelNames,
			Data:         basis,
		})

		_, hCols := h.Dims()
		activation := make([]float64, hCols)
		for c := 0; c < hCols; c++ {
			activation[c] = h.At(i, c)
		}
		res.DetectionFunctions = append(res.DetectionFunctions, DetectionFunction{
			Label:    fmt.Sprintf("H%d", i),
			UniqueID: fmt.Sprintf("%s_H%d", prefix, i),
			Times:    times,
			Data:     activation,
		})
	}

	if cfg.Verbose {
		log.Printf("pipeline: selected rank %d, %d warnings", res.Rank, len(res.Warnings))
	}
	return res, nil
}
