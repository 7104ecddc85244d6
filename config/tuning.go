// Package config loads pipeline tuning from JSON. Every field is optional;
// the same document works for full configurations and one-line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/episense/spike.report/nmf"
	"github.com/episense/spike.report/pipeline"
)

// Tuning is the JSON schema for pipeline parameters. Pointer fields
// distinguish "omitted" from "explicitly zero", so partial documents merge
// cleanly over defaults.
type Tuning struct {
	// Line length params
	WindowMillis *float64 `json:"window_millis,omitempty"`
	FeatureRate  *float64 `json:"feature_rate,omitempty"`
	ChunkTarget  *int     `json:"chunk_target,omitempty"`

	// Factorization params
	RankMin       *int     `json:"rank_min,omitempty"`
	RankMax       *int     `json:"rank_max,omitempty"`
	Runs          *int     `json:"runs,omitempty"`
	Sparseness    *float64 `json:"sparseness,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`

	// Execution params
	Workers *int  `json:"workers,omitempty"`
	Verbose *bool `json:"verbose,omitempty"`
}

// Load reads and validates a Tuning document from a JSON file. Omitted
// fields stay nil and fall back to pipeline defaults when applied.
func Load(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	t := &Tuning{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return t, nil
}

// Validate checks set fields against the pipeline's input constraints.
func (t *Tuning) Validate() error {
	if t.WindowMillis != nil && *t.WindowMillis <= 0 {
		return fmt.Errorf("window_millis must be positive, got %g", *t.WindowMillis)
	}
	if t.FeatureRate != nil && *t.FeatureRate <= 0 {
		return fmt.Errorf("feature_rate must be positive, got %g", *t.FeatureRate)
	}
	if t.RankMin != nil && *t.RankMin < 1 {
		return fmt.Errorf("rank_min must be at least 1, got %d", *t.RankMin)
	}
	if t.RankMin != nil && t.RankMax != nil && *t.RankMin > *t.RankMax {
		return fmt.Errorf("rank range [%d,%d] is inverted", *t.RankMin, *t.RankMax)
	}
	if t.Runs != nil && *t.Runs < 1 {
		return fmt.Errorf("runs must be positive, got %d", *t.Runs)
	}
	if t.Sparseness != nil && (*t.Sparseness < 0 || *t.Sparseness > 1) {
		return fmt.Errorf("sparseness must be in [0,1], got %g", *t.Sparseness)
	}
	return nil
}

// Merge overlays set fields of other onto t. Later documents win.
func (t *Tuning) Merge(other *Tuning) {
	if other == nil {
		return
	}
	if other.WindowMillis != nil {
		t.WindowMillis = other.WindowMillis
	}
	if other.FeatureRate != nil {
		t.FeatureRate = other.FeatureRate
	}
	if other.ChunkTarget != nil {
		t.ChunkTarget = other.ChunkTarget
	}
	if other.RankMin != nil {
		t.RankMin = other.RankMin
	}
	if other.RankMax != nil {
		t.RankMax = other.RankMax
	}
	if other.Runs != nil {
		t.Runs = other.Runs
	}
	if other.Sparseness != nil {
		t.Sparseness = other.Sparseness
	}
	if other.MaxIterations != nil {
		t.MaxIterations = other.MaxIterations
	}
	if other.Seed != nil {
		t.Seed = other.Seed
	}
	if other.Workers != nil {
		t.Workers = other.Workers
	}
	if other.Verbose != nil {
		t.Verbose = other.Verbose
	}
}

// Apply writes the set fields into a pipeline configuration. A positive
// sparseness switches the factorization into the sparseness-constrained
// mode.
func (t *Tuning) Apply(cfg *pipeline.Config) {
	if t.WindowMillis != nil {
		cfg.LineLength.WindowMillis = *t.WindowMillis
	}
	if t.FeatureRate != nil {
		cfg.LineLength.FeatureRate = *t.FeatureRate
	}
	if t.ChunkTarget != nil {
		cfg.LineLength.ChunkTarget = *t.ChunkTarget
	}
	if t.RankMin != nil {
		cfg.RankMin = *t.RankMin
	}
	if t.RankMax != nil {
		cfg.RankMax = *t.RankMax
	}
	if t.Runs != nil {
		cfg.Runs = *t.Runs
	}
	if t.Sparseness != nil {
		cfg.Sparseness = *t.Sparseness
		if *t.Sparseness > 0 {
			cfg.Mode = nmf.ModeSparse
		} else {
			cfg.Mode = nmf.ModePlain
		}
	}
	if t.MaxIterations != nil {
		cfg.MaxIter = *t.MaxIterations
	}
	if t.Seed != nil {
		cfg.Seed = *t.Seed
	}
	if t.Workers != nil {
		cfg.Workers = *t.Workers
		cfg.LineLength.Workers = *t.Workers
	}
	if t.Verbose != nil {
		cfg.Verbose = *t.Verbose
		cfg.LineLength.Verbose = *t.Verbose
	}
}

// Pipeline builds a validated pipeline from the tuning document layered
// over defaults.
func (t *Tuning) Pipeline() (*pipeline.Pipeline, error) {
	cfg := pipeline.Config{}
	cfg.ApplyDefaults()
	t.Apply(&cfg)
	return pipeline.New(cfg)
}
