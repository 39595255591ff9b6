// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package pipeline wires the stages together: detect, score, normalize
// under the audit gate, update the trust ledger, and enforce.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/normalize"
	"github.com/tomtom215/blackice/internal/policy"
	"github.com/tomtom215/blackice/internal/risk"
	"github.com/tomtom215/blackice/internal/scoring"
	"github.com/tomtom215/blackice/internal/trust"
)

// ErrMissingInput is returned when a stage's input file does not exist.
var ErrMissingInput = errors.New("missing required input")

// Stage names used in logs, metrics and summaries.
const (
	StageDetect    = "detect"
	StageScore     = "score"
	StageNormalize = "normalize"
	StageTrust     = "trust"
	StageEnforce   = "enforce"
)

// Output file names inside a run directory.
const (
	AlertsFile    = "alerts.jsonl"
	DecisionsFile = "decisions.jsonl"
	TrustFile     = "trust.jsonl"
	ReportsDir    = "reports"
)

// Paths locates every artifact of a run.
type Paths struct {
	Events    string `json:"events,omitempty"`
	Alerts    string `json:"alerts,omitempty"`
	Decisions string `json:"decisions,omitempty"`
	Trust     string `json:"trust,omitempty"`
	Reports   string `json:"reports,omitempty"`
}

// PathsFor returns the standard layout under outdir.
func PathsFor(events, outdir string) Paths {
	return Paths{
		Events:    events,
		Alerts:    filepath.Join(outdir, AlertsFile),
		Decisions: filepath.Join(outdir, DecisionsFile),
		Trust:     filepath.Join(outdir, TrustFile),
		Reports:   filepath.Join(outdir, ReportsDir),
	}
}

// RingOptions controls ring detection during scoring.
type RingOptions struct {
	Enabled bool
	MinSize int
}

// Options configures a Pipeline.
type Options struct {
	Detection detection.Config
	Rules     detection.Selection
	Scoring   scoring.Config
	Policy    policy.Policy
	Trust     trust.Config
	AuditMode normalize.Mode

	Rings RingOptions
	// Model, when set, scores subjects from event features for the policy.
	Model risk.Model

	// Scorer replaces the built-in aggregator.
	Scorer scoring.Scorer

	Now func() time.Time
}

// DefaultOptions returns a pipeline with every rule, the threshold policy
// and warn-mode auditing.
func DefaultOptions() Options {
	return Options{
		Detection: detection.DefaultConfig(),
		Rules:     detection.AllRules(),
		Scoring:   scoring.DefaultConfig(),
		Policy:    policy.DefaultThresholdPolicy(),
		Trust:     trust.DefaultConfig(),
		AuditMode: normalize.ModeWarn,
		Rings:     RingOptions{MinSize: 4},
		Now:       time.Now,
	}
}

// Pipeline runs stages against files.
type Pipeline struct {
	opts Options
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Policy == nil {
		opts.Policy = policy.DefaultThresholdPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AuditMode == "" {
		opts.AuditMode = normalize.ModeWarn
	}
	return &Pipeline{opts: opts}
}

// stage runs fn with stage-scoped logging and metrics.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx = logging.ContextWithStage(ctx, name)
	start := time.Now()
	logging.Ctx(ctx).Debug().Msg("Stage started")

	out, err := fn(ctx)

	dur := time.Since(start)
	metrics.RecordStage(name, dur, err)
	ev := logging.Ctx(ctx).Info()
	if err != nil {
		ev = logging.Ctx(ctx).Error().Err(err)
	}
	ev.Dur("duration", dur).Msg("Stage finished")
	return out, err
}

func requireFile(path, what string) error {
	if path == "" {
		return fmt.Errorf("%w: no %s path given", ErrMissingInput, what)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s %s not found", ErrMissingInput, what, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s %s is a directory", ErrMissingInput, what, path)
	}
	return nil
}
