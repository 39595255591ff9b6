// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package pipeline

import (
	"context"

	"github.com/tomtom215/blackice/internal/enforcement"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/trust"
)

// Summary is the JSON run summary printed by every command. Stages that did
// not run are omitted.
type Summary struct {
	RunID   string              `json:"run_id"`
	Command string              `json:"command"`
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Paths   *Paths              `json:"paths,omitempty"`
	Detect  *DetectSummary      `json:"detect,omitempty"`
	Score   *ScoreSummary       `json:"score,omitempty"`
	Audit   *models.AuditReport `json:"audit,omitempty"`
	Trust   *trust.Result       `json:"trust,omitempty"`
	Enforce *enforcement.Result `json:"enforce,omitempty"`
}

// NewSummary starts a summary for the run in ctx.
func NewSummary(ctx context.Context, command string) *Summary {
	return &Summary{RunID: logging.RunIDFromContext(ctx), Command: command}
}

// Finish records the outcome and returns err unchanged.
func (s *Summary) Finish(err error) error {
	s.OK = err == nil
	if err != nil {
		s.Error = err.Error()
	}
	return err
}

// Run executes every stage in order. A strict audit violation stops the run
// before the trust stage; the summary still carries the audit report.
func (p *Pipeline) Run(ctx context.Context, eventsPath, outdir string) (*Summary, error) {
	sum := NewSummary(ctx, "run")
	paths := PathsFor(eventsPath, outdir)
	sum.Paths = &paths

	log := logging.Ctx(ctx)
	log.Info().Str("events", eventsPath).Str("outdir", outdir).Str("audit_mode", string(p.opts.AuditMode)).Msg("Pipeline run started")

	var err error
	if sum.Detect, err = p.Detect(ctx, paths.Events, paths.Alerts); err != nil {
		return sum, sum.Finish(err)
	}
	if sum.Score, err = p.Score(ctx, paths.Alerts, paths.Decisions, paths.Events); err != nil {
		return sum, sum.Finish(err)
	}
	if sum.Audit, err = p.Normalize(ctx, paths.Decisions, paths.Reports); err != nil {
		return sum, sum.Finish(err)
	}
	if sum.Trust, err = p.Trust(ctx, paths.Decisions, paths.Trust); err != nil {
		return sum, sum.Finish(err)
	}
	if sum.Enforce, err = p.Enforce(ctx, paths.Decisions, paths.Trust); err != nil {
		return sum, sum.Finish(err)
	}

	log.Info().
		Int("alerts", sum.Detect.Alerts).
		Int("decisions", sum.Score.Decisions).
		Int("overrides", sum.Enforce.Overrides).
		Msg("Pipeline run finished")
	return sum, sum.Finish(nil)
}
