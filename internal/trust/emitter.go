// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/subject"
)

// Result summarizes one ledger emission.
type Result struct {
	Rows      int `json:"rows"`
	Subjects  int `json:"subjects"`
	Overrides int `json:"overrides"`
	Malformed int `json:"malformed"`
}

// Emitter replays a decisions file through the ledger.
type Emitter struct {
	cfg      Config
	now      func() time.Time
	security *logging.SecurityLogger
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock sets the clock used for decisions that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter creates an emitter.
func NewEmitter(cfg Config, opts ...Option) *Emitter {
	e := &Emitter{
		cfg:      cfg,
		now:      time.Now,
		security: logging.NewSecurityLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit reads decisions in file order, applies each to the trust state loaded
// from ledgerPath and appends one row per decision. Earlier ledger rows are
// never rewritten, so emitting twice doubles the rows.
func (e *Emitter) Emit(ctx context.Context, decisionsPath, ledgerPath string) (*Result, error) {
	log := logging.Ctx(ctx)

	records, stats, err := jsonl.ReadRecordsFile(decisionsPath)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	metrics.RecordMalformed("trust", stats.Malformed)

	ledger, ledgerStats, err := LoadLedger(ledgerPath, e.cfg)
	if err != nil {
		return nil, err
	}
	if ledgerStats.Malformed > 0 {
		log.Warn().Int("malformed", ledgerStats.Malformed).Str("ledger", ledgerPath).Msg("Skipped malformed ledger rows")
	}

	res := &Result{Malformed: stats.Malformed}
	touched := make(map[models.Subject]struct{})
	overridesByAction := make(map[string]int)
	rows := make([]models.TrustRow, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := subject.ResolveRecord(rec)
		action := models.ActionAllow
		if raw, ok := subject.Stringify(rec["action"]); ok {
			action = models.NormalizeAction(raw)
		}

		row := ledger.Apply(e.decisionTS(rec), s, action)
		rows = append(rows, row)
		touched[s] = struct{}{}

		if row.EnforcementReason != nil {
			res.Overrides++
			overridesByAction[string(row.EnforcedAction)]++
			e.security.LogEnforcementOverride(s.Type, s.ID, string(row.Action), string(row.EnforcedAction),
				*row.EnforcementReason, row.TrustAfter)
		}
	}

	// An empty batch still creates the ledger so enforcement has a file to read.
	data, err := jsonl.Encode(rows)
	if err != nil {
		return nil, fmt.Errorf("encode trust rows: %w", err)
	}
	if err := jsonl.AppendFile(ledgerPath, data); err != nil {
		return nil, fmt.Errorf("append trust ledger: %w", err)
	}

	res.Rows = len(rows)
	res.Subjects = len(touched)
	metrics.RecordTrustUpdate(res.Rows, ledger.Subjects(), overridesByAction)

	log.Info().
		Int("rows", res.Rows).
		Int("subjects", res.Subjects).
		Int("overrides", res.Overrides).
		Str("ledger", ledgerPath).
		Msg("Trust ledger updated")
	return res, nil
}

// decisionTS prefers ts_last, then ts_first, then the emitter's clock.
func (e *Emitter) decisionTS(rec map[string]any) models.Timestamp {
	for _, key := range []string{"ts_last", "ts_first", "ts"} {
		if ts, ok := models.TimestampFromAny(rec[key]); ok {
			return ts
		}
	}
	return models.NewTimestamp(e.now())
}
