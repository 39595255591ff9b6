// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package trust maintains per-subject trust as derived state over an
// append-only ledger and turns trust into enforced actions.
package trust

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/models"
)

// Enforcement reasons recorded on overriding ledger rows.
const (
	ReasonBelowBlock  = "trust_below_block_threshold"
	ReasonBelowStepUp = "trust_below_step_up_threshold"
)

const (
	minTrust = 0
	maxTrust = 100
)

// Config holds trust arithmetic and enforcement thresholds.
type Config struct {
	Initial       float64 `koanf:"initial" validate:"gte=0,lte=100"`
	BlockPenalty  float64 `koanf:"block_penalty" validate:"gte=0,lte=100"`
	StepUpPenalty float64 `koanf:"step_up_penalty" validate:"gte=0,lte=100"`
	AllowRecovery float64 `koanf:"allow_recovery" validate:"gte=0,lte=100"`
	BlockBelow    float64 `koanf:"block_below" validate:"gte=0,lte=100"`
	StepUpBelow   float64 `koanf:"step_up_below" validate:"gte=0,lte=100,gtfield=BlockBelow"`
}

// DefaultConfig returns the standard trust model.
func DefaultConfig() Config {
	return Config{
		Initial:       100,
		BlockPenalty:  40,
		StepUpPenalty: 15,
		AllowRecovery: 1,
		BlockBelow:    40,
		StepUpBelow:   70,
	}
}

// ApplyDecision returns the trust after one decided action, clamped to [0, 100].
func (c Config) ApplyDecision(before float64, action models.Action) float64 {
	switch action {
	case models.ActionBlock:
		return clamp(before - c.BlockPenalty)
	case models.ActionStepUp:
		return clamp(before - c.StepUpPenalty)
	default:
		return clamp(before + c.AllowRecovery)
	}
}

// Enforce returns the action to enforce at the given trust: BLOCK below
// BlockBelow, STEP_UP below StepUpBelow, otherwise the decided action. reason
// is non-nil only when the enforced action differs from the decided one.
func (c Config) Enforce(trust float64, action models.Action) (models.Action, *string) {
	enforced, why := action, ""
	switch {
	case trust < c.BlockBelow:
		enforced, why = models.ActionBlock, ReasonBelowBlock
	case trust < c.StepUpBelow:
		enforced, why = models.ActionStepUp, ReasonBelowStepUp
	}
	if enforced == action {
		return enforced, nil
	}
	return enforced, &why
}

func clamp(v float64) float64 {
	return math.Max(minTrust, math.Min(maxTrust, v))
}

// Ledger is the in-memory trust state rebuilt from a ledger file.
type Ledger struct {
	cfg   Config
	state map[models.Subject]float64
}

// NewLedger returns an empty ledger; every subject starts at cfg.Initial.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{cfg: cfg, state: make(map[models.Subject]float64)}
}

// LoadLedger replays the ledger file at path. A missing file is an empty
// ledger. The latest row per subject wins.
func LoadLedger(path string, cfg Config) (*Ledger, jsonl.ReadStats, error) {
	l := NewLedger(cfg)
	rows, stats, err := jsonl.ReadFile[models.TrustRow](path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, jsonl.ReadStats{}, nil
		}
		return nil, stats, fmt.Errorf("load trust ledger: %w", err)
	}
	for i := range rows {
		l.Replay(&rows[i])
	}
	return l, stats, nil
}

// Replay folds an existing ledger row into the state.
func (l *Ledger) Replay(row *models.TrustRow) {
	l.state[row.Subject()] = clamp(row.TrustAfter)
}

// Trust returns a subject's current trust.
func (l *Ledger) Trust(s models.Subject) float64 {
	if v, ok := l.state[s]; ok {
		return v
	}
	return l.cfg.Initial
}

// Subjects is the number of subjects with recorded trust.
func (l *Ledger) Subjects() int {
	return len(l.state)
}

// Apply records one decision and returns the ledger row for it.
func (l *Ledger) Apply(ts models.Timestamp, s models.Subject, action models.Action) models.TrustRow {
	before := l.Trust(s)
	after := l.cfg.ApplyDecision(before, action)
	l.state[s] = after

	enforced, reason := l.cfg.Enforce(after, action)
	return models.TrustRow{
		TS:                ts,
		SubjectType:       s.Type,
		SubjectID:         s.ID,
		Action:            action,
		EnforcedAction:    enforced,
		EnforcementReason: reason,
		TrustBefore:       before,
		TrustAfter:        after,
	}
}
