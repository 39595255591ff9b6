// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package enforcement writes the trust ledger's verdicts back onto decisions.
package enforcement

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/subject"
)

// Fields added to each decision.
const (
	FieldActionFinal       = "action_final"
	FieldEnforced          = "enforced"
	FieldEnforcementReason = "enforcement_reason"
	FieldTrustAfter        = "trust_after"
)

// Result summarizes one apply pass.
type Result struct {
	Total     int `json:"total"`
	Overrides int `json:"overrides"`
	Changed   int `json:"changed"`
	Malformed int `json:"malformed"`
}

// Index maps each subject to its most recent ledger row.
type Index map[models.Subject]models.TrustRow

// LoadIndex reads the ledger at path and keeps the last row per subject.
func LoadIndex(path string) (Index, error) {
	rows, _, err := jsonl.ReadFile[models.TrustRow](path)
	if err != nil {
		return nil, fmt.Errorf("read trust ledger: %w", err)
	}
	idx := make(Index, len(rows))
	for i := range rows {
		idx[rows[i].Subject()] = rows[i]
	}
	return idx, nil
}

// Apply rewrites the decisions file at decisionsPath with the enforced action
// of each decision's subject. Applying twice against the same ledger changes
// nothing the second time.
func Apply(ctx context.Context, decisionsPath, ledgerPath string) (*Result, error) {
	idx, err := LoadIndex(ledgerPath)
	if err != nil {
		return nil, err
	}

	before, err := os.ReadFile(decisionsPath) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	records, stats, err := jsonl.ReadRecords(before)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}

	res := &Result{Total: len(records), Malformed: stats.Malformed}
	var out bytes.Buffer
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		orig, err := jsonl.Canonical(rec)
		if err != nil {
			return nil, fmt.Errorf("decision %d: %w", i, err)
		}

		if enforce(rec, idx) {
			res.Overrides++
		}

		line, err := jsonl.Canonical(rec)
		if err != nil {
			return nil, fmt.Errorf("decision %d: %w", i, err)
		}
		if !bytes.Equal(orig, line) {
			res.Changed++
		}
		out.Write(line)
		out.WriteByte('\n')
	}

	if !bytes.Equal(before, out.Bytes()) {
		if err := jsonl.WriteFileAtomic(decisionsPath, out.Bytes()); err != nil {
			return nil, fmt.Errorf("write decisions: %w", err)
		}
	}

	logging.Ctx(ctx).Info().
		Int("total", res.Total).
		Int("overrides", res.Overrides).
		Int("changed", res.Changed).
		Str("decisions", decisionsPath).
		Msg("Enforcement applied")
	return res, nil
}

// enforce sets the enforcement fields on rec and reports whether the final
// action differs from the decided one. A subject known to the ledger takes
// the ledger's enforced action as its final action.
func enforce(rec map[string]any, idx Index) bool {
	action := models.ActionAllow
	if raw, ok := subject.Stringify(rec["action"]); ok {
		action = models.NormalizeAction(raw)
	}

	row, ok := idx[subject.ResolveRecord(rec)]
	var final models.Action
	if ok {
		final, ok = ledgerAction(&row)
	}
	if !ok {
		rec[FieldActionFinal] = string(action)
		rec[FieldEnforced] = false
		delete(rec, FieldEnforcementReason)
		delete(rec, FieldTrustAfter)
		return false
	}

	enforced := final != action
	rec[FieldActionFinal] = string(final)
	rec[FieldEnforced] = enforced
	rec[FieldTrustAfter] = row.TrustAfter
	if row.EnforcementReason != nil {
		rec[FieldEnforcementReason] = *row.EnforcementReason
	} else {
		delete(rec, FieldEnforcementReason)
	}
	return enforced
}

// ledgerAction returns the enforced action of a ledger row, falling back to
// the row's decided action for rows written without one.
func ledgerAction(row *models.TrustRow) (models.Action, bool) {
	for _, a := range []models.Action{row.EnforcedAction, row.Action} {
		if a.IsValid() {
			return a, true
		}
		if a != "" {
			return models.NormalizeAction(string(a)), true
		}
	}
	return "", false
}
