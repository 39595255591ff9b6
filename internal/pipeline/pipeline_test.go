// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/blackice/internal/enforcement"
	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/normalize"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const sampleEvents = `{"ts":"2026-03-01T12:00:00Z","user_id":"u1","ip":"10.0.0.1","country":"US","event_type":"login_fail"}
{"ts":"2026-03-01T12:00:10Z","user_id":"u1","ip":"10.0.0.1","country":"US","event_type":"login_fail"}

{"ts":"2026-03-01T12:00:20Z","user_id":"u1","ip":"10.0.0.1","country":"US","event_type":"login_fail"}
this is not json
{"ts":"2026-03-01T12:30:00Z","user_id":"u1","ip":"203.0.113.9","country":"FR","event_type":"login_success"}
`

func writeEvents(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleEvents), 0o600))
	return path, filepath.Join(dir, "out")
}

func testContext() context.Context {
	return logging.ContextWithRunID(context.Background(), "test-run")
}

func testOptions(mode normalize.Mode) Options {
	opts := DefaultOptions()
	opts.AuditMode = mode
	opts.Now = func() time.Time { return t0 }
	return opts
}

func TestRun_EndToEnd(t *testing.T) {
	events, outdir := writeEvents(t)

	sum, err := New(testOptions(normalize.ModeStrict)).Run(testContext(), events, outdir)
	require.NoError(t, err)
	assert.True(t, sum.OK)
	assert.Equal(t, "test-run", sum.RunID)

	assert.Equal(t, 4, sum.Detect.Events)
	assert.Equal(t, 1, sum.Detect.Malformed)
	assert.Equal(t, 3, sum.Detect.Alerts)

	assert.Equal(t, 2, sum.Score.Decisions)
	assert.Equal(t, map[string]int{"BLOCK": 1, "ALLOW": 1}, sum.Score.Actions)

	require.NotNil(t, sum.Audit)
	assert.False(t, sum.Audit.Changed, "scorer output is already canonical")

	assert.Equal(t, 2, sum.Trust.Rows)
	assert.Equal(t, 1, sum.Trust.Overrides)
	assert.Equal(t, 2, sum.Enforce.Total)
	assert.Equal(t, 1, sum.Enforce.Overrides)

	decisions, _, err := jsonl.ReadRecordsFile(sum.Paths.Decisions)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	finals := map[string]string{}
	for _, d := range decisions {
		finals[d["action"].(string)] = d[enforcement.FieldActionFinal].(string)
	}
	// A first BLOCK leaves trust at 60, which enforces STEP_UP.
	assert.Equal(t, map[string]string{"BLOCK": "STEP_UP", "ALLOW": "ALLOW"}, finals)

	ledger, _, err := jsonl.ReadFile[models.TrustRow](sum.Paths.Trust)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
}

func TestRun_SecondRunAppendsToLedger(t *testing.T) {
	events, outdir := writeEvents(t)
	p := New(testOptions(normalize.ModeWarn))

	_, err := p.Run(testContext(), events, outdir)
	require.NoError(t, err)
	sum, err := p.Run(testContext(), events, outdir)
	require.NoError(t, err)

	ledger, _, err := jsonl.ReadFile[models.TrustRow](sum.Paths.Trust)
	require.NoError(t, err)
	assert.Len(t, ledger, 4)
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	sum, err := New(testOptions(normalize.ModeWarn)).Run(testContext(), filepath.Join(dir, "nope.jsonl"), dir)
	require.ErrorIs(t, err, ErrMissingInput)
	assert.False(t, sum.OK)
	assert.NotEmpty(t, sum.Error)
	assert.Nil(t, sum.Detect)
}

// subjectlessScorer emits a decision whose evidence rows carry no subject,
// which normalization will always rewrite.
type subjectlessScorer struct{}

func (subjectlessScorer) Score(_ context.Context, alerts []models.Alert) ([]models.Decision, error) {
	rows := make([]models.EvidenceRow, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, models.EvidenceRow{TS: a.TS, RuleID: a.RuleID, Severity: a.RiskScore})
	}
	return []models.Decision{{
		SubjectType: models.SubjectUser,
		SubjectID:   "u1",
		TSFirst:     models.NewTimestamp(t0),
		TSLast:      models.NewTimestamp(t0),
		RiskScore:   95,
		Action:      models.ActionBlock,
		Explain:     models.Explain{TopRules: []string{"R"}, Evidence: rows},
	}}, nil
}

func TestRun_StrictViolationStopsBeforeTrust(t *testing.T) {
	events, outdir := writeEvents(t)
	opts := testOptions(normalize.ModeStrict)
	opts.Scorer = subjectlessScorer{}
	p := New(opts)
	ctx := testContext()
	paths := PathsFor(events, outdir)

	// Score alone to capture the pre-audit bytes.
	_, err := p.Detect(ctx, paths.Events, paths.Alerts)
	require.NoError(t, err)
	_, err = p.Score(ctx, paths.Alerts, paths.Decisions, "")
	require.NoError(t, err)
	before, err := os.ReadFile(paths.Decisions)
	require.NoError(t, err)

	_, err = p.Normalize(ctx, paths.Decisions, paths.Reports)
	require.ErrorIs(t, err, normalize.ErrAuditNormalizationViolation)
	after, err := os.ReadFile(paths.Decisions)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// And through Run.
	sum, err := p.Run(ctx, events, outdir)
	require.ErrorIs(t, err, normalize.ErrAuditNormalizationViolation)
	require.NotNil(t, sum.Audit)
	assert.True(t, sum.Audit.Changed)
	assert.Nil(t, sum.Trust)
	assert.Nil(t, sum.Enforce)

	_, statErr := os.Stat(paths.Trust)
	assert.True(t, os.IsNotExist(statErr))

	report, err := os.ReadFile(filepath.Join(paths.Reports, "decision_normalization_test-run.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(report), `"mode":"strict"`))
}

func TestScore_RingSignals(t *testing.T) {
	dir := t.TempDir()
	events := filepath.Join(dir, "events.jsonl")
	var b strings.Builder
	for _, u := range []string{"a", "b", "c"} {
		b.WriteString(`{"ts":"2026-03-01T12:00:00Z","user_id":"` + u + `","token_id":"shared","device_id":"d-` + u + `","ip":"10.0.0.1","country":"US","event_type":"login_success"}` + "\n")
	}
	require.NoError(t, os.WriteFile(events, []byte(b.String()), 0o600))

	alerts := filepath.Join(dir, "alerts.jsonl")
	require.NoError(t, jsonl.WriteFile(alerts, []models.Alert{
		{RuleID: models.RuleStuffingBurstUser, TS: models.NewTimestamp(t0), RiskScore: 65, UserID: "a"},
	}))

	opts := testOptions(normalize.ModeWarn)
	opts.Rings = RingOptions{Enabled: true, MinSize: 4}
	sum, err := New(opts).Score(testContext(), alerts, filepath.Join(dir, "decisions.jsonl"), events)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rings)

	decisions, _, err := jsonl.ReadFile[models.Decision](filepath.Join(dir, "decisions.jsonl"))
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Contains(t, decisions[0].Explain.Context, "ring_score")
}
