// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package trust

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeDecisions(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "decisions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func readLedger(t *testing.T, path string) []models.TrustRow {
	t.Helper()
	rows, stats, err := jsonl.ReadFile[models.TrustRow](path)
	require.NoError(t, err)
	require.Zero(t, stats.Malformed)
	return rows
}

func TestConfig_ApplyDecision(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		before float64
		action models.Action
		want   float64
	}{
		{100, models.ActionBlock, 60},
		{30, models.ActionBlock, 0},
		{100, models.ActionStepUp, 85},
		{10, models.ActionStepUp, 0},
		{50, models.ActionAllow, 51},
		{100, models.ActionAllow, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.ApplyDecision(tt.before, tt.action), "%v %s", tt.before, tt.action)
	}
}

func TestConfig_Enforce(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name   string
		trust  float64
		action models.Action
		want   models.Action
		reason string
	}{
		{"allow below block", 20, models.ActionAllow, models.ActionBlock, ReasonBelowBlock},
		{"allow below step up", 60, models.ActionAllow, models.ActionStepUp, ReasonBelowStepUp},
		{"block below step up relaxes", 60, models.ActionBlock, models.ActionStepUp, ReasonBelowStepUp},
		{"block below block", 20, models.ActionBlock, models.ActionBlock, ""},
		{"step up below step up", 55, models.ActionStepUp, models.ActionStepUp, ""},
		{"high trust passes through", 95, models.ActionStepUp, models.ActionStepUp, ""},
		{"high trust keeps block", 70, models.ActionBlock, models.ActionBlock, ""},
		{"block threshold is exclusive", 40, models.ActionAllow, models.ActionStepUp, ReasonBelowStepUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := cfg.Enforce(tt.trust, tt.action)
			assert.Equal(t, tt.want, got)
			if tt.reason == "" {
				assert.Nil(t, reason)
				return
			}
			require.NotNil(t, reason)
			assert.Equal(t, tt.reason, *reason)
		})
	}
}

func TestEmit_TrustDecayAndEnforcement(t *testing.T) {
	dir := t.TempDir()
	decisions := writeDecisions(t, dir,
		`{"subject_type":"user","subject_id":"u1","action":"BLOCK","ts_last":"2026-03-01T10:00:00Z"}`,
		`{"subject_type":"user","subject_id":"u1","action":"BLOCK","ts_last":"2026-03-01T10:05:00Z"}`,
		`{"subject_type":"user","subject_id":"u1","action":"ALLOW","ts_last":"2026-03-01T10:10:00Z"}`,
	)
	ledger := filepath.Join(dir, "trust.jsonl")

	res, err := NewEmitter(DefaultConfig()).Emit(context.Background(), decisions, ledger)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Subjects)
	assert.Equal(t, 2, res.Overrides)

	rows := readLedger(t, ledger)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{100, 60, 20}, []float64{rows[0].TrustBefore, rows[1].TrustBefore, rows[2].TrustBefore})
	assert.Equal(t, float64(60), rows[0].TrustAfter)
	assert.Equal(t, float64(20), rows[1].TrustAfter)
	assert.Equal(t, float64(21), rows[2].TrustAfter)

	// BLOCK at trust 60 is enforced as STEP_UP.
	first := rows[0]
	assert.Equal(t, models.ActionBlock, first.Action)
	assert.Equal(t, models.ActionStepUp, first.EnforcedAction)
	require.NotNil(t, first.EnforcementReason)
	assert.Equal(t, ReasonBelowStepUp, *first.EnforcementReason)

	assert.Equal(t, models.ActionBlock, rows[1].EnforcedAction)
	assert.Nil(t, rows[1].EnforcementReason)

	last := rows[2]
	assert.Equal(t, models.ActionAllow, last.Action)
	assert.Equal(t, models.ActionBlock, last.EnforcedAction)
	require.NotNil(t, last.EnforcementReason)
	assert.Equal(t, ReasonBelowBlock, *last.EnforcementReason)
}

func TestEmit_AppendOnly(t *testing.T) {
	dir := t.TempDir()
	decisions := writeDecisions(t, dir,
		`{"subject_type":"user","subject_id":"u1","action":"STEP_UP","ts_last":"2026-03-01T10:00:00Z"}`,
		`{"subject_type":"ip","subject_id":"1.2.3.4","action":"ALLOW","ts_last":"2026-03-01T10:01:00Z"}`,
	)
	ledger := filepath.Join(dir, "trust.jsonl")
	e := NewEmitter(DefaultConfig())

	_, err := e.Emit(context.Background(), decisions, ledger)
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(ledger)
	require.NoError(t, err)

	_, err = e.Emit(context.Background(), decisions, ledger)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(ledger)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(secondBytes), string(firstBytes)))
	rows := readLedger(t, ledger)
	require.Len(t, rows, 4)

	// The second run continues from the state the first run left.
	assert.Equal(t, float64(85), rows[2].TrustBefore)
	assert.Equal(t, float64(70), rows[2].TrustAfter)
}

func TestEmit_LegacyActionsAndTimestamps(t *testing.T) {
	dir := t.TempDir()
	decisions := writeDecisions(t, dir,
		`{"user_id":"u9","action":"deny"}`,
		`{"subject_type":"user","subject_id":7,"action":"stepup","ts_first":1767225600}`,
		`not json`,
	)
	ledger := filepath.Join(dir, "trust.jsonl")

	res, err := NewEmitter(DefaultConfig(), WithClock(func() time.Time { return fixedNow })).
		Emit(context.Background(), decisions, ledger)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Malformed)

	rows := readLedger(t, ledger)
	require.Len(t, rows, 2)
	assert.Equal(t, models.Subject{Type: "user", ID: "u9"}, rows[0].Subject())
	assert.Equal(t, models.ActionBlock, rows[0].Action)
	assert.True(t, rows[0].TS.Equal(fixedNow))

	assert.Equal(t, "7", rows[1].SubjectID)
	assert.Equal(t, models.ActionStepUp, rows[1].Action)
	assert.True(t, rows[1].TS.Equal(time.Unix(1767225600, 0)))
}

func TestEmit_MissingDecisions(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEmitter(DefaultConfig()).Emit(context.Background(), filepath.Join(dir, "missing.jsonl"), filepath.Join(dir, "trust.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, statErr := os.Stat(filepath.Join(dir, "trust.jsonl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadLedger_LatestRowWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.jsonl")
	content := `{"ts":"2026-03-01T10:00:00Z","subject_type":"user","subject_id":"a","action":"BLOCK","enforced_action":"BLOCK","enforcement_reason":null,"trust_before":100,"trust_after":60}
garbage
{"ts":"2026-03-01T10:01:00Z","subject_type":"user","subject_id":"a","action":"BLOCK","enforced_action":"BLOCK","enforcement_reason":null,"trust_before":60,"trust_after":20}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l, stats, err := LoadLedger(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, float64(20), l.Trust(models.Subject{Type: "user", ID: "a"}))
	assert.Equal(t, float64(100), l.Trust(models.Subject{Type: "user", ID: "b"}))
	assert.Equal(t, 1, l.Subjects())
}

func TestLedger_TrustStaysInBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	actions := []models.Action{models.ActionAllow, models.ActionStepUp, models.ActionBlock}
	s := models.Subject{Type: "user", ID: "u"}

	properties.Property("trust in [0,100] and enforcement follows thresholds", prop.ForAll(
		func(seq []int) bool {
			l := NewLedger(DefaultConfig())
			for _, i := range seq {
				action := actions[i]
				row := l.Apply(models.NewTimestamp(fixedNow), s, action)
				if row.TrustAfter < 0 || row.TrustAfter > 100 || row.TrustBefore < 0 || row.TrustBefore > 100 {
					return false
				}
				want := action
				switch {
				case row.TrustAfter < 40:
					want = models.ActionBlock
				case row.TrustAfter < 70:
					want = models.ActionStepUp
				}
				if row.EnforcedAction != want {
					return false
				}
				if (row.EnforcementReason != nil) != (row.EnforcedAction != action) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
