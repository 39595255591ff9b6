// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package policy

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/blackice/internal/models"
)

func TestThresholdPolicy(t *testing.T) {
	p := DefaultThresholdPolicy()

	tests := []struct {
		score int
		want  models.Action
	}{
		{0, models.ActionAllow},
		{49, models.ActionAllow},
		{50, models.ActionStepUp},
		{60, models.ActionStepUp},
		{89, models.ActionStepUp},
		{90, models.ActionBlock},
		{250, models.ActionBlock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Decide(tt.score, nil), "score %d", tt.score)
	}
}

func TestThresholdPolicy_RingEscalation(t *testing.T) {
	p := DefaultThresholdPolicy()
	p.RingBlockAt = 30
	p.RingStepUpAt = 18

	assert.Equal(t, models.ActionBlock, p.Decide(0, map[string]any{CtxRingScore: 31.0}))
	assert.Equal(t, models.ActionStepUp, p.Decide(0, map[string]any{CtxRingScore: json.Number("18")}))
	assert.Equal(t, models.ActionAllow, p.Decide(0, map[string]any{CtxRingScore: 10}))

	// A ring step-up never lowers a score-based block.
	assert.Equal(t, models.ActionBlock, p.Decide(95, map[string]any{CtxRingScore: 20.0}))
	assert.Equal(t, models.ActionStepUp, p.Decide(60, map[string]any{CtxRingScore: 20.0}))

	disabled := DefaultThresholdPolicy()
	assert.Equal(t, models.ActionAllow, disabled.Decide(0, map[string]any{CtxRingScore: 100.0}))
}

func TestCELPolicy(t *testing.T) {
	p, err := NewCELPolicy(`ring_score >= 30.0 ? "BLOCK" : (model_score > 0.5 || risk_score >= 50) ? "mfa" : "ALLOW"`, DefaultThresholdPolicy())
	require.NoError(t, err)

	assert.Equal(t, models.ActionBlock, p.Decide(0, map[string]any{CtxRingScore: 30.0}))
	assert.Equal(t, models.ActionStepUp, p.Decide(60, nil))
	assert.Equal(t, models.ActionStepUp, p.Decide(0, map[string]any{CtxModelScore: 0.9}))
	assert.Equal(t, models.ActionAllow, p.Decide(10, map[string]any{CtxSubjectType: "user"}))
}

func TestCELPolicy_FallbackOnUnknownAction(t *testing.T) {
	p, err := NewCELPolicy(`subject_type == "ip" ? "QUARANTINE" : "ALLOW"`, DefaultThresholdPolicy())
	require.NoError(t, err)

	// fallback threshold policy decides BLOCK for 95
	assert.Equal(t, models.ActionBlock, p.Decide(95, map[string]any{CtxSubjectType: "ip"}))
	assert.Equal(t, models.ActionAllow, p.Decide(95, map[string]any{CtxSubjectType: "user"}))
}

func TestNewCELPolicy_Errors(t *testing.T) {
	_, err := NewCELPolicy(`risk_score >=`, DefaultThresholdPolicy())
	assert.Error(t, err)

	_, err = NewCELPolicy(`risk_score > 10`, DefaultThresholdPolicy())
	assert.Error(t, err, "boolean output is not an action")

	_, err = NewCELPolicy(`unknown_var == 1`, DefaultThresholdPolicy())
	assert.Error(t, err)
}
