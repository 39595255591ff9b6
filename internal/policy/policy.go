// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package policy maps a subject's aggregated risk onto an access action.
package policy

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/blackice/internal/models"
)

// Context keys offered to policies.
const (
	CtxRingScore   = "ring_score"
	CtxModelScore  = "model_score"
	CtxSubjectType = "subject_type"
	CtxTopRules    = "top_rules"
)

// Policy decides an action from a risk score and optional context.
type Policy interface {
	Decide(riskScore int, ctx map[string]any) models.Action
}

// ThresholdPolicy is the default policy. Ring escalation, when enabled, is
// combined with the per-subject risk thresholds and the stricter action wins.
type ThresholdPolicy struct {
	BlockAt  int
	StepUpAt int

	// RingBlockAt and RingStepUpAt escalate on ctx["ring_score"]; 0 disables.
	RingBlockAt  float64
	RingStepUpAt float64
}

// DefaultThresholdPolicy blocks at 90 and steps up at 50, without ring escalation.
func DefaultThresholdPolicy() *ThresholdPolicy {
	return &ThresholdPolicy{BlockAt: 90, StepUpAt: 50}
}

// Decide implements Policy. Ring escalation only ever raises the action
// the risk score alone would give.
func (p *ThresholdPolicy) Decide(riskScore int, ctx map[string]any) models.Action {
	var byScore models.Action
	switch {
	case riskScore >= p.BlockAt:
		byScore = models.ActionBlock
	case riskScore >= p.StepUpAt:
		byScore = models.ActionStepUp
	default:
		byScore = models.ActionAllow
	}

	ring := Float(ctx, CtxRingScore)
	byRing := models.ActionAllow
	switch {
	case p.RingBlockAt > 0 && ring >= p.RingBlockAt:
		byRing = models.ActionBlock
	case p.RingStepUpAt > 0 && ring >= p.RingStepUpAt:
		byRing = models.ActionStepUp
	}
	return models.Stricter(byScore, byRing)
}

// Float reads a numeric context value, returning 0 when absent.
func Float(ctx map[string]any, key string) float64 {
	switch v := ctx[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

// String reads a string context value, returning "" when absent.
func String(ctx map[string]any, key string) string {
	s, _ := ctx[key].(string)
	return s
}
