// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/models"
)

// celCostLimit bounds the work a single policy evaluation may do.
const celCostLimit = 10000

// CELPolicy evaluates a CEL expression that returns an action name, e.g.
//
//	ring_score >= 30.0 ? "BLOCK" : risk_score >= 50 ? "STEP_UP" : "ALLOW"
//
// Available variables: risk_score (int), ring_score (double), model_score
// (double), subject_type (string). When evaluation fails or yields something
// that is not an action, the fallback policy decides.
type CELPolicy struct {
	expr     string
	prg      cel.Program
	fallback Policy
}

// NewCELPolicy compiles expr. fallback must not be nil.
func NewCELPolicy(expr string, fallback Policy) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("ring_score", cel.DoubleType),
		cel.Variable("model_score", cel.DoubleType),
		cel.Variable("subject_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy expression: %w", issues.Err())
	}
	switch out := ast.OutputType().String(); out {
	case cel.StringType.String(), cel.DynType.String():
	default:
		return nil, fmt.Errorf("policy expression must return a string, got %s", out)
	}

	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	return &CELPolicy{expr: expr, prg: prg, fallback: fallback}, nil
}

// Decide implements Policy.
func (p *CELPolicy) Decide(riskScore int, ctx map[string]any) models.Action {
	input := map[string]any{
		"risk_score":   int64(riskScore),
		"ring_score":   Float(ctx, CtxRingScore),
		"model_score":  Float(ctx, CtxModelScore),
		"subject_type": String(ctx, CtxSubjectType),
	}

	out, _, err := p.prg.Eval(input)
	if err != nil {
		logging.Warn().Err(err).Str("expr", p.expr).Msg("CEL policy evaluation failed, using fallback")
		return p.fallback.Decide(riskScore, ctx)
	}
	s, ok := out.Value().(string)
	if !ok {
		logging.Warn().Str("expr", p.expr).Msgf("CEL policy returned %T, using fallback", out.Value())
		return p.fallback.Decide(riskScore, ctx)
	}
	action, ok := models.ParseAction(s)
	if !ok {
		logging.Warn().Str("expr", p.expr).Str("result", s).Msg("CEL policy returned unknown action, using fallback")
		return p.fallback.Decide(riskScore, ctx)
	}
	return action
}
