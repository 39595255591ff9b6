// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package scoring groups alerts by subject and turns each group into a
// scored, explained access decision.
package scoring

import (
	"context"
	"sort"
	"strings"

	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/policy"
	"github.com/tomtom215/blackice/internal/subject"
)

// Scorer turns alerts into decisions.
type Scorer interface {
	Score(ctx context.Context, alerts []models.Alert) ([]models.Decision, error)
}

// Config holds aggregation parameters. Weights are keyed by rule id without
// the RULE_ prefix.
type Config struct {
	Weights       map[string]int
	DefaultWeight int
	MaxEvidence   int
	TopRules      int
}

// DefaultWeights returns the built-in rule weights.
func DefaultWeights() map[string]int {
	return map[string]int{
		"IMPOSSIBLE_TRAVEL":         60,
		"TOKEN_REUSE_MULTI_COUNTRY": 45,
		"TOKEN_REUSE_MULTI_DEVICE":  45,
		"STUFFING_BURST_IP":         35,
		"STUFFING_BURST_USER":       30,
	}
}

// DefaultConfig returns the default aggregation parameters.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		DefaultWeight: 10,
		MaxEvidence:   50,
		TopRules:      5,
	}
}

// Weight returns the weight of a rule id. Matching ignores case and the
// RULE_ prefix on both sides.
func (c Config) Weight(ruleID string) int {
	if w, ok := c.Weights[weightKey(ruleID)]; ok {
		return w
	}
	for k, w := range c.Weights {
		if weightKey(k) == weightKey(ruleID) {
			return w
		}
	}
	return c.DefaultWeight
}

// WithWeights returns a copy of c with overrides laid over its weights.
func (c Config) WithWeights(overrides map[string]int) Config {
	merged := make(map[string]int, len(c.Weights)+len(overrides))
	for k, w := range c.Weights {
		merged[weightKey(k)] = w
	}
	for k, w := range overrides {
		merged[weightKey(k)] = w
	}
	c.Weights = merged
	return c
}

func weightKey(rule string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(rule)), "RULE_")
}

// ContextProvider supplies extra per-subject signals (ring score, model
// score) that are offered to the policy and recorded in the explanation.
type ContextProvider interface {
	SubjectContext(s models.Subject) map[string]any
}

// Signals is a static ContextProvider.
type Signals map[models.Subject]map[string]any

// SubjectContext implements ContextProvider.
func (s Signals) SubjectContext(sub models.Subject) map[string]any {
	return s[sub]
}

// Set records one signal for a subject.
func (s Signals) Set(sub models.Subject, key string, value any) {
	m, ok := s[sub]
	if !ok {
		m = make(map[string]any)
		s[sub] = m
	}
	m[key] = value
}

// Aggregator is the default Scorer.
type Aggregator struct {
	cfg      Config
	policy   policy.Policy
	provider ContextProvider
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithContextProvider attaches per-subject signals.
func WithContextProvider(p ContextProvider) Option {
	return func(a *Aggregator) { a.provider = p }
}

// NewAggregator creates an aggregator. A nil policy means the default
// threshold policy.
func NewAggregator(cfg Config, p policy.Policy, opts ...Option) *Aggregator {
	if p == nil {
		p = policy.DefaultThresholdPolicy()
	}
	a := &Aggregator{cfg: cfg, policy: p}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type group struct {
	subject models.Subject
	alerts  []*models.Alert
}

// Score implements Scorer. It never fails; the error return is for
// alternative scorers.
func (a *Aggregator) Score(ctx context.Context, alerts []models.Alert) ([]models.Decision, error) {
	groups := make(map[models.Subject]*group)
	for i := range alerts {
		s := subject.ResolveAlert(&alerts[i])
		g, ok := groups[s]
		if !ok {
			g = &group{subject: s}
			groups[s] = g
		}
		g.alerts = append(g.alerts, &alerts[i])
	}

	subjects := make([]models.Subject, 0, len(groups))
	for s := range groups {
		subjects = append(subjects, s)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Less(subjects[j]) })

	decisions := make([]models.Decision, 0, len(subjects))
	for _, s := range subjects {
		d := a.decide(groups[s])
		metrics.RecordDecision(string(d.Action))
		decisions = append(decisions, d)
	}

	logging.Ctx(ctx).Info().
		Int("alerts", len(alerts)).
		Int("decisions", len(decisions)).
		Msg("Scoring complete")

	return decisions, nil
}

func (a *Aggregator) decide(g *group) models.Decision {
	counts := make(map[string]int)
	var first, last models.Timestamp
	for _, al := range g.alerts {
		counts[al.RuleID]++
		if al.TS.IsZero() {
			continue
		}
		if first.IsZero() || al.TS.Before(first.Time) {
			first = al.TS
		}
		if last.IsZero() || al.TS.After(last.Time) {
			last = al.TS
		}
	}

	score := 0
	for rule, n := range counts {
		score += a.cfg.Weight(rule) * n
	}

	var signals map[string]any
	if a.provider != nil {
		signals = a.provider.SubjectContext(g.subject)
	}
	policyCtx := make(map[string]any, len(signals)+2)
	for k, v := range signals {
		policyCtx[k] = v
	}
	policyCtx[policy.CtxSubjectType] = g.subject.Type
	policyCtx[policy.CtxTopRules] = a.topRules(counts)

	d := models.Decision{
		SubjectType: g.subject.Type,
		SubjectID:   g.subject.ID,
		TSFirst:     first,
		TSLast:      last,
		RiskScore:   score,
		Action:      a.policy.Decide(score, policyCtx),
		Explain: models.Explain{
			TopRules: a.topRules(counts),
			Evidence: a.evidence(g),
		},
	}
	if len(signals) > 0 {
		d.Explain.Context = signals
	}
	return d
}

// topRules ranks rule ids by weight*count, ties broken by rule id.
func (a *Aggregator) topRules(counts map[string]int) []string {
	type ranked struct {
		rule  string
		value int
	}
	rs := make([]ranked, 0, len(counts))
	for rule, n := range counts {
		rs = append(rs, ranked{rule, a.cfg.Weight(rule) * n})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].value != rs[j].value {
			return rs[i].value > rs[j].value
		}
		return rs[i].rule < rs[j].rule
	})
	limit := a.cfg.TopRules
	if limit <= 0 || limit > len(rs) {
		limit = len(rs)
	}
	out := make([]string, limit)
	for i := range out {
		out[i] = rs[i].rule
	}
	return out
}

type evidenceKey struct {
	ts, rule, user, session, token, ip, country string
}

func (a *Aggregator) evidence(g *group) []models.EvidenceRow {
	rows := []models.EvidenceRow{}
	seen := make(map[evidenceKey]struct{})
	for _, al := range g.alerts {
		if a.cfg.MaxEvidence > 0 && len(rows) >= a.cfg.MaxEvidence {
			break
		}
		k := evidenceKey{al.TS.String(), al.RuleID, al.UserID, al.SessionID, al.TokenID, al.IP, al.Country}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, models.EvidenceRow{
			TS:          al.TS,
			RuleID:      al.RuleID,
			Severity:    al.RiskScore,
			UserID:      al.UserID,
			SessionID:   al.SessionID,
			TokenID:     al.TokenID,
			IP:          al.IP,
			Country:     al.Country,
			SubjectType: g.subject.Type,
			SubjectID:   g.subject.ID,
		})
	}
	return rows
}
