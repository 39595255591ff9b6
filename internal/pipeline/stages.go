// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package pipeline

import (
	"context"
	"fmt"

	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/enforcement"
	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/normalize"
	"github.com/tomtom215/blackice/internal/policy"
	"github.com/tomtom215/blackice/internal/rings"
	"github.com/tomtom215/blackice/internal/risk"
	"github.com/tomtom215/blackice/internal/scoring"
	"github.com/tomtom215/blackice/internal/trust"
)

// DetectSummary reports the detect stage.
type DetectSummary struct {
	Events      int                   `json:"events"`
	Malformed   int                   `json:"malformed"`
	Alerts      int                   `json:"alerts"`
	Diagnostics detection.Diagnostics `json:"diagnostics"`
}

// ScoreSummary reports the score stage.
type ScoreSummary struct {
	Alerts    int            `json:"alerts"`
	Malformed int            `json:"malformed"`
	Decisions int            `json:"decisions"`
	Actions   map[string]int `json:"actions"`
	Rings     int            `json:"rings"`
}

// Detect reads events and writes alerts.
func (p *Pipeline) Detect(ctx context.Context, eventsPath, alertsPath string) (*DetectSummary, error) {
	return stage(ctx, StageDetect, func(ctx context.Context) (*DetectSummary, error) {
		if err := requireFile(eventsPath, "events"); err != nil {
			return nil, err
		}
		events, stats, err := jsonl.ReadFile[models.Event](eventsPath)
		if err != nil {
			return nil, err
		}
		metrics.RecordMalformed(StageDetect, stats.Malformed)

		engine := detection.NewEngine(detection.Build(p.opts.Rules, p.opts.Detection)...)
		res, err := engine.Run(ctx, events)
		if err != nil {
			return nil, err
		}
		if err := jsonl.WriteFile(alertsPath, res.Alerts); err != nil {
			return nil, fmt.Errorf("write alerts: %w", err)
		}
		return &DetectSummary{
			Events:      len(events),
			Malformed:   stats.Malformed,
			Alerts:      len(res.Alerts),
			Diagnostics: res.Diagnostics,
		}, nil
	})
}

// Score reads alerts and writes decisions. eventsPath is optional and feeds
// ring and model signals to the policy.
func (p *Pipeline) Score(ctx context.Context, alertsPath, decisionsPath, eventsPath string) (*ScoreSummary, error) {
	return stage(ctx, StageScore, func(ctx context.Context) (*ScoreSummary, error) {
		if err := requireFile(alertsPath, "alerts"); err != nil {
			return nil, err
		}
		alerts, stats, err := jsonl.ReadFile[models.Alert](alertsPath)
		if err != nil {
			return nil, err
		}
		metrics.RecordMalformed(StageScore, stats.Malformed)

		sum := &ScoreSummary{Alerts: len(alerts), Malformed: stats.Malformed, Actions: map[string]int{}}

		signals, ringCount, err := p.signals(ctx, eventsPath)
		if err != nil {
			return nil, err
		}
		sum.Rings = ringCount

		scorer := p.opts.Scorer
		if scorer == nil {
			scorer = scoring.NewAggregator(p.opts.Scoring, p.opts.Policy, scoring.WithContextProvider(signals))
		}
		decisions, err := scorer.Score(ctx, alerts)
		if err != nil {
			return nil, fmt.Errorf("score alerts: %w", err)
		}
		for i := range decisions {
			sum.Actions[string(decisions[i].Action)]++
		}
		sum.Decisions = len(decisions)

		if err := jsonl.WriteFile(decisionsPath, decisions); err != nil {
			return nil, fmt.Errorf("write decisions: %w", err)
		}
		return sum, nil
	})
}

// signals builds per-subject policy context from events. Without an events
// file, or with rings and model both off, it returns nil.
func (p *Pipeline) signals(ctx context.Context, eventsPath string) (scoring.Signals, int, error) {
	if eventsPath == "" || (!p.opts.Rings.Enabled && p.opts.Model == nil) {
		return nil, 0, nil
	}
	if err := requireFile(eventsPath, "events"); err != nil {
		return nil, 0, err
	}
	events, _, err := jsonl.ReadFile[models.Event](eventsPath)
	if err != nil {
		return nil, 0, err
	}

	signals := scoring.Signals{}
	ringCount := 0
	if p.opts.Rings.Enabled {
		found := rings.Detect(events, p.opts.Rings.MinSize)
		ringCount = len(found)
		for s, score := range rings.SubjectScores(found) {
			signals.Set(s, policy.CtxRingScore, score)
		}
		logging.Ctx(ctx).Debug().Int("rings", ringCount).Msg("Ring detection finished")
	}
	if p.opts.Model != nil {
		scores, err := risk.ScoreSubjects(p.opts.Model, risk.FeaturesBySubject(events))
		if err != nil {
			return nil, 0, fmt.Errorf("risk model: %w", err)
		}
		for s, score := range scores {
			signals.Set(s, policy.CtxModelScore, score)
		}
	}
	return signals, ringCount, nil
}

// Normalize runs the audit gate over a decisions file.
func (p *Pipeline) Normalize(ctx context.Context, decisionsPath, reportsDir string) (*models.AuditReport, error) {
	return stage(ctx, StageNormalize, func(ctx context.Context) (*models.AuditReport, error) {
		if err := requireFile(decisionsPath, "decisions"); err != nil {
			return nil, err
		}
		tag := logging.RunIDFromContext(ctx)
		gate := normalize.NewGate(p.opts.AuditMode, reportsDir, tag)
		gate.Now = p.opts.Now
		return gate.Run(ctx, decisionsPath)
	})
}

// Trust appends ledger rows for a decisions file.
func (p *Pipeline) Trust(ctx context.Context, decisionsPath, ledgerPath string) (*trust.Result, error) {
	return stage(ctx, StageTrust, func(ctx context.Context) (*trust.Result, error) {
		if err := requireFile(decisionsPath, "decisions"); err != nil {
			return nil, err
		}
		return trust.NewEmitter(p.opts.Trust, trust.WithClock(p.opts.Now)).Emit(ctx, decisionsPath, ledgerPath)
	})
}

// Enforce applies the ledger to a decisions file.
func (p *Pipeline) Enforce(ctx context.Context, decisionsPath, ledgerPath string) (*enforcement.Result, error) {
	return stage(ctx, StageEnforce, func(ctx context.Context) (*enforcement.Result, error) {
		if err := requireFile(decisionsPath, "decisions"); err != nil {
			return nil, err
		}
		if err := requireFile(ledgerPath, "trust ledger"); err != nil {
			return nil, err
		}
		return enforcement.Apply(ctx, decisionsPath, ledgerPath)
	})
}
