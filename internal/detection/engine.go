// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/models"
)

// Failure records one detector error on one event.
type Failure struct {
	Detector string `json:"detector"`
	TS       string `json:"ts"`
	Error    string `json:"error"`
}

// Diagnostics summarizes an engine run.
type Diagnostics struct {
	EventsProcessed int            `json:"events_processed"`
	RulesDiscovered []string       `json:"rules_discovered"`
	RulesInvoked    []string       `json:"rules_invoked"`
	RulesFailed     []string       `json:"rules_failed"`
	Failures        []Failure      `json:"failures"`
	RuleHits        map[string]int `json:"rule_hits"`
}

// Result is the output of Engine.Run.
type Result struct {
	Alerts      []models.Alert `json:"-"`
	Diagnostics Diagnostics    `json:"diagnostics"`
}

// maxRecordedFailures bounds the failures kept in diagnostics per detector.
const maxRecordedFailures = 100

// Engine runs a fixed set of detectors over an event sequence.
type Engine struct {
	detectors []Detector
	security  *logging.SecurityLogger
}

// NewEngine creates an engine over the given detectors.
func NewEngine(detectors ...Detector) *Engine {
	return &Engine{
		detectors: detectors,
		security:  logging.NewSecurityLogger(),
	}
}

// Detectors returns the registered detector names in registration order.
func (e *Engine) Detectors() []string {
	names := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		names[i] = d.Name()
	}
	return names
}

type detectorPass struct {
	alerts   []models.Alert
	failures []Failure
	failed   int
}

// Run feeds every event, in order, to every detector. Each detector makes its
// own sequential pass on its own goroutine. A detector that errors or panics
// on an event is recorded and moves on to the next event. Alerts are merged
// and stably sorted by (ts, rule_id).
func (e *Engine) Run(ctx context.Context, events []models.Event) (*Result, error) {
	passes := make([]detectorPass, len(e.detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range e.detectors {
		i, d := i, d
		g.Go(func() error {
			return e.runPass(gctx, d, events, &passes[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Diagnostics: Diagnostics{
			EventsProcessed: len(events),
			RulesDiscovered: e.Detectors(),
			RulesInvoked:    []string{},
			RulesFailed:     []string{},
			Failures:        []Failure{},
			RuleHits:        map[string]int{},
		},
	}
	for i, d := range e.detectors {
		p := passes[i]
		res.Diagnostics.RulesInvoked = append(res.Diagnostics.RulesInvoked, d.Name())
		if p.failed > 0 {
			res.Diagnostics.RulesFailed = append(res.Diagnostics.RulesFailed, d.Name())
			res.Diagnostics.Failures = append(res.Diagnostics.Failures, p.failures...)
		}
		res.Alerts = append(res.Alerts, p.alerts...)
		metrics.RecordDetectorPass(d.Name(), len(events), p.failed)
	}
	for _, a := range res.Alerts {
		res.Diagnostics.RuleHits[a.RuleID]++
	}
	metrics.RecordAlerts(res.Diagnostics.RuleHits)

	SortAlerts(res.Alerts)

	logging.Ctx(ctx).Info().
		Int("events", len(events)).
		Int("alerts", len(res.Alerts)).
		Strs("rules_failed", res.Diagnostics.RulesFailed).
		Msg("Detection pass complete")

	return res, nil
}

func (e *Engine) runPass(ctx context.Context, d Detector, events []models.Event, out *detectorPass) error {
	for i := range events {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("detection cancelled: %w", err)
		}
		alerts, err := safeProcess(d, &events[i])
		if err != nil {
			out.failed++
			if len(out.failures) < maxRecordedFailures {
				out.failures = append(out.failures, Failure{
					Detector: d.Name(),
					TS:       events[i].TS.String(),
					Error:    err.Error(),
				})
			}
			e.security.LogDetectorFailure(d.Name(), events[i].TS.String(), err)
			continue
		}
		out.alerts = append(out.alerts, alerts...)
	}
	return nil
}

// safeProcess calls d.Process and converts a panic into a DetectorError.
func safeProcess(d Detector, ev *models.Event) (alerts []models.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alerts = nil
			err = &DetectorError{Detector: d.Name(), TS: ev.TS.String(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	alerts, err = d.Process(ev)
	if err != nil {
		return nil, &DetectorError{Detector: d.Name(), TS: ev.TS.String(), Err: err}
	}
	return alerts, nil
}

// SortAlerts orders alerts by timestamp then rule id, keeping the relative
// order of ties.
func SortAlerts(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ti, tj := alerts[i].TS.Time, alerts[j].TS.Time
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return alerts[i].RuleID < alerts[j].RuleID
	})
}
