// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package risk holds pluggable per-subject risk models and the feature
// extraction that feeds them.
package risk

import (
	"fmt"

	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/subject"
)

// FeatureOrder names the columns of a feature vector.
var FeatureOrder = []string{"event_count", "unique_ips", "unique_devices", "unique_countries"}

// Features summarizes one subject's events.
type Features struct {
	EventCount      float64 `json:"event_count"`
	UniqueIPs       float64 `json:"unique_ips"`
	UniqueDevices   float64 `json:"unique_devices"`
	UniqueCountries float64 `json:"unique_countries"`
}

// Vector returns the features in FeatureOrder.
func (f Features) Vector() []float64 {
	return []float64{f.EventCount, f.UniqueIPs, f.UniqueDevices, f.UniqueCountries}
}

// Model scores feature vectors with a probability-like risk in [0, 1].
type Model interface {
	Fit(x [][]float64, y []int) error
	PredictProba(x [][]float64) ([]float64, error)
}

// LogisticModel is a fixed-weight baseline: a weighted sum of the features
// squashed to 0..1 by score/(score+Scale).
type LogisticModel struct {
	Weights []float64
	Scale   float64
}

// NewLogisticModel returns the baseline model.
func NewLogisticModel() *LogisticModel {
	return &LogisticModel{
		Weights: []float64{0.05, 0.35, 0.45, 0.80},
		Scale:   5.0,
	}
}

// Fit is a no-op; the baseline weights are fixed.
func (m *LogisticModel) Fit(_ [][]float64, _ []int) error {
	return nil
}

// PredictProba scores each row.
func (m *LogisticModel) PredictProba(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, len(m.Weights), len(row))
		}
		var score float64
		for j, w := range m.Weights {
			score += w * row[j]
		}
		if score <= 0 {
			out[i] = 0
			continue
		}
		out[i] = score / (score + m.Scale)
	}
	return out, nil
}

// ExtractFeatures summarizes a set of events.
func ExtractFeatures(events []models.Event) Features {
	ips := map[string]struct{}{}
	devices := map[string]struct{}{}
	countries := map[string]struct{}{}
	for i := range events {
		if events[i].IP != "" {
			ips[events[i].IP] = struct{}{}
		}
		if events[i].DeviceID != "" {
			devices[events[i].DeviceID] = struct{}{}
		}
		if events[i].Country != "" {
			countries[events[i].Country] = struct{}{}
		}
	}
	return Features{
		EventCount:      float64(len(events)),
		UniqueIPs:       float64(len(ips)),
		UniqueDevices:   float64(len(devices)),
		UniqueCountries: float64(len(countries)),
	}
}

// FeaturesBySubject groups events by resolved subject and extracts features
// for each group.
func FeaturesBySubject(events []models.Event) map[models.Subject]Features {
	groups := make(map[models.Subject][]models.Event)
	for i := range events {
		s := subject.ResolveEvent(&events[i])
		groups[s] = append(groups[s], events[i])
	}
	out := make(map[models.Subject]Features, len(groups))
	for s, evs := range groups {
		out[s] = ExtractFeatures(evs)
	}
	return out
}

// ScoreSubjects runs model over every subject's features.
func ScoreSubjects(model Model, features map[models.Subject]Features) (map[models.Subject]float64, error) {
	subjects := make([]models.Subject, 0, len(features))
	rows := make([][]float64, 0, len(features))
	for s, f := range features {
		subjects = append(subjects, s)
		rows = append(rows, f.Vector())
	}
	probs, err := model.PredictProba(rows)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(probs) != len(subjects) {
		return nil, fmt.Errorf("model returned %d scores for %d subjects", len(probs), len(subjects))
	}
	out := make(map[models.Subject]float64, len(subjects))
	for i, s := range subjects {
		out[s] = probs[i]
	}
	return out, nil
}
