// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"time"

	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/window"
)

const impossibleTravelScore = 85

// ImpossibleTravelDetector flags a user appearing in two different countries
// closer together in time than the window allows. Only the most recent
// located event per user is kept.
type ImpossibleTravelDetector struct {
	config ImpossibleTravelConfig
	last   *window.Latest[models.Event]
}

// NewImpossibleTravelDetector creates an impossible travel detector.
func NewImpossibleTravelDetector(cfg ImpossibleTravelConfig) *ImpossibleTravelDetector {
	return &ImpossibleTravelDetector{
		config: cfg,
		last:   window.NewLatest[models.Event](),
	}
}

// Name returns the detector name.
func (d *ImpossibleTravelDetector) Name() string {
	return DetectorImpossibleTravel
}

// Process compares the event with the user's previous located event and
// then replaces it.
func (d *ImpossibleTravelDetector) Process(ev *models.Event) ([]models.Alert, error) {
	if ev.UserID == "" || ev.Country == "" {
		return nil, nil
	}

	prev, ok := d.last.Swap(ev.UserID, *ev)
	if !ok || prev.Country == ev.Country {
		return nil, nil
	}

	delta := ev.TS.Sub(prev.TS.Time)
	if delta < 0 {
		delta = -delta
	}
	if delta > d.config.Window {
		return nil, nil
	}

	evidence := map[string]any{
		"prev_country":       prev.Country,
		"current_country":    ev.Country,
		"prev_ts":            prev.TS.String(),
		"time_delta_seconds": int64(delta / time.Second),
		"window_seconds":     int64(d.config.Window / time.Second),
	}
	putIfSet(evidence, "prev_ip", prev.IP)
	putIfSet(evidence, "current_ip", ev.IP)
	putIfSet(evidence, "prev_device", prev.DeviceID)
	putIfSet(evidence, "current_device", ev.DeviceID)

	a := models.AlertFromEvent(models.RuleImpossibleTravel, impossibleTravelScore, ev)
	a.Entity = map[string]string{"user_id": ev.UserID}
	a.Evidence = evidence
	a.ReasonCodes = []string{"impossible_travel", "country_change"}
	return []models.Alert{a}, nil
}

func putIfSet(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
