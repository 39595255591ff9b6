// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"sort"

	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/window"
)

const (
	tokenMultiDeviceScore  = 85
	tokenMultiCountryScore = 90
)

type tokenSighting struct {
	device  string
	country string
}

// TokenReuseDetector flags a session token presented from several devices or
// several countries within the window.
type TokenReuseDetector struct {
	config TokenReuseConfig
	tokens *window.Store[tokenSighting]
}

// NewTokenReuseDetector creates a token reuse detector.
func NewTokenReuseDetector(cfg TokenReuseConfig, maxKeys int) *TokenReuseDetector {
	return &TokenReuseDetector{
		config: cfg,
		tokens: window.NewStore[tokenSighting](cfg.Window, maxKeys),
	}
}

// Name returns the detector name.
func (d *TokenReuseDetector) Name() string {
	return DetectorTokenReuse
}

// Process records the token sighting and checks distinct devices and countries.
func (d *TokenReuseDetector) Process(ev *models.Event) ([]models.Alert, error) {
	if ev.TokenID == "" {
		return nil, nil
	}

	w := d.tokens.Observe(ev.TokenID, ev.TS.Time, tokenSighting{device: ev.DeviceID, country: ev.Country})

	devices := map[string]struct{}{}
	countries := map[string]struct{}{}
	for _, e := range w.Entries() {
		if e.Value.device != "" {
			devices[e.Value.device] = struct{}{}
		}
		if e.Value.country != "" {
			countries[e.Value.country] = struct{}{}
		}
	}

	var alerts []models.Alert
	if len(devices) >= d.config.MinDevices {
		alerts = append(alerts, d.alert(ev, models.RuleTokenReuseMultiDevice, tokenMultiDeviceScore, "multi_device", devices, countries, w.Len()))
	}
	if len(countries) >= d.config.MinCountries {
		alerts = append(alerts, d.alert(ev, models.RuleTokenReuseMultiCountry, tokenMultiCountryScore, "multi_country", devices, countries, w.Len()))
	}
	return alerts, nil
}

func (d *TokenReuseDetector) alert(ev *models.Event, rule string, score int, reason string, devices, countries map[string]struct{}, seen int) models.Alert {
	a := models.AlertFromEvent(rule, score, ev)
	a.Entity = map[string]string{"token_id": ev.TokenID}
	if ev.UserID != "" {
		a.Entity["user_id"] = ev.UserID
	}
	if ev.IP != "" {
		a.Entity["ip"] = ev.IP
	}
	a.Evidence = map[string]any{
		"devices":        sortedKeys(devices),
		"countries":      sortedKeys(countries),
		"sightings":      seen,
		"window_seconds": int(d.config.Window.Seconds()),
	}
	a.ReasonCodes = []string{"token_reuse", reason}
	return a
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
