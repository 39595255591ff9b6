// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"github.com/tomtom215/blackice/internal/models"
	"github.com/tomtom215/blackice/internal/window"
)

const (
	stuffingUserScore = 65
	stuffingIPScore   = 70
)

// StuffingBurstDetector flags bursts of failed authentications against one
// user or from one IP inside a short window.
type StuffingBurstDetector struct {
	config StuffingConfig
	byUser *window.Store[struct{}]
	byIP   *window.Store[struct{}]
}

// NewStuffingBurstDetector creates a stuffing burst detector.
func NewStuffingBurstDetector(cfg StuffingConfig, maxKeys int) *StuffingBurstDetector {
	return &StuffingBurstDetector{
		config: cfg,
		byUser: window.NewStore[struct{}](cfg.Window, maxKeys),
		byIP:   window.NewStore[struct{}](cfg.Window, maxKeys),
	}
}

// Name returns the detector name.
func (d *StuffingBurstDetector) Name() string {
	return DetectorStuffingBurst
}

// Process advances the failure windows for the event's user and IP.
// Only failed authentications are counted; everything else is ignored.
func (d *StuffingBurstDetector) Process(ev *models.Event) ([]models.Alert, error) {
	if !ev.IsAuthFailure() {
		return nil, nil
	}

	var alerts []models.Alert
	now := ev.TS.Time

	if d.config.TrackUser && ev.UserID != "" {
		w := d.byUser.Observe(ev.UserID, now, struct{}{})
		if w.Len() >= d.config.Threshold {
			a := models.AlertFromEvent(models.RuleStuffingBurstUser, stuffingUserScore, ev)
			a.Entity = map[string]string{"user_id": ev.UserID}
			a.Evidence = map[string]any{
				"failures_in_window": w.Len(),
				"window_seconds":     int(d.config.Window.Seconds()),
				"threshold":          d.config.Threshold,
			}
			a.ReasonCodes = []string{"failed_auth_burst", "per_user"}
			alerts = append(alerts, a)
		}
	}

	if d.config.TrackIP && ev.IP != "" {
		w := d.byIP.Observe(ev.IP, now, struct{}{})
		if w.Len() >= d.config.Threshold {
			a := models.AlertFromEvent(models.RuleStuffingBurstIP, stuffingIPScore, ev)
			// subject hint is the ip only, so the alert groups under the source address
			a.UserID = ""
			a.SessionID = ""
			a.TokenID = ""
			a.Entity = map[string]string{"ip": ev.IP}
			a.Evidence = map[string]any{
				"failures_in_window": w.Len(),
				"window_seconds":     int(d.config.Window.Seconds()),
				"threshold":          d.config.Threshold,
				"user_id":            ev.UserID,
			}
			a.ReasonCodes = []string{"failed_auth_burst", "per_ip"}
			alerts = append(alerts, a)
		}
	}

	return alerts, nil
}
