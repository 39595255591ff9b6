// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package models

import "github.com/goccy/go-json"

// Rule identifiers emitted by the built-in detectors.
const (
	RuleStuffingBurstUser      = "RULE_STUFFING_BURST_USER"
	RuleStuffingBurstIP        = "RULE_STUFFING_BURST_IP"
	RuleTokenReuseMultiDevice  = "RULE_TOKEN_REUSE_MULTI_DEVICE"
	RuleTokenReuseMultiCountry = "RULE_TOKEN_REUSE_MULTI_COUNTRY"
	RuleImpossibleTravel       = "RULE_IMPOSSIBLE_TRAVEL"
)

// Alert is a single detector finding.
type Alert struct {
	RuleID      string            `json:"rule_id"`
	TS          Timestamp         `json:"ts"`
	RiskScore   int               `json:"risk_score"`
	UserID      string            `json:"user_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	TokenID     string            `json:"token_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	DeviceID    string            `json:"device_id,omitempty"`
	Country     string            `json:"country,omitempty"`
	Entity      map[string]string `json:"entity,omitempty"`
	Evidence    map[string]any    `json:"evidence,omitempty"`
	ReasonCodes []string          `json:"reason_codes,omitempty"`
	SubjectType string            `json:"subject_type,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
}

// UnmarshalJSON accepts the legacy src_ip field as an alias for ip.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	aux := struct {
		*plain
		SrcIP string `json:"src_ip"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if a.IP == "" {
		a.IP = aux.SrcIP
	}
	return nil
}

// AlertFromEvent seeds an alert with the identity fields of ev.
func AlertFromEvent(ruleID string, score int, ev *Event) Alert {
	return Alert{
		RuleID:    ruleID,
		TS:        ev.TS,
		RiskScore: score,
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		TokenID:   ev.TokenID,
		IP:        ev.IP,
		DeviceID:  ev.DeviceID,
		Country:   ev.Country,
	}
}
