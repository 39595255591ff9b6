// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package models defines the records that flow between pipeline stages:
// events, alerts, decisions, trust ledger rows and audit reports.
package models

import (
	"strings"

	"github.com/goccy/go-json"
)

// Event is one authentication or access event.
type Event struct {
	TS        Timestamp `json:"ts"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Country   string    `json:"country,omitempty"`
	EventType string    `json:"event_type"`
	Outcome   string    `json:"outcome,omitempty"`
}

// UnmarshalJSON accepts the legacy src_ip field as an alias for ip.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	aux := struct {
		*plain
		SrcIP string `json:"src_ip"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.IP == "" {
		e.IP = aux.SrcIP
	}
	return nil
}

var failureEventTypes = map[string]struct{}{
	"login_fail":    {},
	"auth_fail":     {},
	"signin_fail":   {},
	"password_fail": {},
}

var failureOutcomes = map[string]struct{}{
	"fail":    {},
	"failed":  {},
	"failure": {},
	"invalid": {},
}

// IsAuthFailure reports whether the event is a failed authentication attempt.
func (e *Event) IsAuthFailure() bool {
	if _, ok := failureEventTypes[strings.ToLower(e.EventType)]; ok {
		return true
	}
	_, ok := failureOutcomes[strings.ToLower(e.Outcome)]
	return ok
}
