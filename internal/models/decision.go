// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package models

// Subject is the entity a decision or trust score is about.
type Subject struct {
	Type string `json:"subject_type"`
	ID   string `json:"subject_id"`
}

// Subject types.
const (
	SubjectUser    = "user"
	SubjectIP      = "ip"
	SubjectToken   = "token"
	SubjectSession = "session"
	SubjectDevice  = "device"
	SubjectUnknown = "unknown"
)

// UnknownSubject is the fallback identity when nothing can be resolved.
var UnknownSubject = Subject{Type: SubjectUnknown, ID: SubjectUnknown}

// Less orders subjects by type then id.
func (s Subject) Less(o Subject) bool {
	if s.Type != o.Type {
		return s.Type < o.Type
	}
	return s.ID < o.ID
}

// EvidenceRow is one alert summarized inside a decision's explanation.
type EvidenceRow struct {
	TS          Timestamp `json:"ts"`
	RuleID      string    `json:"rule_id"`
	Severity    int       `json:"severity"`
	UserID      string    `json:"user_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	TokenID     string    `json:"token_id,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Country     string    `json:"country,omitempty"`
	SubjectType string    `json:"subject_type,omitempty"`
	SubjectID   string    `json:"subject_id,omitempty"`
}

// Explain carries the reasons behind a decision.
type Explain struct {
	TopRules []string       `json:"top_rules"`
	Evidence []EvidenceRow  `json:"evidence"`
	Context  map[string]any `json:"context,omitempty"`
}

// Decision is the per-subject scoring outcome.
type Decision struct {
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	TSFirst     Timestamp `json:"ts_first"`
	TSLast      Timestamp `json:"ts_last"`
	RiskScore   int       `json:"risk_score"`
	Action      Action    `json:"action"`
	Explain     Explain   `json:"explain"`
}

// Subject returns the decision's subject.
func (d *Decision) Subject() Subject {
	return Subject{Type: d.SubjectType, ID: d.SubjectID}
}
