// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package models

// TrustRow is one immutable trust ledger entry. EnforcementReason is null
// when the enforced action equals the decided one.
type TrustRow struct {
	TS                Timestamp `json:"ts"`
	SubjectType       string    `json:"subject_type"`
	SubjectID         string    `json:"subject_id"`
	Action            Action    `json:"action"`
	EnforcedAction    Action    `json:"enforced_action"`
	EnforcementReason *string   `json:"enforcement_reason"`
	TrustBefore       float64   `json:"trust_before"`
	TrustAfter        float64   `json:"trust_after"`
}

// Subject returns the row's subject.
func (r *TrustRow) Subject() Subject {
	return Subject{Type: r.SubjectType, ID: r.SubjectID}
}

// AuditReport records what decision normalization did to a decisions file.
type AuditReport struct {
	Tag              string    `json:"tag"`
	Mode             string    `json:"mode"`
	Changed          bool      `json:"changed"`
	Committed        bool      `json:"committed"`
	Total            int       `json:"total"`
	Written          int       `json:"written"`
	Malformed        int       `json:"malformed"`
	SubjectConflicts int       `json:"subject_conflicts"`
	HashBefore       string    `json:"hash_before"`
	HashAfter        string    `json:"hash_after"`
	BytesBefore      int       `json:"bytes_before"`
	BytesAfter       int       `json:"bytes_after"`
	DecisionsPath    string    `json:"decisions_path"`
	TS               Timestamp `json:"ts"`
}
