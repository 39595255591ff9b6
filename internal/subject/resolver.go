// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package subject derives the (subject_type, subject_id) identity of alerts
// and decisions. Resolution never fails: when nothing identifies the record
// the result is unknown/unknown.
package subject

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/blackice/internal/models"
)

// hintOrder is the priority of identity fields on a record or its entity map.
var hintOrder = []struct {
	field       string
	subjectType string
}{
	{"user_id", models.SubjectUser},
	{"session_id", models.SubjectSession},
	{"token_id", models.SubjectToken},
	{"ip", models.SubjectIP},
	{"src_ip", models.SubjectIP},
}

// evidenceIPFields are consulted last, inside an alert's evidence.
var evidenceIPFields = []string{"current_ip", "src_ip"}

// ResolveAlert resolves the subject of a typed alert.
func ResolveAlert(a *models.Alert) models.Subject {
	if a.SubjectType != "" && a.SubjectID != "" {
		return models.Subject{Type: a.SubjectType, ID: a.SubjectID}
	}
	for _, h := range []struct {
		value string
		typ   string
	}{
		{a.UserID, models.SubjectUser},
		{a.SessionID, models.SubjectSession},
		{a.TokenID, models.SubjectToken},
		{a.IP, models.SubjectIP},
	} {
		if h.value != "" {
			return models.Subject{Type: h.typ, ID: h.value}
		}
	}
	for _, h := range hintOrder {
		if v := a.Entity[h.field]; v != "" {
			return models.Subject{Type: h.subjectType, ID: v}
		}
	}
	for _, f := range evidenceIPFields {
		if v, ok := Stringify(a.Evidence[f]); ok {
			return models.Subject{Type: models.SubjectIP, ID: v}
		}
	}
	return models.UnknownSubject
}

// ResolveRecord resolves the subject of a generic decoded record, such as a
// decision or an alert read from a legacy file.
func ResolveRecord(rec map[string]any) models.Subject {
	if s, ok := Explicit(rec); ok {
		return s
	}
	if s, ok := fromHints(rec); ok {
		return s
	}
	if entity, ok := rec["entity"].(map[string]any); ok {
		if s, ok := fromHints(entity); ok {
			return s
		}
	}
	if evidence, ok := rec["evidence"].(map[string]any); ok {
		for _, f := range evidenceIPFields {
			if v, ok := Stringify(evidence[f]); ok {
				return models.Subject{Type: models.SubjectIP, ID: v}
			}
		}
	}
	return models.UnknownSubject
}

// Explicit returns the record's own subject_type/subject_id when both are
// present and non-empty. subject_id is stringified.
func Explicit(rec map[string]any) (models.Subject, bool) {
	typ, ok := Stringify(rec["subject_type"])
	if !ok {
		return models.Subject{}, false
	}
	id, ok := Stringify(rec["subject_id"])
	if !ok {
		return models.Subject{}, false
	}
	return models.Subject{Type: typ, ID: id}, true
}

func fromHints(rec map[string]any) (models.Subject, bool) {
	for _, h := range hintOrder {
		if v, ok := Stringify(rec[h.field]); ok {
			return models.Subject{Type: h.subjectType, ID: v}, true
		}
	}
	return models.Subject{}, false
}

// Stringify renders a scalar JSON value as a non-empty string. Objects,
// arrays, null, booleans and blank strings yield ok=false.
func Stringify(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ResolveEvent resolves the subject an event would be scored under, using the
// same identity priority as alerts.
func ResolveEvent(ev *models.Event) models.Subject {
	switch {
	case ev.UserID != "":
		return models.Subject{Type: models.SubjectUser, ID: ev.UserID}
	case ev.SessionID != "":
		return models.Subject{Type: models.SubjectSession, ID: ev.SessionID}
	case ev.TokenID != "":
		return models.Subject{Type: models.SubjectToken, ID: ev.TokenID}
	case ev.IP != "":
		return models.Subject{Type: models.SubjectIP, ID: ev.IP}
	default:
		return models.UnknownSubject
	}
}
