// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package logging

import (
	"github.com/rs/zerolog"
)

// SecurityLogger records security-relevant pipeline outcomes: enforcement
// overrides, audit violations and detector failures. Credential-like
// identifiers are masked before they reach the log.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on top of the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: WithComponent("security"),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "security").Logger(),
	}
}

// LogEnforcementOverride logs a decision whose action was replaced by trust enforcement.
func (l *SecurityLogger) LogEnforcementOverride(subjectType, subjectID, action, enforced, reason string, trustAfter float64) {
	l.logger.Warn().
		Str("event", "enforcement_override").
		Str("subject_type", subjectType).
		Str("subject_id", SanitizeSubjectID(subjectType, subjectID)).
		Str("action", action).
		Str("enforced_action", enforced).
		Str("reason", reason).
		Float64("trust_after", trustAfter).
		Msg("Trust enforcement override")
}

// LogAuditViolation logs a strict-mode normalization violation.
func (l *SecurityLogger) LogAuditViolation(path, hashBefore, hashAfter, reportPath string) {
	l.logger.Error().
		Str("event", "audit_violation").
		Str("decisions_path", path).
		Str("hash_before", hashBefore).
		Str("hash_after", hashAfter).
		Str("report", reportPath).
		Msg("Decision normalization changed content in strict mode")
}

// LogDetectorFailure logs a detector that failed on one event.
func (l *SecurityLogger) LogDetectorFailure(rule string, ts string, err error) {
	l.logger.Error().
		Err(err).
		Str("event", "detector_failure").
		Str("rule", rule).
		Str("event_ts", ts).
		Msg("Detector failed on event")
}

// SanitizeToken masks a token, showing only first and last 4 characters.
// Example: "tok_8f3a92b1c4d5e6f7" -> "tok_...e6f7"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeSubjectID masks token and session subjects; other subject types are
// logged as-is.
func SanitizeSubjectID(subjectType, subjectID string) string {
	switch subjectType {
	case "token", "session":
		return SanitizeToken(subjectID)
	default:
		return subjectID
	}
}
