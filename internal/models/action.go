// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package models

import "strings"

// Action is an access decision.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionStepUp Action = "STEP_UP"
	ActionBlock  Action = "BLOCK"
)

// NormalizeAction maps legacy spellings onto the canonical actions
// (DENY is BLOCK, MFA and STEPUP are STEP_UP). Unknown or empty values
// become ALLOW.
func NormalizeAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BLOCK", "DENY":
		return ActionBlock
	case "STEP_UP", "STEPUP", "STEP-UP", "MFA":
		return ActionStepUp
	default:
		return ActionAllow
	}
}

// ParseAction is NormalizeAction for callers that must reject unknown
// values instead of defaulting them.
func ParseAction(s string) (Action, bool) {
	a := NormalizeAction(s)
	if a == ActionAllow && !strings.EqualFold(strings.TrimSpace(s), string(ActionAllow)) {
		return "", false
	}
	return a, true
}

// IsValid reports whether a is one of the canonical actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionAllow, ActionStepUp, ActionBlock:
		return true
	}
	return false
}

// Strictness orders actions: ALLOW < STEP_UP < BLOCK.
func (a Action) Strictness() int {
	switch a {
	case ActionBlock:
		return 2
	case ActionStepUp:
		return 1
	default:
		return 0
	}
}

// Stricter returns whichever of a and b is more restrictive.
func Stricter(a, b Action) Action {
	if b.Strictness() > a.Strictness() {
		return b
	}
	return a
}
