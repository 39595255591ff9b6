// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"fmt"
	"sort"
	"strings"
)

// Selection is the resolved set of rules to run.
type Selection struct {
	StuffingUser     bool
	StuffingIP       bool
	TokenReuse       bool
	ImpossibleTravel bool
}

// AllRules selects every built-in rule.
func AllRules() Selection {
	return Selection{StuffingUser: true, StuffingIP: true, TokenReuse: true, ImpossibleTravel: true}
}

// ruleAliases maps each accepted rule name onto the selection it enables.
var ruleAliases = map[string]func(*Selection){
	"all":               func(s *Selection) { *s = AllRules() },
	"stuffing":          func(s *Selection) { s.StuffingUser, s.StuffingIP = true, true },
	"stuffing_burst":    func(s *Selection) { s.StuffingUser, s.StuffingIP = true, true },
	"stuffing_user":     func(s *Selection) { s.StuffingUser = true },
	"stuffing_ip":       func(s *Selection) { s.StuffingIP = true },
	"token_reuse":       func(s *Selection) { s.TokenReuse = true },
	"token":             func(s *Selection) { s.TokenReuse = true },
	"travel":            func(s *Selection) { s.ImpossibleTravel = true },
	"impossible_travel": func(s *Selection) { s.ImpossibleTravel = true },
}

// RuleNames returns every accepted rule name, sorted.
func RuleNames() []string {
	names := make([]string, 0, len(ruleAliases))
	for n := range ruleAliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseRules resolves a list of rule names (each entry may itself be a comma
// separated list). An empty list selects every rule.
func ParseRules(names []string) (Selection, error) {
	var sel Selection
	seen := 0
	for _, entry := range names {
		for _, raw := range strings.Split(entry, ",") {
			name := strings.ToLower(strings.TrimSpace(raw))
			if name == "" {
				continue
			}
			apply, ok := ruleAliases[name]
			if !ok {
				return Selection{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownRule, name, strings.Join(RuleNames(), ", "))
			}
			apply(&sel)
			seen++
		}
	}
	if seen == 0 {
		return AllRules(), nil
	}
	return sel, nil
}

// Build instantiates the detectors for a selection, in a fixed order.
func Build(sel Selection, cfg Config) []Detector {
	var detectors []Detector
	if sel.StuffingUser || sel.StuffingIP {
		sc := cfg.Stuffing
		sc.TrackUser = sc.TrackUser && sel.StuffingUser
		sc.TrackIP = sc.TrackIP && sel.StuffingIP
		detectors = append(detectors, NewStuffingBurstDetector(sc, cfg.MaxKeys))
	}
	if sel.TokenReuse {
		detectors = append(detectors, NewTokenReuseDetector(cfg.TokenReuse, cfg.MaxKeys))
	}
	if sel.ImpossibleTravel {
		detectors = append(detectors, NewImpossibleTravelDetector(cfg.ImpossibleTravel))
	}
	return detectors
}
