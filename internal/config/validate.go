// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/validation"
)

// Validate checks field bounds with struct tags, then the rules that span
// fields or need parsing.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if _, err := detection.ParseRules(c.Detection.Rules); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePolicy() error {
	p := c.Scoring.Policy
	if p.StepUpAt > p.BlockAt {
		return fmt.Errorf("scoring.policy.step_up_at (%d) must not exceed block_at (%d)", p.StepUpAt, p.BlockAt)
	}
	if p.RingBlockAt > 0 && p.RingStepUpAt > p.RingBlockAt {
		return fmt.Errorf("scoring.policy.ring_step_up_at (%g) must not exceed ring_block_at (%g)", p.RingStepUpAt, p.RingBlockAt)
	}
	if p.Kind == "cel" && strings.TrimSpace(p.Expression) == "" {
		return fmt.Errorf("scoring.policy.expression is required when kind is cel")
	}
	return nil
}
