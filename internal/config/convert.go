// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package config

import (
	"fmt"

	"github.com/tomtom215/blackice/internal/detection"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/normalize"
	"github.com/tomtom215/blackice/internal/pipeline"
	"github.com/tomtom215/blackice/internal/policy"
	"github.com/tomtom215/blackice/internal/risk"
	"github.com/tomtom215/blackice/internal/scoring"
)

// DetectorConfig returns the detection engine configuration.
func (c *Config) DetectorConfig() detection.Config {
	d := c.Detection
	return detection.Config{
		Stuffing: detection.StuffingConfig{
			Window:    d.Stuffing.Window,
			Threshold: d.Stuffing.Threshold,
			TrackUser: d.Stuffing.TrackUser,
			TrackIP:   d.Stuffing.TrackIP,
		},
		TokenReuse: detection.TokenReuseConfig{
			Window:       d.TokenReuse.Window,
			MinDevices:   d.TokenReuse.MinDevices,
			MinCountries: d.TokenReuse.MinCountries,
		},
		ImpossibleTravel: detection.ImpossibleTravelConfig{
			Window: d.ImpossibleTravel.Window,
		},
		MaxKeys: d.MaxKeys,
	}
}

// AggregatorConfig returns the scoring configuration. Configured weights
// override the built-in ones rule by rule.
func (c *Config) AggregatorConfig() scoring.Config {
	base := scoring.Config{
		Weights:       scoring.DefaultWeights(),
		DefaultWeight: c.Scoring.DefaultWeight,
		MaxEvidence:   c.Scoring.MaxEvidence,
		TopRules:      c.Scoring.TopRules,
	}
	return base.WithWeights(c.Scoring.Weights)
}

// BuildPolicy constructs the configured decision policy. A CEL policy falls
// back to the threshold policy built from the same section.
func (c *Config) BuildPolicy() (policy.Policy, error) {
	p := c.Scoring.Policy
	threshold := &policy.ThresholdPolicy{
		BlockAt:      p.BlockAt,
		StepUpAt:     p.StepUpAt,
		RingBlockAt:  p.RingBlockAt,
		RingStepUpAt: p.RingStepUpAt,
	}
	if p.Kind != "cel" {
		return threshold, nil
	}
	cp, err := policy.NewCELPolicy(p.Expression, threshold)
	if err != nil {
		return nil, fmt.Errorf("scoring.policy.expression: %w", err)
	}
	return cp, nil
}

// LoggingSettings returns the logger configuration.
func (c *Config) LoggingSettings() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}

// PipelineOptions assembles pipeline options from the configuration.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	rules, err := detection.ParseRules(c.Detection.Rules)
	if err != nil {
		return opts, err
	}
	mode, err := normalize.ParseMode(c.Audit.Mode)
	if err != nil {
		return opts, err
	}
	pol, err := c.BuildPolicy()
	if err != nil {
		return opts, err
	}

	opts.Detection = c.DetectorConfig()
	opts.Rules = rules
	opts.Scoring = c.AggregatorConfig()
	opts.Policy = pol
	opts.Trust = c.Trust
	opts.AuditMode = mode
	opts.Rings = pipeline.RingOptions{Enabled: c.Scoring.Rings.Enabled, MinSize: c.Scoring.Rings.MinSize}
	if c.Scoring.Model.Enabled {
		opts.Model = risk.NewLogisticModel()
	}
	return opts, nil
}
