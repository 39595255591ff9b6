// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package config loads BlackIce configuration from defaults, an optional
// YAML file and BLACKICE_* environment variables, in that order.
package config

import (
	"time"

	"github.com/tomtom215/blackice/internal/trust"
)

// Config is the full BlackIce configuration.
type Config struct {
	Detection DetectionConfig `koanf:"detection"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Trust     trust.Config    `koanf:"trust"`
	Audit     AuditConfig     `koanf:"audit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DetectionConfig selects rules and sizes their windows.
type DetectionConfig struct {
	// Rules is a list of rule names or aliases; empty means all.
	Rules []string `koanf:"rules"`

	// MaxKeys bounds tracked keys per detector (0 = unlimited).
	MaxKeys int `koanf:"max_keys" validate:"gte=0"`

	Stuffing         StuffingConfig         `koanf:"stuffing"`
	TokenReuse       TokenReuseConfig       `koanf:"token_reuse"`
	ImpossibleTravel ImpossibleTravelConfig `koanf:"impossible_travel"`
}

// StuffingConfig configures the credential stuffing burst detector.
type StuffingConfig struct {
	Window    time.Duration `koanf:"window" validate:"gt=0"`
	Threshold int           `koanf:"threshold" validate:"gte=1"`
	TrackUser bool          `koanf:"track_user"`
	TrackIP   bool          `koanf:"track_ip"`
}

// TokenReuseConfig configures the token reuse detector.
type TokenReuseConfig struct {
	Window       time.Duration `koanf:"window" validate:"gt=0"`
	MinDevices   int           `koanf:"min_devices" validate:"gte=2"`
	MinCountries int           `koanf:"min_countries" validate:"gte=2"`
}

// ImpossibleTravelConfig configures the impossible travel detector.
type ImpossibleTravelConfig struct {
	Window time.Duration `koanf:"window" validate:"gt=0"`
}

// ScoringConfig configures aggregation and the decision policy.
type ScoringConfig struct {
	// Weights override the built-in rule weights. Keys are rule ids, with
	// or without the RULE_ prefix.
	Weights       map[string]int `koanf:"weights"`
	DefaultWeight int            `koanf:"default_weight" validate:"gte=0"`
	MaxEvidence   int            `koanf:"max_evidence" validate:"gte=1"`
	TopRules      int            `koanf:"top_rules" validate:"gte=1"`

	Policy PolicyConfig `koanf:"policy"`
	Rings  RingsConfig  `koanf:"rings"`
	Model  ModelConfig  `koanf:"model"`
}

// PolicyConfig selects and parameterizes the decision policy.
type PolicyConfig struct {
	Kind       string `koanf:"kind" validate:"oneof=threshold cel"`
	Expression string `koanf:"expression"`

	BlockAt  int `koanf:"block_at" validate:"gte=0"`
	StepUpAt int `koanf:"step_up_at" validate:"gte=0"`

	// Ring escalation thresholds; 0 disables.
	RingBlockAt  float64 `koanf:"ring_block_at" validate:"gte=0"`
	RingStepUpAt float64 `koanf:"ring_step_up_at" validate:"gte=0"`
}

// RingsConfig controls ring detection.
type RingsConfig struct {
	Enabled bool `koanf:"enabled"`
	MinSize int  `koanf:"min_size" validate:"gte=2"`
}

// ModelConfig controls the baseline risk model.
type ModelConfig struct {
	Enabled bool `koanf:"enabled"`
}

// AuditConfig controls the decision normalization audit gate.
type AuditConfig struct {
	Mode string `koanf:"mode" validate:"oneof=off warn always strict"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics registry after each command.
	Textfile string `koanf:"textfile"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
