// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/blackice/internal/trust"
)

// DefaultConfigPaths lists the paths searched for a config file when none is
// given. The first file found is used.
var DefaultConfigPaths = []string{
	"blackice.yaml",
	"blackice.yml",
	"/etc/blackice/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "BLACKICE_CONFIG"

const envPrefix = "BLACKICE_"

// defaultConfig returns the built-in defaults. File and environment values
// are layered on top.
func defaultConfig() *Config {
	return &Config{
		Detection: DetectionConfig{
			Rules:   []string{"all"},
			MaxKeys: 0,
			Stuffing: StuffingConfig{
				Window:    60 * time.Second,
				Threshold: 3,
				TrackUser: true,
				TrackIP:   true,
			},
			TokenReuse: TokenReuseConfig{
				Window:       time.Hour,
				MinDevices:   2,
				MinCountries: 2,
			},
			ImpossibleTravel: ImpossibleTravelConfig{
				Window: 6 * time.Hour,
			},
		},
		Scoring: ScoringConfig{
			DefaultWeight: 10,
			MaxEvidence:   50,
			TopRules:      5,
			Policy: PolicyConfig{
				Kind:     "threshold",
				BlockAt:  90,
				StepUpAt: 50,
			},
			Rings: RingsConfig{
				Enabled: false,
				MinSize: 4,
			},
		},
		Trust: trust.DefaultConfig(),
		Audit: AuditConfig{
			Mode: "warn",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: struct defaults, then the YAML file at path
// (or BLACKICE_CONFIG, or the first of DefaultConfigPaths that exists), then
// BLACKICE_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile resolves the config file. An explicit path, from the
// argument or the environment, must exist; default paths are optional.
func findConfigFile(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(ConfigPathEnvVar)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// sliceConfigPaths are keys that accept comma separated strings from env.
var sliceConfigPaths = []string{
	"detection.rules",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps BLACKICE_* variables (prefix stripped, lowercased) to
// config keys.
var envMappings = map[string]string{
	"rules":                     "detection.rules",
	"max_keys":                  "detection.max_keys",
	"stuffing_window":           "detection.stuffing.window",
	"stuffing_threshold":        "detection.stuffing.threshold",
	"token_reuse_window":        "detection.token_reuse.window",
	"token_reuse_min_devices":   "detection.token_reuse.min_devices",
	"token_reuse_min_countries": "detection.token_reuse.min_countries",
	"impossible_travel_window":  "detection.impossible_travel.window",
	"default_weight":            "scoring.default_weight",
	"max_evidence":              "scoring.max_evidence",
	"policy_kind":               "scoring.policy.kind",
	"policy_expression":         "scoring.policy.expression",
	"policy_block_at":           "scoring.policy.block_at",
	"policy_step_up_at":         "scoring.policy.step_up_at",
	"policy_ring_block_at":      "scoring.policy.ring_block_at",
	"policy_ring_step_up_at":    "scoring.policy.ring_step_up_at",
	"rings_enabled":             "scoring.rings.enabled",
	"rings_min_size":            "scoring.rings.min_size",
	"model_enabled":             "scoring.model.enabled",
	"trust_initial":             "trust.initial",
	"trust_block_penalty":       "trust.block_penalty",
	"trust_step_up_penalty":     "trust.step_up_penalty",
	"trust_allow_recovery":      "trust.allow_recovery",
	"trust_block_below":         "trust.block_below",
	"trust_step_up_below":       "trust.step_up_below",
	"audit_mode":                "audit.mode",
	"metrics_textfile":          "metrics.textfile",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
	"log_caller":                "logging.caller",
}

// envTransformFunc maps an environment variable to a config key. Unmapped
// variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}
