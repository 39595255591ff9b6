// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package detection runs stateful, windowed behavioral rules over an ordered
// stream of authentication events and emits alerts.
//
// Each Detector owns private per-key state and is driven by exactly one
// goroutine for the length of a pass; the Engine runs detectors in parallel
// and merges their alerts in a deterministic order.
package detection

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/blackice/internal/models"
)

// Detector names, as reported in diagnostics.
const (
	DetectorStuffingBurst    = "stuffing_burst"
	DetectorTokenReuse       = "token_reuse"
	DetectorImpossibleTravel = "impossible_travel"
)

// Detector evaluates events one at a time against a behavioral rule.
// Implementations are not safe for concurrent use; the engine gives each
// detector its own goroutine.
type Detector interface {
	// Name identifies the detector in diagnostics and metrics.
	Name() string

	// Process consumes one event and returns the alerts it triggers.
	Process(ev *models.Event) ([]models.Alert, error)
}

// ErrUnknownRule is returned when a rule selection names no detector.
var ErrUnknownRule = errors.New("unknown rule")

// DetectorError describes a detector failing on a single event.
type DetectorError struct {
	Detector string
	TS       string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s failed at %s: %v", e.Detector, e.TS, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// StuffingConfig configures the credential stuffing burst detector.
type StuffingConfig struct {
	Window    time.Duration
	Threshold int
	TrackUser bool
	TrackIP   bool
}

// DefaultStuffingConfig returns a 60s window with threshold 3 on both keys.
func DefaultStuffingConfig() StuffingConfig {
	return StuffingConfig{
		Window:    60 * time.Second,
		Threshold: 3,
		TrackUser: true,
		TrackIP:   true,
	}
}

// TokenReuseConfig configures the token reuse detector.
type TokenReuseConfig struct {
	Window       time.Duration
	MinDevices   int
	MinCountries int
}

// DefaultTokenReuseConfig returns a one hour window needing 2 devices or 2 countries.
func DefaultTokenReuseConfig() TokenReuseConfig {
	return TokenReuseConfig{
		Window:       time.Hour,
		MinDevices:   2,
		MinCountries: 2,
	}
}

// ImpossibleTravelConfig configures the impossible travel detector.
type ImpossibleTravelConfig struct {
	Window time.Duration
}

// DefaultImpossibleTravelConfig returns a six hour window.
func DefaultImpossibleTravelConfig() ImpossibleTravelConfig {
	return ImpossibleTravelConfig{Window: 6 * time.Hour}
}

// Config groups the configuration of every built-in detector.
type Config struct {
	Stuffing         StuffingConfig
	TokenReuse       TokenReuseConfig
	ImpossibleTravel ImpossibleTravelConfig

	// MaxKeys bounds tracked keys per detector window store (0 = unlimited).
	MaxKeys int
}

// DefaultConfig returns the default configuration for every detector.
func DefaultConfig() Config {
	return Config{
		Stuffing:         DefaultStuffingConfig(),
		TokenReuse:       DefaultTokenReuseConfig(),
		ImpossibleTravel: DefaultImpossibleTravelConfig(),
	}
}
