// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/logging"
	"github.com/tomtom215/blackice/internal/metrics"
	"github.com/tomtom215/blackice/internal/models"
)

// Mode controls what the audit gate does when normalization changes content.
type Mode string

const (
	// ModeOff normalizes and commits silently.
	ModeOff Mode = "off"
	// ModeWarn commits and writes a report only when content changed.
	ModeWarn Mode = "warn"
	// ModeAlways commits and always writes a report.
	ModeAlways Mode = "always"
	// ModeStrict refuses to commit changed content and fails the run.
	ModeStrict Mode = "strict"
)

var (
	// ErrAuditNormalizationViolation is returned in strict mode when
	// normalization would have changed the decisions file.
	ErrAuditNormalizationViolation = errors.New("audit normalization violation")

	// ErrInvalidAuditMode is returned for an unrecognized mode string.
	ErrInvalidAuditMode = errors.New("invalid audit mode")
)

// Modes lists the accepted audit modes.
func Modes() []Mode {
	return []Mode{ModeOff, ModeWarn, ModeAlways, ModeStrict}
}

// ModeList renders Modes as a comma separated list.
func ModeList() string {
	names := make([]string, 0, len(Modes()))
	for _, m := range Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// ParseMode validates an audit mode string. Empty means warn.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeWarn, nil
	case ModeOff, ModeWarn, ModeAlways, ModeStrict:
		return m, nil
	default:
		return "", fmt.Errorf("%w %q (valid: %s)", ErrInvalidAuditMode, s, ModeList())
	}
}

// Gate normalizes a decisions file under an audit mode.
type Gate struct {
	Mode       Mode
	ReportsDir string
	Tag        string
	Now        func() time.Time

	security *logging.SecurityLogger
}

// NewGate creates a gate writing reports under reportsDir.
func NewGate(mode Mode, reportsDir, tag string) *Gate {
	if tag == "" {
		tag = "decisions"
	}
	return &Gate{
		Mode:       mode,
		ReportsDir: reportsDir,
		Tag:        tag,
		Now:        time.Now,
		security:   logging.NewSecurityLogger(),
	}
}

// Run normalizes the decisions file at path according to the gate's mode.
// The returned report is populated in every mode; whether it is written to
// disk depends on the mode. In strict mode a content change leaves path
// untouched and returns ErrAuditNormalizationViolation alongside the report.
func (g *Gate) Run(ctx context.Context, path string) (*models.AuditReport, error) {
	log := logging.Ctx(ctx)

	before, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	res, err := Normalize(before)
	if err != nil {
		return nil, fmt.Errorf("normalize decisions: %w", err)
	}
	changed := !bytes.Equal(before, res.Output)

	report := &models.AuditReport{
		Tag:              g.Tag,
		Mode:             string(g.Mode),
		Changed:          changed,
		Total:            res.Total,
		Written:          res.Written,
		Malformed:        res.Malformed,
		SubjectConflicts: res.SubjectConflicts,
		HashBefore:       jsonl.SHA256Hex(before),
		HashAfter:        jsonl.SHA256Hex(res.Output),
		BytesBefore:      len(before),
		BytesAfter:       len(res.Output),
		DecisionsPath:    path,
		TS:               models.NewTimestamp(g.now()),
	}

	if res.Malformed > 0 {
		metrics.RecordMalformed("normalize", res.Malformed)
		log.Warn().Int("malformed", res.Malformed).Msg("Dropped malformed decision lines")
	}
	if res.SubjectConflicts > 0 {
		log.Warn().Int("conflicts", res.SubjectConflicts).Msg("Evidence rows carry a subject different from their decision")
	}

	if g.Mode == ModeStrict {
		return g.runStrict(ctx, path, res.Output, report)
	}

	if changed {
		if err := jsonl.WriteFileAtomic(path, res.Output); err != nil {
			return nil, fmt.Errorf("commit normalized decisions: %w", err)
		}
		report.Committed = true
	}
	metrics.RecordAudit(string(g.Mode), changed, false)

	if g.Mode == ModeAlways || (g.Mode == ModeWarn && changed) {
		// The decisions are already committed; a missing report must not fail the run.
		reportPath, err := g.writeReport(report)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Failed to write normalization report")
		case changed:
			log.Warn().Str("report", reportPath).Msg("Decision normalization changed content")
		default:
			log.Debug().Str("report", reportPath).Msg("Decision normalization report written")
		}
	}
	return report, nil
}

func (g *Gate) runStrict(ctx context.Context, path string, normalized []byte, report *models.AuditReport) (*models.AuditReport, error) {
	staged, err := jsonl.StageFile(path, normalized)
	if err != nil {
		return nil, fmt.Errorf("stage normalized decisions: %w", err)
	}

	if report.Changed {
		os.Remove(staged)
		metrics.RecordAudit(string(g.Mode), true, true)
		reportPath, err := g.writeReport(report)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to write normalization report")
		}
		g.security.LogAuditViolation(path, report.HashBefore, report.HashAfter, reportPath)
		return report, fmt.Errorf("%w: %s changed under normalization (sha256 %s -> %s)",
			ErrAuditNormalizationViolation, path, report.HashBefore, report.HashAfter)
	}

	if err := jsonl.Commit(staged, path); err != nil {
		return nil, err
	}
	metrics.RecordAudit(string(g.Mode), false, false)
	return report, nil
}

// writeReport writes the latest report and a timestamped copy, returning
// the latest report's path.
func (g *Gate) writeReport(report *models.AuditReport) (string, error) {
	data, err := jsonl.Canonical(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	latest := filepath.Join(g.ReportsDir, fmt.Sprintf("decision_normalization_%s.json", g.Tag))
	stamped := filepath.Join(g.ReportsDir, fmt.Sprintf("decision_normalization_%s_%s.json",
		g.Tag, report.TS.UTC().Format("20060102T150405Z")))

	if err := jsonl.WriteFileAtomic(latest, data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := jsonl.WriteFileAtomic(stamped, data); err != nil {
		return "", fmt.Errorf("write report copy: %w", err)
	}
	return latest, nil
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
