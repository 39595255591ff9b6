// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package normalize canonicalizes decision files and guards them with an
// audit gate that can refuse to commit content changes.
package normalize

import (
	"bytes"
	"fmt"

	"github.com/tomtom215/blackice/internal/jsonl"
	"github.com/tomtom215/blackice/internal/subject"
)

// Result describes one normalization pass.
type Result struct {
	Output           []byte
	Total            int
	Written          int
	Blank            int
	Malformed        int
	SubjectConflicts int
}

// evidencePaths are the places a decision may keep evidence rows.
var evidencePaths = [][]string{
	{"explain", "evidence"},
	{"evidence"},
	{"evidence_rows"},
}

// Normalize rewrites a decisions JSONL buffer into canonical form:
//   - one RFC 8785 canonical object per line, blank and malformed lines dropped
//   - subject_id rendered as a string wherever it appears
//   - every evidence row carries subject_type/subject_id; missing values are
//     filled from the decision's own subject, present values are kept
//
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(data []byte) (*Result, error) {
	records, stats, err := jsonl.ReadRecords(data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Total:     stats.Lines - stats.Blank,
		Blank:     stats.Blank,
		Malformed: stats.Malformed,
	}

	var buf bytes.Buffer
	for i, rec := range records {
		res.SubjectConflicts += normalizeRecord(rec)
		line, err := jsonl.Canonical(rec)
		if err != nil {
			return nil, fmt.Errorf("decision %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		res.Written++
	}
	res.Output = buf.Bytes()
	return res, nil
}

// normalizeRecord mutates rec in place and returns the number of evidence
// rows whose existing subject disagrees with the decision's.
func normalizeRecord(rec map[string]any) int {
	stringifySubjectID(rec)
	own := subject.ResolveRecord(rec)

	conflicts := 0
	for _, path := range evidencePaths {
		rows, ok := lookupList(rec, path)
		if !ok {
			continue
		}
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok {
				continue
			}
			stringifySubjectID(row)
			if !present(row["subject_type"]) {
				row["subject_type"] = own.Type
			}
			if !present(row["subject_id"]) {
				row["subject_id"] = own.ID
			}
			if row["subject_type"] != own.Type || row["subject_id"] != own.ID {
				conflicts++
			}
		}
	}
	return conflicts
}

func lookupList(rec map[string]any, path []string) ([]any, bool) {
	var cur any = rec
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = m[key]
	}
	list, ok := cur.([]any)
	return list, ok
}

func stringifySubjectID(m map[string]any) {
	if v, ok := m["subject_id"]; ok {
		if s, ok := subject.Stringify(v); ok {
			m["subject_id"] = s
		}
	}
}

// present treats absent, null and blank strings as missing.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	default:
		return true
	}
}
