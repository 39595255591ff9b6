// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package jsonl reads and writes the newline-delimited JSON files that connect
// pipeline stages. Output is RFC 8785 canonical JSON, one record per line, and
// every write goes through a temp file and an atomic rename.
package jsonl

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// maxLineBytes bounds a single JSONL record. Longer lines are skipped and
// counted as malformed.
var maxLineBytes = 16 * 1024 * 1024

// ReadStats counts what a reader saw.
type ReadStats struct {
	Lines     int `json:"lines"`
	Records   int `json:"records"`
	Blank     int `json:"blank"`
	Malformed int `json:"malformed"`
}

// ReadFile decodes every line of path into T. Blank lines are skipped and
// lines that fail to decode are counted as malformed; neither is an error.
func ReadFile[T any](path string) ([]T, ReadStats, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read[T](f)
}

// Read decodes records from r. See ReadFile.
func Read[T any](r io.Reader) ([]T, ReadStats, error) {
	var (
		out   []T
		stats ReadStats
	)
	err := scanLines(r, func(line []byte, tooLong bool) {
		stats.Lines++
		if tooLong {
			stats.Malformed++
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			stats.Blank++
			return
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			stats.Malformed++
			return
		}
		out = append(out, v)
		stats.Records++
	})
	return out, stats, err
}

// ReadRecordsFile decodes every line of path into a generic object. Numbers
// are kept as json.Number so re-encoding never changes their spelling.
// Lines that are not JSON objects count as malformed.
func ReadRecordsFile(path string) ([]map[string]any, ReadStats, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ReadRecords(data)
}

// ReadRecords is ReadRecordsFile over an in-memory buffer.
func ReadRecords(data []byte) ([]map[string]any, ReadStats, error) {
	var (
		out   []map[string]any
		stats ReadStats
	)
	err := scanLines(bytes.NewReader(data), func(line []byte, tooLong bool) {
		stats.Lines++
		if tooLong {
			stats.Malformed++
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			stats.Blank++
			return
		}
		rec, ok := DecodeRecord(line)
		if !ok {
			stats.Malformed++
			return
		}
		out = append(out, rec)
		stats.Records++
	})
	return out, stats, err
}

// DecodeRecord decodes one JSON object using json.Number for numbers.
func DecodeRecord(line []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return nil, false
	}
	// trailing garbage after the object makes the line malformed
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, false
	}
	return rec, true
}

// scanLines calls fn once per line. A line longer than maxLineBytes is
// drained without being buffered and reported with tooLong set.
func scanLines(r io.Reader, fn func(line []byte, tooLong bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf     []byte
		tooLong bool
	)
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read jsonl: %w", err)
		}
		if !tooLong {
			if len(buf)+len(frag) > maxLineBytes {
				tooLong, buf = true, buf[:0]
			} else {
				buf = append(buf, frag...)
			}
		}
		if isPrefix {
			continue
		}
		fn(buf, tooLong)
		buf, tooLong = buf[:0], false
	}
}
