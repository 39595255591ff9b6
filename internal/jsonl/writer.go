// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package jsonl

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gowebpki/jcs"
)

// Canonical encodes v as RFC 8785 canonical JSON.
//
// RFC 8785 serializes numbers as IEEE 754 doubles, so integers beyond 2^53
// lose precision (12345678901234567890 becomes 12345678901234567000).
// Identifiers that must survive exactly have to be strings; subject ids are
// stringified during normalization for this reason.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Encode renders items as canonical JSONL with a trailing newline.
// An empty slice encodes to an empty buffer.
func Encode[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	for i := range items {
		line, err := Canonical(items[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// WriteFile canonically encodes items and atomically replaces path.
func WriteFile[T any](path string, items []T) error {
	data, err := Encode(items)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// AppendFile appends pre-encoded lines to path. Existing bytes are copied
// unchanged into a staging file that then replaces path, so a crash never
// leaves a half-written ledger.
func AppendFile(path string, lines []byte) error {
	var existing []byte
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	switch {
	case err == nil:
		existing = data
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		existing = append(existing, '\n')
	}
	return WriteFileAtomic(path, append(existing, lines...))
}

// WriteFileAtomic writes data to a temp file in path's directory and renames
// it over path. On failure the temp file is removed and path is untouched.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := StageFile(path, data)
	if err != nil {
		return err
	}
	return Commit(tmp, path)
}

// StageFile writes data to a new temp file next to path and returns its name.
func StageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := f.Name()
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return name, nil
}

// Commit renames a staged file over path.
func Commit(staged, path string) error {
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
