// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package models

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Timestamp is an instant decoded from either an RFC 3339 string (zone
// optional, naive values are UTC) or epoch seconds, and always encoded as an
// RFC 3339 UTC string. The zero value encodes as null.
type Timestamp struct {
	time.Time
}

// naiveLayouts are accepted when the value carries no zone designator.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp parses an RFC 3339 or epoch-seconds string.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewTimestamp(t), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func fromEpoch(f float64) (Timestamp, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Timestamp{}, fmt.Errorf("invalid epoch %v", f)
	}
	sec, frac := math.Modf(f)
	return NewTimestamp(time.Unix(int64(sec), int64(frac*1e9))), nil
}

// String formats the timestamp as RFC 3339 UTC, or "" for the zero value.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = Timestamp{}
			return nil
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %s", data)
	}
	parsed, err := fromEpoch(f)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimestampFromAny converts a decoded JSON value (string, json.Number or
// float64) into a Timestamp. ok is false when v carries no usable instant.
func TimestampFromAny(v any) (Timestamp, bool) {
	switch x := v.(type) {
	case string:
		ts, err := ParseTimestamp(x)
		return ts, err == nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Timestamp{}, false
		}
		ts, err := fromEpoch(f)
		return ts, err == nil
	case float64:
		ts, err := fromEpoch(x)
		return ts, err == nil
	case int64:
		return NewTimestamp(time.Unix(x, 0)), true
	case int:
		return NewTimestamp(time.Unix(int64(x), 0)), true
	default:
		return Timestamp{}, false
	}
}
