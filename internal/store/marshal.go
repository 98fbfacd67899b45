package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

// timeLayout is fixed width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// marshalJSON encodes v without HTML escaping so Tibetan and markup-like
// labels stay readable in the database.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalFields(f record.Fields) (string, error) {
	data, err := marshalJSON(f)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return data, nil
}

func unmarshalFields(data string) (record.Fields, error) {
	var f record.Fields
	if data == "" || data == "{}" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return record.Fields{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}

func marshalDiff(d audit.Diff) (string, error) {
	if d == nil {
		d = audit.Diff{}
	}
	data, err := marshalJSON(d)
	if err != nil {
		return "", fmt.Errorf("marshal diff: %w", err)
	}
	return data, nil
}

func unmarshalDiff(data string) (audit.Diff, error) {
	d := audit.Diff{}
	if data == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return d, nil
}
