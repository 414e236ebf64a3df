package core

// roster.go loads and validates the operator's CSV roster.
//
// Policy (applied here, not in RecordValidator): UTF-8 with optional BOM,
// an optional header row detected by a case-insensitive "Name" in the
// first cell, exactly four columns per data row, and abort-on-first-error
// (a single invalid row rejects the whole file so the operator never works
// from a partial import).

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseRoster parses CSV bytes into validated Records.
// Returns a *ValidationError for the first invalid row, or a plain error
// for unreadable CSV. An empty file (or a file containing only a header)
// yields an error rather than an empty roster.
func ParseRoster(data []byte, v *RecordValidator) ([]Record, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = sanitizeUTF8(data)

	rows, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	// Header row: first cell matches the Name label, case-insensitively.
	if len(rows[0]) > 0 && strings.EqualFold(strings.TrimSpace(rows[0][0]), FieldName) {
		rows = rows[1:]
	}

	records := make([]Record, 0, len(rows))
	i := 0
	for _, row := range rows {
		if isEmptyRow(row) {
			continue
		}
		rec, err := v.Validate(i, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		i++
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows after header")
	}
	return records, nil
}

// FoldGroups builds one GroupSpec per distinct group value, in order of
// first appearance. Each record's username is appended to its group's
// Users (and Owners when IsOwner), keeping both as ordered sets.
func FoldGroups(records []Record) []GroupSpec {
	index := make(map[string]int)
	var groups []GroupSpec

	for _, rec := range records {
		i, ok := index[rec.Group]
		if !ok {
			i = len(groups)
			index[rec.Group] = i
			groups = append(groups, GroupSpec{Group: rec.Group})
		}
		groups[i].Users = appendUnique(groups[i].Users, rec.Username)
		if rec.IsOwner {
			groups[i].Owners = appendUnique(groups[i].Owners, rec.Username)
		}
	}
	return groups
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode
// replacement character so a mis-encoded export cannot poison the CSV
// parser or the backend forms downstream.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
