package core

// record.go defines the roster Record and per-field validation rules.
//
// A Record is one row of the operator's CSV: a person's full name, their
// e-mail address, the project group they belong to, and whether they own
// that group. Records are immutable once validated; everything downstream
// (group folding, diffing, the pipeline input sets) is derived from them.

import (
	"fmt"
	"regexp"
	"strings"
)

// Field labels, in CSV column order. These appear verbatim in validation
// errors and in the header-row detection.
const (
	FieldName  = "Name"
	FieldEmail = "E-mail"
	FieldGroup = "Group"
	FieldOwner = "Owner"
)

// RosterColumns is the expected number of CSV columns per row.
const RosterColumns = 4

// DefaultEmailDomainPattern matches any standard two-label domain.
// Override via config to require a specific domain, e.g. "myuniversity\.edu".
const DefaultEmailDomainPattern = `[^@]+\.[^@]+`

// Record is one validated roster row.
// Username is the local part of Email (everything before the '@').
type Record struct {
	Name     string
	Email    string
	Group    string
	IsOwner  bool
	Username string
}

// ValidationError reports the first failing field of a roster row.
// Row is the 0-based data-row index (after any header row is skipped).
type ValidationError struct {
	Row     int
	Field   string
	Value   string
	Reason  string
	RowData []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in csv data for row %d: value %q failed validation for field %q: %s",
		e.Row, e.Value, e.Field, e.Reason)
}

var (
	// Group names must be word characters only (Unicode letters, digits,
	// underscore). Go's \w is ASCII-only, so spell out the classes.
	groupWordRe = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

	// Purely numeric group names are rejected: they collide with change
	// numbers and revision specifiers in Helix syntax.
	groupNumericRe = regexp.MustCompile(`^\p{N}+$`)
)

// groupForbiddenChars are rejected anywhere in a group name. Group names
// double as depot names, so path and wildcard characters are out.
const groupForbiddenChars = "/,.*%"

// ownerFalseWords are the owner-column values treated as "not an owner"
// (case-insensitive). Any other non-empty value means owner.
var ownerFalseWords = []string{"false", "no", "f", "n"}

// RecordValidator validates roster rows into Records.
// The e-mail domain pattern is configurable; the zero value is not usable,
// construct with NewRecordValidator.
type RecordValidator struct {
	emailRe *regexp.Regexp
}

// NewRecordValidator compiles a validator whose e-mail rule requires
// "local@domain" with the domain matching domainPattern. An empty pattern
// falls back to DefaultEmailDomainPattern.
func NewRecordValidator(domainPattern string) (*RecordValidator, error) {
	if domainPattern == "" {
		domainPattern = DefaultEmailDomainPattern
	}
	re, err := regexp.Compile(`^[^@]+@` + domainPattern + `$`)
	if err != nil {
		return nil, fmt.Errorf("compile email domain pattern %q: %w", domainPattern, err)
	}
	return &RecordValidator{emailRe: re}, nil
}

// Validate checks one raw CSV row and returns the typed Record.
// Fields are trimmed before validation. Validation stops at the first
// failing field and returns a *ValidationError identifying it.
func (v *RecordValidator) Validate(row int, fields []string) (Record, error) {
	if len(fields) != RosterColumns {
		return Record{}, &ValidationError{
			Row:     row,
			Field:   FieldName,
			Value:   strings.Join(fields, ","),
			Reason:  fmt.Sprintf("expected %d columns, got %d", RosterColumns, len(fields)),
			RowData: fields,
		}
	}

	name := strings.TrimSpace(fields[0])
	email := strings.TrimSpace(fields[1])
	group := strings.TrimSpace(fields[2])
	owner := strings.TrimSpace(fields[3])

	if name == "" {
		return Record{}, v.fail(row, FieldName, fields[0], "must not be empty", fields)
	}

	if !v.emailRe.MatchString(email) {
		return Record{}, v.fail(row, FieldEmail, fields[1], "must be a local@domain address", fields)
	}

	if reason := checkGroupName(group); reason != "" {
		return Record{}, v.fail(row, FieldGroup, fields[2], reason, fields)
	}

	return Record{
		Name:     name,
		Email:    email,
		Group:    group,
		IsOwner:  parseOwner(owner),
		Username: email[:strings.Index(email, "@")],
	}, nil
}

func (v *RecordValidator) fail(row int, field, value, reason string, rowData []string) *ValidationError {
	return &ValidationError{Row: row, Field: field, Value: value, Reason: reason, RowData: rowData}
}

// checkGroupName returns a non-empty reason if the group name is invalid.
// Group names are shared 1:1 with depot names, hence the path-character
// restrictions.
func checkGroupName(group string) string {
	switch {
	case group == "":
		return "must not be empty"
	case strings.HasPrefix(group, "-"):
		return "must not start with '-'"
	case strings.ContainsAny(group, groupForbiddenChars):
		return "must not contain any of " + groupForbiddenChars
	case groupNumericRe.MatchString(group):
		return "must not be purely numeric"
	case !groupWordRe.MatchString(group):
		return "must contain only letters, digits, and underscores"
	}
	return ""
}

// parseOwner maps the raw owner column to a bool. Empty text and the
// negative words ("false", "no", "f", "n", any case) mean false; every
// other value, including "1", "owner", or "maybe", means true. The
// permissive default-true is deliberate and matches the established
// roster format.
func parseOwner(raw string) bool {
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	for _, w := range ownerFalseWords {
		if lower == w {
			return false
		}
	}
	return true
}
