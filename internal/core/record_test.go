package core

import (
	"errors"
	"strings"
	"testing"
)

func mustValidator(t *testing.T, pattern string) *RecordValidator {
	t.Helper()
	v, err := NewRecordValidator(pattern)
	if err != nil {
		t.Fatalf("NewRecordValidator(%q): %v", pattern, err)
	}
	return v
}

// ============================================================================
// Validate Tests
// ============================================================================

func TestValidate(t *testing.T) {
	v := mustValidator(t, "")

	tests := []struct {
		name      string
		fields    []string
		want      Record
		wantField string // empty means no error expected
	}{
		{
			name:   "valid owner row",
			fields: []string{"Ada Lovelace", "ada@example.edu", "teamx", "true"},
			want: Record{
				Name: "Ada Lovelace", Email: "ada@example.edu",
				Group: "teamx", IsOwner: true, Username: "ada",
			},
		},
		{
			name:   "valid member row",
			fields: []string{"Bob", "bob@example.edu", "teamx", "false"},
			want: Record{
				Name: "Bob", Email: "bob@example.edu",
				Group: "teamx", IsOwner: false, Username: "bob",
			},
		},
		{
			name:   "fields trimmed before validation",
			fields: []string{"  Ada  ", " ada@example.edu ", " teamx ", " no "},
			want: Record{
				Name: "Ada", Email: "ada@example.edu",
				Group: "teamx", IsOwner: false, Username: "ada",
			},
		},
		{
			name:      "wrong column count",
			fields:    []string{"Ada", "ada@example.edu", "teamx"},
			wantField: FieldName,
		},
		{
			name:      "empty name",
			fields:    []string{"   ", "ada@example.edu", "teamx", "no"},
			wantField: FieldName,
		},
		{
			name:      "email missing at sign",
			fields:    []string{"Ada", "ada.example.edu", "teamx", "no"},
			wantField: FieldEmail,
		},
		{
			name:      "email missing domain dot",
			fields:    []string{"Ada", "ada@example", "teamx", "no"},
			wantField: FieldEmail,
		},
		{
			name:      "empty group",
			fields:    []string{"Ada", "ada@example.edu", "", "no"},
			wantField: FieldGroup,
		},
		{
			name:      "group with leading dash",
			fields:    []string{"Ada", "ada@example.edu", "-teamx", "no"},
			wantField: FieldGroup,
		},
		{
			name:      "group with slash",
			fields:    []string{"Ada", "ada@example.edu", "team/x", "no"},
			wantField: FieldGroup,
		},
		{
			name:      "group with wildcard",
			fields:    []string{"Ada", "ada@example.edu", "team*", "no"},
			wantField: FieldGroup,
		},
		{
			name:      "purely numeric group",
			fields:    []string{"Ada", "ada@example.edu", "12345", "no"},
			wantField: FieldGroup,
		},
		{
			name:      "group with space",
			fields:    []string{"Ada", "ada@example.edu", "team x", "no"},
			wantField: FieldGroup,
		},
		{
			name:   "unicode group accepted",
			fields: []string{"Ada", "ada@example.edu", "équipe_1", "no"},
			want: Record{
				Name: "Ada", Email: "ada@example.edu",
				Group: "équipe_1", IsOwner: false, Username: "ada",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(3, tt.fields)
			if tt.wantField != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Validate() error = %v, want *ValidationError", err)
				}
				if verr.Field != tt.wantField {
					t.Errorf("failing field = %q, want %q", verr.Field, tt.wantField)
				}
				if verr.Row != 3 {
					t.Errorf("error row = %d, want 3", verr.Row)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Validate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateDomainRestriction(t *testing.T) {
	v := mustValidator(t, `example\.edu`)

	if _, err := v.Validate(0, []string{"Ada", "ada@example.edu", "teamx", "no"}); err != nil {
		t.Fatalf("matching domain rejected: %v", err)
	}
	_, err := v.Validate(0, []string{"Ada", "ada@other.org", "teamx", "no"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != FieldEmail {
		t.Fatalf("foreign domain accepted, err = %v", err)
	}
}

// ============================================================================
// parseOwner Tests
// ============================================================================

func TestParseOwner(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"", false},
		{"false", false},
		{"FALSE", false},
		{"False", false},
		{"no", false},
		{"No", false},
		{"n", false},
		{"N", false},
		{"f", false},
		{"true", true},
		{"yes", true},
		{"1", true},
		{"0", true}, // only the negative words mean false
		{"owner", true},
		{"maybe", true},
	}

	for _, tt := range tests {
		name := tt.raw
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			if got := parseOwner(tt.raw); got != tt.want {
				t.Errorf("parseOwner(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// ============================================================================
// ValidationError Tests
// ============================================================================

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Row: 4, Field: FieldGroup, Value: "team/x", Reason: "must not contain any of /,.*%"}
	msg := err.Error()
	for _, want := range []string{"row 4", `"team/x"`, FieldGroup} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
