package core

import (
	"errors"
	"reflect"
	"testing"
)

// ============================================================================
// ParseRoster Tests
// ============================================================================

func TestParseRoster(t *testing.T) {
	v := mustValidator(t, "")

	tests := []struct {
		name    string
		input   string
		want    int // record count
		wantErr bool
	}{
		{
			name:  "plain rows without header",
			input: "Ada,ada@x.edu,teamx,true\nBob,bob@x.edu,teamx,false\n",
			want:  2,
		},
		{
			name:  "header row skipped",
			input: "Name,E-mail,Group,Owner\nAda,ada@x.edu,teamx,true\n",
			want:  1,
		},
		{
			name:  "header detected case-insensitively",
			input: "NAME,Email,Group,Owner\nAda,ada@x.edu,teamx,true\n",
			want:  1,
		},
		{
			name:  "BOM stripped before header detection",
			input: "\xef\xbb\xbfName,E-mail,Group,Owner\nAda,ada@x.edu,teamx,yes\n",
			want:  1,
		},
		{
			name:  "blank rows skipped",
			input: "Ada,ada@x.edu,teamx,true\n,,,\nBob,bob@x.edu,teamy,no\n",
			want:  2,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "header only",
			input:   "Name,E-mail,Group,Owner\n",
			wantErr: true,
		},
		{
			name:    "invalid row rejects whole file",
			input:   "Ada,ada@x.edu,teamx,true\nBob,not-an-email,teamx,false\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseRoster([]byte(tt.input), v)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseRoster() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoster() error: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

// TestParseRosterErrorRow checks that the reported row index is the 0-based
// data row, not the raw file line.
func TestParseRosterErrorRow(t *testing.T) {
	v := mustValidator(t, "")
	input := "Name,E-mail,Group,Owner\nAda,ada@x.edu,teamx,true\nBob,broken,teamx,false\n"

	_, err := ParseRoster([]byte(input), v)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ParseRoster() error = %v, want *ValidationError", err)
	}
	if verr.Row != 1 {
		t.Errorf("error row = %d, want 1", verr.Row)
	}
	if verr.Field != FieldEmail {
		t.Errorf("error field = %q, want %q", verr.Field, FieldEmail)
	}
}

// ============================================================================
// FoldGroups Tests
// ============================================================================

func TestFoldGroups(t *testing.T) {
	records := []Record{
		{Username: "ada", Group: "teamx", IsOwner: true},
		{Username: "bob", Group: "teamx"},
		{Username: "cyd", Group: "teamy", IsOwner: true},
		{Username: "ada", Group: "teamx", IsOwner: true}, // duplicate row
	}

	got := FoldGroups(records)
	want := []GroupSpec{
		{Group: "teamx", Users: []string{"ada", "bob"}, Owners: []string{"ada"}},
		{Group: "teamy", Users: []string{"cyd"}, Owners: []string{"cyd"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FoldGroups() = %+v, want %+v", got, want)
	}
}

func TestFoldGroupsPreservesFirstAppearanceOrder(t *testing.T) {
	records := []Record{
		{Username: "u1", Group: "zeta"},
		{Username: "u2", Group: "alpha"},
		{Username: "u3", Group: "zeta"},
	}

	got := FoldGroups(records)
	if len(got) != 2 || got[0].Group != "zeta" || got[1].Group != "alpha" {
		t.Errorf("group order = %+v, want zeta then alpha", got)
	}
}
