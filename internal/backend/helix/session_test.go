package helix

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Session Tests
// ============================================================================

func TestVerify(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"login -s": "User admin ticket expires in 11 hours 22 minutes.\n",
	}}
	s := &Session{r: r, logger: testLogger()}

	if err := s.Verify(context.Background()); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
}

func TestVerifyExpiredSession(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{
		"login -s": errors.New("Your session has expired, please login again."),
	}}
	s := &Session{r: r, logger: testLogger()}

	err := s.Verify(context.Background())
	if !core.IsAuthError(err) {
		t.Fatalf("Verify() error = %v, want auth-flagged", err)
	}
}

func TestWrapErrSplitsMessageLines(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{
		"depots": errors.New("Request too large.\nSee 'p4 help maxresults'."),
	}}
	s := &Session{r: r, logger: testLogger()}

	_, err := s.runText(context.Background(), "depots")
	var be *core.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *core.BackendError", err)
	}
	if len(be.Messages) != 2 {
		t.Errorf("messages = %v, want 2 lines", be.Messages)
	}
	if be.Auth {
		t.Error("non-auth failure flagged as auth")
	}
}

// ============================================================================
// Form Builder Tests
// ============================================================================

func TestFormBuilder(t *testing.T) {
	var f formBuilder
	f.field("Branch", "populate_teamx")
	f.listField("View", []string{"//tmpl/main/... //teamx/main/...", "//tmpl/dev/... //teamx/dev/..."})
	f.listField("Empty", nil)

	want := "Branch:\tpopulate_teamx\nView:\n\t//tmpl/main/... //teamx/main/...\n\t//tmpl/dev/... //teamx/dev/...\n"
	if got := f.String(); got != want {
		t.Errorf("form = %q, want %q", got, want)
	}
}

// ============================================================================
// numberedList Tests
// ============================================================================

func TestNumberedList(t *testing.T) {
	tests := []struct {
		name string
		rec  map[string]string
		want []string
	}{
		{
			name: "ordered run",
			rec:  map[string]string{"Users0": "ada", "Users1": "bob", "Users2": "cyd"},
			want: []string{"ada", "bob", "cyd"},
		},
		{
			name: "stops at gap",
			rec:  map[string]string{"Users0": "ada", "Users2": "cyd"},
			want: []string{"ada"},
		},
		{
			name: "missing prefix",
			rec:  map[string]string{"Owners0": "ada"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := numberedList(tt.rec, "Users"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("numberedList() = %v, want %v", got, tt.want)
			}
		})
	}
}
