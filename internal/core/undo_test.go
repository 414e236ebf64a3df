package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// UndoLedger Tests
// ============================================================================

type memSink struct {
	writes   [][]string
	failNext error
}

func (s *memSink) WriteAll(commands []string) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.writes = append(s.writes, append([]string(nil), commands...))
	return nil
}

func TestUndoLedgerAppend(t *testing.T) {
	sink := &memSink{}
	l := NewUndoLedger(sink)

	if err := l.Append("p4 user -d -f ada"); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := l.Append("p4 group -d -F teamx", "p4 depot -d teamx"); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	want := []string{"p4 user -d -f ada", "p4 group -d -F teamx", "p4 depot -d teamx"}
	got := l.Commands()
	if len(got) != len(want) {
		t.Fatalf("Commands() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Commands()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Every append rewrites the sink with the full cumulative list.
	if len(sink.writes) != 2 {
		t.Fatalf("sink saw %d writes, want 2", len(sink.writes))
	}
	if len(sink.writes[1]) != 3 {
		t.Errorf("second write had %d commands, want full 3", len(sink.writes[1]))
	}
}

func TestUndoLedgerSinkFailure(t *testing.T) {
	sink := &memSink{failNext: errors.New("disk full")}
	l := NewUndoLedger(sink)

	if err := l.Append("p4 user -d -f ada"); err == nil {
		t.Fatal("Append() succeeded despite sink failure")
	}
	// In-memory contents survive so a later retry or status read still
	// sees the commands.
	if got := l.Commands(); len(got) != 1 {
		t.Errorf("Commands() = %v, want the appended command retained", got)
	}
}

func TestUndoLedgerNilSink(t *testing.T) {
	l := NewUndoLedger(nil)
	if err := l.Append("p4 depot -d teamx"); err != nil {
		t.Fatalf("Append() with nil sink: %v", err)
	}
}

func TestUndoLedgerCommandsReturnsCopy(t *testing.T) {
	l := NewUndoLedger(nil)
	l.Append("a")
	got := l.Commands()
	got[0] = "mutated"
	if l.Commands()[0] != "a" {
		t.Error("Commands() exposed internal slice")
	}
}

// ============================================================================
// FileSink Tests
// ============================================================================

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	sink := NewFileSink(filepath.Join(dir, "undo"), start)

	wantName := "undo_provision_20260314_150926.txt"
	if filepath.Base(sink.Path()) != wantName {
		t.Errorf("Path() = %q, want basename %q", sink.Path(), wantName)
	}

	if err := sink.WriteAll([]string{"p4 user -d -f ada", "p4 depot -d teamx"}); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	data, err := os.ReadFile(sink.Path())
	if err != nil {
		t.Fatalf("read undo file: %v", err)
	}
	want := "p4 user -d -f ada\np4 depot -d teamx\n"
	if string(data) != want {
		t.Errorf("file contents = %q, want %q", data, want)
	}

	// A rewrite replaces, never appends.
	if err := sink.WriteAll([]string{"p4 user -d -f ada"}); err != nil {
		t.Fatalf("WriteAll() rewrite error: %v", err)
	}
	data, _ = os.ReadFile(sink.Path())
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("rewrite appended instead of replacing: %q", data)
	}
}
