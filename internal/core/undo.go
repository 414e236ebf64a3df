package core

// undo.go is the reversal ledger for a provisioning run.
//
// The ledger accumulates opaque reversal commands in memory and persists
// them by rewriting the full sink contents after every completed stage, so
// the on-disk file always reflects exactly the stages that finished. The
// file never contains commands for a stage still in flight. Rollback is
// manual: the operator runs the file's commands top to bottom.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// UndoSink persists the complete ledger contents. WriteAll replaces any
// prior contents entirely (full rewrite, not append).
type UndoSink interface {
	WriteAll(commands []string) error
}

// UndoLedger is the append-only reversal log. It is mutated only by the
// pipeline coordinator, between stages, never concurrently with stage work.
type UndoLedger struct {
	mu       sync.Mutex
	commands []string
	sink     UndoSink
}

// NewUndoLedger returns a ledger backed by sink. A nil sink keeps the
// ledger memory-only (used in tests).
func NewUndoLedger(sink UndoSink) *UndoLedger {
	return &UndoLedger{sink: sink}
}

// Append adds commands to the ledger and rewrites the sink with the full
// cumulative contents. A sink failure leaves the in-memory ledger intact
// and is returned to the caller: the file is the only rollback mechanism,
// so the pipeline treats failure to persist it as fatal.
func (l *UndoLedger) Append(commands ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.commands = append(l.commands, commands...)
	if l.sink == nil {
		return nil
	}
	if err := l.sink.WriteAll(l.commands); err != nil {
		return fmt.Errorf("persist undo ledger: %w", err)
	}
	return nil
}

// Commands returns a copy of the accumulated reversal commands.
func (l *UndoLedger) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.commands))
	copy(out, l.commands)
	return out
}

// FileSink writes the ledger to a plain text file, one command per line.
// The filename carries the process start timestamp and stays fixed for the
// life of the process.
type FileSink struct {
	path string
}

// NewFileSink places the undo file in dir, named for start. The directory
// is created on first write, not here, so constructing a sink is cheap.
func NewFileSink(dir string, start time.Time) *FileSink {
	name := fmt.Sprintf("undo_provision_%s.txt", start.Format("20060102_150405"))
	return &FileSink{path: filepath.Join(dir, name)}
}

// Path returns the undo file's location.
func (s *FileSink) Path() string { return s.path }

// WriteAll rewrites the file with the complete command list.
func (s *FileSink) WriteAll(commands []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, cmd := range commands {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	return os.WriteFile(s.path, []byte(b.String()), 0o644)
}
