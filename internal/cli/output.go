package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

// OutputFormatter routes command output. Data goes to Writer; verbose logs
// go to ErrWriter so --format=json output stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// JSON encodes v indented to the data writer.
func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// VerboseLog writes a progress line to the error writer when verbose is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.ErrWriter, format+"\n", args...)
	}
}

// UserError prints err's operator-facing form to the error writer and
// returns err unchanged for the exit code.
func (f *OutputFormatter) UserError(err error) error {
	fmt.Fprintln(f.ErrWriter, core.FormatUserError(err))
	return err
}
