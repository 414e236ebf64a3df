// Package helix implements the provisioning backend over the p4 command
// line client. Every operation shells out to p4 with -ztag tagged output
// for reads and form input (-i) for writes, mirroring what an
// administrator would type by hand. The command runner is an interface so
// tests exercise the full command construction and output parsing without
// a server.
package helix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

// Options configures the connection every p4 invocation carries.
type Options struct {
	// Bin is the p4 executable. Empty means "p4" on PATH.
	Bin string

	// Port is the server address (P4PORT), e.g. "ssl:helix.example.edu:1666".
	Port string

	// User is the admin account the session authenticates as.
	User string

	// Charset, when set, is passed as -C (needed against unicode servers).
	Charset string
}

// runner executes one p4 invocation and returns its stdout. Implementations
// must return an error carrying the server's message text on failure.
type runner interface {
	run(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// execRunner shells out to the real p4 binary.
type execRunner struct {
	opts Options
}

func (r *execRunner) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	bin := r.opts.Bin
	if bin == "" {
		bin = "p4"
	}

	global := make([]string, 0, 8)
	if r.opts.Port != "" {
		global = append(global, "-p", r.opts.Port)
	}
	if r.opts.User != "" {
		global = append(global, "-u", r.opts.User)
	}
	if r.opts.Charset != "" {
		global = append(global, "-C", r.opts.Charset)
	}

	cmd := exec.CommandContext(ctx, bin, append(global, args...)...)
	cmd.Env = os.Environ()
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return stdout.Bytes(), nil
}

// authMarkers are the message fragments that identify a credential or
// session failure in p4 output. Matching is case-insensitive.
var authMarkers = []string{
	"invalid or unset",
	"please login",
	"session has expired",
	"p4passwd",
	"access for user",
}

func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Session is a connection-scoped handle over the p4 client. It is
// stateless between calls and safe for concurrent use.
type Session struct {
	r      runner
	logger *slog.Logger
}

// NewSession builds a Session over the real p4 binary.
func NewSession(opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{r: &execRunner{opts: opts}, logger: logger}
}

// Verify runs a cheap authenticated command to prove the session works
// before a run starts.
func (s *Session) Verify(ctx context.Context) error {
	_, err := s.runText(ctx, "login", "-s")
	return err
}

// wrapErr converts a runner failure into a typed backend error.
func (s *Session) wrapErr(op string, err error) error {
	msg := err.Error()
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	be := &core.BackendError{Op: op, Messages: lines, Auth: isAuthMessage(msg)}
	s.logger.Debug("p4 command failed", "op", op, "auth", be.Auth, "error", msg)
	return be
}

// runText runs a p4 command and returns raw stdout.
func (s *Session) runText(ctx context.Context, args ...string) (string, error) {
	out, err := s.r.run(ctx, nil, args...)
	if err != nil {
		return "", s.wrapErr("p4 "+strings.Join(args, " "), err)
	}
	return string(out), nil
}

// runTagged runs a p4 command under -ztag and parses the tagged records.
func (s *Session) runTagged(ctx context.Context, args ...string) ([]map[string]string, error) {
	full := append([]string{"-ztag"}, args...)
	out, err := s.r.run(ctx, nil, full...)
	if err != nil {
		return nil, s.wrapErr("p4 -ztag "+strings.Join(args, " "), err)
	}
	return parseTagged(string(out)), nil
}

// runForm feeds a form to a p4 command's stdin under -i.
func (s *Session) runForm(ctx context.Context, form string, args ...string) error {
	full := append(args, "-i")
	if _, err := s.r.run(ctx, []byte(form), full...); err != nil {
		return s.wrapErr("p4 "+strings.Join(full, " "), err)
	}
	return nil
}

// parseTagged splits p4 -ztag output into one map per record. Tagged
// lines look like "... Field value"; a blank line ends a record. A field
// repeating within the same record (list output such as "... Stream0")
// keeps its distinct numbered keys as emitted by the server.
func parseTagged(out string) []map[string]string {
	var records []map[string]string
	cur := map[string]string{}

	flush := func() {
		if len(cur) > 0 {
			records = append(records, cur)
			cur = map[string]string{}
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		rest, ok := strings.CutPrefix(line, "... ")
		if !ok {
			continue
		}
		field, value, _ := strings.Cut(rest, " ")
		// A field seen again without a blank separator starts a new
		// record; some commands omit the blank line between entries.
		if _, dup := cur[field]; dup {
			flush()
		}
		cur[field] = value
	}
	flush()
	return records
}
