package core

// backend.go declares the AdminBackend interface the provisioning core is
// written against, plus the data types that cross it. The core never talks
// to a Helix server directly: internal/backend/helix implements this
// interface over the p4 command line, and tests implement it with fakes.

import (
	"context"
	"errors"
	"strings"
)

// UserSpec describes a user account to create.
type UserSpec struct {
	Username string
	Email    string
	FullName string
}

// GroupSpec describes a group's full desired membership. Creating a group
// that already exists is an upsert: the server replaces the membership
// with exactly these users and owners.
type GroupSpec struct {
	Group  string
	Users  []string
	Owners []string
}

// DepotInfo identifies a depot on the backend. Map is the depot's
// filesystem mapping as reported by the server (e.g. "template1/...").
type DepotInfo struct {
	Name string
	Type string
	Map  string
}

// StreamID identifies a stream and its declared parent without the full
// specification. Parent is "none" for mainline streams.
type StreamID struct {
	Path   string
	Parent string
}

// StreamSpec is a stream's full specification. Path, Parent, and Kind are
// first-class; everything else the server reports rides in Attrs (single
// string fields) and ListAttrs (multi-line fields such as Paths) so specs
// round-trip through create without the core knowing every field name.
type StreamSpec struct {
	Path   string
	Parent string // "none" or another stream path
	Kind   string // mainline, development, release, ...

	Attrs     map[string]string
	ListAttrs map[string][]string
}

// HasParent reports whether the stream declares a real parent path.
func (s StreamSpec) HasParent() bool {
	return s.Parent != "" && s.Parent != "none"
}

// BranchMapping is a temporary named source→destination view used to
// populate a new depot from the template, then deleted.
type BranchMapping struct {
	Name string
	View []string // "//src/... //dst/..." lines
}

// AdminBackend is the administration surface of a Helix server consumed by
// the provisioning core. All list/get operations are read-only and safe to
// repeat; the create/set operations mutate permanent server state.
type AdminBackend interface {
	ListUsers(ctx context.Context) ([]string, error)
	CreateUser(ctx context.Context, spec UserSpec) error
	SetInitialPassword(ctx context.Context, username, password string) error

	ListGroups(ctx context.Context) ([]string, error)
	GetGroup(ctx context.Context, name string) (GroupSpec, error)
	UpsertGroup(ctx context.Context, spec GroupSpec) error

	ListDepots(ctx context.Context) ([]DepotInfo, error)
	ListDepotsMatching(ctx context.Context, pattern string) ([]DepotInfo, error)
	CreateDepot(ctx context.Context, name, depotType string) error

	ListStreamsUnder(ctx context.Context, depot string) ([]StreamID, error)
	GetStreamSpec(ctx context.Context, path string) (StreamSpec, error)
	CreateStream(ctx context.Context, spec StreamSpec) error

	CreateBranchMapping(ctx context.Context, mapping BranchMapping) error
	PopulateFromBranch(ctx context.Context, branch, description string) error
	DeleteBranchMapping(ctx context.Context, branch string) error

	GetProtectionsTable(ctx context.Context) ([]string, error)
	SetProtectionsTable(ctx context.Context, lines []string) error

	GetSeatLimitAndUsage(ctx context.Context) (limit, used int, err error)
}

// BackendError is a failed backend operation. Messages carries the
// server's human-readable error lines; Auth marks credential and session
// failures so callers can prompt for login instead of failing the run.
type BackendError struct {
	Op       string
	Messages []string
	Auth     bool
}

func (e *BackendError) Error() string {
	if len(e.Messages) == 0 {
		return e.Op + " failed"
	}
	return e.Op + ": " + strings.Join(e.Messages, "; ")
}

// IsAuthError reports whether err is a backend authentication failure.
func IsAuthError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Auth
}
