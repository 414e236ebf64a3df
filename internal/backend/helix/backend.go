package helix

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

// Backend implements core.AdminBackend over a p4 Session.
type Backend struct {
	s *Session
}

// NewBackend wraps a session as the provisioning backend.
func NewBackend(s *Session) *Backend {
	return &Backend{s: s}
}

// Verify checks the session's login ticket. Callers should verify before
// starting anything that mutates server state.
func (b *Backend) Verify(ctx context.Context) error { return b.s.Verify(ctx) }

func (b *Backend) ListUsers(ctx context.Context) ([]string, error) {
	recs, err := b.s.runTagged(ctx, "users", "-a")
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(recs))
	for _, rec := range recs {
		if u := rec["User"]; u != "" {
			users = append(users, u)
		}
	}
	return users, nil
}

func (b *Backend) CreateUser(ctx context.Context, spec core.UserSpec) error {
	var f formBuilder
	f.field("User", spec.Username)
	f.field("Email", spec.Email)
	f.field("FullName", spec.FullName)
	// -f lets the admin session create an account for someone else.
	return b.s.runForm(ctx, f.String(), "user", "-f")
}

func (b *Backend) SetInitialPassword(ctx context.Context, username, password string) error {
	_, err := b.s.runText(ctx, "passwd", "-P", password, username)
	return err
}

func (b *Backend) ListGroups(ctx context.Context) ([]string, error) {
	recs, err := b.s.runTagged(ctx, "groups")
	if err != nil {
		return nil, err
	}
	var groups []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		g := rec["group"]
		if g != "" && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (b *Backend) GetGroup(ctx context.Context, name string) (core.GroupSpec, error) {
	recs, err := b.s.runTagged(ctx, "group", "-o", name)
	if err != nil {
		return core.GroupSpec{}, err
	}
	if len(recs) == 0 {
		return core.GroupSpec{}, &core.BackendError{Op: "p4 group -o " + name, Messages: []string{"empty group form"}}
	}
	rec := recs[0]
	return core.GroupSpec{
		Group:  rec["Group"],
		Users:  numberedList(rec, "Users"),
		Owners: numberedList(rec, "Owners"),
	}, nil
}

func (b *Backend) UpsertGroup(ctx context.Context, spec core.GroupSpec) error {
	var f formBuilder
	f.field("Group", spec.Group)
	f.listField("Owners", spec.Owners)
	f.listField("Users", spec.Users)
	return b.s.runForm(ctx, f.String(), "group")
}

func (b *Backend) ListDepots(ctx context.Context) ([]core.DepotInfo, error) {
	return b.listDepots(ctx, "depots")
}

func (b *Backend) ListDepotsMatching(ctx context.Context, pattern string) ([]core.DepotInfo, error) {
	return b.listDepots(ctx, "depots", "-E", pattern)
}

func (b *Backend) listDepots(ctx context.Context, args ...string) ([]core.DepotInfo, error) {
	recs, err := b.s.runTagged(ctx, args...)
	if err != nil {
		return nil, err
	}
	depots := make([]core.DepotInfo, 0, len(recs))
	for _, rec := range recs {
		if rec["name"] == "" {
			continue
		}
		depots = append(depots, core.DepotInfo{
			Name: rec["name"],
			Type: rec["type"],
			Map:  rec["map"],
		})
	}
	return depots, nil
}

func (b *Backend) CreateDepot(ctx context.Context, name, depotType string) error {
	if depotType == "" {
		depotType = "stream"
	}
	var f formBuilder
	f.field("Depot", name)
	f.field("Type", depotType)
	f.field("Map", name+"/...")
	return b.s.runForm(ctx, f.String(), "depot")
}

// ListStreamsUnder matches on path or parent: a stream housed in another
// depot but parented into this one still belongs to its hierarchy.
func (b *Backend) ListStreamsUnder(ctx context.Context, depot string) ([]core.StreamID, error) {
	filter := fmt.Sprintf("Stream=//%s/... | Parent=//%s/...", depot, depot)
	recs, err := b.s.runTagged(ctx, "streams", "-F", filter)
	if err != nil {
		return nil, err
	}
	ids := make([]core.StreamID, 0, len(recs))
	for _, rec := range recs {
		if rec["Stream"] == "" {
			continue
		}
		ids = append(ids, core.StreamID{Path: rec["Stream"], Parent: rec["Parent"]})
	}
	return ids, nil
}

// streamCoreFields are mapped onto first-class StreamSpec fields rather
// than the attribute maps.
var streamCoreFields = map[string]bool{
	"Stream": true,
	"Parent": true,
	"Type":   true,
}

var trailingDigitsRe = regexp.MustCompile(`^(.+?)(\d+)$`)

func (b *Backend) GetStreamSpec(ctx context.Context, path string) (core.StreamSpec, error) {
	recs, err := b.s.runTagged(ctx, "stream", "-o", path)
	if err != nil {
		return core.StreamSpec{}, err
	}
	if len(recs) == 0 {
		return core.StreamSpec{}, &core.BackendError{Op: "p4 stream -o " + path, Messages: []string{"empty stream form"}}
	}
	rec := recs[0]

	spec := core.StreamSpec{
		Path:      rec["Stream"],
		Parent:    rec["Parent"],
		Kind:      rec["Type"],
		Attrs:     make(map[string]string),
		ListAttrs: make(map[string][]string),
	}

	// Numbered keys (Paths0, Paths1, ...) fold into list attributes;
	// everything else is a single-value attribute.
	listBases := make(map[string]bool)
	for key := range rec {
		if m := trailingDigitsRe.FindStringSubmatch(key); m != nil {
			listBases[m[1]] = true
		}
	}
	for base := range listBases {
		spec.ListAttrs[base] = numberedList(rec, base)
	}
	for key, value := range rec {
		if streamCoreFields[key] || trailingDigitsRe.MatchString(key) {
			continue
		}
		spec.Attrs[key] = value
	}
	return spec, nil
}

func (b *Backend) CreateStream(ctx context.Context, spec core.StreamSpec) error {
	var f formBuilder
	f.field("Stream", spec.Path)
	if spec.Parent != "" {
		f.field("Parent", spec.Parent)
	}
	f.field("Type", spec.Kind)

	for _, key := range sortedKeys(spec.Attrs) {
		f.field(key, spec.Attrs[key])
	}
	for _, key := range sortedListKeys(spec.ListAttrs) {
		f.listField(key, spec.ListAttrs[key])
	}
	return b.s.runForm(ctx, f.String(), "stream")
}

func (b *Backend) CreateBranchMapping(ctx context.Context, mapping core.BranchMapping) error {
	var f formBuilder
	f.field("Branch", mapping.Name)
	f.listField("View", mapping.View)
	return b.s.runForm(ctx, f.String(), "branch")
}

func (b *Backend) PopulateFromBranch(ctx context.Context, branch, description string) error {
	_, err := b.s.runText(ctx, "populate", "-d", description, "-b", branch)
	return err
}

func (b *Backend) DeleteBranchMapping(ctx context.Context, branch string) error {
	_, err := b.s.runText(ctx, "branch", "-d", branch)
	return err
}

func (b *Backend) GetProtectionsTable(ctx context.Context) ([]string, error) {
	recs, err := b.s.runTagged(ctx, "protect", "-o")
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return numberedList(recs[0], "Protections"), nil
}

func (b *Backend) SetProtectionsTable(ctx context.Context, lines []string) error {
	var f formBuilder
	f.listField("Protections", lines)
	return b.s.runForm(ctx, f.String(), "protect")
}

func (b *Backend) GetSeatLimitAndUsage(ctx context.Context) (int, int, error) {
	recs, err := b.s.runTagged(ctx, "license", "-u")
	if err != nil {
		return 0, 0, err
	}
	if len(recs) == 0 {
		return 0, 0, &core.BackendError{Op: "p4 license -u", Messages: []string{"empty license report"}}
	}
	rec := recs[0]

	used, err := strconv.Atoi(rec["userCount"])
	if err != nil {
		return 0, 0, fmt.Errorf("parse license userCount %q: %w", rec["userCount"], err)
	}
	limit, err := strconv.Atoi(rec["userLimit"])
	if err != nil {
		return 0, 0, fmt.Errorf("parse license userLimit %q: %w", rec["userLimit"], err)
	}
	return limit, used, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedListKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ core.AdminBackend = (*Backend)(nil)
