package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeBackend is an in-memory AdminBackend for tests. Mutations record
// themselves in calls (one string per operation, in order) so tests can
// assert both the resulting state and the operation sequence. failOn maps
// an operation name to an error the next matching call returns.
type fakeBackend struct {
	mu sync.Mutex

	users       []string
	groups      map[string]GroupSpec
	depots      []DepotInfo
	streamIDs   map[string][]StreamID
	streamSpecs map[string]StreamSpec
	protections []string
	branches    map[string]BranchMapping
	seatLimit   int
	seatUsed    int

	calls  []string
	failOn map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		groups:      make(map[string]GroupSpec),
		streamIDs:   make(map[string][]StreamID),
		streamSpecs: make(map[string]StreamSpec),
		branches:    make(map[string]BranchMapping),
		failOn:      make(map[string]error),
		seatLimit:   100,
	}
}

func (f *fakeBackend) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if err, ok := f.failOn[op]; ok {
		return err
	}
	return nil
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// addTemplate seeds a template depot with a mainline and one child stream,
// the minimal realistic hierarchy.
func (f *fakeBackend) addTemplate(name string) {
	f.depots = append(f.depots, DepotInfo{Name: name, Type: "stream", Map: name + "/..."})
	main := "//" + name + "/main"
	dev := "//" + name + "/dev"
	f.streamIDs[name] = []StreamID{
		{Path: dev, Parent: main},
		{Path: main, Parent: "none"},
	}
	f.streamSpecs[main] = StreamSpec{
		Path: main, Parent: "none", Kind: "mainline",
		Attrs:     map[string]string{"Name": "main", "Update": "2024/01/01", "Access": "2024/01/02"},
		ListAttrs: map[string][]string{"Paths": {"share ..."}},
	}
	f.streamSpecs[dev] = StreamSpec{
		Path: dev, Parent: main, Kind: "development",
		Attrs:     map[string]string{"Name": "dev"},
		ListAttrs: map[string][]string{"Paths": {"share ..."}},
	}
}

func (f *fakeBackend) ListUsers(ctx context.Context) ([]string, error) {
	if err := f.record("ListUsers"); err != nil {
		return nil, err
	}
	return append([]string(nil), f.users...), nil
}

func (f *fakeBackend) CreateUser(ctx context.Context, spec UserSpec) error {
	if err := f.record("CreateUser " + spec.Username); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, spec.Username)
	return nil
}

func (f *fakeBackend) SetInitialPassword(ctx context.Context, username, password string) error {
	return f.record("SetInitialPassword " + username)
}

func (f *fakeBackend) ListGroups(ctx context.Context) ([]string, error) {
	if err := f.record("ListGroups"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.groups))
	for name := range f.groups {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeBackend) GetGroup(ctx context.Context, name string) (GroupSpec, error) {
	if err := f.record("GetGroup " + name); err != nil {
		return GroupSpec{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[name]
	if !ok {
		return GroupSpec{}, fmt.Errorf("group not found: %s", name)
	}
	return g, nil
}

func (f *fakeBackend) UpsertGroup(ctx context.Context, spec GroupSpec) error {
	if err := f.record("UpsertGroup " + spec.Group); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[spec.Group] = spec
	return nil
}

func (f *fakeBackend) ListDepots(ctx context.Context) ([]DepotInfo, error) {
	if err := f.record("ListDepots"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DepotInfo(nil), f.depots...), nil
}

func (f *fakeBackend) ListDepotsMatching(ctx context.Context, pattern string) ([]DepotInfo, error) {
	if err := f.record("ListDepotsMatching " + pattern); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DepotInfo
	for _, d := range f.depots {
		if matchSimplePattern(pattern, d.Name) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateDepot(ctx context.Context, name, depotType string) error {
	if err := f.record("CreateDepot " + name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depots = append(f.depots, DepotInfo{Name: name, Type: depotType, Map: name + "/..."})
	return nil
}

func (f *fakeBackend) ListStreamsUnder(ctx context.Context, depot string) ([]StreamID, error) {
	if err := f.record("ListStreamsUnder " + depot); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamID(nil), f.streamIDs[depot]...), nil
}

func (f *fakeBackend) GetStreamSpec(ctx context.Context, path string) (StreamSpec, error) {
	if err := f.record("GetStreamSpec " + path); err != nil {
		return StreamSpec{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.streamSpecs[path]
	if !ok {
		return StreamSpec{}, fmt.Errorf("stream not found: %s", path)
	}
	return spec, nil
}

func (f *fakeBackend) CreateStream(ctx context.Context, spec StreamSpec) error {
	if err := f.record("CreateStream " + spec.Path); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamSpecs[spec.Path] = spec
	return nil
}

func (f *fakeBackend) CreateBranchMapping(ctx context.Context, mapping BranchMapping) error {
	if err := f.record("CreateBranchMapping " + mapping.Name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[mapping.Name] = mapping
	return nil
}

func (f *fakeBackend) PopulateFromBranch(ctx context.Context, branch, description string) error {
	return f.record("PopulateFromBranch " + branch)
}

func (f *fakeBackend) DeleteBranchMapping(ctx context.Context, branch string) error {
	if err := f.record("DeleteBranchMapping " + branch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, branch)
	return nil
}

func (f *fakeBackend) GetProtectionsTable(ctx context.Context) ([]string, error) {
	if err := f.record("GetProtectionsTable"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.protections...), nil
}

func (f *fakeBackend) SetProtectionsTable(ctx context.Context, lines []string) error {
	if err := f.record("SetProtectionsTable"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protections = append([]string(nil), lines...)
	return nil
}

func (f *fakeBackend) GetSeatLimitAndUsage(ctx context.Context) (int, int, error) {
	if err := f.record("GetSeatLimitAndUsage"); err != nil {
		return 0, 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	used := f.seatUsed
	if used == 0 {
		used = len(f.users)
	}
	return f.seatLimit, used, nil
}

// matchSimplePattern supports the single-* glob used for template
// discovery ("*template*", "proj*", "*").
func matchSimplePattern(pattern, s string) bool {
	switch {
	case pattern == "*" || pattern == "":
		return true
	case len(pattern) > 1 && pattern[0] == '*' && pattern[len(pattern)-1] == '*':
		return strings.Contains(s, pattern[1:len(pattern)-1])
	case pattern[0] == '*':
		return strings.HasSuffix(s, pattern[1:])
	case pattern[len(pattern)-1] == '*':
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	default:
		return s == pattern
	}
}
