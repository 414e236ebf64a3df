package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// ============================================================================
// BuildPlan Tests
// ============================================================================

func TestBuildPlan(t *testing.T) {
	b := newFakeBackend()
	b.addTemplate("proj_template")
	b.users = []string{"bob"}
	b.groups["teamy"] = GroupSpec{Group: "teamy", Users: []string{"old"}}
	b.depots = append(b.depots, DepotInfo{Name: "teamy", Type: "stream"})
	b.protections = []string{
		"super user admin * //...",
		"write group teamy * //teamy/...",
	}
	b.seatLimit = 10
	b.seatUsed = 4

	records := []Record{
		{Name: "Ada", Email: "ada@x.edu", Group: "teamx", IsOwner: true, Username: "ada"},
		{Name: "Bob", Email: "bob@x.edu", Group: "teamx", Username: "bob"},
		{Name: "Cyd", Email: "cyd@x.edu", Group: "teamy", IsOwner: true, Username: "cyd"},
	}

	plan, err := BuildPlan(context.Background(), b, records, DepotInfo{Name: "proj_template", Type: "stream"})
	if err != nil {
		t.Fatalf("BuildPlan() error: %v", err)
	}

	wantUsers := []UserSpec{
		{Username: "ada", Email: "ada@x.edu", FullName: "Ada"},
		{Username: "cyd", Email: "cyd@x.edu", FullName: "Cyd"},
	}
	if !reflect.DeepEqual(plan.UsersToCreate, wantUsers) {
		t.Errorf("UsersToCreate = %+v, want %+v", plan.UsersToCreate, wantUsers)
	}

	if len(plan.GroupsToCreate) != 1 || plan.GroupsToCreate[0].Group != "teamx" {
		t.Errorf("GroupsToCreate = %+v, want just teamx", plan.GroupsToCreate)
	}
	if len(plan.GroupsToModify) != 1 || plan.GroupsToModify[0].Group != "teamy" {
		t.Errorf("GroupsToModify = %+v, want just teamy", plan.GroupsToModify)
	}
	// The desired membership comes from the roster, not the server.
	if want := []string{"cyd"}; !reflect.DeepEqual(plan.GroupsToModify[0].Users, want) {
		t.Errorf("teamy users = %v, want %v", plan.GroupsToModify[0].Users, want)
	}

	if want := []string{"teamx"}; !reflect.DeepEqual(plan.DepotsToCreate, want) {
		t.Errorf("DepotsToCreate = %v, want %v", plan.DepotsToCreate, want)
	}

	// teamy's line already exists verbatim; only teamx needs one.
	wantPerms := []string{"write group teamx * //teamx/..."}
	if !reflect.DeepEqual(plan.PermissionsToCreate, wantPerms) {
		t.Errorf("PermissionsToCreate = %v, want %v", plan.PermissionsToCreate, wantPerms)
	}

	if plan.RemainingSeats != 6 {
		t.Errorf("RemainingSeats = %d, want 6", plan.RemainingSeats)
	}
}

func TestBuildPlanDeduplicatesRosterUsers(t *testing.T) {
	b := newFakeBackend()
	records := []Record{
		{Name: "Ada", Email: "ada@x.edu", Group: "teamx", Username: "ada"},
		{Name: "Ada", Email: "ada@x.edu", Group: "teamy", Username: "ada"},
	}

	plan, err := BuildPlan(context.Background(), b, records, DepotInfo{Name: "tmpl"})
	if err != nil {
		t.Fatalf("BuildPlan() error: %v", err)
	}
	if len(plan.UsersToCreate) != 1 {
		t.Errorf("UsersToCreate = %+v, want one entry", plan.UsersToCreate)
	}
	if len(plan.DepotsToCreate) != 2 {
		t.Errorf("DepotsToCreate = %v, want both groups", plan.DepotsToCreate)
	}
}

func TestBuildPlanSeatCheckDegradesToZero(t *testing.T) {
	b := newFakeBackend()
	b.failOn["GetSeatLimitAndUsage"] = errors.New("license unavailable")

	plan, err := BuildPlan(context.Background(), b,
		[]Record{{Name: "Ada", Email: "ada@x.edu", Group: "teamx", Username: "ada"}},
		DepotInfo{Name: "tmpl"})
	if err != nil {
		t.Fatalf("BuildPlan() error: %v", err)
	}
	if plan.RemainingSeats != 0 {
		t.Errorf("RemainingSeats = %d, want 0 on seat-check failure", plan.RemainingSeats)
	}
}

func TestBuildPlanPropagatesListErrors(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"users list fails", "ListUsers"},
		{"groups list fails", "ListGroups"},
		{"depots list fails", "ListDepots"},
		{"protections read fails", "GetProtectionsTable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.failOn[tt.op] = errors.New("backend down")

			_, err := BuildPlan(context.Background(), b,
				[]Record{{Name: "Ada", Email: "ada@x.edu", Group: "teamx", Username: "ada"}},
				DepotInfo{Name: "tmpl"})
			if err == nil {
				t.Fatalf("BuildPlan() succeeded despite %s failure", tt.op)
			}
		})
	}
}

// ============================================================================
// DefaultPermissionLine Tests
// ============================================================================

func TestDefaultPermissionLine(t *testing.T) {
	got := DefaultPermissionLine("teamx")
	want := "write group teamx * //teamx/..."
	if got != want {
		t.Errorf("DefaultPermissionLine() = %q, want %q", got, want)
	}
}
