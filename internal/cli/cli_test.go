package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

type fakeBackend struct{}

func (fakeBackend) ListUsers(context.Context) ([]string, error)              { return nil, nil }
func (fakeBackend) CreateUser(context.Context, core.UserSpec) error          { return nil }
func (fakeBackend) SetInitialPassword(context.Context, string, string) error { return nil }
func (fakeBackend) ListGroups(context.Context) ([]string, error)             { return nil, nil }
func (fakeBackend) GetGroup(context.Context, string) (core.GroupSpec, error) {
	return core.GroupSpec{}, nil
}
func (fakeBackend) UpsertGroup(context.Context, core.GroupSpec) error { return nil }
func (fakeBackend) ListDepots(context.Context) ([]core.DepotInfo, error) {
	return []core.DepotInfo{{Name: "bio_template", Type: "stream", Map: "bio_template/..."}}, nil
}
func (b fakeBackend) ListDepotsMatching(ctx context.Context, pattern string) ([]core.DepotInfo, error) {
	return b.ListDepots(ctx)
}
func (fakeBackend) CreateDepot(context.Context, string, string) error { return nil }
func (fakeBackend) ListStreamsUnder(context.Context, string) ([]core.StreamID, error) {
	return []core.StreamID{{Path: "//bio_template/main", Parent: "none"}}, nil
}
func (fakeBackend) GetStreamSpec(ctx context.Context, path string) (core.StreamSpec, error) {
	return core.StreamSpec{Path: path, Parent: "none", Kind: "mainline"}, nil
}
func (fakeBackend) CreateStream(context.Context, core.StreamSpec) error           { return nil }
func (fakeBackend) CreateBranchMapping(context.Context, core.BranchMapping) error { return nil }
func (fakeBackend) PopulateFromBranch(context.Context, string, string) error      { return nil }
func (fakeBackend) DeleteBranchMapping(context.Context, string) error             { return nil }
func (fakeBackend) GetProtectionsTable(context.Context) ([]string, error)         { return nil, nil }
func (fakeBackend) SetProtectionsTable(context.Context, []string) error           { return nil }
func (fakeBackend) GetSeatLimitAndUsage(context.Context) (int, int, error)        { return 50, 10, nil }

func writeRoster(t *testing.T, csv string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const rosterCSV = "Name,E-mail,Group,Owner\nAda,ada@x.edu,bio101,true\nBob,bob@x.edu,bio101,false\n"

// ============================================================================
// Plan Construction Tests
// ============================================================================

func TestBuildPlan(t *testing.T) {
	path := writeRoster(t, rosterCSV)
	opts := &RootOptions{TemplatePattern: core.DefaultTemplatePattern}

	plan, err := buildPlan(context.Background(), fakeBackend{}, opts, path, "bio_template", "")
	if err != nil {
		t.Fatalf("buildPlan() error: %v", err)
	}
	if len(plan.UsersToCreate) != 2 {
		t.Errorf("users to create = %d, want 2", len(plan.UsersToCreate))
	}
	if len(plan.DepotsToCreate) != 1 || plan.DepotsToCreate[0] != "bio101" {
		t.Errorf("depots to create = %v, want [bio101]", plan.DepotsToCreate)
	}
	if plan.RemainingSeats != 40 {
		t.Errorf("remaining seats = %d, want 40", plan.RemainingSeats)
	}
}

func TestBuildPlanUnknownTemplate(t *testing.T) {
	path := writeRoster(t, rosterCSV)
	opts := &RootOptions{TemplatePattern: core.DefaultTemplatePattern}

	_, err := buildPlan(context.Background(), fakeBackend{}, opts, path, "missing", "")
	if err == nil || !strings.Contains(err.Error(), "template depot not found") {
		t.Fatalf("buildPlan() error = %v, want template not found", err)
	}
}

func TestBuildPlanInvalidRoster(t *testing.T) {
	path := writeRoster(t, "Name,E-mail,Group,Owner\nAda,notanemail,bio101,true\n")
	opts := &RootOptions{TemplatePattern: core.DefaultTemplatePattern}

	_, err := buildPlan(context.Background(), fakeBackend{}, opts, path, "bio_template", "")
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("buildPlan() error = %v, want *ValidationError", err)
	}
}

func TestPrintPlanWarnsOnSeatShortfall(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf, ErrWriter: &buf}

	printPlan(f, &core.Plan{
		Template:       core.DepotInfo{Name: "bio_template"},
		UsersToCreate:  []core.UserSpec{{Username: "ada"}, {Username: "bob"}},
		RemainingSeats: 1,
	})

	if !strings.Contains(buf.String(), "Warning: 2 new users but only 1 seats remaining") {
		t.Errorf("output missing seat warning:\n%s", buf.String())
	}
}

// ============================================================================
// Command Wiring Tests
// ============================================================================

func TestRootRejectsInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "templates"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Fatalf("Execute() error = %v, want invalid format", err)
	}
}

func TestApplyWatchRunCompletes(t *testing.T) {
	path := writeRoster(t, rosterCSV)
	opts := &RootOptions{TemplatePattern: core.DefaultTemplatePattern}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan, err := buildPlan(ctx, fakeBackend{}, opts, path, "bio_template", "")
	if err != nil {
		t.Fatalf("buildPlan() error: %v", err)
	}

	sink := core.NewFileSink(t.TempDir(), time.Now())
	pipeline := core.NewPipeline("run1", fakeBackend{}, plan, core.NewUndoLedger(sink),
		core.WithInitialPassword("changeme1"))
	pipeline.Start(ctx)

	var out bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &out, ErrWriter: &out}
	cmd := NewApplyCommand(opts)
	if err := watchRun(cmd, f, pipeline, cancel, true); err != nil {
		t.Fatalf("watchRun() error: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "provisioning complete") {
		t.Errorf("output missing completion line:\n%s", out.String())
	}
}
