package core

// stages.go holds the per-stage work functions and undo synthesis. Each
// run function executes inside the single stage worker started by the
// coordinator and reports item completion through the report callback.

import (
	"context"
	"fmt"
)

// runUsers creates every missing account and assigns the initial password.
// Any failure is fatal: later stages reference these accounts by name.
func (p *Pipeline) runUsers(ctx context.Context, report func(int)) error {
	for i, u := range p.plan.UsersToCreate {
		if err := p.backend.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("create user %s: %w", u.Username, err)
		}
		if p.password != "" {
			if err := p.backend.SetInitialPassword(ctx, u.Username, p.password); err != nil {
				return fmt.Errorf("set password for %s: %w", u.Username, err)
			}
		}
		report(i + 1)
	}
	return nil
}

// runGroups upserts new groups first, then rewrites the membership of
// groups that already existed.
func (p *Pipeline) runGroups(ctx context.Context, report func(int)) error {
	done := 0
	for _, batch := range [][]GroupSpec{p.plan.GroupsToCreate, p.plan.GroupsToModify} {
		for _, g := range batch {
			if err := p.backend.UpsertGroup(ctx, g); err != nil {
				return fmt.Errorf("upsert group %s: %w", g.Group, err)
			}
			done++
			report(done)
		}
	}
	return nil
}

// runDepots creates each missing depot and rebuilds the template's stream
// hierarchy inside it. Created object names are logged on the pipeline for
// undo synthesis after the stage completes.
func (p *Pipeline) runDepots(ctx context.Context, report func(int)) error {
	for i, depot := range p.plan.DepotsToCreate {
		if err := p.backend.CreateDepot(ctx, depot, p.plan.Template.Type); err != nil {
			return fmt.Errorf("create depot %s: %w", depot, err)
		}
		p.created.depots = append(p.created.depots, depot)

		specs, err := ResolveStreamHierarchy(ctx, p.backend, p.plan.Template.Name, depot)
		if err != nil {
			return fmt.Errorf("resolve streams for %s: %w", depot, err)
		}
		for _, spec := range specs {
			if err := p.backend.CreateStream(ctx, spec); err != nil {
				return fmt.Errorf("create stream %s: %w", spec.Path, err)
			}
			p.created.streams[depot] = append(p.created.streams[depot], spec.Path)
		}
		report(i + 1)
	}
	return nil
}

// runPopulate copies the template's stream contents into each new depot
// through a throwaway branch mapping. Populate failures are the one
// recoverable error class: the depot structure already exists, so a failed
// copy is logged and the run moves on to the next depot.
func (p *Pipeline) runPopulate(ctx context.Context, report func(int)) error {
	for i, depot := range p.plan.DepotsToCreate {
		if err := p.populateDepot(ctx, depot); err != nil {
			p.logger.Warn("populate failed, continuing", "depot", depot, "error", err)
		}
		report(i + 1)
	}
	return nil
}

func (p *Pipeline) populateDepot(ctx context.Context, depot string) error {
	streams, err := p.backend.ListStreamsUnder(ctx, p.plan.Template.Name)
	if err != nil {
		return fmt.Errorf("list template streams: %w", err)
	}

	var view []string
	for _, s := range streams {
		dst := "//" + depot + s.Path[len("//"+p.plan.Template.Name):]
		view = append(view, fmt.Sprintf("%s/... %s/...", s.Path, dst))
	}

	mapping := BranchMapping{Name: "populate_" + depot, View: view}
	if err := p.backend.CreateBranchMapping(ctx, mapping); err != nil {
		return fmt.Errorf("create branch mapping: %w", err)
	}
	defer func() {
		if err := p.backend.DeleteBranchMapping(ctx, mapping.Name); err != nil {
			p.logger.Warn("delete branch mapping failed", "branch", mapping.Name, "error", err)
		}
	}()

	desc := "Initial import from " + p.plan.Template.Name + " for " + depot
	if err := p.backend.PopulateFromBranch(ctx, mapping.Name, desc); err != nil {
		return fmt.Errorf("populate from %s: %w", mapping.Name, err)
	}
	return nil
}

// runPermissions prepends one access line per roster group to the current
// protections table. Prepending keeps existing admin rules in force, since
// later lines win on conflict.
func (p *Pipeline) runPermissions(ctx context.Context, report func(int)) error {
	if len(p.plan.PermissionsToCreate) == 0 {
		report(1)
		return nil
	}
	table, err := p.backend.GetProtectionsTable(ctx)
	if err != nil {
		return fmt.Errorf("read protections: %w", err)
	}
	merged := make([]string, 0, len(p.plan.PermissionsToCreate)+len(table))
	merged = append(merged, p.plan.PermissionsToCreate...)
	merged = append(merged, table...)
	if err := p.backend.SetProtectionsTable(ctx, merged); err != nil {
		return fmt.Errorf("write protections: %w", err)
	}
	report(1)
	return nil
}

func (p *Pipeline) undoUsers() []string {
	cmds := make([]string, 0, len(p.plan.UsersToCreate))
	for _, u := range p.plan.UsersToCreate {
		cmds = append(cmds, "p4 user -d -f "+u.Username)
	}
	return cmds
}

func (p *Pipeline) undoGroups() []string {
	var cmds []string
	for _, batch := range [][]GroupSpec{p.plan.GroupsToCreate, p.plan.GroupsToModify} {
		for _, g := range batch {
			cmds = append(cmds, "p4 group -d -F "+g.Group)
		}
	}
	return cmds
}

// undoDepots reverses depot creation: streams in reverse creation order so
// children go before parents, then obliterate the depot's file content,
// then delete the depot itself.
func (p *Pipeline) undoDepots() []string {
	var cmds []string
	for _, depot := range p.created.depots {
		streams := p.created.streams[depot]
		for i := len(streams) - 1; i >= 0; i-- {
			cmds = append(cmds, "p4 stream -d -f "+streams[i])
		}
		cmds = append(cmds, "p4 obliterate -y //"+depot+"/...")
		cmds = append(cmds, "p4 depot -d "+depot)
	}
	return cmds
}
