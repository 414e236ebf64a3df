package core

// diff.go computes the difference between the desired roster state and the
// backend's current state. All backend calls here are read-only; BuildPlan
// can be re-run safely (for preview and again right before a run), though
// the result is a snapshot; concurrent changes by another administrator
// are not detected.

import (
	"context"
	"fmt"
	"log/slog"
)

// Plan is the immutable input to a provisioning run: the desired records
// and groups plus the creation sets diffed against the backend. Computed
// once before the pipeline starts and read-only afterwards.
type Plan struct {
	Template DepotInfo
	Records  []Record
	Groups   []GroupSpec

	UsersToCreate  []UserSpec
	GroupsToCreate []GroupSpec
	GroupsToModify []GroupSpec
	DepotsToCreate []string

	// PermissionsToCreate are full protections-table lines, not yet
	// present verbatim in the server's table.
	PermissionsToCreate []string

	// RemainingSeats is the license headroom (limit minus current users).
	// Zero when the seat check failed; the pessimistic default lets the
	// operator decide rather than aborting the preview.
	RemainingSeats int
}

// DefaultPermissionLine is the protections line granted to each new group
// over its same-named depot.
func DefaultPermissionLine(group string) string {
	return fmt.Sprintf("write group %s * //%s/...", group, group)
}

// BuildPlan diffs records (and the groups folded from them) against the
// backend and returns the creation sets, preserving input order throughout.
func BuildPlan(ctx context.Context, b AdminBackend, records []Record, template DepotInfo) (*Plan, error) {
	plan := &Plan{
		Template: template,
		Records:  records,
		Groups:   FoldGroups(records),
	}

	existingUsers, err := b.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	userSet := toSet(existingUsers)
	for _, rec := range records {
		if !userSet[rec.Username] {
			plan.UsersToCreate = append(plan.UsersToCreate, UserSpec{
				Username: rec.Username,
				Email:    rec.Email,
				FullName: rec.Name,
			})
			userSet[rec.Username] = true // roster may repeat a user
		}
	}

	existingGroups, err := b.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groupSet := toSet(existingGroups)
	for _, g := range plan.Groups {
		if groupSet[g.Group] {
			plan.GroupsToModify = append(plan.GroupsToModify, g)
		} else {
			plan.GroupsToCreate = append(plan.GroupsToCreate, g)
		}
	}

	existingDepots, err := b.ListDepots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list depots: %w", err)
	}
	depotSet := make(map[string]bool, len(existingDepots))
	for _, d := range existingDepots {
		depotSet[d.Name] = true
	}
	// Depots share names with groups; only the missing ones are created.
	for _, g := range plan.Groups {
		if !depotSet[g.Group] {
			plan.DepotsToCreate = append(plan.DepotsToCreate, g.Group)
		}
	}

	protections, err := b.GetProtectionsTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read protections table: %w", err)
	}
	lineSet := toSet(protections)
	for _, g := range plan.Groups {
		line := DefaultPermissionLine(g.Group)
		if !lineSet[line] {
			plan.PermissionsToCreate = append(plan.PermissionsToCreate, line)
		}
	}

	plan.RemainingSeats = remainingSeats(ctx, b)

	return plan, nil
}

// remainingSeats degrades to zero on error: a failed license check must
// not abort planning, and zero is the answer that makes the operator look
// before they leap.
func remainingSeats(ctx context.Context, b AdminBackend) int {
	limit, used, err := b.GetSeatLimitAndUsage(ctx)
	if err != nil {
		slog.Warn("seat check failed, assuming no seats remain", "error", err)
		return 0
	}
	remaining := limit - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
