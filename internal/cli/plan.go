package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var emailDomain string

	cmd := &cobra.Command{
		Use:   "plan <roster.csv> <template-depot>",
		Short: "Preview what a roster would provision, without changing anything",
		Long: `Validate the roster, diff it against current server state, and print
the users, groups, and depots a run would create. Read-only.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, cmd, args[0], args[1], emailDomain)
		},
	}
	cmd.Flags().StringVar(&emailDomain, "email-domain", "", "regexp the roster's email domains must match")
	return cmd
}

func runPlan(opts *RootOptions, cmd *cobra.Command, rosterPath, template, emailDomain string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	backend, err := opts.newBackend(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := backend.Verify(ctx); err != nil {
		return formatter.UserError(err)
	}

	plan, err := buildPlan(ctx, backend, opts, rosterPath, template, emailDomain)
	if err != nil {
		return formatter.UserError(err)
	}

	if formatter.Format == "json" {
		return formatter.JSON(plan)
	}
	printPlan(formatter, plan)
	return nil
}

// buildPlan loads and validates the roster file and diffs it against the
// server. Shared by plan and apply.
func buildPlan(ctx context.Context, backend core.AdminBackend, opts *RootOptions, rosterPath, template, emailDomain string) (*core.Plan, error) {
	if emailDomain == "" {
		emailDomain = core.DefaultEmailDomainPattern
	}
	validator, err := core.NewRecordValidator(emailDomain)
	if err != nil {
		return nil, fmt.Errorf("email domain pattern: %w", err)
	}

	data, err := os.ReadFile(rosterPath)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	records, err := core.ParseRoster(data, validator)
	if err != nil {
		return nil, err
	}

	tmpl, err := findTemplate(ctx, backend, opts.TemplatePattern, template)
	if err != nil {
		return nil, err
	}
	return core.BuildPlan(ctx, backend, records, tmpl)
}

func findTemplate(ctx context.Context, backend core.AdminBackend, pattern, name string) (core.DepotInfo, error) {
	depots, err := backend.ListDepotsMatching(ctx, pattern)
	if err != nil {
		return core.DepotInfo{}, err
	}
	for _, d := range depots {
		if d.Name == name {
			return d, nil
		}
	}
	return core.DepotInfo{}, fmt.Errorf("template depot not found: %s", name)
}

func printPlan(f *OutputFormatter, plan *core.Plan) {
	fmt.Fprintf(f.Writer, "Template: %s\n", plan.Template.Name)
	fmt.Fprintf(f.Writer, "Roster:   %d rows, %d groups\n\n", len(plan.Records), len(plan.Groups))

	fmt.Fprintf(f.Writer, "Users to create (%d):\n", len(plan.UsersToCreate))
	for _, u := range plan.UsersToCreate {
		fmt.Fprintf(f.Writer, "  %s\t%s\n", u.Username, u.Email)
	}
	fmt.Fprintf(f.Writer, "Groups to create (%d):\n", len(plan.GroupsToCreate))
	for _, g := range plan.GroupsToCreate {
		fmt.Fprintf(f.Writer, "  %s\t%d members\n", g.Group, len(g.Users))
	}
	fmt.Fprintf(f.Writer, "Groups to update (%d):\n", len(plan.GroupsToModify))
	for _, g := range plan.GroupsToModify {
		fmt.Fprintf(f.Writer, "  %s\t%d members\n", g.Group, len(g.Users))
	}
	fmt.Fprintf(f.Writer, "Depots to create (%d):\n", len(plan.DepotsToCreate))
	for _, d := range plan.DepotsToCreate {
		fmt.Fprintf(f.Writer, "  %s\n", d)
	}
	fmt.Fprintf(f.Writer, "Permission lines to add: %d\n", len(plan.PermissionsToCreate))
	fmt.Fprintf(f.Writer, "License seats remaining:  %d\n", plan.RemainingSeats)

	if len(plan.UsersToCreate) > plan.RemainingSeats {
		fmt.Fprintf(f.Writer, "\nWarning: %d new users but only %d seats remaining\n",
			len(plan.UsersToCreate), plan.RemainingSeats)
	}
}
