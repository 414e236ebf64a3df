package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "templates",
		Short:         "List template depots available for provisioning",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(rootOpts, cmd)
		},
	}
}

func runTemplates(opts *RootOptions, cmd *cobra.Command) error {
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

	depots, err := backend.ListDepotsMatching(ctx, opts.TemplatePattern)
	if err != nil {
		return formatter.UserError(err)
	}

	if formatter.Format == "json" {
		return formatter.JSON(depots)
	}
	if len(depots) == 0 {
		fmt.Fprintf(formatter.Writer, "no depots match %q\n", opts.TemplatePattern)
		return nil
	}
	for _, d := range depots {
		fmt.Fprintf(formatter.Writer, "%s\t(%s)\n", d.Name, d.Type)
	}
	return nil
}
