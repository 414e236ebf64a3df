package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ArgonautCreations/depotforge/internal/core"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		yes      bool
		password string
		undoDir  string
	)

	cmd := &cobra.Command{
		Use:   "apply <roster.csv> <template-depot>",
		Short: "Provision the roster against the server",
		Long: `Run the full provisioning sequence: create users and groups, create a
stream depot per group from the template, seed them with the template's
content, and grant group permissions. Undo commands for everything created
are written to a file as the run progresses.

The run pauses before seeding depot content; confirm at the prompt or pass
--yes to proceed without one.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, cmd, args[0], args[1], yes, password, undoDir)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the populate confirmation prompt")
	cmd.Flags().StringVar(&password, "password", "", "initial password for new users (defaults to PROVISION_DEFAULT_PASSWORD)")
	cmd.Flags().StringVar(&undoDir, "undo-dir", "undo", "directory for the undo command file")
	return cmd
}

func runApply(opts *RootOptions, cmd *cobra.Command, rosterPath, template string, yes bool, password, undoDir string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if password == "" {
		password = os.Getenv("PROVISION_DEFAULT_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no initial password: set --password or PROVISION_DEFAULT_PASSWORD")
	}

	backend, err := opts.newBackend(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := backend.Verify(ctx); err != nil {
		return formatter.UserError(err)
	}

	plan, err := buildPlan(ctx, backend, opts, rosterPath, template, "")
	if err != nil {
		return formatter.UserError(err)
	}
	printPlan(formatter, plan)
	fmt.Fprintln(formatter.Writer)

	sink := core.NewFileSink(undoDir, time.Now())
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	pipeline := core.NewPipeline(uuid.NewString(), backend, plan, core.NewUndoLedger(sink),
		core.WithInitialPassword(password),
		core.WithLogger(logger),
	)
	pipeline.Start(ctx)

	if err := watchRun(cmd, formatter, pipeline, cancel, yes); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "\nUndo commands: %s\n", sink.Path())
	return nil
}

// watchRun prints progress until the run finishes, handling the populate
// pause in between. cancel aborts a run the operator declines to continue.
func watchRun(cmd *cobra.Command, f *OutputFormatter, pipeline *core.Pipeline, cancel context.CancelFunc, yes bool) error {
	var (
		lastLine  string
		confirmed bool
	)
	for progress := range pipeline.Subscribe() {
		line := fmt.Sprintf("%s: %d/%d", progress.StageName, progress.Done, progress.Total)
		if line != lastLine {
			fmt.Fprintln(f.Writer, line)
			lastLine = line
		}

		if progress.Status == core.StatusAwaitingPopulate && !confirmed {
			confirmed = true
			if !yes && !confirmPopulate(cmd, f) {
				fmt.Fprintln(f.Writer, "aborting before depot content is copied")
				cancel()
				continue
			}
			if err := pipeline.ConfirmPopulate(); err != nil {
				return f.UserError(err)
			}
		}
	}

	final := pipeline.Progress()
	switch final.Status {
	case core.StatusComplete:
		fmt.Fprintln(f.Writer, "provisioning complete")
		return nil
	default:
		return f.UserError(fmt.Errorf("run failed at %s: %s", final.StageName, final.Error))
	}
}

func confirmPopulate(cmd *cobra.Command, f *OutputFormatter) bool {
	fmt.Fprint(f.Writer, "Users, groups, and depots created. Copy template content into the new depots? [y/N] ")
	reader := bufio.NewReader(cmd.InOrStdin())
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
