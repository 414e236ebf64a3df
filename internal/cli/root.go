package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ArgonautCreations/depotforge/internal/backend/helix"
	"github.com/ArgonautCreations/depotforge/internal/core"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Bin     string
	Port    string
	User    string
	Charset string

	TemplatePattern string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the depotforge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "depotforge",
		Short: "Bulk-provision Helix users, groups, and depots from a CSV roster",
		Long: `depotforge reads a class roster CSV and provisions the matching
users, groups, stream depots, and permissions on a Helix server, recording
undo commands for everything it creates.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env next to the binary is a convenience, not a requirement.
			godotenv.Load()

			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Port == "" {
				opts.Port = firstEnv("HELIX_PORT", "P4PORT")
			}
			if opts.User == "" {
				opts.User = firstEnv("HELIX_USER", "P4USER")
			}
			if opts.Charset == "" {
				opts.Charset = os.Getenv("HELIX_CHARSET")
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Bin, "p4-bin", "p4", "p4 executable")
	cmd.PersistentFlags().StringVar(&opts.Port, "port", "", "Helix server address (defaults to HELIX_PORT or P4PORT)")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "admin account (defaults to HELIX_USER or P4USER)")
	cmd.PersistentFlags().StringVar(&opts.TemplatePattern, "template-pattern", core.DefaultTemplatePattern, "glob selecting template depots")

	// Add subcommands
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// newBackend builds a Helix backend from the global connection flags. The
// session is not verified here; commands verify before mutating anything.
func (o *RootOptions) newBackend(errWriter io.Writer) (*helix.Backend, error) {
	if o.Port == "" {
		return nil, fmt.Errorf("no server address: set --port or HELIX_PORT")
	}
	if o.User == "" {
		return nil, fmt.Errorf("no admin user: set --user or HELIX_USER")
	}
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{Level: level}))
	session := helix.NewSession(helix.Options{
		Bin:     o.Bin,
		Port:    o.Port,
		User:    o.User,
		Charset: o.Charset,
	}, logger)
	return helix.NewBackend(session), nil
}
