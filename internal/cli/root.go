// Package cli implements the docingest command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/server"
)

// Runtime carries what commands need from the outside world. Tests swap
// LoadConfig and Options.
type Runtime struct {
	LoadConfig func() *common.Config
	Options    server.Options
	Logger     *slog.Logger
}

// RootCmd builds the command tree.
func RootCmd(rt *Runtime) *cobra.Command {
	if rt.LoadConfig == nil {
		rt.LoadConfig = common.LoadConfig
	}
	var logLevel string

	root := &cobra.Command{
		Use:           "docingest",
		Short:         "Progressive document ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.Logger != nil {
				return nil
			}
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}
			rt.Logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(rt.Logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		migrateCmd(rt),
		seedPromptsCmd(rt),
		registerCmd(rt),
		processCmd(rt),
		resetCmd(rt),
		statusCmd(rt),
		exportCmd(rt),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := RootCmd(&Runtime{})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps error classes to distinct exit statuses for scripts.
func exitCode(err error) int {
	if common.CodeOf(err) == common.CodeConfig {
		return 2
	}
	return 1
}

// openApp loads configuration and wires the components a command needs.
func openApp(cmd *cobra.Command, rt *Runtime, withPipeline bool) (*server.App, error) {
	cfg := rt.LoadConfig()
	opts := rt.Options
	opts.WithPipeline = withPipeline
	return server.NewApp(cmd.Context(), cfg, opts, rt.Logger)
}
