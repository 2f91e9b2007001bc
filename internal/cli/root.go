// Package cli provides the gatectl command-line interface.
package cli

import (
	"io"
	"log/slog"

	"github.com/raphaelgruber/datahub-gate/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries the state shared by all subcommands of one invocation.
type app struct {
	cfg     config.Config
	verbose bool
	logger  *slog.Logger
}

// NewRootCmd builds the gatectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	root := &cobra.Command{
		Use:   "gatectl",
		Short: "Operate the DataHub upload gate",
		Long: `gatectl checks metadata batches against the ownership rules of the upload
gate, mints catalog tokens and generates test batches.

Configuration is read from the same environment variables as the services
(DATAHUB_GMS_URL, JWT_SECRET, ...).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			if a.verbose {
				a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newValidateCmd(a),
		newTokenCmd(a),
		newGenerateCmd(a),
		newUploadCmd(a),
	)
	return root
}

// Execute runs gatectl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

