package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	To       string
	Database string
}

// ExportSummary is the JSON result of the export command.
type ExportSummary struct {
	Destination string `json:"destination"`
	Timestep    int64  `json:"timestep"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [program]",
		Short: "Write the local database to a file or S3",
		Long: `Set up a program's runtime against its local database and write the
database, in the SQLite file format, to a path or s3://bucket/key.

The destination defaults to export.uri from the configuration.

Examples:
  diel export --config diel.yaml --to ./snapshot.db
  diel export --config diel.yaml --to s3://bucket/snapshots/diel.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "destination path or s3:// URI (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "local SQLite database (default from config)")

	return cmd
}

func runExport(opts *ExportOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, _, cleanup, err := openRuntime(ctx, opts.RootOptions, args, opts.Database, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rt.ExportTo(ctx, opts.To); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "export failed", err)
	}

	dest := opts.To
	if dest == "" {
		dest = "configured export location"
	}
	if formatter.JSON() {
		return formatter.Success(ExportSummary{Destination: dest, Timestep: rt.Timestep()})
	}
	fmt.Fprintf(formatter.Writer, "%s Exported local database to %s\n", Pass("✓"), dest)
	return nil
}
