package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [destination]",
		Short: "Write every stored record as CSV to a local path or gs://bucket/object",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dest := a.Config.Export.DefaultPath
			if len(args) == 1 {
				dest = args[0]
			}
			res, err := a.Exporter.Export(cmd.Context(), dest)
			if err != nil {
				return err
			}
			if errors.Is(res.Outcome, indicator.ErrNoRecords) {
				fmt.Fprintln(cmd.OutOrStdout(), "no indicators to export")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d indicators to %s\n", res.Exported, res.URI)
			return nil
		},
	}
}
