package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [directory|gs://bucket/prefix]",
		Short: "Write a timestamped, gzip-compressed snapshot of the sqlite database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dir := a.Config.Export.BackupDir
			if len(args) == 1 {
				dir = args[0]
			}
			res, err := a.Backup.Backup(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backed up database to %s (%d bytes)\n", res.URI, res.Bytes)
			return nil
		},
	}
}
