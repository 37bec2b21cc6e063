package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/urllist"
)

func newAddURLCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add-url <url>",
		Short: "Append a script URL to the input list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			list := a.URLs
			if file != "" {
				list = urllist.New(file, indicator.NewValidator(a.Config.Pipeline.AllowedPrefixes...))
			}
			added, err := list.Append(args[0])
			switch {
			case errors.Is(err, indicator.ErrAlreadyExists):
				return fmt.Errorf("%s: %w", args[0], err)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", added, list.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "input list (defaults to pipeline.url_file)")
	return cmd
}
