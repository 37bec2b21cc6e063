package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/urllist"
)

func newIngestCmd() *cobra.Command {
	var (
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, analyze and store every URL of the input list",
		Long: `Processes each URL of the input list through fetch, analysis and
persistence. A failing URL is recorded in the analysis log and the batch
continues with the next one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			list := a.URLs
			if file != "" {
				list = urllist.New(file, indicator.NewValidator(a.Config.Pipeline.AllowedPrefixes...))
			}
			urls, err := list.Read()
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no URLs to process in %s\n", list.Path())
				return nil
			}
			if concurrency <= 0 {
				concurrency = a.Config.Pipeline.Concurrency
			}

			log := a.Logger.Named("ingest")
			log.Info("ingest started",
				zap.Int("urls", len(urls)),
				zap.Int("concurrency", concurrency),
				zap.Bool("placeholder_analysis", a.Analyzer.Placeholder()),
			)
			res := a.Orchestrator.RunBatch(cmd.Context(), urls, concurrency)
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d of %d URLs: %d succeeded, %d failed\n",
				res.Processed, len(urls), res.Succeeded, res.Failed)
			for _, out := range res.Outcomes {
				if !out.Succeeded() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s: %v\n", out.URL, out.Stage, out.Err)
				}
			}
			if err := cmd.Context().Err(); err != nil {
				return fmt.Errorf("ingest interrupted: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "input list (defaults to pipeline.url_file)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "identifiers in flight (defaults to pipeline.concurrency)")
	return cmd
}
