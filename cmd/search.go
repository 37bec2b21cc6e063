package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

type searchFlags struct {
	query            string
	minProfitability int
	minReliability   int
	from             string
	to               string
	limit            int
	offset           int
}

func (f searchFlags) filters(cmd *cobra.Command) (indicator.SearchFilters, error) {
	out := indicator.SearchFilters{Query: f.query, Limit: f.limit, Offset: f.offset}
	if cmd.Flags().Changed("min-profitability") {
		v := f.minProfitability
		out.MinProfitability = &v
	}
	if cmd.Flags().Changed("min-reliability") {
		v := f.minReliability
		out.MinReliability = &v
	}
	if f.from != "" {
		t, err := indicator.ParseFilterTime(f.from, false)
		if err != nil {
			return out, err
		}
		out.CreatedFrom = &t
	}
	if f.to != "" {
		t, err := indicator.ParseFilterTime(f.to, true)
		if err != nil {
			return out, err
		}
		out.CreatedTo = &t
	}
	return out, nil
}

func newSearchCmd() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search stored records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filters, err := f.filters(cmd)
			if err != nil {
				return err
			}
			records, err := a.Repo.Search(cmd.Context(), filters)
			if err != nil {
				return err
			}
			if records == nil {
				records = []indicator.AnalysisRecord{}
			}
			return printJSON(cmd, records)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.query, "query", "", "case-insensitive substring of name or functionality")
	flags.IntVar(&f.minProfitability, "min-profitability", 0, "minimum profitability rating")
	flags.IntVar(&f.minReliability, "min-reliability", 0, "minimum reliability rating")
	flags.StringVar(&f.from, "from", "", "created on or after (YYYY-MM-DD or RFC 3339)")
	flags.StringVar(&f.to, "to", "", "created on or before (YYYY-MM-DD or RFC 3339)")
	flags.IntVar(&f.limit, "limit", indicator.DefaultSearchLimit, "maximum records")
	flags.IntVar(&f.offset, "offset", 0, "records to skip")
	return cmd
}
