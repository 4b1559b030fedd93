package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/store"
)

var (
	reportCategory    string
	reportDescription string
	reportSource      string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manage the scammer-report directory",
}

var reportAddCmd = &cobra.Command{
	Use:   "add <identifier>",
	Short: "Record a scam report against an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openReportStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return addReport(cmd.Context(), st, cmd.OutOrStdout(), model.ScamReport{
			Identifier:  args[0],
			Category:    reportCategory,
			Description: reportDescription,
			Source:      reportSource,
		})
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list <identifier>...",
	Short: "List reports filed against identifiers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openReportStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return listReports(cmd.Context(), st, cmd.OutOrStdout(), args)
	},
}

func openReportStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("report"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func addReport(ctx context.Context, rs store.ReportStore, w io.Writer, r model.ScamReport) error {
	if r.Category == "" {
		return eris.New("report: --category is required")
	}
	saved, err := rs.AddReport(ctx, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "recorded %s against %s (%s)\n", saved.ID, saved.Identifier, saved.Category)
	return nil
}

func listReports(ctx context.Context, rs store.ReportStore, w io.Writer, ids []string) error {
	reports, err := rs.LookupReports(ctx, ids)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(w, "no reports")
		return nil
	}
	for _, r := range reports {
		fmt.Fprintf(w, "%s  %-24s %-16s %s\n", r.ReportedAt.Format("2006-01-02"), r.Identifier, r.Category, r.Description)
	}
	return nil
}

func init() {
	reportAddCmd.Flags().StringVar(&reportCategory, "category", "", "report category (e.g. phishing, rug_pull)")
	reportAddCmd.Flags().StringVar(&reportDescription, "description", "", "free-text description")
	reportAddCmd.Flags().StringVar(&reportSource, "source", "cli", "where the report came from")
	reportCmd.AddCommand(reportAddCmd, reportListCmd)
	rootCmd.AddCommand(reportCmd)
}
