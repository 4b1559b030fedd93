package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/policy"
	"github.com/sells-group/riskcheck/internal/ratelimit"
	"github.com/sells-group/riskcheck/internal/service"
)

var (
	usageUser     string
	usageTier     string
	usageEndpoint string
	usageHours    int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota usage for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		p, err := policy.Load(cfg.PolicyPath)
		if err != nil {
			return err
		}
		st, err := initStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		svc := service.New(ratelimit.New(st, p), nil)
		return printUsage(cmd.Context(), svc, cmd.OutOrStdout(), usageUser, usageEndpoint, model.Tier(usageTier), usageHours)
	},
}

func printUsage(ctx context.Context, svc *service.Service, w io.Writer, user, endpoint string, tier model.Tier, hours int) error {
	subject := "user:" + user
	st, err := svc.Status(ctx, subject, endpoint, tier)
	if err != nil {
		return err
	}
	used, err := svc.Usage(ctx, subject, endpoint, tier, time.Duration(hours)*time.Hour)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s on %s (%s tier)\n", user, endpoint, tier)
	fmt.Fprintf(w, "  current window: %d of %d remaining, resets %s\n",
		st.Remaining, st.Limit, humanize.Time(st.ResetAt))
	fmt.Fprintf(w, "  last %d hours:  %s checks\n", hours, humanize.Comma(int64(used)))
	return nil
}

func init() {
	usageCmd.Flags().StringVar(&usageUser, "user", "local", "user id")
	usageCmd.Flags().StringVar(&usageTier, "tier", string(model.TierFree), "subscription tier")
	usageCmd.Flags().StringVar(&usageEndpoint, "endpoint", policy.EndpointSingleCheck, "quota endpoint")
	usageCmd.Flags().IntVar(&usageHours, "hours", 24, "look-back period in hours")
	rootCmd.AddCommand(usageCmd)
}
