package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/internal/service"
)

var (
	checkIDs      []string
	checkContent  string
	checkSymbol   string
	checkTier     string
	checkUrgency  string
	checkUser     string
	checkEndpoint string
	checkReqID    string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one risk check and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "check")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.AnalysisRequest{
			SubjectIdentifiers: checkIDs,
			Content:            checkContent,
			AssetSymbol:        checkSymbol,
			Urgency:            model.Urgency(checkUrgency),
			Tier:               model.Tier(checkTier),
			RequestID:          checkReqID,
		}
		return runCheck(cmd.Context(), env.Service, cmd.OutOrStdout(), checkUser, checkEndpoint, req)
	},
}

func runCheck(ctx context.Context, svc *service.Service, w io.Writer, user, endpoint string, req model.AnalysisRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	out, err := svc.Check(ctx, "user:"+user, endpoint, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkIDs, "id", nil, "subject identifier (repeatable)")
	checkCmd.Flags().StringVar(&checkContent, "content", "", "message content to analyze")
	checkCmd.Flags().StringVar(&checkSymbol, "symbol", "", "asset symbol")
	checkCmd.Flags().StringVar(&checkTier, "tier", string(model.TierFree), "subscription tier (free, pro, enterprise)")
	checkCmd.Flags().StringVar(&checkUrgency, "urgency", string(model.UrgencyNormal), "urgency (low, normal, high)")
	checkCmd.Flags().StringVar(&checkUser, "user", "local", "user id the quota is charged to")
	checkCmd.Flags().StringVar(&checkEndpoint, "endpoint", "", "quota endpoint (default derived from the request)")
	checkCmd.Flags().StringVar(&checkReqID, "request-id", "", "idempotency key (default random)")
	rootCmd.AddCommand(checkCmd)
}
