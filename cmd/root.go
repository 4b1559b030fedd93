package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/config"
	"github.com/sells-group/riskcheck/internal/policy"
)

var (
	cfg        *config.Config
	policyPath string
)

var rootCmd = &cobra.Command{
	Use:   "riskcheck",
	Short: "Scam risk checks for crypto communities",
	Long:  "Checks groups, handles, assets and messages against scam reports, manipulation language, market data and an AI model ensemble, behind tier-aware quotas.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if policyPath != "" {
			c.PolicyPath = policyPath
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.ReplaceGlobals(zap.L().With(zap.String("command", cmd.Name())))

		// Reject a broken policy file before any command opens a store.
		if _, err := policy.Load(cfg.PolicyPath); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "policy file (overrides policy_path in config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
