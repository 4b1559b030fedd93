package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "check", "usage", "report", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "riskcheck", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCheckCommand_Flags(t *testing.T) {
	for _, name := range []string{"id", "content", "symbol", "tier", "urgency", "user", "endpoint", "request-id"} {
		assert.NotNil(t, checkCmd.Flags().Lookup(name), "check should have --%s flag", name)
	}
	assert.Equal(t, "free", checkCmd.Flags().Lookup("tier").DefValue)
	assert.Equal(t, "normal", checkCmd.Flags().Lookup("urgency").DefValue)
}

func TestUsageCommand_Flags(t *testing.T) {
	flag := usageCmd.Flags().Lookup("hours")
	require.NotNil(t, flag)
	assert.Equal(t, "24", flag.DefValue)
	assert.Equal(t, "single-check", usageCmd.Flags().Lookup("endpoint").DefValue)
}

func TestReportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reportCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["list"])
	assert.NotNil(t, reportAddCmd.Flags().Lookup("category"))
}

func TestRootCommand_PolicyFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("policy")
	require.NotNil(t, flag, "root should have a persistent --policy flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestRootCommand_RejectsBrokenPolicy(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: [not, a, map"), 0o600))

	policyPath = path
	t.Cleanup(func() { policyPath = "" })

	err := rootCmd.PersistentPreRunE(migrateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load policy")
	assert.Equal(t, path, cfg.PolicyPath)
}
