package main

import (
	"os"

	"github.com/spf13/cobra"

	"steward/internal/platform/config"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "steward",
		Short: "Steward governance control plane",
		Long: `Steward guards secrets behind a kill-switch and records every governed
change in a cross-verified ledger.

Run "steward serve" to start the HTTP API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.FileEnv), "Path to config file")

	load := func() (*config.Config, error) { return config.Load(configPath) }
	root.AddCommand(
		newServeCmd(load),
		newVerifyCmd(load),
		newHOTPCmd(),
		newSaltCmd(load),
	)
	return root
}
