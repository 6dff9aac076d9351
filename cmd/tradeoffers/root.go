package main

import (
	"fmt"
	"os"

	"github.com/escrow-tf/tradeoffers/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// configDir is where .env is looked up.
var configDir string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "tradeoffers",
	Short: "Track and confirm steam trade offers",
	Long: `tradeoffers polls the trade offers of one steam account, reports state changes,
resolves item descriptions through a persistent cache and drives mobile confirmations.

Configuration comes from the environment and an optional .env file, e.g. STEAM_ACCESS_TOKEN,
POLL_INTERVAL or STORE_DRIVER.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		l, logErr := logging.New(logging.Config{Level: "debug", Format: "console"})
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing the .env file")
}
