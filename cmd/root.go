package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arbetrix/arbbot/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbbot",
	Short: "A flash-loan two-leg DEX arbitrage bot",
	Long: `A bot that continuously aggregates price quotes for configured token
pairs across constant-product and concentrated-liquidity venues, searches for
profitable two-leg round trips, and settles the winning opportunity through a
flash-loan arbitrage contract.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
