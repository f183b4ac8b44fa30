package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     Config
)

var rootCmd = &cobra.Command{
	Use:   "realtime-server",
	Short: "Websocket event fan-out with channel authorization",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: $REALTIME_CONFIG)")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}
