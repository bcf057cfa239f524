package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "remindbot",
	Short:        "Telegram bot for tasks and reminders",
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.AddCommand(runCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
