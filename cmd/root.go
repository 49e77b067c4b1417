// Package cmd is the command line of the study service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dentalsrs",
	Short: "Spaced repetition trainer for dental exam questions",
	Long: `dentalsrs schedules exam questions with the SM-2 algorithm, keeps
per-user statistics and weekly leaderboards, and serves them over HTTP
and Telegram.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
