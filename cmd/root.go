/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"echobot/pkg/config"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "echobot",
	Short: "Bot activity endpoint",
	Long: `echobot receives chat activities on POST /api/messages, runs a turn handler
and answers with the handler's reply. It can also talk to a running endpoint
from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $ECHOBOT_CONFIG, ./config.json or ./config/config.json)")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadConfigFile(path)
	}

	return config.LoadConfig()
}
