package main

import (
	"github.com/spf13/cobra"

	"github.com/agent462/muster/internal/config"
	"github.com/agent462/muster/internal/pathutil"
)

// Set via -ldflags at build time.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "muster",
	Short: "Collect show-command output from fleets of network devices",
	Long: `muster dials every device in a host list over SSH, walks each one
through ordered command groups, and writes every command's output to its
own templated file.

Examples:
  # Run the commands in daily.txt against the routers in core.txt
  muster collect --hosts core.txt --commands daily.txt --output-dir runs/today

  # Use a builtin preset and prompt for the password
  muster collect --hosts core.txt --preset health --username netops --output-dir .

  # Sweep a management subnet instead of a host file
  muster collect --cidr 10.20.30.0/24 --preset version --accounts accounts.yaml --output-dir .`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.config/muster/config.yaml)")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(presetsCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(pathutil.ExpandHome(configPath))
	}
	return config.LoadDefault()
}
