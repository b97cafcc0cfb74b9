// Package cmd provides the command-line interface of eatisim.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/eatisim/eatisim/config"
)

var (
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eatisim",
	Short: "eatisim runs entity, action, and activity simulations.",
	Long: `eatisim runs discrete-event simulations built from entities, ` +
		`actions, and activities. A run can be paced against the wall ` +
		`clock, stepped, and controlled from the monitoring web page.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"file with environment overrides, ignored if missing")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, envFile)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It runs the registered exit handlers before the process
// exits.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
