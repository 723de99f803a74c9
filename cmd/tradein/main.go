// Command tradein runs the trade-in scheduling assistant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tradein/internal/config"
	appLog "tradein/internal/log"
)

const version = "0.1.0"

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "tradein",
		Short:         "Trade-in appraisal scheduling assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/tradein/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newSlotsCmd(flags),
		newAuthCmd(flags),
		newHashPasswordCmd(),
	)
	return root
}

// loadConfig reads the config file and sets up logging from it.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.Setup(appLog.Options{Level: appLog.ParseLevel(level), Development: cfg.Log.Development})
	return cfg, nil
}
