package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otaresolve/resolver/pkg/logger"
	"github.com/otaresolve/resolver/pkg/otaconfig"
)

var (
	// Global flags
	configPath string
	logLevel   string
	debugMode  bool
	jsonLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "otaresolve",
	Short: "Trust-rooted over-the-air system image update resolver",
	Long: `Otaresolve decides which signed system-image artifacts a device should
apply to advance from its current build to the latest one. It walks the
signing-key trust chain, fetches and verifies the channel descriptor and
per-device image index, computes the cheapest valid upgrade path, and
downloads every artifact with end-to-end signature verification before
handing the set to the installer.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/otaresolve/config.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode with verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log lines")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}

// initLogger applies the global logging flags to the default logger.
func initLogger() {
	log := logger.GetLogger()
	if debugMode {
		log.SetLevel(logger.DebugLevel)
	} else if lvl, err := logger.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.SetJSONFormat(jsonLogs)
}

// loadConfig reads the configuration file named by --config. A missing
// file at the default location falls back to built-in defaults; a missing
// file the user named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*otaconfig.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		return otaconfig.Defaults(), nil
	}
	return otaconfig.Load(configPath)
}
