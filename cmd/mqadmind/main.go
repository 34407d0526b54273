// mqadmind is the management backend for a Mosquitto broker: it collects
// broker statistics and serves the management REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mqadmind",
	Short: "mqadmind manages a Mosquitto broker",
	Long: `mqadmind collects live statistics from a Mosquitto broker and exposes a
REST API for monitoring, dynamic-security administration, and broker
configuration management.

Configuration is read from mqadmin.yaml in the working directory, from the
path given with --config, or from the MQADMIN_CONFIG environment variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
