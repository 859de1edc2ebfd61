// Package commands implements the fixrelayctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// client is the admin API client, initialized in PersistentPreRunE.
	client *adminClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin listen address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for fixrelayctl.
var rootCmd = &cobra.Command{
	Use:   "fixrelayctl",
	Short: "CLI client for the fixrelay daemon",
	Long:  "fixrelayctl talks to the fixrelay daemon's admin API to inspect FIX sessions and the replication cluster.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = &adminClient{
			baseURL: "http://" + serverAddr,
			http:    &http.Client{Timeout: 10 * time.Second},
		}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8443",
		"fixrelay daemon admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(clusterCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
