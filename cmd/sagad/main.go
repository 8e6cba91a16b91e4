// Command sagad runs the saga orchestrator: the HTTP API, the worker pool
// and the periodic sweep, plus operator commands against the store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sagad",
	Short: "Distributed saga orchestrator for multi-tenant workflows",
	Long: `sagad drives tenant provisioning, onboarding, switching, migration,
bulk and compliance workflows across the platform services.

Examples:
  sagad serve --dev                 # in-memory store and collaborators
  sagad migrate                     # apply store migrations
  sagad status exec_01j...          # progress of one execution
  sagad debug exec_01j... -o yaml   # step-by-step trace`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./sagad.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(typesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
