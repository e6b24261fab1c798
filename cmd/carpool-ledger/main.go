package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags at release time.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "carpool-ledger",
	Short: "carpool record store backed by ledger contracts",
	Long: `
	Serves the carpool accounts, rides, claims and ratings tables, which live as
	delimited text blobs in smart contracts, and verifies token payments.
	`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, replayCmd, dumpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
