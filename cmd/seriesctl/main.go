package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "seriesctl",
	Short: "Inspect and validate financial time series",
	Long: `seriesctl runs the series validation engine outside the service.

Available commands:
  validate    Clean and validate a CSV series
  fetch       Fetch a series from the configured providers
  policy      Print the resolved validation policy`,
	SilenceUsage: true,
}

var (
	configDir    string
	policyFile   string
	defaultsFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory holding the policy files")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "data_validation.yaml", "policy file name")
	rootCmd.PersistentFlags().StringVar(&defaultsFile, "defaults", "optimal_parameters.yaml", "optional defaults file name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
