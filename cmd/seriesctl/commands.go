package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FinSeries/internal/di"
	"FinSeries/internal/domain/models"
	"FinSeries/internal/services/validation"
	"FinSeries/pkg/config"
	applogger "FinSeries/pkg/logger"
	"FinSeries/pkg/util"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Clean and validate a CSV series",
	Example: `  seriesctl validate --file cpi.csv --symbol macro.cpi --freq M
  seriesctl validate --file spy.csv --symbol SPY --out spy_clean.csv`,
	RunE: runValidate,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a series from the configured providers",
	Example: `  seriesctl fetch --symbol macro.gdp --start 2010-01-01 --end 2020-12-31 --freq Q --validate`,
	RunE:  runFetch,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the resolved validation policy",
	RunE:  runPolicy,
}

var (
	inFile       string
	outFile      string
	symbol       string
	freq         string
	start        string
	end          string
	appConfig    string
	withValidate bool
)

func init() {
	rootCmd.AddCommand(validateCmd, fetchCmd, policyCmd)

	validateCmd.Flags().StringVar(&inFile, "file", "", "input CSV with date,value rows (required)")
	validateCmd.Flags().StringVar(&outFile, "out", "", "write the cleaned series to this CSV")
	validateCmd.Flags().StringVar(&symbol, "symbol", "", "series key used for policy lookups (required)")
	validateCmd.Flags().StringVar(&freq, "freq", "D", "claimed frequency: D, M or Q")
	_ = validateCmd.MarkFlagRequired("file")
	_ = validateCmd.MarkFlagRequired("symbol")

	fetchCmd.Flags().StringVar(&appConfig, "config", "config/config.yaml", "application config file")
	fetchCmd.Flags().StringVar(&symbol, "symbol", "", "symbol to fetch (required)")
	fetchCmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (required)")
	fetchCmd.Flags().StringVar(&freq, "freq", "D", "frequency: D, M or Q")
	fetchCmd.Flags().StringVar(&outFile, "out", "", "write the series to this CSV instead of stdout")
	fetchCmd.Flags().BoolVar(&withValidate, "validate", false, "validate the fetched series")
	_ = fetchCmd.MarkFlagRequired("symbol")
	_ = fetchCmd.MarkFlagRequired("start")
	_ = fetchCmd.MarkFlagRequired("end")
}

func loadPolicy() (*validation.Policy, error) {
	defaults := ""
	if defaultsFile != "" {
		defaults = filepath.Join(configDir, defaultsFile)
	}
	return validation.LoadPolicy(defaults, filepath.Join(configDir, policyFile))
}

func runValidate(cmd *cobra.Command, _ []string) error {
	policy, err := loadPolicy()
	if err != nil {
		return err
	}
	f, err := os.Open(inFile)
	if err != nil {
		return err
	}
	defer f.Close()

	points, err := readSeriesCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", inFile, err)
	}
	cleaned, report := validation.Validate(points, models.NormalizeFrequency(freq), symbol, policy)

	if outFile != "" {
		if err := writeFile(outFile, cleaned); err != nil {
			return err
		}
	}
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if !report.IsValid {
		return fmt.Errorf("series %s is invalid: %v", symbol, report.Errors)
	}
	return nil
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(appConfig)
	if err != nil {
		return err
	}
	s, err := util.ParseDate(start)
	if err != nil {
		return err
	}
	e, err := util.ParseDate(end)
	if err != nil {
		return err
	}

	router := di.ProvideRouter(cfg, nil, applogger.Nop())
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Providers.Timeout+5*time.Second)
	defer cancel()

	f := models.NormalizeFrequency(freq)
	points, err := router.Fetch(ctx, symbol, s, e, f)
	if err != nil {
		return err
	}

	if withValidate {
		policy, err := loadPolicy()
		if err != nil {
			return err
		}
		var report models.DataQualityReport
		points, report = validation.Validate(points, f, symbol, policy)
		defer func() { _ = printJSON(cmd, report) }()
	}

	if outFile != "" {
		return writeFile(outFile, points)
	}
	return writeSeriesCSV(cmd.OutOrStdout(), points)
}

func runPolicy(cmd *cobra.Command, _ []string) error {
	policy, err := loadPolicy()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(policy)
}

func writeFile(path string, points []models.SeriesPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeSeriesCSV(f, points); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
