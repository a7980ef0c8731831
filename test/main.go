package main

import (
	"fmt"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/pkg/serviceutil"
	"laptop-scraper/test/fuzzing"
	"laptop-scraper/test/integration"
	"os"
	"testing"

	"github.com/spf13/cobra"
)

var tel = telemetry.SlogAPI{}

var (
	fuzzPath fuzzing.Path
	minSteps int
	maxSteps int
)

var rootCmd = &cobra.Command{
	Use:          "test",
	Short:        "the laptop-scraper test runner",
	SilenceUsage: true,
}

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "run integration tests against live upstreams",
}

var integrationWebscraperCmd = &cobra.Command{
	Use:   "webscraper",
	Short: "scrape the live laptop listing",
	Run: func(cmd *cobra.Command, args []string) {
		runTests("IntegrationTestWebscraper", integration.IntegrationTestWebscraper)
	},
}

var fuzzCmd = &cobra.Command{
	Use:   "fuzz",
	Short: "run a fuzzer until it finds a failing path or is interrupted",
}

var fuzzScraperCmd = &cobra.Command{
	Use:   "scraper",
	Short: "fuzz the fetch-and-filter loop and the listings service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFuzzing(cmd, fuzzing.ScraperProvider{})
	},
}

func init() {
	fuzzCmd.PersistentFlags().VarP(&fuzzPath, "path", "p", "replay a fuzzer with a given fuzzing path")
	fuzzCmd.PersistentFlags().IntVar(&minSteps, "min-steps", 10, "the minimum amount of steps that must be executed on any given fuzz target")
	fuzzCmd.PersistentFlags().IntVar(&maxSteps, "max-steps", 100, "the maximum amount of steps that can be executed on any given fuzz target")

	fuzzCmd.AddCommand(fuzzScraperCmd)
	integrationCmd.AddCommand(integrationWebscraperCmd)
	rootCmd.AddCommand(fuzzCmd, integrationCmd)
}

func runTests(name string, body func(t *testing.T)) {
	testing.Main(
		func(pat, str string) (bool, error) {
			return true, nil
		},
		[]testing.InternalTest{
			{Name: name, F: body},
		},
		nil,
		nil,
	)
}

func runFuzzing(cmd *cobra.Command, provider fuzzing.TargetProvider) error {
	f, err := fuzzing.New(tel, provider, minSteps, maxSteps)
	if err != nil {
		return fmt.Errorf("create fuzzer: %w", err)
	}
	if cmd.Flags().Changed("path") {
		f.Replay(cmd.Context(), fuzzPath)
		return nil
	}
	f.StartFuzzTest(cmd.Context())
	return nil
}

func main() {
	telemetry.InitSlog(true)

	ctx := serviceutil.SignalContext()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}
