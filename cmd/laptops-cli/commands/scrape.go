package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	scrapeFilter   *string
	scrapeMaxPages *int
	scrapeBaseUrl  *string
	scrapeJson     *bool
)

func init() {
	scrapeFilter = scrapeCmd.Flags().String("filter", webscraper.DefaultFilterTerm, "Only keep laptops whose title contains this, ignoring case.")
	scrapeMaxPages = scrapeCmd.Flags().Int("max-pages", webscraper.DefaultMaxPages, "Stop after this many pages, 0 removes the limit.")
	scrapeBaseUrl = scrapeCmd.Flags().String("base-url", webscraper.DefaultBaseUrl, "The listing to scrape.")
	scrapeJson = scrapeCmd.Flags().Bool("json", false, "Print the listings as json instead of a table.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--filter <term>] [--max-pages <n>] [--base-url <url>] [--json]",
	Short: "Scrapes the laptop listing once and prints the matching laptops sorted by price.",
	RunE: func(cmd *cobra.Command, args []string) error {
		clientOpts := webscraper.DefaultClientOptions()
		clientOpts.BaseUrl = *scrapeBaseUrl

		tel := telemetry.SlogAPI{}
		client, err := webscraper.NewClient(clientOpts, tel)
		if err != nil {
			return err
		}
		scraper := webscraper.NewScraper(client, webscraper.Options{
			FilterTerm: *scrapeFilter,
			MaxPages:   *scrapeMaxPages,
		}, chrono.NewStandardTime(), tel)

		result := scraper.Scrape(cmd.Context())
		if *scrapeJson {
			err = writeJson(cmd.OutOrStdout(), result)
		} else {
			writeTable(cmd.OutOrStdout(), result)
		}
		if err != nil {
			return err
		}

		if result.Status == webscraper.StatusPartial {
			return fmt.Errorf("scrape stopped early after %d pages: %w", result.Pages, result.Err)
		}
		return nil
	},
}

func writeJson(out io.Writer, result webscraper.Result) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result.Listings)
}

func writeTable(out io.Writer, result webscraper.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
		{Name: "Description", WidthMax: 60},
	})

	t.AppendHeader(table.Row{"Title", "Price", "Description"})
	for _, l := range result.Listings {
		t.AppendRow(table.Row{l.Title, fmt.Sprintf("$%.2f", l.Price), l.Description})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d laptops", len(result.Listings)),
		"",
		fmt.Sprintf("%s, %d pages", result.Status, result.Pages),
	})
	t.Render()
}
