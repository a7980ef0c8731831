package integration

import (
	"cmp"
	"context"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var tel = telemetry.SlogAPI{}

// IntegrationTestWebscraper scrapes the live upstream listing with the default options.
func IntegrationTestWebscraper(t *testing.T) {
	client, err := webscraper.NewClient(webscraper.DefaultClientOptions(), tel)
	require.NoError(t, err)

	scraper := webscraper.NewScraper(
		client,
		webscraper.DefaultOptions(),
		chrono.NewStandardTime(),
		tel,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result := scraper.Scrape(ctx)
	require.NoError(t, result.Err)
	require.Equal(t, webscraper.StatusComplete, result.Status)
	require.Greater(t, result.Pages, 1)
	require.NotEmpty(t, result.Listings)

	tel.ReportDebug("scraped listings", len(result.Listings), result.Pages)

	require.True(t, slices.IsSortedFunc(result.Listings, func(a, b webscraper.Listing) int {
		return cmp.Compare(a.Price, b.Price)
	}))
	for _, l := range result.Listings {
		require.True(t, webscraper.Matches(l.Title, webscraper.DefaultFilterTerm), l.Title)
		require.Positive(t, l.Price, l.Title)
		require.NotEmpty(t, l.Description, l.Title)
	}
}
