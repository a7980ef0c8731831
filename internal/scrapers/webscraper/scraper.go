package webscraper

import (
	"cmp"
	"context"
	"fmt"
	"laptop-scraper/internal/components/assert"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_scraper_scrape   = "scraper.scrape"
	report_scraper_listings = "scraper.listings"
)

var tracer = otel.Tracer("laptop-scraper/internal/scrapers/webscraper")

// PageFetcher returns a single parsed page of the listing, pages start at 1.
//
// note: fault injection point
type PageFetcher interface {
	Page(ctx context.Context, page int) (Page, error)
}

// Scraper runs the fetch-and-filter loop over a PageFetcher.
type Scraper struct {
	fetcher PageFetcher
	opts    Options
	time    chrono.TimeAPI
	tel     telemetry.API
}

func NewScraper(fetcher PageFetcher, opts Options, time chrono.TimeAPI, tel telemetry.API) Scraper {
	assert.NotNil(fetcher, "page fetcher")
	assert.NotNil(time, "time")
	assert.NotNil(tel, "telemetry")

	return Scraper{
		fetcher: fetcher,
		opts:    opts,
		time:    time,
		tel:     telemetry.NewScopedAPI("webscraper", tel),
	}
}

// Scrape requests pages in order starting from page 1 until a page has no items. Every
// listing whose title matches the filter term is kept and the result is sorted by price.
//
// Scrape never fails: an error on any page (including ctx being done or the page limit)
// stops the loop and marks the result as partial, keeping what was collected so far.
func (s Scraper) Scrape(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	result := Result{
		Listings: []Listing{},
	}

	page := 1
	for {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("page %d: %w", page, err)
			break
		}
		if s.opts.MaxPages > 0 && page > s.opts.MaxPages {
			result.Err = fmt.Errorf("page %d: %w", page, ErrPageLimit)
			break
		}

		parsed, err := s.fetcher.Page(ctx, page)
		result.Pages = page
		if err != nil {
			result.Err = fmt.Errorf("page %d: %w", page, err)
			break
		}
		if parsed.Items == 0 {
			s.tel.ReportDebug("end of pagination", page)
			break
		}

		matched := 0
		for _, listing := range parsed.Listings {
			if !Matches(listing.Title, s.opts.FilterTerm) {
				continue
			}
			result.Listings = append(result.Listings, listing)
			matched++
		}
		s.tel.ReportDebug("page scraped", page, parsed.Items, matched)

		page++
	}

	slices.SortStableFunc(result.Listings, func(a, b Listing) int {
		return cmp.Compare(a.Price, b.Price)
	})

	switch {
	case result.Err != nil:
		result.Status = StatusPartial
		s.tel.ReportBroken(report_scraper_scrape, result.Err, len(result.Listings))
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "scrape truncated")
	case len(result.Listings) == 0:
		result.Status = StatusEmpty
	default:
		result.Status = StatusComplete
	}
	result.FetchedAt = s.time.Now()

	s.tel.ReportCount(report_scraper_listings, int64(len(result.Listings)))
	span.SetAttributes(
		attribute.Int("pages", result.Pages),
		attribute.Int("listings", len(result.Listings)),
		attribute.String("status", string(result.Status)),
	)

	return result
}
