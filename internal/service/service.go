package service

import (
	"context"
	"fmt"
	"laptop-scraper/internal/components/assert"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"net/url"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

const (
	report_service_listings = "service.listings"
	report_service_refresh  = "service.refresh"
	report_service_cron     = "service.cron"
)

var tracer = otel.Tracer("laptop-scraper/internal/service")

// ListingScraper runs a single scrape of the upstream listing.
//
// note: fault injection point
type ListingScraper interface {
	Scrape(ctx context.Context) webscraper.Result
}

type Options struct {
	// CacheTTL is how long a successful scrape is served for, 0 scrapes on every request.
	CacheTTL time.Duration
	// RefreshTimeout bounds a shared refresh, 0 leaves it unbounded.
	RefreshTimeout time.Duration
	// BaseUrl and FilterTerm identify what the scraper scrapes, they only form the cache key.
	BaseUrl    string
	FilterTerm string
}

// LaptopService serves scraped listings, optionally sharing one refresh among all
// callers for CacheTTL.
type LaptopService struct {
	scraper ListingScraper
	opts    Options
	key     string
	cache   *expirable.LRU[string, webscraper.Result]
	group   *singleflight.Group
	time    chrono.TimeAPI
	tel     telemetry.API
}

func NewLaptopService(scraper ListingScraper, opts Options, time chrono.TimeAPI, tel telemetry.API) (LaptopService, error) {
	assert.NotNil(scraper, "listing scraper")
	assert.NotNil(time, "time")
	assert.NotNil(tel, "telemetry")

	key, err := cacheKey(opts.BaseUrl, opts.FilterTerm)
	if err != nil {
		return LaptopService{}, err
	}

	s := LaptopService{
		scraper: scraper,
		opts:    opts,
		key:     key,
		group:   &singleflight.Group{},
		time:    time,
		tel:     telemetry.NewScopedAPI("service", tel),
	}
	if opts.CacheTTL > 0 {
		s.cache = expirable.NewLRU[string, webscraper.Result](16, nil, opts.CacheTTL)
	}
	return s, nil
}

func cacheKey(baseUrl, filterTerm string) (string, error) {
	parsed, err := url.Parse(baseUrl)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	normalized := purell.NormalizeURL(
		parsed,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	return normalized + ":" + cases.Fold().String(filterTerm), nil
}

// Listings returns the current listings and whether they were served from the cache.
//
// Without a cache every call scrapes with the caller's ctx, so a caller going away
// cancels its scrape. With a cache, callers that miss wait on one shared refresh that
// is not tied to any of them.
func (s LaptopService) Listings(ctx context.Context) (webscraper.Result, bool) {
	ctx, span := tracer.Start(ctx, "Listings")
	defer span.End()

	if s.cache == nil {
		span.SetAttributes(attribute.Bool("cached", false))
		return s.scraper.Scrape(ctx), false
	}

	cached, hit := s.cache.Get(s.key)
	span.SetAttributes(attribute.Bool("cached", hit))
	if hit {
		s.tel.ReportDebug("cache hit", s.key, cached.FetchedAt)
		return cached, true
	}
	s.tel.ReportDebug("cache miss", s.key)

	return s.Refresh(ctx), false
}

// Refresh scrapes and replaces the cached result, concurrent calls share one scrape.
//
// If ctx is done before the shared scrape finishes, Refresh returns a partial result
// carrying ctx's error while the scrape keeps going for everyone else.
func (s LaptopService) Refresh(ctx context.Context) webscraper.Result {
	ch := s.group.DoChan(s.key, func() (any, error) {
		refreshCtx, cancel := s.refreshContext(ctx)
		defer cancel()

		result := s.scraper.Scrape(refreshCtx)
		if result.Status == webscraper.StatusPartial {
			s.tel.ReportWarning(report_service_refresh, result.Err)
			return result, nil
		}
		if s.cache != nil {
			s.cache.Add(s.key, result)
		}
		return result, nil
	})

	select {
	case <-ctx.Done():
		s.tel.ReportWarning(report_service_listings, ctx.Err())
		return webscraper.Result{
			Listings:  []webscraper.Listing{},
			Status:    webscraper.StatusPartial,
			Err:       ctx.Err(),
			FetchedAt: s.time.Now(),
		}
	case res := <-ch:
		if res.Shared {
			s.tel.ReportDebug("shared refresh", s.key)
		}
		return res.Val.(webscraper.Result)
	}
}

func (s LaptopService) refreshContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.opts.RefreshTimeout > 0 {
		return context.WithTimeout(detached, s.opts.RefreshTimeout)
	}
	return context.WithCancel(detached)
}

// ScheduleRefresh refreshes the cache on the given cron spec so requests rarely have
// to wait on a scrape. It does nothing if caching is disabled.
func (s LaptopService) ScheduleRefresh(cron chrono.CronAPI, spec string) error {
	assert.NotNil(cron, "cron")

	if s.cache == nil || spec == "" {
		return nil
	}
	err := cron.Cron(spec, func() {
		result := s.Refresh(context.Background())
		s.tel.ReportDebug("scheduled refresh", result.Status, len(result.Listings))
	})
	if err != nil {
		s.tel.ReportBroken(report_service_cron, err, spec)
		return fmt.Errorf("schedule refresh '%s': %w", spec, err)
	}
	return nil
}
