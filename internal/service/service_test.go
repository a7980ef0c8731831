package service

import (
	"context"
	"errors"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.October, 19, 12, 0, 0, 0, time.UTC)

type fakeScraper struct {
	lock    sync.Mutex
	calls   int
	results []webscraper.Result
	ctxErrs []error

	// when set, Scrape signals started and waits for release (or its ctx) before returning
	started chan struct{}
	release chan struct{}
}

func (f *fakeScraper) Scrape(ctx context.Context) webscraper.Result {
	f.lock.Lock()
	idx := min(f.calls, len(f.results)-1)
	f.calls++
	result := f.results[idx]
	f.lock.Unlock()

	if f.release != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			result = webscraper.Result{
				Listings: []webscraper.Listing{},
				Status:   webscraper.StatusPartial,
				Err:      ctx.Err(),
			}
		}
	}

	f.lock.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.lock.Unlock()
	return result
}

func (f *fakeScraper) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func completeResult(listings ...webscraper.Listing) webscraper.Result {
	return webscraper.Result{
		Listings:  listings,
		Status:    webscraper.StatusComplete,
		Pages:     3,
		FetchedAt: now,
	}
}

func partialResult(err error, listings ...webscraper.Listing) webscraper.Result {
	if listings == nil {
		listings = []webscraper.Listing{}
	}
	return webscraper.Result{
		Listings:  listings,
		Status:    webscraper.StatusPartial,
		Err:       err,
		Pages:     2,
		FetchedAt: now,
	}
}

var thinkpad = webscraper.Listing{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"}

func newTestService(t *testing.T, scraper ListingScraper, opts Options) (LaptopService, telemetry.TestAPI, chrono.FixedTime) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = webscraper.DefaultBaseUrl
	}
	if opts.FilterTerm == "" {
		opts.FilterTerm = webscraper.DefaultFilterTerm
	}
	tel := telemetry.NewTestAPI(t)
	clock := chrono.NewFixedTime(now)
	s, err := NewLaptopService(scraper, opts, clock, tel)
	require.NoError(t, err)
	return s, tel, clock
}

func TestListingsWithoutCache(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{completeResult(thinkpad)}}
	s, _, _ := newTestService(t, scraper, Options{})

	for i := 0; i < 3; i++ {
		result, cached := s.Listings(context.Background())
		require.False(t, cached)
		require.Equal(t, []webscraper.Listing{thinkpad}, result.Listings)
	}
	require.Equal(t, 3, scraper.Calls())
}

func TestListingsWithoutCacheUsesCallerContext(t *testing.T) {
	scraper := &fakeScraper{
		results: []webscraper.Result{completeResult(thinkpad)},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _, _ := newTestService(t, scraper, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan webscraper.Result)
	go func() {
		result, _ := s.Listings(ctx)
		done <- result
	}()

	<-scraper.started
	cancel()
	result := <-done

	require.Equal(t, webscraper.StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, context.Canceled)
}

func TestListingsCached(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{completeResult(thinkpad)}}
	s, tel, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	result, cached := s.Listings(context.Background())
	require.False(t, cached)
	require.Equal(t, webscraper.StatusComplete, result.Status)

	result, cached = s.Listings(context.Background())
	require.True(t, cached)
	require.Equal(t, []webscraper.Listing{thinkpad}, result.Listings)

	require.Equal(t, 1, scraper.Calls())
	require.True(t, tel.HasReport("debug", "cache hit"))
}

func TestListingsCacheExpires(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{completeResult(thinkpad)}}
	s, _, _ := newTestService(t, scraper, Options{CacheTTL: time.Millisecond * 20})

	s.Listings(context.Background())
	require.Eventually(t, func() bool {
		_, cached := s.Listings(context.Background())
		return !cached
	}, time.Second, time.Millisecond*10)
	require.GreaterOrEqual(t, scraper.Calls(), 2)
}

func TestPartialResultsAreNotCached(t *testing.T) {
	upstreamErr := errors.New("upstream unavailable")
	scraper := &fakeScraper{results: []webscraper.Result{
		partialResult(upstreamErr, thinkpad),
		completeResult(thinkpad),
	}}
	s, tel, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	result, cached := s.Listings(context.Background())
	require.False(t, cached)
	require.Equal(t, webscraper.StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, upstreamErr)
	require.True(t, tel.HasReport("warning", report_service_refresh))

	result, cached = s.Listings(context.Background())
	require.False(t, cached)
	require.Equal(t, webscraper.StatusComplete, result.Status)

	_, cached = s.Listings(context.Background())
	require.True(t, cached)
	require.Equal(t, 2, scraper.Calls())
}

func TestEmptyResultsAreCached(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{{
		Listings:  []webscraper.Listing{},
		Status:    webscraper.StatusEmpty,
		Pages:     1,
		FetchedAt: now,
	}}}
	s, _, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	s.Listings(context.Background())
	result, cached := s.Listings(context.Background())
	require.True(t, cached)
	require.Equal(t, webscraper.StatusEmpty, result.Status)
	require.Equal(t, 1, scraper.Calls())
}

func TestConcurrentMissesShareOneScrape(t *testing.T) {
	scraper := &fakeScraper{
		results: []webscraper.Result{completeResult(thinkpad)},
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	s, tel, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	const callers = 5
	results := make(chan webscraper.Result, callers)
	for i := 0; i < callers; i++ {
		go func() {
			result, _ := s.Listings(context.Background())
			results <- result
		}()
	}

	<-scraper.started
	require.Eventually(t, func() bool {
		return len(tel.Reports("debug")) >= callers
	}, time.Second, time.Millisecond)
	// give the callers that just missed the cache time to join the refresh in flight
	time.Sleep(time.Millisecond * 50)
	close(scraper.release)

	for i := 0; i < callers; i++ {
		result := <-results
		require.Equal(t, []webscraper.Listing{thinkpad}, result.Listings)
	}
	require.Equal(t, 1, scraper.Calls())
}

func TestRefreshOutlivesCaller(t *testing.T) {
	scraper := &fakeScraper{
		results: []webscraper.Result{completeResult(thinkpad)},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan webscraper.Result)
	go func() {
		result, _ := s.Listings(ctx)
		done <- result
	}()

	<-scraper.started
	cancel()
	result := <-done
	require.Equal(t, webscraper.StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.NotNil(t, result.Listings)

	close(scraper.release)
	require.Eventually(t, func() bool {
		_, cached := s.Listings(context.Background())
		return cached
	}, time.Second, time.Millisecond*5)

	scraper.lock.Lock()
	defer scraper.lock.Unlock()
	require.NoError(t, scraper.ctxErrs[0])
	require.Equal(t, 1, scraper.calls)
}

func TestRefreshTimeout(t *testing.T) {
	scraper := &fakeScraper{
		results: []webscraper.Result{completeResult(thinkpad)},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _, _ := newTestService(t, scraper, Options{
		CacheTTL:       time.Minute,
		RefreshTimeout: time.Millisecond * 20,
	})

	result := s.Refresh(context.Background())
	require.Equal(t, webscraper.StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

type fakeCron struct {
	specs     []string
	callbacks []func()
}

func (c *fakeCron) Cron(spec string, callback func()) error {
	if spec == "invalid" {
		return errors.New("invalid spec")
	}
	c.specs = append(c.specs, spec)
	c.callbacks = append(c.callbacks, callback)
	return nil
}

func TestScheduleRefresh(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{completeResult(thinkpad)}}
	s, tel, _ := newTestService(t, scraper, Options{CacheTTL: time.Minute})

	cron := &fakeCron{}
	require.NoError(t, s.ScheduleRefresh(cron, "*/5 * * * *"))
	require.Equal(t, []string{"*/5 * * * *"}, cron.specs)

	cron.callbacks[0]()
	_, cached := s.Listings(context.Background())
	require.True(t, cached)
	require.Equal(t, 1, scraper.Calls())

	require.Error(t, s.ScheduleRefresh(cron, "invalid"))
	require.True(t, tel.HasReport("broken", report_service_cron))
}

func TestScheduleRefreshWithoutCache(t *testing.T) {
	scraper := &fakeScraper{results: []webscraper.Result{completeResult(thinkpad)}}
	s, _, _ := newTestService(t, scraper, Options{})

	cron := &fakeCron{}
	require.NoError(t, s.ScheduleRefresh(cron, "*/5 * * * *"))
	require.Empty(t, cron.specs)
}

func TestCacheKey(t *testing.T) {
	a, err := cacheKey("HTTPS://WebScraper.io:443/test-sites/e-commerce/static/computers/laptops#top", "LENOVO")
	require.NoError(t, err)
	b, err := cacheKey("https://webscraper.io/test-sites/e-commerce/static/computers/laptops", "lenovo")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := cacheKey("https://webscraper.io/test-sites/e-commerce/static/computers/laptops", "asus")
	require.NoError(t, err)
	require.NotEqual(t, b, c)

	_, err = cacheKey("://bad", "lenovo")
	require.Error(t, err)
}
