package webscraper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2024, time.October, 19, 12, 0, 0, 0, time.UTC)

func renderPage(listings []Listing) string {
	var out strings.Builder
	out.WriteString(`<html><body><div class="row">`)
	for _, l := range listings {
		out.WriteString(fmt.Sprintf(`
			<div class="card thumbnail">
				<div class="caption">
					<h4 class="price float-end">$%.2f</h4>
					<h4><a class="title" title="%s">%s</a></h4>
					<p class="description">%s</p>
				</div>
			</div>`,
			l.Price,
			html.EscapeString(l.Title),
			html.EscapeString(l.Title),
			html.EscapeString(l.Description),
		))
	}
	out.WriteString(`</div></body></html>`)
	return out.String()
}

type upstream struct {
	server *httptest.Server
	pages  map[int][]Listing
	// status codes to respond with for specific pages
	fail map[int]int

	lock      sync.Mutex
	requested []int
	agents    []string
}

const laptopsPath = "/test-sites/e-commerce/static/computers/laptops"

func newUpstream(t *testing.T, pages map[int][]Listing, fail map[int]int) *upstream {
	u := &upstream{pages: pages, fail: fail}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != laptopsPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		u.lock.Lock()
		u.requested = append(u.requested, page)
		u.agents = append(u.agents, r.Header.Get("User-Agent"))
		u.lock.Unlock()

		if status, ok := u.fail[page]; ok {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(renderPage(u.pages[page])))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) client(t *testing.T, tel telemetry.API) *Client {
	opts := DefaultClientOptions()
	opts.BaseUrl = u.server.URL + laptopsPath
	opts.RequestsPerSecond = 0
	opts.Timeout = time.Second * 5
	client, err := NewClient(opts, tel)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func (u *upstream) requestedPages() []int {
	u.lock.Lock()
	defer u.lock.Unlock()
	return append([]int(nil), u.requested...)
}

func requireSortedAndMatching(t *testing.T, listings []Listing, term string) {
	for i, l := range listings {
		require.True(t, Matches(l.Title, term), "listing '%s' does not match '%s'", l.Title, term)
		if i > 0 {
			require.LessOrEqual(t, listings[i-1].Price, l.Price, "listings are not sorted by price at %d", i)
		}
	}
}

func TestScrapeEndsOnEmptyPage(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{
		1: {
			{Title: "Lenovo IdeaPad 320", Price: 549.99, Description: "15.6 inch"},
			{Title: "Asus VivoBook", Price: 295.99, Description: "14 inch"},
			{Title: "Lenovo V110-15IAP", Price: 321.94, Description: "Celeron"},
		},
		2: {
			{Title: "Acer Aspire 3", Price: 356.49, Description: "15.6 inch"},
			{Title: "LENOVO ThinkPad T470", Price: 1133.82, Description: "Core i5"},
			{Title: "Lenovo Legion Y520", Price: 399.00, Description: "GTX 1050"},
		},
	}, nil)

	scraper := NewScraper(u.client(t, tel), DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	expected := []Listing{
		{Title: "Lenovo V110-15IAP", Price: 321.94, Description: "Celeron"},
		{Title: "Lenovo Legion Y520", Price: 399.00, Description: "GTX 1050"},
		{Title: "Lenovo IdeaPad 320", Price: 549.99, Description: "15.6 inch"},
		{Title: "LENOVO ThinkPad T470", Price: 1133.82, Description: "Core i5"},
	}

	require.NoError(t, result.Err)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, 3, result.Pages)
	require.Equal(t, fetchedAt, result.FetchedAt)
	require.Equal(t, []int{1, 2, 3}, u.requestedPages())
	require.Empty(t, cmp.Diff(expected, result.Listings))
	require.Empty(t, tel.Reports("broken"))
}

func TestScrapeFailureKeepsPartialResult(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{
		1: {
			{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"},
			{Title: "Asus ROG", Price: 1299.00, Description: "gaming"},
			{Title: "Lenovo IdeaPad", Price: 399.00, Description: "home"},
		},
		2: {
			{Title: "Lenovo Yoga", Price: 99.00, Description: "never seen"},
		},
		3: {
			{Title: "Lenovo Legion", Price: 10.00, Description: "never seen"},
		},
	}, map[int]int{2: http.StatusInternalServerError})

	scraper := NewScraper(u.client(t, tel), DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, ErrUnexpectedStatus)
	require.Equal(t, 2, result.Pages)
	require.Equal(t, []int{1, 2}, u.requestedPages())
	require.Equal(t, []Listing{
		{Title: "Lenovo IdeaPad", Price: 399.00, Description: "home"},
		{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"},
	}, result.Listings)

	require.True(t, tel.HasReport("broken", report_client_page))
	require.True(t, tel.HasReport("broken", report_scraper_scrape))
}

func TestScrapeUnreachableUpstream(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, nil, nil)
	client := u.client(t, tel)
	u.server.Close()

	scraper := NewScraper(client, DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusPartial, result.Status)
	require.Error(t, result.Err)
	require.NotNil(t, result.Listings)
	require.Empty(t, result.Listings)
	require.Equal(t, 1, result.Pages)
}

func TestScrapeEmptyFirstPage(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{}, nil)

	scraper := NewScraper(u.client(t, tel), DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusEmpty, result.Status)
	require.NoError(t, result.Err)
	require.NotNil(t, result.Listings)
	require.Empty(t, result.Listings)
	require.Equal(t, 1, result.Pages)
	require.Equal(t, []int{1}, u.requestedPages())
}

func TestScrapeNoMatches(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{
		1: {{Title: "Asus VivoBook", Price: 295.99, Description: "14 inch"}},
	}, nil)

	scraper := NewScraper(u.client(t, tel), DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusEmpty, result.Status)
	require.Equal(t, 2, result.Pages)
	require.Empty(t, result.Listings)
}

func TestClientPage(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{
		4: {{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"}},
	}, map[int]int{5: http.StatusServiceUnavailable})
	client := u.client(t, tel)

	require.Equal(t, u.server.URL+laptopsPath, client.BaseUrl())

	page, err := client.Page(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 1, page.Items)
	require.Equal(t, []Listing{{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"}}, page.Listings)

	_, err = client.Page(context.Background(), 5)
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	require.Contains(t, err.Error(), "503")

	require.Equal(t, []int{4, 5}, u.requestedPages())
	u.lock.Lock()
	require.Equal(t, DefaultUserAgent, u.agents[0])
	u.lock.Unlock()

	require.True(t, tel.HasReport("debug", "resty.request"))
	require.True(t, tel.HasReport("debug", "resty.response"))
}

func TestClientPageRateLimited(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{}, nil)

	opts := DefaultClientOptions()
	opts.BaseUrl = u.server.URL + laptopsPath
	opts.RequestsPerSecond = 1
	client, err := NewClient(opts, tel)
	if err != nil {
		t.Fatal(err)
	}

	// the first request consumes the only token, the second has to wait ~1s which is
	// longer than the deadline allows
	_, err = client.Page(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()
	_, err = client.Page(ctx, 2)
	require.Error(t, err)
	require.Equal(t, []int{1}, u.requestedPages())
}

type memoryDump struct {
	lock     sync.Mutex
	messages []string
}

func (d *memoryDump) Write(id, contents string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.messages = append(d.messages, contents)
}

func TestClientDump(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	u := newUpstream(t, map[int][]Listing{
		1: {{Title: "Lenovo ThinkPad", Price: 499.99, Description: "business"}},
	}, nil)

	dump := &memoryDump{}
	opts := DefaultClientOptions()
	opts.BaseUrl = u.server.URL + laptopsPath
	opts.RequestsPerSecond = 0
	opts.Dump = dump
	client, err := NewClient(opts, tel)
	require.NoError(t, err)

	_, err = client.Page(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, dump.messages, 1)
	require.Contains(t, dump.messages[0], "page=1")
	require.Contains(t, dump.messages[0], "Lenovo ThinkPad")
}

func TestNewClientRejectsRelativeUrl(t *testing.T) {
	opts := DefaultClientOptions()
	opts.BaseUrl = "/computers/laptops"
	_, err := NewClient(opts, telemetry.NewTestAPI(t))
	require.Error(t, err)
}

type fakeFetcher struct {
	pages   map[int]Page
	errs    map[int]error
	lock    sync.Mutex
	fetched []int
}

func (f *fakeFetcher) Page(ctx context.Context, page int) (Page, error) {
	f.lock.Lock()
	f.fetched = append(f.fetched, page)
	f.lock.Unlock()

	if err, ok := f.errs[page]; ok {
		return Page{}, err
	}
	return f.pages[page], nil
}

// endlessFetcher never reaches the end of pagination.
type endlessFetcher struct {
	fetched int
}

func (f *endlessFetcher) Page(ctx context.Context, page int) (Page, error) {
	f.fetched++
	return Page{
		Items:    1,
		Listings: []Listing{{Title: fmt.Sprintf("Lenovo #%d", page), Price: float64(1000 - page)}},
	}, nil
}

func TestScrapePageLimit(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	fetcher := &endlessFetcher{}

	scraper := NewScraper(fetcher, Options{FilterTerm: "lenovo", MaxPages: 3}, chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, ErrPageLimit)
	require.Equal(t, 3, result.Pages)
	require.Equal(t, 3, fetcher.fetched)
	require.Equal(t, []Listing{
		{Title: "Lenovo #3", Price: 997},
		{Title: "Lenovo #2", Price: 998},
		{Title: "Lenovo #1", Price: 999},
	}, result.Listings)
}

func TestScrapeCancelled(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	fetcher := &endlessFetcher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scraper := NewScraper(fetcher, DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(ctx)

	require.Equal(t, StatusPartial, result.Status)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Equal(t, 0, result.Pages)
	require.Equal(t, 0, fetcher.fetched)
}

func TestScrapeKeepsItemsWithBadPricesCounted(t *testing.T) {
	tel := telemetry.NewTestAPI(t)
	// page 1 has one item that could not be parsed, this must not be mistaken for the end
	fetcher := &fakeFetcher{pages: map[int]Page{
		1: {Items: 1, Skipped: []error{errors.New("parse price")}},
		2: {Items: 1, Listings: []Listing{{Title: "Lenovo Yoga", Price: 700}}},
	}}

	scraper := NewScraper(fetcher, DefaultOptions(), chrono.NewFixedTime(fetchedAt), tel)
	result := scraper.Scrape(context.Background())

	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, []int{1, 2, 3}, fetcher.fetched)
	require.Equal(t, []Listing{{Title: "Lenovo Yoga", Price: 700}}, result.Listings)
}

func TestScrapeStableForEqualPrices(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]Page{
		1: {Items: 3, Listings: []Listing{
			{Title: "Lenovo A", Price: 500},
			{Title: "Lenovo B", Price: 400},
			{Title: "Lenovo C", Price: 500},
		}},
		2: {Items: 1, Listings: []Listing{
			{Title: "Lenovo D", Price: 500},
		}},
	}}

	scraper := NewScraper(fetcher, DefaultOptions(), chrono.NewFixedTime(fetchedAt), telemetry.NewTestAPI(t))
	result := scraper.Scrape(context.Background())

	titles := make([]string, len(result.Listings))
	for i, l := range result.Listings {
		titles[i] = l.Title
	}
	require.Equal(t, []string{"Lenovo B", "Lenovo A", "Lenovo C", "Lenovo D"}, titles)
}

func TestScrapeSortedAndFiltered(t *testing.T) {
	brands := []string{"Lenovo", "lenovo", "LENOVO", "Asus", "Acer", "Dell", "HP", "Apple"}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		fetcher := &fakeFetcher{pages: map[int]Page{}}
		pageCount := rng.Intn(6)
		for p := 1; p <= pageCount; p++ {
			count := 1 + rng.Intn(8)
			listings := make([]Listing, 0, count)
			for i := 0; i < count; i++ {
				listings = append(listings, Listing{
					Title: fmt.Sprintf("%s model %d", brands[rng.Intn(len(brands))], rng.Intn(1000)),
					Price: float64(rng.Intn(200000)) / 100,
				})
			}
			fetcher.pages[p] = Page{Items: len(listings), Listings: listings}
		}

		scraper := NewScraper(fetcher, DefaultOptions(), chrono.NewFixedTime(fetchedAt), telemetry.NewTestAPI(t))
		result := scraper.Scrape(context.Background())

		require.Equal(t, pageCount+1, result.Pages)
		require.NotEqual(t, StatusPartial, result.Status)
		requireSortedAndMatching(t, result.Listings, DefaultFilterTerm)
	}
}
