package fuzzing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"laptop-scraper/internal/service"
	testutil "laptop-scraper/test/util"
	"math/rand"
	"slices"
	"strings"
	"time"

	gocmp "github.com/google/go-cmp/cmp"
)

// steps:
// - AddPage: a page with 1-8 items, some of which may fail to parse
// - DropPage: removes the last page
// - InjectFault: makes a random page (including the one past the end) fail
// - ClearFaults
// - Scrape: runs the scraper directly
// - ScrapeCancelled: runs the scraper with a ctx that is already done
// - Listings: runs the scraper through the service
// - SetMaxPages: changes the page bound (sometimes removing it)

// properties of the system:
// - listings are always sorted by price and every title contains the filter term
// - the listings are exactly the matching listings of every page before the one
//   that stopped the scrape, in upstream order for equal prices
// - a result is partial if and only if it carries an error
// - an injected fault that stops the scrape is the error of the result
// - a cancelled scrape never requests a page

var errInjected = errors.New("injected upstream fault")

var (
	brands = []string{"Lenovo", "Asus", "Acer", "Dell", "HP", "Apple", "lenovo", "LENOVO"}
	models = []string{"ThinkPad", "IdeaPad", "Legion", "VivoBook", "Aspire", "Inspiron"}
)

type fakeUpstream struct {
	pages  []webscraper.Page
	faults map[int]error
}

func (u *fakeUpstream) Page(ctx context.Context, page int) (webscraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return webscraper.Page{}, err
	}
	if err, ok := u.faults[page]; ok {
		return webscraper.Page{}, err
	}
	if page < 1 || page > len(u.pages) {
		return webscraper.Page{}, nil
	}
	return u.pages[page-1], nil
}

type scraperTarget struct {
	tel      telemetry.API
	rndm     *rand.Rand
	upstream *fakeUpstream
	term     string
	maxPages int
	clock    chrono.FixedTime

	skipItem func(*rand.Rand) int
}

type ScraperProvider struct{}

func (ScraperProvider) CreateTarget(tel telemetry.API, rndm *rand.Rand) (Target, error) {
	return &scraperTarget{
		tel:      tel,
		rndm:     rndm,
		upstream: &fakeUpstream{faults: map[int]error{}},
		term:     testutil.RandomPick(rndm, []string{"lenovo", "LENOVO", "think", ""}),
		maxPages: webscraper.DefaultMaxPages,
		clock:    chrono.NewFixedTime(time.Date(2024, time.October, 19, 12, 0, 0, 0, time.UTC)),
		// 0: parses, 1: skipped
		skipItem: testutil.RandomSwitch(9, 1),
	}, nil
}

func (t *scraperTarget) StepAddPage(ctx context.Context, res *Results) error {
	count := 1 + t.rndm.Intn(8)
	page := webscraper.Page{Items: count, Listings: []webscraper.Listing{}}
	for i := 0; i < count; i++ {
		if t.skipItem(t.rndm) == 1 {
			page.Skipped = append(page.Skipped, errors.New("unparsable price"))
			continue
		}
		page.Listings = append(page.Listings, webscraper.Listing{
			Title: fmt.Sprintf(
				"%s %s %d",
				testutil.RandomCase(t.rndm, testutil.RandomPick(t.rndm, brands)),
				testutil.RandomPick(t.rndm, models),
				t.rndm.Intn(1000),
			),
			// a narrow range so equal prices show up
			Price:       testutil.RandomPrice(t.rndm, 300, 310),
			Description: fmt.Sprintf("page %d item %d", len(t.upstream.pages)+1, i),
		})
	}
	t.upstream.pages = append(t.upstream.pages, page)
	return nil
}

func (t *scraperTarget) StepDropPage(ctx context.Context, res *Results) error {
	if len(t.upstream.pages) > 0 {
		t.upstream.pages = t.upstream.pages[:len(t.upstream.pages)-1]
	}
	return nil
}

func (t *scraperTarget) StepInjectFault(ctx context.Context, res *Results) error {
	page := 1 + t.rndm.Intn(len(t.upstream.pages)+1)
	t.upstream.faults[page] = fmt.Errorf("page %d: %w", page, errInjected)
	return nil
}

func (t *scraperTarget) StepClearFaults(ctx context.Context, res *Results) error {
	clear(t.upstream.faults)
	return nil
}

func (t *scraperTarget) StepSetMaxPages(ctx context.Context, res *Results) error {
	t.maxPages = t.rndm.Intn(len(t.upstream.pages)+3) - 1
	return nil
}

func (t *scraperTarget) scraper() webscraper.Scraper {
	return webscraper.NewScraper(
		t.upstream,
		webscraper.Options{FilterTerm: t.term, MaxPages: t.maxPages},
		t.clock,
		t.tel,
	)
}

func (t *scraperTarget) StepScrape(ctx context.Context, res *Results) error {
	t.check(res, "Scrape", t.scraper().Scrape(ctx))
	return nil
}

func (t *scraperTarget) OnEnd(ctx context.Context, res *Results) {
	t.check(res, "OnEnd", t.scraper().Scrape(ctx))
}

func (t *scraperTarget) StepListings(ctx context.Context, res *Results) error {
	s, err := service.NewLaptopService(t.scraper(), service.Options{
		BaseUrl:    webscraper.DefaultBaseUrl,
		FilterTerm: t.term,
	}, t.clock, t.tel)
	if err != nil {
		return err
	}
	result, cached := s.Listings(ctx)
	if cached {
		res.Fail(errors.New("Listings: served from cache with caching disabled"))
	}
	t.check(res, "Listings", result)
	return nil
}

func (t *scraperTarget) StepScrapeCancelled(ctx context.Context, res *Results) error {
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	result := t.scraper().Scrape(ctx)
	if result.Status != webscraper.StatusPartial || !errors.Is(result.Err, context.Canceled) {
		res.Fail(fmt.Errorf("ScrapeCancelled: expected a partial result from ctx, got %s (%v)", result.Status, result.Err))
	}
	if result.Pages != 0 || len(result.Listings) != 0 {
		res.Fail(fmt.Errorf("ScrapeCancelled: requested %d pages", result.Pages))
	}
	return nil
}

// expect walks the upstream the way the scrape loop is supposed to.
func (t *scraperTarget) expect() (listings []webscraper.Listing, pages int, err error) {
	listings = []webscraper.Listing{}
	for page := 1; ; page++ {
		if t.maxPages > 0 && page > t.maxPages {
			return listings, pages, webscraper.ErrPageLimit
		}
		pages = page
		if fault, ok := t.upstream.faults[page]; ok {
			return listings, pages, fault
		}
		if page > len(t.upstream.pages) {
			return listings, pages, nil
		}
		for _, l := range t.upstream.pages[page-1].Listings {
			if strings.Contains(strings.ToLower(l.Title), strings.ToLower(t.term)) {
				listings = append(listings, l)
			}
		}
	}
}

func (t *scraperTarget) check(res *Results, name string, result webscraper.Result) {
	fail := func(format string, args ...any) {
		res.Fail(fmt.Errorf("%s: %s", name, fmt.Sprintf(format, args...)))
	}

	if result.Listings == nil {
		fail("listings are nil")
	}
	for i, l := range result.Listings {
		if !strings.Contains(strings.ToLower(l.Title), strings.ToLower(t.term)) {
			fail("'%s' does not contain '%s'", l.Title, t.term)
		}
		if i > 0 && result.Listings[i-1].Price > l.Price {
			fail("listings not sorted at %d: %v > %v", i, result.Listings[i-1].Price, l.Price)
		}
	}

	switch result.Status {
	case webscraper.StatusPartial:
		if result.Err == nil {
			fail("partial result without an error")
		}
	case webscraper.StatusEmpty:
		if result.Err != nil || len(result.Listings) > 0 {
			fail("empty result with err=%v and %d listings", result.Err, len(result.Listings))
		}
	case webscraper.StatusComplete:
		if result.Err != nil || len(result.Listings) == 0 {
			fail("complete result with err=%v and %d listings", result.Err, len(result.Listings))
		}
	default:
		fail("unknown status '%s'", result.Status)
	}

	expected, pages, err := t.expect()
	slices.SortStableFunc(expected, func(a, b webscraper.Listing) int {
		return cmp.Compare(a.Price, b.Price)
	})
	if diff := gocmp.Diff(expected, result.Listings); diff != "" {
		fail("unexpected listings (-want +got):\n%s", diff)
	}
	if pages != result.Pages {
		fail("expected %d pages, got %d", pages, result.Pages)
	}
	if err != nil && !errors.Is(result.Err, err) {
		fail("expected error %v, got %v", err, result.Err)
	}
	if err == nil && result.Err != nil {
		fail("unexpected error %v", result.Err)
	}
}
