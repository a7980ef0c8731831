package webscraper

import (
	"errors"
	"laptop-scraper/pkg/restyutil"
	"time"
)

const (
	DefaultBaseUrl    = "https://webscraper.io/test-sites/e-commerce/static/computers/laptops"
	DefaultFilterTerm = "lenovo"
	DefaultMaxPages   = 100
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

var (
	// ErrPageLimit truncates a scrape that fetched MaxPages pages without ever reaching an empty page.
	ErrPageLimit = errors.New("page limit reached before the end of pagination")
	// ErrUnexpectedStatus is returned by Client.Page for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Listing is one product entry scraped from the listing.
type Listing struct {
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// Page is a single parsed page of the upstream listing.
type Page struct {
	// Items is the number of item elements on the page, a page with zero items marks
	// the end of pagination. It can be larger than len(Listings) if some items
	// could not be parsed.
	Items    int
	Listings []Listing
	// Skipped holds one error per item that could not be parsed.
	Skipped []error
}

type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusEmpty    Status = "empty"
)

// Result is the outcome of one run of the fetch-and-filter loop.
type Result struct {
	// Listings is sorted ascending by price and is never nil.
	Listings []Listing
	Status   Status
	// Err is the error that truncated the scrape, it is only set when Status is StatusPartial.
	Err error
	// Pages is the number of pages requested, including the one that ended the scrape.
	Pages     int
	FetchedAt time.Time
}

// ClientOptions configures the HTTP side of the scraper.
type ClientOptions struct {
	BaseUrl   string
	UserAgent string
	// Timeout applies to each page request individually, 0 disables it.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests, 0 disables pacing.
	RequestsPerSecond float64
	// CloudflareBypass wraps the transport with browser-like TLS and headers.
	CloudflareBypass bool
	// Dump receives every request/response pair when set.
	Dump restyutil.Output
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		BaseUrl:           DefaultBaseUrl,
		UserAgent:         DefaultUserAgent,
		Timeout:           time.Second * 30,
		RequestsPerSecond: 2,
	}
}

// Options configures the fetch-and-filter loop.
type Options struct {
	// FilterTerm is matched case-insensitively against listing titles, "" keeps everything.
	FilterTerm string
	// MaxPages bounds the number of pages a single scrape may request, <= 0 means unbounded.
	MaxPages int
}

func DefaultOptions() Options {
	return Options{
		FilterTerm: DefaultFilterTerm,
		MaxPages:   DefaultMaxPages,
	}
}
