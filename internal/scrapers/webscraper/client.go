package webscraper

import (
	"bytes"
	"context"
	"fmt"
	"laptop-scraper/internal/components/assert"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/pkg/restyutil"
	"math"
	"net/url"
	"strconv"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_page = "client.page"
)

// Client fetches and parses pages of the upstream listing.
type Client struct {
	http    *resty.Client
	baseUrl *url.URL
	tel     telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")

	tel = telemetry.NewScopedAPI("webscraper", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url '%s' must be absolute", opts.BaseUrl)
	}

	httpClient := resty.New()
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	if opts.RequestsPerSecond > 0 {
		// burst >= 1 is required for Wait to ever succeed
		burst := int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)
	if opts.Dump != nil {
		restyutil.RecordMessages(httpClient, opts.Dump)
	}

	return &Client{
		http:    httpClient,
		baseUrl: baseUrl,
		tel:     tel,
	}, nil
}

// BaseUrl returns the listing url pages are requested from.
func (c *Client) BaseUrl() string {
	return c.baseUrl.String()
}

// Page requests `<base url>?page=<page>` and parses it, a non-2xx response is an error.
func (c *Client) Page(ctx context.Context, page int) (Page, error) {
	endpoint := c.baseUrl.String()
	c.tel.ReportDebug(report_client_page, endpoint, page)

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page", strconv.Itoa(page)).
		Get(endpoint)
	if err != nil {
		c.tel.ReportBroken(
			report_client_page,
			fmt.Errorf("fetch: %w", err),
			endpoint,
			page,
		)
		return Page{}, err
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		err := fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status())
		c.tel.ReportBroken(
			report_client_page,
			fmt.Errorf("fetch: %w", err),
			endpoint,
			page,
		)
		return Page{}, err
	}

	parsed, err := ParsePage(bytes.NewBuffer(res.Body()))
	if err != nil {
		c.tel.ReportBroken(
			report_client_page,
			fmt.Errorf("parse: %w", err),
			endpoint,
			page,
		)
		return Page{}, err
	}
	for _, skipped := range parsed.Skipped {
		c.tel.ReportWarning(report_client_page, skipped, page)
	}

	return parsed, nil
}
