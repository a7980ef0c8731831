package service

import (
	"context"
	"fmt"
	"laptop-scraper/internal/components/assert"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const (
	docsPath     = "/api-docs"
	docsJsonPath = "/api-docs/openapi.json"
	docsUiIndex  = "/api-docs/index.html"
)

func listingSchema() *openapi3.Schema {
	return openapi3.NewObjectSchema().
		WithProperty("title", openapi3.NewStringSchema()).
		WithProperty("price", openapi3.NewFloat64Schema()).
		WithProperty("description", openapi3.NewStringSchema()).
		WithRequired([]string{"title", "price", "description"})
}

func scrapeHeaders(partial bool) openapi3.Headers {
	header := func(description string) *openapi3.HeaderRef {
		return &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{
			Description: description,
			Schema:      openapi3.NewStringSchema().NewRef(),
		}}}
	}

	headers := openapi3.Headers{
		HeaderScrapeStatus: header("Outcome of the scrape: complete, partial or empty."),
		HeaderScrapePages:  header("Number of upstream pages requested."),
		"Age":              header("Seconds since the scrape finished, only set when served from the cache."),
	}
	if partial {
		headers[HeaderScrapeError] = header("The error that stopped the scrape.")
	}
	return headers
}

// NewOpenAPIDocument describes the HTTP API served by RegisterRoutes.
func NewOpenAPIDocument(port int) (*openapi3.T, error) {
	assert.Positive(port, "port")

	listings := openapi3.NewArraySchema().WithItems(listingSchema())

	ok := openapi3.NewResponse().
		WithDescription("Matching laptops sorted ascending by price, an empty array if there are none.").
		WithJSONSchema(listings)
	ok.Headers = scrapeHeaders(false)

	badGateway := openapi3.NewResponse().
		WithDescription("The upstream listing could not be scraped completely, the body holds what was collected before the failure.").
		WithJSONSchema(listings)
	badGateway.Headers = scrapeHeaders(true)

	doc := &openapi3.T{
		OpenAPI: "3.0.0",
		Info: &openapi3.Info{
			Title:       "Laptop Scraper API",
			Version:     "1.0.0",
			Description: "Lenovo laptops scraped from the webscraper.io e-commerce test site.",
		},
		Servers: openapi3.Servers{
			{URL: fmt.Sprintf("http://localhost:%d", port)},
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath(listingsPath, &openapi3.PathItem{
				Get: &openapi3.Operation{
					OperationID: "getLenovoLaptops",
					Summary:     "Lenovo laptops sorted by price",
					Description: "Scrapes every page of the laptop listing (or serves a recent scrape) and returns the laptops whose title contains the filter term.",
					Responses: openapi3.NewResponses(
						openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: ok}),
						openapi3.WithStatus(http.StatusBadGateway, &openapi3.ResponseRef{Value: badGateway}),
					),
				},
			}),
		),
	}

	err := doc.Validate(context.Background())
	if err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

// registerDocs serves the document as json and a swagger ui that loads it.
func registerDocs(mux *http.ServeMux, doc *openapi3.T) error {
	serialized, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serialize openapi document: %w", err)
	}

	toIndex := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, docsUiIndex, http.StatusMovedPermanently)
	}
	mux.HandleFunc("GET "+docsPath, toIndex)
	mux.HandleFunc("GET "+docsPath+"/{$}", toIndex)
	mux.Handle("GET "+docsPath+"/", httpSwagger.Handler(httpSwagger.URL(docsJsonPath)))
	mux.HandleFunc("GET "+docsJsonPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.Write(serialized)
	})
	return nil
}
