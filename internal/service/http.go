package service

import (
	"encoding/json"
	"laptop-scraper/internal/scrapers/webscraper"
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	listingsPath = "/lenovo-laptops"

	HeaderScrapeStatus = "X-Scrape-Status"
	HeaderScrapePages  = "X-Scrape-Pages"
	HeaderScrapeError  = "X-Scrape-Error"

	report_http_encode = "http.encode"
)

// RegisterRoutes adds the listing route and the api docs to mux.
func (s LaptopService) RegisterRoutes(mux *http.ServeMux, docs *openapi3.T) error {
	mux.HandleFunc("GET "+listingsPath, s.handleListings)
	return registerDocs(mux, docs)
}

func (s LaptopService) handleListings(w http.ResponseWriter, r *http.Request) {
	result, cached := s.Listings(r.Context())

	body, err := json.Marshal(result.Listings)
	if err != nil {
		s.tel.ReportBroken(report_http_encode, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("content-type", "application/json")
	header.Set(HeaderScrapeStatus, string(result.Status))
	header.Set(HeaderScrapePages, strconv.Itoa(result.Pages))
	if cached {
		age := int(s.time.Now().Sub(result.FetchedAt).Seconds())
		header.Set("Age", strconv.Itoa(max(age, 0)))
	}

	status := http.StatusOK
	if result.Status == webscraper.StatusPartial {
		status = http.StatusBadGateway
		if result.Err != nil {
			header.Set(HeaderScrapeError, result.Err.Error())
		}
	}

	w.WriteHeader(status)
	w.Write(body)
}
