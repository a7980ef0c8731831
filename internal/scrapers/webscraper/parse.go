package webscraper

import (
	"fmt"
	"io"
	"laptop-scraper/pkg/htmlutil"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
)

const (
	selectorItem        = ".thumbnail"
	selectorTitle       = ".title"
	selectorPrice       = ".price"
	selectorDescription = ".description"
)

// ParsePrice parses a currency-prefixed price like "$1,099.00".
func ParsePrice(text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.ReplaceAll(trimmed, ",", "")
	trimmed = strings.TrimSpace(trimmed)

	price, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("parse price %q: not a finite number", text)
	}
	return price, nil
}

// ParsePage parses the markup of one listing page.
func ParsePage(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, err
	}

	items := doc.Find(selectorItem)
	page := Page{
		Items:    items.Length(),
		Listings: make([]Listing, 0, items.Length()),
	}

	items.Each(func(i int, item *goquery.Selection) {
		// the text of the title anchor gets truncated with "...", the title attribute does not
		title := htmlutil.AttrOrText(item.Find(selectorTitle), "title")
		priceText := htmlutil.Text(item.Find(selectorPrice))
		description := htmlutil.Text(item.Find(selectorDescription))

		price, err := ParsePrice(priceText)
		if err != nil {
			page.Skipped = append(page.Skipped, fmt.Errorf("item %d (%s): %w", i, title, err))
			return
		}

		page.Listings = append(page.Listings, Listing{
			Title:       title,
			Price:       price,
			Description: description,
		})
	})

	return page, nil
}

// Matches checks if title contains term, ignoring case.
func Matches(title, term string) bool {
	// casers are stateful so one cannot be shared between goroutines
	fold := cases.Fold()
	return strings.Contains(fold.String(title), fold.String(term))
}
