package main

import (
	"fmt"
	"html/template"
	"math/rand"
	"net/http"
	"strconv"
)

const listingPath = "/test-sites/e-commerce/static/computers/laptops"

var brands = []string{"Lenovo", "Asus", "Acer", "Dell", "HP", "Apple", "MSI", "Toshiba"}

var models = []string{"ThinkPad", "IdeaPad", "Legion", "Yoga", "VivoBook", "Aspire", "Inspiron", "Pavilion"}

type laptop struct {
	Title       string
	Price       string
	Description string
}

// listing is a deterministic stand-in for the upstream laptop listing.
type listing struct {
	pages [][]laptop
}

func newListing(pageCount, perPage int, seed int64) listing {
	rng := rand.New(rand.NewSource(seed))

	pages := make([][]laptop, pageCount)
	for p := range pages {
		pages[p] = make([]laptop, perPage)
		for i := range pages[p] {
			brand := brands[rng.Intn(len(brands))]
			model := models[rng.Intn(len(models))]
			cents := 20000 + rng.Intn(200000)
			pages[p][i] = laptop{
				Title: fmt.Sprintf("%s %s %d", brand, model, 100+rng.Intn(900)),
				Price: fmt.Sprintf("$%d.%02d", cents/100, cents%100),
				Description: fmt.Sprintf(
					"%d\" display, %dGB RAM, %dGB SSD",
					13+rng.Intn(5), 4<<rng.Intn(4), 128<<rng.Intn(4),
				),
			}
		}
	}
	return listing{pages: pages}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<body>
<div class="row">
{{- range . }}
	<div class="col-md-4 col-xl-4 col-lg-4">
		<div class="card thumbnail">
			<div class="card-body">
				<div class="caption">
					<h4 class="price float-end card-title pull-right">{{ .Price }}</h4>
					<h4><a href="#" class="title" title="{{ .Title }}">{{ .Title }}</a></h4>
					<p class="description card-text">{{ .Description }}</p>
				</div>
			</div>
		</div>
	</div>
{{- end }}
</div>
</body>
</html>`))

func (l listing) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != listingPath {
		http.NotFound(w, r)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = parsed
	}

	// pages past the end render without any items, like the real listing
	var items []laptop
	if page >= 1 && page <= len(l.pages) {
		items = l.pages[page-1]
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, items)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
