package main

import (
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"laptop-scraper/internal/service"
	"laptop-scraper/pkg/configutil"
	"time"
)

type UpstreamConfig struct {
	BaseUrl    string `json:"base_url"`
	FilterTerm string `json:"filter_term"`
	// a negative value removes the page limit
	MaxPages          int     `json:"max_pages"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	UserAgent         string  `json:"user_agent"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
}

type CacheConfig struct {
	// 0 disables the cache, every request scrapes the upstream listing
	TtlSeconds            int    `json:"ttl_seconds"`
	RefreshTimeoutSeconds int    `json:"refresh_timeout_seconds"`
	RefreshSchedule       string `json:"refresh_schedule"`
}

type Config struct {
	Port     int                  `json:"port"`
	Upstream UpstreamConfig       `json:"upstream"`
	Cache    CacheConfig          `json:"cache"`
	Otlp     telemetry.OtlpConfig `json:"otlp"`
}

func defaultConfig() Config {
	client := webscraper.DefaultClientOptions()
	opts := webscraper.DefaultOptions()

	return Config{
		Port: 3000,
		Upstream: UpstreamConfig{
			BaseUrl:           client.BaseUrl,
			FilterTerm:        opts.FilterTerm,
			MaxPages:          opts.MaxPages,
			RequestsPerSecond: client.RequestsPerSecond,
			TimeoutSeconds:    int(client.Timeout / time.Second),
			UserAgent:         client.UserAgent,
		},
		Cache: CacheConfig{
			RefreshTimeoutSeconds: 120,
		},
	}
}

// LoadConfig reads the config at path, any field left out falls back to its default
// and a missing file means all defaults.
func LoadConfig(path string) (Config, error) {
	return configutil.ReadConfigOr(path, defaultConfig())
}

func (c Config) ClientOptions() webscraper.ClientOptions {
	return webscraper.ClientOptions{
		BaseUrl:           c.Upstream.BaseUrl,
		UserAgent:         c.Upstream.UserAgent,
		Timeout:           time.Duration(c.Upstream.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.Upstream.RequestsPerSecond,
		CloudflareBypass:  c.Upstream.CloudflareBypass,
	}
}

func (c Config) ScraperOptions() webscraper.Options {
	return webscraper.Options{
		FilterTerm: c.Upstream.FilterTerm,
		MaxPages:   c.Upstream.MaxPages,
	}
}

func (c Config) ServiceOptions() service.Options {
	return service.Options{
		CacheTTL:       time.Duration(c.Cache.TtlSeconds) * time.Second,
		RefreshTimeout: time.Duration(c.Cache.RefreshTimeoutSeconds) * time.Second,
		BaseUrl:        c.Upstream.BaseUrl,
		FilterTerm:     c.Upstream.FilterTerm,
	}
}
