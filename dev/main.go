package main

import (
	"encoding/json"
	"flag"
	"fmt"
	devenv "laptop-scraper/dev/env"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/pkg/serviceutil"
	"log/slog"
	"os"
	"time"
)

type devUpstreamConfig struct {
	BaseUrl           string  `json:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type devConfig struct {
	Upstream devUpstreamConfig `json:"upstream"`
}

// writeConfig writes a server config pointing at the local listing and returns its path.
func writeConfig(port int) (string, error) {
	path, err := devenv.ResolvePath("<dev_state>/config.json5")
	if err != nil {
		return "", err
	}
	serialized, err := json.MarshalIndent(devConfig{
		Upstream: devUpstreamConfig{
			BaseUrl:           fmt.Sprintf("http://localhost:%d%s", port, listingPath),
			RequestsPerSecond: 50,
		},
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, serialized, 0666)
}

func main() {
	port := flag.Int("port", 3001, "The port to serve the listing on.")
	pages := flag.Int("pages", 5, "The number of pages that have items.")
	perPage := flag.Int("per-page", 6, "The number of items on each page.")
	seed := flag.Int64("seed", 1, "Seed for the generated laptops.")
	flag.Parse()

	telemetry.InitSlog(true)
	ctx := serviceutil.SignalContext()

	configPath, err := writeConfig(*port)
	if err != nil {
		serviceutil.Fatal("failed to write dev config", err)
	}
	slog.Info("dev config written", "path", configPath)
	slog.Info(fmt.Sprintf("run the server against it with: go run ./cmd/server -v -config %s", configPath))

	serviceutil.StartHttpServer(ctx, *port, newListing(*pages, *perPage, *seed), time.Second)
}
