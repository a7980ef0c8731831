package main

import (
	"context"
	"flag"
	"laptop-scraper/internal/components/chrono"
	"laptop-scraper/internal/components/telemetry"
	"laptop-scraper/internal/scrapers/webscraper"
	"laptop-scraper/internal/service"
	"laptop-scraper/pkg/restyutil"
	"laptop-scraper/pkg/serviceutil"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	configPath := flag.String("config", "config.json5", "Path to the config file, it does not need to exist.")
	flag.Parse()

	telemetry.InitSlog(*verbose)
	ctx := serviceutil.SignalContext()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	otel, err := telemetry.SetupOtel(ctx, "laptop-scraper", cfg.Otlp)
	if err != nil {
		serviceutil.Fatal("setup otel", err)
	}
	defer otel.Shutdown(context.Background())

	tel := telemetry.SlogAPI{}
	telemetry.InstrumentPerfStats(ctx, tel)

	var dump restyutil.Output
	if *verbose {
		output, err := restyutil.NewFilesystemOutput("<dev_state>/resty/webscraper")
		if err != nil {
			slog.Warn("upstream requests will not be recorded", "err", err)
		} else {
			dump = output
		}
	}

	handler, cron, err := initService(cfg, tel, dump)
	if err != nil {
		serviceutil.Fatal("init service", err)
	}
	defer cron.Stop()

	slog.Info("serving lenovo laptops", "port", cfg.Port, "cache_ttl_seconds", cfg.Cache.TtlSeconds)
	serviceutil.StartHttpServer(ctx, cfg.Port, handler, time.Second*10)
}

func initService(cfg Config, tel telemetry.API, dump restyutil.Output) (http.Handler, chrono.StandardCron, error) {
	clientOpts := cfg.ClientOptions()
	clientOpts.Dump = dump
	client, err := webscraper.NewClient(clientOpts, tel)
	if err != nil {
		return nil, chrono.StandardCron{}, err
	}
	clock := chrono.NewStandardTime()
	scraper := webscraper.NewScraper(client, cfg.ScraperOptions(), clock, tel)

	laptops, err := service.NewLaptopService(scraper, cfg.ServiceOptions(), clock, tel)
	if err != nil {
		return nil, chrono.StandardCron{}, err
	}

	cron := chrono.NewStandardCron(telemetry.NewScopedAPI("cron", tel))
	err = laptops.ScheduleRefresh(cron, cfg.Cache.RefreshSchedule)
	if err != nil {
		cron.Stop()
		return nil, chrono.StandardCron{}, err
	}

	doc, err := service.NewOpenAPIDocument(cfg.Port)
	if err != nil {
		cron.Stop()
		return nil, chrono.StandardCron{}, err
	}
	mux := http.NewServeMux()
	err = laptops.RegisterRoutes(mux, doc)
	if err != nil {
		cron.Stop()
		return nil, chrono.StandardCron{}, err
	}

	return otelhttp.NewHandler(mux, "laptop-scraper"), cron, nil
}
