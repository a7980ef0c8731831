package main

import (
	"context"
	"laptop-scraper/cmd/laptops-cli/commands"
	"laptop-scraper/internal/components/telemetry"
	"os"
)

func main() {
	verbose := os.Getenv("VERBOSE") != ""
	telemetry.InitSlog(verbose)
	commands.ExecuteContext(context.Background())
}
