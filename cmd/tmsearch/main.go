package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joelkehle/tmsearch/internal/config"
	"github.com/joelkehle/tmsearch/internal/telemetry"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("tmsearch config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "tmsearch", cfg.OTELEndpoint)
	if err != nil {
		log.Printf("tmsearch tracing_disabled err=%q", err.Error())
	}
	defer func() { _ = shutdown(context.Background()) }()

	app := newCLIApp(cfg, os.Stdout)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Printf("tmsearch failed err=%q", err.Error())
		stop()
		_ = shutdown(context.Background())
		os.Exit(1)
	}
}
