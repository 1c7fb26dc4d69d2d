package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joelkehle/tmsearch/internal/config"
	"github.com/joelkehle/tmsearch/internal/matchcache"
	"github.com/joelkehle/tmsearch/internal/telemetry"
)

func main() {
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides MATCH_CACHE_DB)")
	addrFlag := flag.String("addr", "", "listen address (overrides MATCH_CACHE_ADDR)")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("match-cache config: %v", err)
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "match-cache", cfg.OTELEndpoint)
	if err != nil {
		log.Printf("match-cache tracing_disabled err=%q", err.Error())
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, err := matchcache.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", cfg.DBPath, err)
	}
	defer store.Close()
	log.Printf("match-cache using sqlite store at %s", cfg.DBPath)
	if len(cfg.Tokens) == 0 {
		log.Printf("match-cache MATCH_CACHE_TOKENS empty; any bearer token is accepted")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           matchcache.NewServer(store, cfg.Tokens),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("match-cache listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
