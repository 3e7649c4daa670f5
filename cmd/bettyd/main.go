package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askbetty/betty/internal/chat"
	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/health"
	"github.com/askbetty/betty/internal/httpserver"
	"github.com/askbetty/betty/internal/logging"
	"github.com/askbetty/betty/internal/metrics"
	"github.com/askbetty/betty/internal/ratelimit"
	"github.com/askbetty/betty/internal/suggest"
	"github.com/askbetty/betty/internal/tracing"
	"github.com/askbetty/betty/internal/version"
)

const app = "bettyd"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env failed: %v", err)
	}
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logCloser, err := logging.Setup(app, cfg.LogFile, logging.DefaultMaxBytes, 14)
	if err != nil {
		log.Fatalf("init rotating log: %v", err)
	}
	defer logCloser.Close()
	log.Printf("%s %s env=%s", app, version.FullInfo(), cfg.Environment)

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{Enabled: cfg.TracingEnabled, Exporter: cfg.TracingExporter})
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	persona, err := loadPersona(cfg)
	if err != nil {
		log.Fatalf("load persona: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open chat store: %v", err)
	}
	defer store.Close()
	log.Printf("chat store driver=%s", cfg.StoreDriver)

	up, err := buildUpstreams(cfg, logging.New(app, "adapter"))
	if err != nil {
		log.Fatalf("build adapters: %v", err)
	}

	collector := metrics.NewCollector()
	producer := chat.NewProducer(up.router, persona,
		chat.WithLogger(logging.New(app, "chat")),
		chat.WithMetrics(collector),
		chat.WithAdapterName("router"))
	generator := suggest.New(up.router, persona, logging.New(app, "suggest"), collector)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	defer limiter.Close()

	checker := health.New(health.Config{
		Store:     store,
		Upstreams: up.endpoints,
		Breakers:  up.breakerStates(),
	})

	httpSrv := httpserver.New(httpserver.Options{
		Producer:  producer,
		Suggest:   generator,
		Store:     store,
		Health:    checker,
		Metrics:   collector,
		Limiter:   limiter,
		RateLimit: cfg.RateLimitRPS > 0,
	})
	httpSrv.SetLogger(cfg.LogLevel, logging.New(app, "http"))

	// no WriteTimeout: replies stream for as long as the provider takes
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("betty server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown failed: %v", err)
	}
}
