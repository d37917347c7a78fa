package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskmail/internal/audit"
	"taskmail/internal/config"
	"taskmail/internal/database"
	"taskmail/internal/dispatch"
	"taskmail/internal/events"
	"taskmail/internal/logger"
	"taskmail/internal/mailer"
	"taskmail/internal/ratelimit"
	"taskmail/internal/server/api"
	"taskmail/internal/template"
	"taskmail/internal/version"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	store := audit.NewStore(db, log)

	limiter := ratelimit.NewLimiter(store, cfg.RateLimit.Limits(), cfg.RateLimit.CountFailed)

	// The log-backed limiter accepts a small admission race between
	// concurrent dispatches; the redis strategy closes it.
	var admitter ratelimit.Admitter = limiter
	if cfg.RateLimit.Strategy == "redis" {
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.RateLimit.Redis, cfg.RateLimit.Limits())
		if err != nil {
			log.Fatal("Failed to initialize redis limiter", zap.Error(err))
		}
		defer func() {
			_ = redisLimiter.Close()
		}()
		admitter = redisLimiter
	}

	renderer, err := template.NewRenderer()
	if err != nil {
		log.Fatal("Failed to load templates", zap.Error(err))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		publisher, err = events.NewPublisher(cfg.Events, log)
		if err != nil {
			log.Fatal("Failed to initialize event publisher", zap.Error(err))
		}
	}
	defer func() {
		_ = publisher.Close()
	}()

	svc := dispatch.NewService(store, admitter, renderer, mailer.New(cfg.Mailer, log), publisher, log)
	client := dispatch.NewClient(svc, cfg.RateLimit.Limits())

	router := api.NewRouter(cfg, api.Deps{
		Service: svc,
		Client:  client,
		Store:   store,
		Limiter: limiter,
		DB:      db,
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Starting server",
			zap.String("address", cfg.Server.Address),
			zap.String("version", version.GetInfo().Version))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	log.Info("Shutdown complete")
}
