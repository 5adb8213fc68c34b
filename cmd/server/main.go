package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinpulse/market-data-service/internal/api"
	"github.com/coinpulse/market-data-service/internal/cache"
	"github.com/coinpulse/market-data-service/internal/collector"
	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/events"
	"github.com/coinpulse/market-data-service/internal/exchange"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	var latest *cache.LatestPrices
	if cfg.Redis.Addr != "" {
		latest = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := latest.Ping(context.Background()); err != nil {
			logger.Warn("redis unreachable, latest-price cache disabled", "error", err)
			latest = nil
		} else {
			defer latest.Close()
		}
	}

	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
	}

	limiter := exchange.NewWeightLimiter(cfg.Exchange.WeightPerMinute, time.Minute)
	client := exchange.NewClient(cfg.Exchange.BaseURL, limiter,
		exchange.WithQuoteAsset(cfg.Exchange.QuoteAsset),
		exchange.WithTimeout(cfg.Exchange.RequestTimeout),
		exchange.WithRetries(cfg.Exchange.MaxRetries, cfg.Exchange.RetryBackoff),
		exchange.WithLogger(logger),
	)

	startDate, _ := cfg.Collection.ParsedStartDate()
	orch := collector.New(client, db, collector.Config{
		StartDate:  startDate,
		TopSymbols: cfg.Collection.TopSymbols,
		BatchHours: cfg.Collection.BatchHours,
	}, optionalCache(latest), optionalPublisher(producer), logger)

	sched := scheduler.New(orch, cfg.Collection.CronSpec, logger)
	if err := sched.Start(); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	if cfg.Collection.RunOnStart {
		if err := orch.Trigger(models.ModeBackward, time.Time{}, nil); err != nil {
			logger.Warn("startup backfill trigger rejected", "error", err)
		}
	}

	handler := api.NewHandler(db, sched, orch, latest)
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

// optionalCache keeps a typed nil from reaching the orchestrator's
// interface field.
func optionalCache(c *cache.LatestPrices) collector.LatestCache {
	if c == nil {
		return nil
	}
	return c
}

func optionalPublisher(p *events.Producer) collector.RunPublisher {
	if p == nil {
		return nil
	}
	return p
}
