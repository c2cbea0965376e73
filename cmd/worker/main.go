// Worker daemon
// Ticks forward-test, test-live and live bot instances and applies order
// confirmations arriving on the worker bus.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/genetick/genetick/internal/bot"
	"github.com/genetick/genetick/internal/bus"
	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/config"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
	"github.com/genetick/genetick/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, "console")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	messenger, err := bus.New(bus.Config{NATSURL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to worker bus")
	}
	defer messenger.Close()

	w := worker.New(database, capital.NewService(database), messenger, newProvider(cfg), worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		TickRate:    time.Duration(cfg.Worker.TickRateMS) * time.Millisecond,
	})

	// Order confirmations are high priority: they unblock waiting FSMs.
	sub, err := messenger.SubscribeWorkerHi(bot.EventOrderStatus, w.HandleOrderStatus)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to order status events")
	}
	defer sub.Unsubscribe()

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Worker exited with error")
	}

	grace := time.Duration(cfg.Worker.DrainGraceMS) * time.Millisecond
	if grace > 0 {
		time.Sleep(grace)
	}
	log.Info().Msg("Worker shut down")
}

// newProvider builds the price source: Binance klines, wrapped with the
// redis range cache when redis is configured.
func newProvider(cfg *config.Config) market.PriceDataProvider {
	exchange := cfg.Exchanges["binance"]
	var provider market.PriceDataProvider = market.NewBinanceProvider(exchange.APIKey, exchange.SecretKey)

	if cfg.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		provider = market.NewCachedProvider(provider, client, time.Hour)
	}
	return provider
}
