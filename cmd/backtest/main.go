// Backtest CLI
// Creates a bot definition from a genome and replays it over historical
// prices, printing the run report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/bot"
	"github.com/genetick/genetick/internal/capital"
	"github.com/genetick/genetick/internal/config"
	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
)

var (
	configPath = flag.String("config", "", "Path to config file (optional)")

	name    = flag.String("name", "", "Bot definition name, unique per workspace")
	genome  = flag.String("genome", "", "Genome text, e.g. \"TIME-RES=15m|RSI|HA\"")
	symbols = flag.String("symbols", "BTC-USDT", "Symbol pair to trade")

	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD)")

	workspaceID = flag.String("workspace", "", "Workspace UUID")
	strategyID  = flag.String("strategy", "", "Strategy UUID")

	budget      = flag.String("budget", "1000 USDT", "Capital allocation, e.g. \"1000 USDT\"")
	maxWagerPct = flag.String("wager", "1", "Fraction of the allocation wagered per order")

	detach     = flag.Bool("detach", false, "Return immediately; the report is persisted when the run finishes")
	outputFile = flag.String("output", "", "Output file for the JSON report (optional)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	req, err := buildRequest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	if err := run(ctx, cfg, req); err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}
}

func buildRequest() (bot.BacktestRequest, error) {
	var req bot.BacktestRequest

	if *name == "" || *genome == "" {
		return req, fmt.Errorf("-name and -genome are required")
	}
	if *startDate == "" || *endDate == "" {
		return req, fmt.Errorf("-start and -end dates are required")
	}

	from, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		return req, fmt.Errorf("invalid start date (use YYYY-MM-DD): %w", err)
	}
	to, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		return req, fmt.Errorf("invalid end date (use YYYY-MM-DD): %w", err)
	}
	if !to.After(from) {
		return req, fmt.Errorf("end date must be after start date")
	}

	parsed, err := genetics.Parse(*genome)
	if err != nil {
		return req, err
	}
	if len(parsed.Errors) > 0 {
		return req, fmt.Errorf("invalid genome: %s", parsed.Errors[0])
	}
	for _, w := range parsed.Warnings {
		log.Warn().Str("warning", w).Msg("Genome warning")
	}

	wager, err := decimal.NewFromString(*maxWagerPct)
	if err != nil {
		return req, fmt.Errorf("invalid wager fraction: %w", err)
	}

	workspace := uuid.New()
	if *workspaceID != "" {
		if workspace, err = uuid.Parse(*workspaceID); err != nil {
			return req, fmt.Errorf("invalid workspace id: %w", err)
		}
	}
	strategy := uuid.New()
	if *strategyID != "" {
		if strategy, err = uuid.Parse(*strategyID); err != nil {
			return req, fmt.Errorf("invalid strategy id: %w", err)
		}
	}

	return bot.BacktestRequest{
		WorkspaceID: workspace,
		StrategyID:  strategy,
		Name:        *name,
		Genome:      *genome,
		Symbols:     *symbols,
		From:        from,
		To:          to,
		Budget:      *budget,
		MaxWagerPct: wager,
		ReturnEarly: *detach,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, req bot.BacktestRequest) error {
	database, err := db.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	provider := newProvider(cfg)
	runner := bot.NewRunner(database, capital.NewService(database), provider).
		WithCacheBounds(cfg.Backtest.CacheMaxKeys, cfg.Backtest.CacheMaxItemsPerKey)

	handle, report, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}

	if req.ReturnEarly {
		log.Info().
			Str("instance_id", handle.InstanceID.String()).
			Str("name", handle.Name).
			Msg("Backtest detached; report will be persisted on completion")
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	fmt.Println(string(data))

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, data, 0644); err != nil {
			log.Warn().Err(err).Str("file", *outputFile).Msg("Failed to write output file")
		} else {
			log.Info().Str("file", *outputFile).Msg("Report written to file")
		}
	}
	return nil
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
