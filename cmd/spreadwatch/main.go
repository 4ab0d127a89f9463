package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spreadwatch/internal/analytics"
	"spreadwatch/internal/config"
	"spreadwatch/internal/database"
	"spreadwatch/internal/report"
	"spreadwatch/internal/scanner"
	"spreadwatch/internal/source"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	if strings.EqualFold(cfg.Database.Schema, config.SchemaBasic) {
		logger.Info("config: database schema \"basic\" is stored in the snapshot schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "scan"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "scan":
		err = runScan(ctx, logger, cfg)
	case "analyze":
		err = runAnalyze(ctx, logger, cfg)
	case "fees":
		err = runFees(ctx, logger, cfg)
	default:
		log.Fatalf("unknown mode %q (want scan, analyze or fees)", mode)
	}
	if err != nil {
		logger.Error("spreadwatch: fatal", "mode", mode, "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// runScan drives the scan loop until interrupted. Persistence is optional;
// the store is only opened when it is on.
func runScan(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	var store database.Store
	if cfg.Scanner.Persist {
		var err error
		store, err = database.Open(ctx, logger, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	src := source.NewClient(logger, cfg.API.BaseURL, cfg.API.Timeout())
	console := report.NewConsole(os.Stdout)

	s := scanner.New(logger, src, store, console, cfg.Scanner)
	return s.Run(ctx)
}

// runFees compares withdrawal fees across exchanges for every configured
// coin and network.
func runFees(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	client := source.NewFeeClient(logger, cfg.API.BaseURL, cfg.API.Timeout(), cfg.Fees.CacheTTL())
	fees, err := client.GetFees(ctx)
	if err != nil {
		return err
	}

	var comparisons []report.FeeComparison
	for _, coin := range cfg.Scanner.Coins {
		for _, network := range fees.Networks(coin) {
			comparisons = append(comparisons, report.FeeComparison{
				Coin:    coin,
				Network: network,
				Fees:    fees.CompareNetworkFees(coin, network),
			})
		}
	}

	report.NewConsole(os.Stdout).RenderFees(comparisons)
	return nil
}

// runAnalyze prints the historical report from whatever backend holds the
// recorded snapshots.
func runAnalyze(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	store, err := database.Open(ctx, logger, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	a := cfg.Analytics

	performance, err := store.ExchangePerformance(ctx, a.Fiat, a.Days)
	if err != nil {
		return err
	}
	hourly, err := store.HourlyProfitability(ctx, a.Fiat, a.Days)
	if err != nil {
		return err
	}
	daily, err := store.DailyProfitability(ctx, a.Fiat, a.DailyDays)
	if err != nil {
		return err
	}
	pairs, err := store.ExchangePairPerformance(ctx, a.Fiat, a.Days, a.PairLimit)
	if err != nil {
		return err
	}
	coins, err := store.CoinStatistics(ctx, a.Fiat, a.Days)
	if err != nil {
		return err
	}
	recent, err := store.RecentOpportunities(ctx, a.Fiat, 24, a.PairLimit)
	if err != nil {
		return err
	}

	bestDay, hasBestDay := analytics.BestDay(daily)

	report.NewConsole(os.Stdout).RenderAnalysis(report.Analysis{
		Fiat:         a.Fiat,
		Days:         a.Days,
		Performance:  performance,
		Distribution: analytics.FundDistribution(performance),
		BestHours:    analytics.BestHours(hourly, 3),
		BestDay:      bestDay,
		HasBestDay:   hasBestDay,
		Pairs:        pairs,
		Coins:        coins,
		Recent:       recent,
	})
	return nil
}
