package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kyzlolabs/weatherbot/internal/brain"
	"github.com/kyzlolabs/weatherbot/internal/config"
	"github.com/kyzlolabs/weatherbot/internal/engine"
	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/observ"
	"github.com/kyzlolabs/weatherbot/internal/safety"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

func main() {
	if err := run(); err != nil {
		observ.Error("fatal", map[string]any{"error": err.Error()})
		var critical *engine.CriticalError
		if errors.As(err, &critical) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to yaml config (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "WARNING: .env load failed: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observ.Init(cfg.LogLevel)

	cityNames := make([]string, 0, len(cfg.Cities))
	for _, c := range cfg.Cities {
		cityNames = append(cityNames, c.Name)
	}
	observ.Log("startup", map[string]any{
		"paper_trade":  cfg.PaperTrade,
		"confirm_live": cfg.ConfirmLive,
		"brain":        cfg.Brain,
		"cities":       strings.Join(cityNames, ", "),
	})

	store, err := ledger.NewStore(cfg.Paths.Ledger, cfg.Paths.Stats, cfg.Paths.Prompt)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	if err := safety.ValidateStartup(cfg, store); err != nil {
		return fmt.Errorf("startup validation: %w", err)
	}

	lock, err := safety.Acquire(cfg.Paths.Lockfile)
	if err != nil {
		return err
	}
	defer lock.Release()
	defer observ.DumpCounters()

	br, err := buildBrain(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, city := range cfg.Cities {
		if err := runCity(ctx, cfg, city, br, store); err != nil {
			return fmt.Errorf("cycle for %s: %w", city.Name, err)
		}
	}
	return nil
}

func buildBrain(cfg config.Root) (brain.Brain, error) {
	switch cfg.Brain {
	case "rules":
		return brain.NewRules(brain.RulesConfig{
			MinNetEdge:    cfg.Rules.MinNetEdge,
			TakerFeeRate:  cfg.Rules.TakerFeeRate,
			PriceCapCents: cfg.Rules.PriceCapCents,
			MinVolume24h:  cfg.Rules.MinVolume24h,
			MinOpenInt:    cfg.Rules.MinOpenInt,
			BaseShares:    cfg.Rules.BaseShares,
			StepShares:    cfg.Rules.StepShares,
			StepEdge:      cfg.Rules.StepEdge,
		}), nil
	case "openrouter":
		return brain.NewOpenRouter(brain.OpenRouterConfig{
			APIKey:         cfg.OpenRouter.APIKey,
			Model:          cfg.OpenRouter.Model,
			TimeoutSeconds: cfg.OpenRouter.TimeoutSeconds,
			MaxTokens:      cfg.OpenRouter.MaxTokens,
			Temperature:    cfg.OpenRouter.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown brain %q (want rules or openrouter)", cfg.Brain)
	}
}

func runCity(ctx context.Context, cfg config.Root, city config.City, br brain.Brain, store *ledger.Store) error {
	observ.Log("city_cycle_start", map[string]any{"city": city.Name, "series": city.SeriesTicker})

	ex, err := exchange.NewKalshiClient(exchange.KalshiConfig{
		BaseURL:        cfg.Kalshi.BaseURL,
		SeriesTicker:   city.SeriesTicker,
		KeyID:          cfg.Kalshi.KeyID,
		PrivateKeyPEM:  cfg.Kalshi.PrivateKeyPEM,
		TimeoutSeconds: cfg.Kalshi.TimeoutSeconds,
		RatePerSecond:  cfg.Kalshi.RatePerSecond,
		MaxRetries:     cfg.Kalshi.MaxRetries,
		BackoffBaseMs:  cfg.Kalshi.BackoffBaseMs,
	})
	if err != nil {
		return err
	}

	feed := weather.NewClient(weather.ClientConfig{
		City:           city.Name,
		Lat:            city.Lat,
		Lon:            city.Lon,
		Timezone:       city.Timezone,
		TimeoutSeconds: cfg.Weather.TimeoutSeconds,
	})

	eng := engine.New(ex, br, feed, store, cfg.Risk, engine.Config{
		MinMinutesToExpiry: cfg.Engine.MinMinutesToExpiry,
		MaxShares:          cfg.Engine.MaxShares,
		PaperTrade:         cfg.PaperTrade,
		PendingStaleAfter:  time.Duration(cfg.Engine.PendingStaleMinutes) * time.Minute,
		RecentTradeCount:   cfg.Engine.RecentTrades,
	})
	return eng.RunCycle(ctx)
}
