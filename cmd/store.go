package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/appprecos/enrich-cli/internal/canonical"
	"github.com/appprecos/enrich-cli/internal/config"
	"github.com/appprecos/enrich-cli/internal/lock"
	"github.com/appprecos/enrich-cli/internal/resolver"
	"github.com/appprecos/enrich-cli/internal/store"
	anthropicpkg "github.com/appprecos/enrich-cli/pkg/anthropic"
	"github.com/appprecos/enrich-cli/pkg/cosmos"
	"github.com/appprecos/enrich-cli/pkg/openfoodfacts"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "precos.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initResolver(st store.Store) (*resolver.Resolver, error) {
	tuning := resolver.DefaultTuning()
	if cfg.Resolver.TuningFile != "" {
		loaded, err := resolver.LoadTuning(cfg.Resolver.TuningFile)
		if err != nil {
			return nil, err
		}
		tuning = loaded
	}
	if cfg.Resolver.SimilarityThreshold > 0 {
		tuning.SimilarityThreshold = cfg.Resolver.SimilarityThreshold
	}
	if cfg.Resolver.MaxCandidates > 0 {
		tuning.MaxCandidates = cfg.Resolver.MaxCandidates
	}

	// Without tokens the rotator would report every call as exhausted and
	// abort each run, so the external catalog steps are skipped instead.
	var api resolver.BarcodeAPI
	if len(cfg.Cosmos.Tokens) > 0 {
		var copts []cosmos.Option
		if cfg.Cosmos.BaseURL != "" {
			copts = append(copts, cosmos.WithBaseURL(cfg.Cosmos.BaseURL))
		}
		if cfg.Cosmos.TimeoutSecs > 0 {
			copts = append(copts, cosmos.WithTimeout(time.Duration(cfg.Cosmos.TimeoutSecs)*time.Second))
		}
		api = cosmos.NewRotator(cosmos.NewClient(copts...), cfg.Cosmos.Tokens)
	}

	var oopts []openfoodfacts.Option
	if cfg.OpenFoodFacts.BaseURL != "" {
		oopts = append(oopts, openfoodfacts.WithBaseURL(cfg.OpenFoodFacts.BaseURL))
	}
	if cfg.OpenFoodFacts.TimeoutSecs > 0 {
		oopts = append(oopts, openfoodfacts.WithTimeout(time.Duration(cfg.OpenFoodFacts.TimeoutSecs)*time.Second))
	}
	if cfg.OpenFoodFacts.RateLimit > 0 {
		oopts = append(oopts, openfoodfacts.WithRateLimit(cfg.OpenFoodFacts.RateLimit))
	}
	offClient := openfoodfacts.NewClient(oopts...)

	var arbiter resolver.Matcher
	if cfg.Anthropic.Key != "" {
		llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
		arbiter = resolver.NewArbiter(llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	}

	return resolver.New(st, api, offClient, arbiter, tuning), nil
}

func initUpserter(st store.Store) *canonical.Upserter {
	return canonical.New(st)
}

func initCoordinator(st store.Store) *lock.Coordinator {
	return lock.NewCoordinator(st, lockConfig(cfg.Lock))
}

func lockConfig(c config.LockConfig) lock.Config {
	return lock.Config{
		PollInterval:  time.Duration(c.PollSecs) * time.Second,
		SettleDelay:   time.Duration(c.SettleMillis) * time.Millisecond,
		Jitter:        time.Duration(c.JitterMillis) * time.Millisecond,
		MaxWait:       time.Duration(c.MaxWaitSecs) * time.Second,
		StaleTimeout:  time.Duration(c.StaleSecs) * time.Second,
		SweepInterval: time.Duration(c.SweepSecs) * time.Second,
	}
}
