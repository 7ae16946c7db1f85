package cli

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/clock"
	"github.com/mrz1836/switchyard/internal/config"
	"github.com/mrz1836/switchyard/internal/deploy"
	"github.com/mrz1836/switchyard/internal/diff"
	"github.com/mrz1836/switchyard/internal/llm"
	"github.com/mrz1836/switchyard/internal/metrics"
	"github.com/mrz1836/switchyard/internal/store"
)

type loggerContextKey struct{}

// withLogger stashes the CLI logger on the context.
func withLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// loggerFrom recovers the CLI logger, defaulting to a no-op.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// buildEngine loads configuration and wires the deploy engine with the
// selected store, compare cache, LLM generator, and metrics recorder.
// The returned cleanup releases store connections.
func buildEngine(ctx context.Context) (*deploy.Engine, func(), error) {
	logger := loggerFrom(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	clk := clock.RealClock{}

	var (
		taskStore store.Store
		cleanup   = func() {}
	)
	if cfg.Store.MongoURI != "" {
		mongoStore, err := store.ConnectMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, clk)
		if err != nil {
			return nil, nil, err
		}
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure store indexes")
		}
		taskStore = mongoStore
		cleanup = func() { _ = mongoStore.Close(context.Background()) }
	} else {
		logger.Warn().Msg("no store.mongo_uri configured: task state is process-local")
		taskStore = store.NewMemoryStore(clk)
	}

	opts := []deploy.Option{
		deploy.WithLogger(logger),
		deploy.WithClock(clk),
		deploy.WithRecorder(metrics.NewPromRecorder(nil)),
	}

	if analyzer := buildAnalyzer(cfg, taskStore, logger); analyzer != nil {
		opts = append(opts, deploy.WithAnalyzer(analyzer))
	}

	if generator := buildGenerator(ctx, cfg, logger); generator != nil {
		opts = append(opts, deploy.WithPreviewClient(
			llm.NewPreviewClient(generator, cfg.Preview.DiffMaxChars, llm.WithPreviewLogger(logger)),
		))
	}

	return deploy.NewEngine(cfg, taskStore, opts...), cleanup, nil
}

// buildAnalyzer returns a Redis-cached analyzer when a shared cache is
// configured; nil lets the engine build its in-process default.
func buildAnalyzer(cfg *config.Config, taskStore store.Store, logger zerolog.Logger) *diff.Analyzer {
	if !cfg.Preview.UseGithubCompare || cfg.Preview.GithubCompareRepo == "" || cfg.Preview.CacheRedisAddr == "" {
		return nil
	}

	cache := diff.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Preview.CacheRedisAddr}))
	compareClient := diff.NewCompareClient(cfg.Preview.GithubCompareRepo,
		diff.WithCompareToken(cfg.Preview.GithubCompareToken),
		diff.WithCompareCache(cache, cfg.Preview.GithubCompareCacheTTL),
		diff.WithCompareLogger(logger),
	)
	return diff.NewAnalyzer(cfg.Deploy.RepoPath, taskStore,
		diff.WithCompareClient(compareClient, cfg.Preview.GithubCompareHeadRef),
		diff.WithAnalyzerLogger(logger),
	)
}

// buildGenerator wires the Google AI generator when a model and API key
// are available. Missing credentials disable the LLM preview.
func buildGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) llm.Generator {
	if cfg.Preview.LLMModel == "" {
		return nil
	}
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil
	}

	generator, err := llm.NewGoogleAIGenerator(ctx, cfg.Preview.LLMModel, apiKey)
	if err != nil {
		logger.Warn().Err(err).Msg("preview llm unavailable")
		return nil
	}
	return generator
}
