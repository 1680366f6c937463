package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// PricingParams groups the dependencies of the pricing engine.
type PricingParams struct {
	Config     *Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// PricingStack is the wired pricing engine shared by the API and the worker.
type PricingStack struct {
	Service *pricing.Service
	Cache   *pricing.Cache
	Metrics *pricing.Metrics
	Scale   int32
}

// NewPricingStack builds repository, cache, resolver and service from config.
// The cache is skipped when disabled or when no redis client is available.
func NewPricingStack(params PricingParams) (*PricingStack, error) {
	cfg := params.Config
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scale, err := cfg.PricingPrecision()
	if err != nil {
		return nil, err
	}

	metrics := pricing.NewMetrics(params.Registerer)
	var repo pricing.Repository = pricing.NewPostgresRepository(params.Pool)
	var cache *pricing.Cache
	if cfg.PricingCacheEnabled && params.Redis != nil {
		cache = pricing.NewCache(params.Redis, cfg.PricingCacheTTL, metrics, logger)
		repo = pricing.NewCachedRepository(repo, cache)
	}

	resolver := pricing.NewResolver(repo, pricing.ResolverOptions{
		Calculator:    pricing.NewCalculator(scale),
		LookupTimeout: cfg.PricingLookupTimeout,
		Logger:        logger,
		Metrics:       metrics,
	})
	service := pricing.NewService(repo, resolver, cache, pricing.ServiceConfig{
		StrictCustomers:  cfg.PricingStrictCustomers,
		BatchConcurrency: cfg.PricingBatchConcurrency,
	}, logger)

	logger.Info("pricing engine ready",
		slog.String("currency", cfg.PricingCurrency),
		slog.String("rounding", cfg.PricingRounding),
		slog.Int("scale", int(scale)),
		slog.Bool("cache", cache.Enabled()),
	)
	return &PricingStack{Service: service, Cache: cache, Metrics: metrics, Scale: scale}, nil
}
