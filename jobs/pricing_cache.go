package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/multierr"

	jobmetrics "github.com/odyssey-erp/odyssey-pricing/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CacheInvalidator bumps the pricing cache version.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context) (int64, error)
}

// CacheWarmer preloads pricing lookups for up to limit products.
type CacheWarmer interface {
	WarmCache(ctx context.Context, limit int) (int, error)
}

// CacheBumpJob invalidates cached pricing data after out-of-band edits.
type CacheBumpJob struct {
	Pricing CacheInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheBumpJob wires dependencies for the bump handler.
func NewCacheBumpJob(pricing CacheInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheBumpJob {
	return &CacheBumpJob{Pricing: pricing, Logger: logger, Metrics: metrics}
}

// Handle processes cache bump tasks.
func (j *CacheBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pricing == nil {
		return errors.New("pricing cache bump: handler not configured")
	}
	var payload CacheBumpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("pricing cache bump: decode payload: %w", asynq.SkipRetry)
	}
	if payload.Reason == "" {
		payload.Reason = "manual"
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskPricingCacheBump)
	version, err := j.Pricing.InvalidateCache(ctx)
	if err != nil {
		jobLogger(j.Logger, TaskPricingCacheBump).Error("bump pricing cache", slog.String("reason", payload.Reason), slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.AddItems(TaskPricingCacheBump, 1)
	jobLogger(j.Logger, TaskPricingCacheBump).Info("pricing cache bumped",
		slog.String("reason", payload.Reason),
		slog.Int64("version", version),
	)
	return tracker.End(nil)
}

// CacheWarmupJob preloads the pricing cache for the most active products.
type CacheWarmupJob struct {
	Pricing CacheWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
	clock   func() time.Time
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(pricing CacheWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{
		Pricing: pricing,
		Logger:  logger,
		Metrics: metrics,
		Timeout: 2 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cache warmup tasks. Partial failures are logged; the task
// fails only when no product could be warmed.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pricing == nil {
		return errors.New("pricing cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("pricing cache warmup: decode payload: %w", asynq.SkipRetry)
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultWarmupLimit
	}

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskPricingCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskPricingCacheWarmup).With(slog.Int("limit", payload.Limit))
	logger.Info("starting pricing cache warmup")

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	started := j.now()
	warmed, err := j.Pricing.WarmCache(ctx, payload.Limit)
	metrics.AddItems(TaskPricingCacheWarmup, warmed)
	if err != nil {
		failures := len(multierr.Errors(err))
		if warmed == 0 {
			resultErr = err
			logger.Error("pricing cache warmup failed", slog.Int("failures", failures), slog.Any("error", err))
			return resultErr
		}
		logger.Warn("pricing cache warmup incomplete", slog.Int("warmed", warmed), slog.Int("failures", failures), slog.Any("error", err))
	}

	logger.Info("completed pricing cache warmup", slog.Int("warmed", warmed), slog.Duration("duration", j.now().Sub(started)))
	return resultErr
}

func (j *CacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
