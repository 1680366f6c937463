package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPricingCacheBump invalidates every cached pricing lookup.
	TaskPricingCacheBump = "pricing:cache:bump"
	// TaskPricingCacheWarmup preloads pricing lookups for active products.
	TaskPricingCacheWarmup = "pricing:cache:warmup"

	defaultWarmupLimit = 100
)

// CacheBumpPayload describes why the pricing cache is invalidated.
type CacheBumpPayload struct {
	Reason string `json:"reason"`
}

// CacheWarmupPayload bounds the number of products warmed in one run.
type CacheWarmupPayload struct {
	Limit int `json:"limit"`
}

// NewCacheBumpTask constructs an Asynq task for cache invalidation.
func NewCacheBumpTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(CacheBumpPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPricingCacheBump, data), nil
}

// NewCacheWarmupTask constructs an Asynq task for cache warmup. A non-positive
// limit falls back to the default batch size.
func NewCacheWarmupTask(limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = defaultWarmupLimit
	}
	data, err := json.Marshal(CacheWarmupPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPricingCacheWarmup, data), nil
}
