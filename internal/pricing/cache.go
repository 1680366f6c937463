package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "pricing:version"
	// BumpChannel carries the new cache version after every invalidation.
	BumpChannel = "pricing.bump"
)

// Cache wraps Redis based caching with versioning controls. Reads never fail
// because of Redis: errors are counted and the loader is used directly.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *Metrics
	logger  *slog.Logger
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, metrics *Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, metrics: metrics, logger: logger.With(slog.String("component", "pricing.cache"))}
}

// Enabled reports whether a Redis client is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"pricing"}, parts...), ":")
	if !c.Enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value into dest or populates it using the loader.
// Only loader and decoding errors are returned.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("pricing/cache: loader required")
	}
	if c.Enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(payload, dest); jsonErr == nil {
				c.metrics.cacheResult("hit")
				return nil
			}
			c.metrics.cacheResult("error")
			c.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
		case errors.Is(err, redis.Nil):
			c.metrics.cacheResult("miss")
		default:
			c.metrics.cacheResult("error")
			c.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.Enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.metrics.cacheResult("error")
			c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	if _, err := c.Version(ctx); err != nil {
		return 0, err
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// ListenForInvalidation subscribes to version bump notifications until ctx
// ends. Every announced version is exported on the cache version gauge, then
// passed to onBump.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(int64)) error {
	if !c.Enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("pricing/cache: subscribe: %w", err)
	}
	if ver, err := c.Version(ctx); err == nil {
		c.metrics.cacheVersion(ver)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("ignoring malformed bump payload", slog.String("payload", msg.Payload))
					continue
				}
				c.metrics.cacheVersion(ver)
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}

// CachedRepository decorates the read side of a Repository with the
// versioned cache. Concurrent misses for one key share a single load.
type CachedRepository struct {
	Repository
	cache *Cache
	group singleflight.Group
}

// NewCachedRepository wraps repo. A disabled cache reads straight through.
func NewCachedRepository(repo Repository, cache *Cache) *CachedRepository {
	return &CachedRepository{Repository: repo, cache: cache}
}

// Cache returns the underlying cache helper.
func (r *CachedRepository) Cache() *Cache {
	return r.cache
}

// GetCatalogEntry serves the catalog entry from cache when possible.
func (r *CachedRepository) GetCatalogEntry(ctx context.Context, sku string) (CatalogEntry, error) {
	return cachedLoad(ctx, r, []string{"catalog", sku}, func(ctx context.Context) (CatalogEntry, error) {
		return r.Repository.GetCatalogEntry(ctx, sku)
	})
}

// ListRules serves rule candidates from cache when possible.
func (r *CachedRepository) ListRules(ctx context.Context, filter RuleFilter) ([]PriceRule, error) {
	tags := append([]string(nil), filter.Tags...)
	sort.Strings(tags)
	parts := []string{"rules", filter.SKU, strconv.FormatInt(filter.CategoryID, 10), strings.Join(tags, ","), strconv.FormatBool(filter.ActiveOnly)}
	return cachedLoad(ctx, r, parts, func(ctx context.Context) ([]PriceRule, error) {
		return r.Repository.ListRules(ctx, filter)
	})
}

// ListVolumeTiers serves tier candidates from cache when possible.
func (r *CachedRepository) ListVolumeTiers(ctx context.Context, filter TierFilter) ([]VolumeTier, error) {
	parts := []string{"tiers", filter.SKU, strconv.FormatInt(filter.CategoryID, 10), strconv.FormatBool(filter.ActiveOnly)}
	return cachedLoad(ctx, r, parts, func(ctx context.Context) ([]VolumeTier, error) {
		return r.Repository.ListVolumeTiers(ctx, filter)
	})
}

// FindContracts serves a customer's contracts for a product from cache when possible.
func (r *CachedRepository) FindContracts(ctx context.Context, customerID, sku string) ([]Contract, error) {
	return cachedLoad(ctx, r, []string{"contracts", customerID, sku}, func(ctx context.Context) ([]Contract, error) {
		return r.Repository.FindContracts(ctx, customerID, sku)
	})
}

// Warm loads the catalog entry, rule candidates and tier candidates of sku
// into the cache.
func (r *CachedRepository) Warm(ctx context.Context, sku string) error {
	entry, err := r.GetCatalogEntry(ctx, sku)
	if err != nil {
		return err
	}
	snap := Snapshot{SKU: entry.SKU, CategoryID: entry.CategoryID, Tags: normalizeTags(entry.Tags)}
	if _, err := r.ListRules(ctx, RuleFilter{SKU: snap.SKU, CategoryID: snap.CategoryID, Tags: snap.Tags, ActiveOnly: true}); err != nil {
		return err
	}
	_, err = r.ListVolumeTiers(ctx, TierFilter{SKU: snap.SKU, CategoryID: snap.CategoryID, ActiveOnly: true})
	return err
}

func cachedLoad[T any](ctx context.Context, r *CachedRepository, parts []string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if !r.cache.Enabled() {
		return load(ctx)
	}
	key, err := r.cache.BuildKey(ctx, parts...)
	if err != nil {
		r.cache.metrics.cacheResult("error")
		r.cache.logger.Warn("cache version unavailable", slog.Any("error", err))
		return load(ctx)
	}
	val, err, _ := singleflightLoad(ctx, &r.group, key, func(ctx context.Context) (interface{}, error) {
		var out T
		err := r.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
			return load(ctx)
		})
		return out, err
	})
	if err != nil {
		return zero, err
	}
	out, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("pricing/cache: unexpected value %T for %s", val, key)
	}
	return out, nil
}

// sharedLoadTimeout bounds a load shared by concurrent callers. The load is
// detached from the caller that started it so its cancellation cannot fail
// the others waiting on the same key.
const sharedLoadTimeout = 10 * time.Second

func singleflightLoad(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return fn(sctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
