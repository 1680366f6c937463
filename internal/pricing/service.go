package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BulkAction is an administrative operation applied to a set of rules.
type BulkAction string

const (
	BulkEnable  BulkAction = "enable"
	BulkDisable BulkAction = "disable"
	BulkDelete  BulkAction = "delete"
)

// BulkRuleCommand selects rules for one atomic administrative change.
type BulkRuleCommand struct {
	Action  BulkAction
	RuleIDs []int64
}

// BulkResult reports a committed bulk change.
type BulkResult struct {
	BatchID  string     `json:"batch_id"`
	Action   BulkAction `json:"action"`
	Affected int64      `json:"affected"`
}

// ServiceConfig tunes the pricing service.
type ServiceConfig struct {
	StrictCustomers  bool
	BatchConcurrency int
}

type cacheWarmer interface {
	Warm(ctx context.Context, sku string) error
}

// Service orchestrates pricing use cases.
type Service struct {
	repo     Repository
	resolver *Resolver
	cache    *Cache
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the pricing service. cache may be nil.
func NewService(repo Repository, resolver *Resolver, cache *Cache, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pricing.service")),
		now:      time.Now,
	}
}

// Resolve prices one request, validating the customer first when strict
// customer checks are enabled.
func (s *Service) Resolve(ctx context.Context, req Request) (Result, error) {
	if !req.Quantity.IsPositive() {
		return Result{}, ErrInvalidQuantity
	}
	if s.cfg.StrictCustomers {
		if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
			ok, err := s.repo.CustomerExists(ctx, customerID)
			if err != nil {
				return Result{}, lookupFailed("customer", err)
			}
			if !ok {
				return Result{}, fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
			}
		}
	}
	return s.resolver.Resolve(ctx, req)
}

// ResolveLines prices many requests concurrently. Results keep input order and
// the first failure fails the whole batch.
func (s *Service) ResolveLines(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Resolve(gctx, req)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BulkRules applies cmd to every selected rule in one transaction. Any
// missing rule aborts the whole batch.
func (s *Service) BulkRules(ctx context.Context, cmd BulkRuleCommand) (BulkResult, error) {
	ids, err := normalizeIDs(cmd.RuleIDs)
	if err != nil {
		return BulkResult{}, err
	}
	switch cmd.Action {
	case BulkEnable, BulkDisable, BulkDelete:
	default:
		return BulkResult{}, fmt.Errorf("%w: unknown bulk action %q", ErrInvalidCommand, cmd.Action)
	}

	result := BulkResult{BatchID: uuid.NewString(), Action: cmd.Action}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			affected int64
			err      error
		)
		switch cmd.Action {
		case BulkDelete:
			affected, err = tx.DeleteRules(ctx, ids)
		default:
			affected, err = tx.SetRulesActive(ctx, ids, cmd.Action == BulkEnable, s.now())
		}
		if err != nil {
			return err
		}
		if affected != int64(len(ids)) {
			return fmt.Errorf("%w: %d of %d rules found", ErrRuleNotFound, affected, len(ids))
		}
		result.Affected = affected
		return nil
	})
	if err != nil {
		s.logger.Warn("bulk rule change rolled back",
			slog.String("batch_id", result.BatchID),
			slog.String("action", string(cmd.Action)),
			slog.Int("rules", len(ids)),
			slog.Any("error", err),
		)
		return BulkResult{}, err
	}
	s.logger.Info("bulk rule change committed",
		slog.String("batch_id", result.BatchID),
		slog.String("action", string(cmd.Action)),
		slog.Int64("affected", result.Affected),
	)
	s.bumpCache(ctx)
	return result, nil
}

// SetBookActive toggles a price book.
func (s *Service) SetBookActive(ctx context.Context, id int64, active bool) error {
	if id <= 0 {
		return fmt.Errorf("%w: book id must be positive", ErrInvalidCommand)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.SetBookActive(ctx, id, active, s.now())
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrBookNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("price book toggled", slog.Int64("book_id", id), slog.Bool("active", active))
	s.bumpCache(ctx)
	return nil
}

// DeleteBook removes a price book once no rule references it.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: book id must be positive", ErrInvalidCommand)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rules, err := tx.CountBookRules(ctx, id)
		if err != nil {
			return err
		}
		if rules > 0 {
			return fmt.Errorf("%w: %d rules", ErrBookInUse, rules)
		}
		n, err := tx.DeleteBook(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrBookNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("price book deleted", slog.Int64("book_id", id))
	s.bumpCache(ctx)
	return nil
}

// InvalidateCache bumps the cache version and returns the new one.
func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	if !s.cache.Enabled() {
		return 0, nil
	}
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricing: invalidate cache: %w", err)
	}
	s.logger.Info("pricing cache invalidated", slog.Int64("version", ver))
	return ver, nil
}

// WarmCache preloads lookups for up to limit active products. Per-product
// failures are collected and do not stop the remaining products.
func (s *Service) WarmCache(ctx context.Context, limit int) (int, error) {
	warmer, ok := s.repo.(cacheWarmer)
	if !ok || !s.cache.Enabled() {
		return 0, nil
	}
	skus, err := s.repo.ListActiveSKUs(ctx, limit)
	if err != nil {
		return 0, lookupFailed("catalog", err)
	}
	var (
		warmed int
		errs   error
	)
	for _, sku := range skus {
		if err := ctx.Err(); err != nil {
			return warmed, multierr.Append(errs, err)
		}
		if err := warmer.Warm(ctx, sku); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("warm %s: %w", sku, err))
			continue
		}
		warmed++
	}
	return warmed, errs
}

func (s *Service) bumpCache(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	if _, err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("pricing cache bump failed", slog.Any("error", err))
	}
}

func normalizeIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no rule ids", ErrInvalidCommand)
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid rule id %d", ErrInvalidCommand, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// IsClientError reports whether err stems from caller input rather than a fault.
func IsClientError(err error) bool {
	for _, target := range []error{ErrInvalidQuantity, ErrUnknownCustomer, ErrInvalidCommand, ErrProductNotFound, ErrRuleNotFound, ErrBookNotFound, ErrBookInUse} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
