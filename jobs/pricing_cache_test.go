package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	jobmetrics "github.com/odyssey-erp/odyssey-pricing/internal/jobs"
)

type fakePricing struct {
	version   int64
	bumpErr   error
	bumps     int
	warmed    int
	warmErr   error
	lastLimit int
}

func (f *fakePricing) InvalidateCache(ctx context.Context) (int64, error) {
	f.bumps++
	if f.bumpErr != nil {
		return 0, f.bumpErr
	}
	f.version++
	return f.version, nil
}

func (f *fakePricing) WarmCache(ctx context.Context, limit int) (int, error) {
	f.lastLimit = limit
	return f.warmed, f.warmErr
}

func newJobMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCacheBumpJobInvalidates(t *testing.T) {
	pricing := &fakePricing{version: 4}
	metrics, reg := newJobMetrics(t)
	job := NewCacheBumpJob(pricing, nil, metrics)

	task, err := NewCacheBumpTask("rules imported")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 1, pricing.bumps)
	assert.Equal(t, int64(5), pricing.version)
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": TaskPricingCacheBump, "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_job_items_total", map[string]string{"job": TaskPricingCacheBump}))
}

func TestCacheBumpJobPropagatesFailure(t *testing.T) {
	pricing := &fakePricing{bumpErr: errors.New("redis down")}
	metrics, reg := newJobMetrics(t)
	job := NewCacheBumpJob(pricing, nil, metrics)

	task, err := NewCacheBumpTask("")
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": TaskPricingCacheBump}))
}

func TestCacheJobsSkipRetryOnBadPayload(t *testing.T) {
	pricing := &fakePricing{}
	bump := NewCacheBumpJob(pricing, nil, nil)
	warm := NewCacheWarmupJob(pricing, nil, nil)

	err := bump.Handle(context.Background(), asynq.NewTask(TaskPricingCacheBump, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = warm.Handle(context.Background(), asynq.NewTask(TaskPricingCacheWarmup, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, pricing.bumps)
}

func TestCacheWarmupJobDefaultsLimit(t *testing.T) {
	pricing := &fakePricing{warmed: 3}
	metrics, reg := newJobMetrics(t)
	job := NewCacheWarmupJob(pricing, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskPricingCacheWarmup, []byte(`{}`))))
	assert.Equal(t, defaultWarmupLimit, pricing.lastLimit)
	assert.Equal(t, 3.0, counterValue(t, reg, "odyssey_job_items_total", map[string]string{"job": TaskPricingCacheWarmup}))

	task, err := NewCacheWarmupTask(25)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 25, pricing.lastLimit)
}

func TestCacheWarmupJobToleratesPartialFailure(t *testing.T) {
	pricing := &fakePricing{
		warmed:  2,
		warmErr: multierr.Combine(errors.New("warm A: boom"), errors.New("warm B: boom")),
	}
	job := NewCacheWarmupJob(pricing, nil, nil)
	task, err := NewCacheWarmupTask(10)
	require.NoError(t, err)
	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestCacheWarmupJobFailsWhenNothingWarmed(t *testing.T) {
	pricing := &fakePricing{warmErr: errors.New("catalog unavailable")}
	metrics, reg := newJobMetrics(t)
	job := NewCacheWarmupJob(pricing, nil, metrics)
	task, err := NewCacheWarmupTask(10)
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": TaskPricingCacheWarmup, "status": "failure"}))
}

func TestUnconfiguredJobsFail(t *testing.T) {
	var bump *CacheBumpJob
	require.Error(t, bump.Handle(context.Background(), asynq.NewTask(TaskPricingCacheBump, nil)))
	require.Error(t, NewCacheWarmupJob(nil, nil, nil).Handle(context.Background(), asynq.NewTask(TaskPricingCacheWarmup, nil)))
}
