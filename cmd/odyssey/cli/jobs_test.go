package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pricing/jobs"
)

type stubRunner struct {
	name   string
	reason string
	limit  int
	err    error
	stats  QueueStats
}

func (s *stubRunner) Trigger(ctx context.Context, name, reason string, limit int) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if _, err := BuildTask(name, reason, limit); err != nil {
		return nil, err
	}
	s.name, s.reason, s.limit = name, reason, limit
	return &asynq.TaskInfo{ID: "t-1", Type: name, Queue: jobs.QueueDefault}, nil
}

func (s *stubRunner) InspectQueue(ctx context.Context) (QueueStats, error) {
	return s.stats, s.err
}

func runJobs(runner JobsRunner, args ...string) (int, string, string) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := JobsCommand(context.Background(), runner, args, JobsOptions{Stdout: stdout, Stderr: stderr})
	return code, stdout.String(), stderr.String()
}

func TestJobsCommandTrigger(t *testing.T) {
	runner := &stubRunner{}
	code, stdout, stderr := runJobs(runner, "trigger", jobs.TaskPricingCacheWarmup, "--limit", "25")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 25, runner.limit)
	assert.Contains(t, stdout, "enqueued pricing:cache:warmup id=t-1")

	code, _, _ = runJobs(runner, "trigger", jobs.TaskPricingCacheBump, "--reason", "price list import")
	require.Equal(t, 0, code)
	assert.Equal(t, "price list import", runner.reason)
}

func TestJobsCommandRejectsBadInput(t *testing.T) {
	runner := &stubRunner{}
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"missing job name", []string{"trigger"}, 2},
		{"negative limit", []string{"trigger", jobs.TaskPricingCacheWarmup, "--limit", "-1"}, 2},
		{"unknown flag", []string{"trigger", jobs.TaskPricingCacheWarmup, "--force"}, 2},
		{"unknown job", []string{"trigger", "mail:send"}, 1},
		{"unknown subcommand", []string{"purge"}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runJobs(runner, tc.args...)
			assert.Equal(t, tc.code, code)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestJobsCommandStats(t *testing.T) {
	runner := &stubRunner{stats: QueueStats{Queue: "default", Pending: 2}}
	code, stdout, _ := runJobs(runner, "stats")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"queue":"default","pending":2,"active":0,"scheduled":0,"retry":0}`, stdout)

	code, _, stderr := runJobs(&stubRunner{err: errors.New("redis down")}, "stats")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "redis down")
}

func TestBuildTaskDefaults(t *testing.T) {
	task, err := BuildTask(jobs.TaskPricingCacheBump, "", 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reason":"cli"}`, string(task.Payload()))

	_, err = NewJobsCLI("")
	require.Error(t, err)
}
