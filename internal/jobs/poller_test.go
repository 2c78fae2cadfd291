package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/domain"
	"shortforge/internal/jobs"
	"shortforge/internal/jobs/jobstest"
)

func TestPollPolicyMaxAttempts(t *testing.T) {
	tests := []struct {
		name   string
		policy jobs.PollPolicy
		want   int
	}{
		{"default", jobs.DefaultPollPolicy(), 60},
		{"slow", jobs.SlowPollPolicy(), 72},
		{"rounds up", jobs.PollPolicy{Budget: 11 * time.Second, Interval: 5 * time.Second}, 3},
		{"zero interval", jobs.PollPolicy{Budget: time.Minute}, 1},
		{"from attempts", jobs.PolicyFromAttempts(12, 10*time.Second), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.MaxAttempts())
		})
	}
}

func TestPollerReturnsSucceededImmediately(t *testing.T) {
	clock := jobstest.NewFakeClock()
	client := jobstest.NewScriptedClient("veo")
	client.Default = jobstest.Behavior{Statuses: []domain.JobStatus{
		domain.Pending(),
		domain.Succeeded(&domain.Artifact{URL: "https://cdn.example.com/clip.mp4"}),
	}}

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{Kind: domain.JobKindVideo})

	require.NoError(t, res.Err())
	assert.Equal(t, domain.JobSucceeded, res.Status.State)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", res.Status.Artifact.URL)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, client.PollCount(), "no polls after success")
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.Sleeps())
}

func TestPollerTimesOutWhenPendingForever(t *testing.T) {
	clock := jobstest.NewFakeClock()
	client := jobstest.NewScriptedClient("qwen")
	client.PollPolicy = jobs.PolicyFromAttempts(60, 5*time.Second)
	client.Default = jobstest.Behavior{Statuses: []domain.JobStatus{domain.Pending()}}

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{})

	assert.Equal(t, domain.JobTimedOut, res.Status.State)
	assert.Equal(t, 60, res.Attempts)
	assert.Equal(t, 60, client.PollCount())
	assert.Equal(t, 5*time.Minute, clock.Elapsed())

	err := res.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimedOut))
	assert.Equal(t, domain.KindTimedOut, domain.KindOf(err))
}

func TestPollerReturnsFailedWithoutRetry(t *testing.T) {
	clock := jobstest.NewFakeClock()
	client := jobstest.NewScriptedClient("qwen")
	client.Default = jobstest.Behavior{Statuses: []domain.JobStatus{
		domain.Pending(),
		domain.Failed("", "DataInspectionFailed: input data may contain inappropriate content"),
		domain.Succeeded(&domain.Artifact{}),
	}}

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{})

	assert.Equal(t, domain.JobFailed, res.Status.State)
	assert.Equal(t, 2, client.PollCount())
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "DataInspectionFailed")
}

func TestPollerRequestOverridesPolicy(t *testing.T) {
	clock := jobstest.NewFakeClock()
	client := jobstest.NewScriptedClient("veo")
	client.Default = jobstest.Behavior{Statuses: []domain.JobStatus{domain.Pending()}}

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{
		DurationBudget: 10 * time.Second,
		PollInterval:   2 * time.Second,
	})

	assert.Equal(t, domain.JobTimedOut, res.Status.State)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 10*time.Second, clock.Elapsed())
}

func TestPollerSubmitFailureSkipsPolling(t *testing.T) {
	clock := jobstest.NewFakeClock()
	client := jobstest.NewScriptedClient("gemini")
	client.Default = jobstest.Behavior{SubmitErr: &domain.ProviderError{Provider: "gemini", StatusCode: 429, Message: "quota"}}

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{})

	assert.Equal(t, domain.JobFailed, res.Status.State)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, client.PollCount())
	assert.Empty(t, clock.Sleeps())

	var perr *domain.ProviderError
	require.True(t, errors.As(res.Err(), &perr))
	assert.Equal(t, 429, perr.StatusCode)
}

func TestPollerStopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := jobstest.NewScriptedClient("veo")

	res := jobs.NewPoller(jobs.PollerOptions{Clock: jobstest.NewFakeClock()}).Run(ctx, client, domain.JobRequest{})

	assert.Equal(t, domain.JobFailed, res.Status.State)
	assert.True(t, errors.Is(res.Err(), context.Canceled))
}

func TestSyncClientResolvesOnFirstPoll(t *testing.T) {
	calls := 0
	client := jobs.NewSyncClient("openai", true, func(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
		calls++
		return &domain.Artifact{Text: "hello " + req.Prompt}, nil
	})
	clock := jobstest.NewFakeClock()

	res := jobs.NewPoller(jobs.PollerOptions{Clock: clock}).Run(context.Background(), client, domain.JobRequest{Prompt: "world"})

	require.NoError(t, res.Err())
	assert.Equal(t, "hello world", res.Status.Artifact.Text)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, clock.Elapsed())
}

func TestSyncClientUnavailable(t *testing.T) {
	client := jobs.NewSyncClient("elevenlabs", false, nil)

	_, err := client.Submit(context.Background(), domain.JobRequest{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}
