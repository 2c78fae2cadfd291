package providers

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/jobs"
	"shortforge/internal/jobs/jobstest"
)

type staticKeys map[string]string

func (s staticKeys) Token(_ context.Context, provider string) (string, error) {
	return s[provider], nil
}

type failingKeys struct{}

func (failingKeys) Token(context.Context, string) (string, error) {
	return "", errors.New("db down")
}

func testConfig() *infra.Config {
	chains := make(map[domain.JobKind][]string, len(infra.DefaultChains))
	for kind, chain := range infra.DefaultChains {
		chains[kind] = append([]string(nil), chain...)
	}
	return &infra.Config{Chains: chains, Polls: map[string]infra.PollSettings{}}
}

func TestChainsSkipUnconfiguredProviders(t *testing.T) {
	reg, err := NewRegistry(context.Background(), Options{
		Config:      testConfig(),
		Credentials: staticKeys{"gemini": "g-key", "synthetic": "enabled"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"gemini", "synthetic"}, reg.ChainNames(domain.JobKindText))
	assert.Equal(t, []string{"gemini", "synthetic"}, reg.ChainNames(domain.JobKindImage))
	assert.Equal(t, []string{"synthetic"}, reg.ChainNames(domain.JobKindSpeech))
	assert.Equal(t, []string{"veo", "synthetic"}, reg.ChainNames(domain.JobKindVideo))
	assert.Len(t, reg.Chain(domain.JobKindVideo), 2)
}

func TestChainsDropUnsupportedKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Chains[domain.JobKindMusic] = []string{"veo", "elevenlabs"}

	reg, err := NewRegistry(context.Background(), Options{
		Config:      cfg,
		Credentials: staticKeys{"gemini": "g", "elevenlabs": "e"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"elevenlabs"}, reg.ChainNames(domain.JobKindMusic))
}

func TestRoutersRunSyntheticOffline(t *testing.T) {
	reg, err := NewRegistry(context.Background(), Options{
		Config:      testConfig(),
		Credentials: staticKeys{"synthetic": "enabled"},
	})
	require.NoError(t, err)

	poller := jobs.NewPoller(jobs.PollerOptions{Clock: jobstest.NewFakeClock()})
	routers := reg.Routers(poller)
	require.Len(t, routers, len(domain.JobKinds))

	out, err := routers[domain.JobKindImage].Route(context.Background(), domain.JobRequest{
		Kind:        domain.JobKindImage,
		Prompt:      "lighthouse at dusk",
		AspectRatio: "9:16",
	})
	require.NoError(t, err)
	assert.Equal(t, "synthetic", out.Provider)
	assert.Equal(t, "image/png", out.Artifact.MIME)
}

func TestRouterWithEmptyChainIsExhausted(t *testing.T) {
	reg, err := NewRegistry(context.Background(), Options{Config: testConfig(), Credentials: staticKeys{}})
	require.NoError(t, err)

	_, err = reg.Routers(nil)[domain.JobKindSpeech].Route(context.Background(), domain.JobRequest{Kind: domain.JobKindSpeech})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrChainExhausted))
}

func TestNewRegistryPropagatesCredentialErrors(t *testing.T) {
	_, err := NewRegistry(context.Background(), Options{Config: testConfig(), Credentials: failingKeys{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestPollPolicyOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Polls["qwen"] = infra.PollSettings{Attempts: 90}
	cfg.Polls["veo"] = infra.PollSettings{Attempts: 12, Interval: 10 * time.Second}

	qwenPolicy := pollPolicy(cfg, "qwen", jobs.DefaultPollPolicy())
	assert.Equal(t, 90, qwenPolicy.MaxAttempts())
	assert.Equal(t, jobs.DefaultPollInterval, qwenPolicy.Interval)

	veoPolicy := pollPolicy(cfg, "veo", jobs.SlowPollPolicy())
	assert.Equal(t, 2*time.Minute, veoPolicy.Budget)

	assert.Equal(t, jobs.DefaultPollPolicy(), pollPolicy(cfg, "openai", jobs.DefaultPollPolicy()))
}
