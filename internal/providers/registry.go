// Package providers assembles the configured provider clients into one
// fallback chain per job kind.
package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/fallback"
	"shortforge/internal/infra"
	"shortforge/internal/jobs"
	"shortforge/internal/providers/elevenlabs"
	"shortforge/internal/providers/genai"
	"shortforge/internal/providers/openai"
	"shortforge/internal/providers/qwen"
	"shortforge/internal/providers/synthetic"
)

// CredentialResolver returns the key for a provider, or "" when none is set.
type CredentialResolver interface {
	Token(ctx context.Context, provider string) (string, error)
}

// Options configures NewRegistry.
type Options struct {
	Config      *infra.Config
	Credentials CredentialResolver
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// Registry holds every client by kind and provider name, plus the chain order
// per kind.
type Registry struct {
	clients map[domain.JobKind]map[string]jobs.Client
	chains  map[domain.JobKind][]string
	logger  *infra.Logger
}

// NewRegistry resolves credentials and builds clients. Providers without a
// key are left out of the chains.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Config == nil {
		return nil, errors.New("providers: config is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("providers: credentials are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	cfg := opts.Config

	keys := make(map[string]string)
	for _, name := range []string{genai.Name, qwen.Name, openai.Name, elevenlabs.Name, synthetic.Name} {
		token, err := opts.Credentials.Token(ctx, name)
		if err != nil {
			return nil, errors.Wrapf(err, "providers: resolve %s key", name)
		}
		keys[name] = token
	}

	gemini, err := genai.NewClient(genai.Options{
		APIKey:      keys[genai.Name],
		BaseURL:     cfg.Gemini.BaseURL,
		TextModel:   cfg.Gemini.TextModel,
		ImageModel:  cfg.Gemini.ImageModel,
		VideoModel:  cfg.Gemini.VideoModel,
		HTTPClient:  opts.HTTPClient,
		Logger:      logger,
		VideoPolicy: pollPolicy(cfg, genai.VeoName, jobs.SlowPollPolicy()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "providers: gemini")
	}
	dashscope, err := qwen.NewClient(qwen.Options{
		APIKey:     keys[qwen.Name],
		BaseURL:    cfg.Qwen.BaseURL,
		TextModel:  cfg.Qwen.TextModel,
		ImageModel: cfg.Qwen.ImageModel,
		VideoModel: cfg.Qwen.VideoModel,
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
		Policy:     pollPolicy(cfg, qwen.Name, jobs.DefaultPollPolicy()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "providers: qwen")
	}
	oa, err := openai.NewClient(openai.Options{
		APIKey:       keys[openai.Name],
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAIOrg,
		ChatModel:    cfg.OpenAI.TextModel,
		ImageModel:   cfg.OpenAI.ImageModel,
		SpeechModel:  cfg.OpenAI.AudioModel,
		HTTPClient:   opts.HTTPClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "providers: openai")
	}
	eleven, err := elevenlabs.NewClient(elevenlabs.Options{
		APIKey:         keys[elevenlabs.Name],
		BaseURL:        cfg.ElevenLabs.BaseURL,
		ModelID:        cfg.ElevenLabs.AudioModel,
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
		HTTPClient:     opts.HTTPClient,
		Logger:         logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "providers: elevenlabs")
	}
	fake := synthetic.NewGenerator(logger)
	fakeOn := keys[synthetic.Name] != ""

	r := &Registry{
		clients: map[domain.JobKind]map[string]jobs.Client{
			domain.JobKindText: {
				genai.Name:     jobs.NewSyncClient(genai.Name, gemini.HasCredentials(), gemini.GenerateText),
				openai.Name:    jobs.NewSyncClient(openai.Name, oa.HasCredentials(), oa.GenerateText),
				qwen.Name:      jobs.NewSyncClient(qwen.Name, dashscope.HasCredentials(), dashscope.GenerateText),
				synthetic.Name: jobs.NewSyncClient(synthetic.Name, fakeOn, fake.Generate),
			},
			domain.JobKindImage: {
				qwen.Name:      dashscope,
				genai.Name:     jobs.NewSyncClient(genai.Name, gemini.HasCredentials(), gemini.GenerateImage),
				openai.Name:    jobs.NewSyncClient(openai.Name, oa.HasCredentials(), oa.GenerateImage),
				synthetic.Name: jobs.NewSyncClient(synthetic.Name, fakeOn, fake.Generate),
			},
			domain.JobKindSpeech: {
				elevenlabs.Name: jobs.NewSyncClient(elevenlabs.Name, eleven.HasCredentials(), eleven.GenerateSpeech),
				openai.Name:     jobs.NewSyncClient(openai.Name, oa.HasCredentials(), oa.GenerateSpeech),
				synthetic.Name:  jobs.NewSyncClient(synthetic.Name, fakeOn, fake.Generate),
			},
			domain.JobKindVideo: {
				genai.VeoName:  gemini.Veo(),
				qwen.Name:      dashscope,
				synthetic.Name: jobs.NewSyncClient(synthetic.Name, fakeOn, fake.Generate),
			},
			domain.JobKindMusic: {
				elevenlabs.Name: jobs.NewSyncClient(elevenlabs.Name, eleven.HasCredentials(), eleven.GenerateSound),
				synthetic.Name:  jobs.NewSyncClient(synthetic.Name, fakeOn, fake.Generate),
			},
		},
		chains: make(map[domain.JobKind][]string, len(cfg.Chains)),
		logger: logger,
	}

	for kind, chain := range cfg.Chains {
		for _, name := range chain {
			name = strings.ToLower(strings.TrimSpace(name))
			if _, ok := r.clients[kind][name]; !ok {
				logger.Warn().Str("kind", string(kind)).Str("provider", name).Msg("provider does not support job kind, skipping")
				continue
			}
			if keys[keyOwner(name)] == "" {
				logger.Info().Str("kind", string(kind)).Str("provider", name).Msg("provider not configured, skipping")
				continue
			}
			r.chains[kind] = append(r.chains[kind], name)
		}
	}
	return r, nil
}

// Chain returns the clients for kind in preference order.
func (r *Registry) Chain(kind domain.JobKind) []jobs.Client {
	names := r.chains[kind]
	out := make([]jobs.Client, 0, len(names))
	for _, name := range names {
		out = append(out, r.clients[kind][name])
	}
	return out
}

// ChainNames returns the provider names for kind in preference order.
func (r *Registry) ChainNames(kind domain.JobKind) []string {
	return append([]string(nil), r.chains[kind]...)
}

// Routers builds one fallback router per job kind sharing poller.
func (r *Registry) Routers(poller *jobs.Poller) map[domain.JobKind]*fallback.Router {
	out := make(map[domain.JobKind]*fallback.Router, len(domain.JobKinds))
	for _, kind := range domain.JobKinds {
		out[kind] = fallback.NewRouter(r.Chain(kind), fallback.Options{Poller: poller, Logger: r.logger})
	}
	return out
}

// keyOwner maps a client name to the provider whose key it uses.
func keyOwner(name string) string {
	if name == genai.VeoName {
		return genai.Name
	}
	return name
}

func pollPolicy(cfg *infra.Config, provider string, base jobs.PollPolicy) jobs.PollPolicy {
	override, ok := cfg.Polls[provider]
	if !ok {
		return base
	}
	interval := override.Interval
	if interval <= 0 {
		interval = base.Interval
	}
	attempts := override.Attempts
	if attempts <= 0 {
		attempts = base.MaxAttempts()
	}
	return jobs.PolicyFromAttempts(attempts, interval)
}
