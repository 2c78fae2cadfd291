package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
)

// Name identifies the provider in chains and logs.
const Name = "elevenlabs"

const (
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultModel   = "eleven_multilingual_v2"
	voiceIDLength  = 20
	maxSoundLength = 22.0
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.Mark(errors.New("elevenlabs: api key is required"), domain.ErrProviderUnavailable)

// Options configures the ElevenLabs client.
type Options struct {
	APIKey          string
	BaseURL         string
	ModelID         string
	DefaultVoiceID  string
	Stability       float64
	SimilarityBoost float64
	HTTPClient      *http.Client
	Logger          *infra.Logger
}

// Client calls text-to-speech and sound generation. Both block until the
// audio is rendered.
type Client struct {
	apiKey   string
	baseURL  string
	modelID  string
	voiceID  string
	settings voiceSettings
	client   *http.Client
	logger   *infra.Logger
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type soundRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	PromptInfluence float64 `json:"prompt_influence"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	settings := voiceSettings{Stability: opts.Stability, SimilarityBoost: opts.SimilarityBoost}
	if settings.Stability == 0 {
		settings.Stability = 0.5
	}
	if settings.SimilarityBoost == 0 {
		settings.SimilarityBoost = 0.75
	}
	voiceID := strings.TrimSpace(opts.DefaultVoiceID)
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = defaultModel
	}
	return &Client{
		apiKey:   strings.TrimSpace(opts.APIKey),
		baseURL:  baseURL,
		modelID:  modelID,
		voiceID:  voiceID,
		settings: settings,
		client:   client,
		logger:   logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateSpeech narrates req.Prompt with req.Voice when it is an ElevenLabs
// voice id, or with the default voice otherwise.
func (c *Client) GenerateSpeech(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return nil, errors.New("elevenlabs: text is required")
	}
	voice := c.voiceID
	if v := strings.TrimSpace(req.Voice); len(v) == voiceIDLength {
		voice = v
	}
	payload := speechRequest{Text: text, ModelID: c.modelID, VoiceSettings: c.settings}
	data, err := c.post(ctx, "/text-to-speech/"+voice, payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("voice", voice).Int("scene", req.SceneIndex).Int("bytes", len(data)).Msg("elevenlabs: generated speech")
	return &domain.Artifact{Data: data, MIME: "audio/mpeg"}, nil
}

// GenerateSound renders a sound effect or music bed from a text prompt.
func (c *Client) GenerateSound(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	duration := req.DurationSec
	if duration > maxSoundLength {
		duration = maxSoundLength
	}
	payload := soundRequest{Text: strings.TrimSpace(req.Prompt), DurationSeconds: duration, PromptInfluence: 0.3}
	data, err := c.post(ctx, "/sound-generation", payload)
	if err != nil {
		return nil, err
	}
	return &domain.Artifact{Data: data, MIME: "audio/mpeg", DurationSec: duration}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var detail errorResponse
		if err := json.Unmarshal(data, &detail); err == nil && detail.Detail.Message != "" {
			msg = detail.Detail.Message
			if detail.Detail.Status != "" {
				msg = detail.Detail.Status + ": " + msg
			}
		}
		return nil, &domain.ProviderError{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	if len(data) == 0 {
		return nil, errors.New("elevenlabs: empty audio")
	}
	return data, nil
}
