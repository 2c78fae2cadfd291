package openai

import (
	"bytes"
	"context"
	"encoding/base64"
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
const Name = "openai"

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultImageModel  = "gpt-image-1"
	defaultSpeechModel = "gpt-4o-mini-tts"
	defaultTimeout     = 90 * time.Second
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.Mark(errors.New("openai: api key is required"), domain.ErrProviderUnavailable)

var chatModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
	"gpt-3.5":                "gpt-3.5-turbo",
	"gpt3.5":                 "gpt-3.5-turbo",
	"gpt-35-turbo":           "gpt-3.5-turbo",
}

// Options configures the OpenAI client.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	ChatModel    string
	ImageModel   string
	SpeechModel  string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client calls the chat, image and speech endpoints. Every call blocks until
// the result is ready.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	chatModel    string
	imageModel   string
	speechModel  string
	client       *http.Client
	logger       *infra.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	chatModel, aliased := NormalizeChatModel(opts.ChatModel)
	if aliased {
		logger.Warn().Str("requested", opts.ChatModel).Str("resolved", chatModel).Msg("openai: chat model alias resolved")
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		chatModel:    chatModel,
		imageModel:   coalesce(opts.ImageModel, defaultImageModel),
		speechModel:  coalesce(opts.SpeechModel, defaultSpeechModel),
		client:       client,
		logger:       logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (o *Client) HasCredentials() bool {
	return o.apiKey != ""
}

// GenerateText runs one JSON-mode chat completion.
func (o *Client) GenerateText(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !o.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := chatRequest{
		Model:          o.chatModel,
		Temperature:    0.8,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: "You write narrated short-form video scripts and only respond with valid JSON."},
			{Role: "user", Content: req.Prompt},
		},
	}
	var out chatResponse
	if err := o.postJSON(ctx, "/chat/completions", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("openai: empty response")
	}
	return &domain.Artifact{Text: text, MIME: "application/json"}, nil
}

// GenerateImage requests one image and returns its bytes, or its URL when the
// model answers with a link.
func (o *Client) GenerateImage(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !o.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		prompt += "\nAvoid: " + neg
	}
	payload := imageRequest{Model: o.imageModel, Prompt: prompt, Size: imageSize(req.AspectRatio), N: 1}
	var out imageResponse
	if err := o.postJSON(ctx, "/images/generations", payload, &out); err != nil {
		return nil, err
	}
	for _, item := range out.Data {
		if item.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("openai: decode image: %w", err)
			}
			return &domain.Artifact{Data: data, MIME: "image/png"}, nil
		}
		if item.URL != "" {
			return &domain.Artifact{URL: item.URL, MIME: "image/png"}, nil
		}
	}
	return nil, errors.New("openai: no image returned")
}

// GenerateSpeech synthesises req.Prompt as mp3 narration.
func (o *Client) GenerateSpeech(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !o.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := speechRequest{
		Model:          o.speechModel,
		Input:          req.Prompt,
		Voice:          coalesce(req.Voice, "alloy"),
		ResponseFormat: "mp3",
	}
	resp, err := o.post(ctx, "/audio/speech", payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openai: empty audio")
	}
	return &domain.Artifact{Data: data, MIME: "audio/mpeg"}, nil
}

func (o *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	resp, err := o.post(ctx, path, payload)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

// post returns the response only for 2xx statuses; the caller closes it.
func (o *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
			msg = detail.Error.Message
			if detail.Error.Code != "" {
				msg += " (" + detail.Error.Code + ")"
			}
		}
		return nil, &domain.ProviderError{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// NormalizeChatModel resolves common spellings of chat model names. The bool
// is true when an alias was applied.
func NormalizeChatModel(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultChatModel, false
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if alias, ok := chatModelAliases[normalized]; ok {
		return alias, true
	}
	return normalized, normalized != trimmed
}

func imageSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return "1536x1024"
	case "1:1":
		return "1024x1024"
	}
	return "1024x1536"
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
