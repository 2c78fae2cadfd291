package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/jobs"
)

const (
	// Name is the provider name of the Gemini text and image client.
	Name = "gemini"
	// VeoName is the provider name of the Veo video client.
	VeoName = "veo"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.Mark(errors.New("genai: api key is required"), domain.ErrProviderUnavailable)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
	// VideoPolicy bounds polling of Veo operations; zero uses
	// jobs.SlowPollPolicy.
	VideoPolicy jobs.PollPolicy
}

// Client wraps the Gemini API. Text and images are blocking generateContent
// calls; video goes through Veo's long-running operations.
type Client struct {
	apiKey      string
	baseURL     string
	textModel   string
	imageModel  string
	videoModel  string
	videoPolicy jobs.PollPolicy
	httpClient  *http.Client
	logger      *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        float64  `json:"temperature,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	policy := opts.VideoPolicy
	if policy.Interval <= 0 {
		policy = jobs.SlowPollPolicy()
	}

	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		textModel:   firstNonEmpty(opts.TextModel, "gemini-2.5-flash"),
		imageModel:  firstNonEmpty(opts.ImageModel, "gemini-2.5-flash-image"),
		videoModel:  firstNonEmpty(opts.VideoModel, "veo-3.0-fast-generate-001"),
		videoPolicy: policy,
		httpClient:  client,
		logger:      logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateText asks Gemini for a JSON response to req.Prompt.
func (c *Client) GenerateText(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json", Temperature: 0.8},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.modelPath(c.textModel, "generateContent"), payload, &response); err != nil {
		return nil, err
	}
	if reason := response.PromptFeedback.BlockReason; reason != "" {
		return nil, fmt.Errorf("genai: prompt blocked by safety filter: %s", reason)
	}
	var b strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, errors.New("genai: empty text response")
	}
	c.logger.Debug().Str("model", c.textModel).Int("scene", req.SceneIndex).Msg("genai: generated text")
	return &domain.Artifact{Text: text, MIME: "application/json"}, nil
}

// GenerateImage asks Gemini for a single inline image.
func (c *Client) GenerateImage(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildImagePrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.modelPath(c.imageModel, "generateContent"), payload, &response); err != nil {
		return nil, err
	}
	if reason := response.PromptFeedback.BlockReason; reason != "" {
		return nil, fmt.Errorf("genai: prompt blocked by safety filter: %s", reason)
	}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			data, mime, err := c.decodePart(ctx, part)
			if err != nil || len(data) == 0 {
				continue
			}
			c.logger.Debug().Str("model", c.imageModel).Int("scene", req.SceneIndex).Int("bytes", len(data)).Msg("genai: generated image")
			return &domain.Artifact{Data: data, MIME: firstNonEmpty(mime, "image/png")}, nil
		}
	}
	return nil, errors.New("genai: no image content returned")
}

// Veo returns the long-running video client backed by this Gemini client.
func (c *Client) Veo() *VeoClient {
	return &VeoClient{c: c}
}

// VeoClient submits Veo predictLongRunning operations and polls them.
type VeoClient struct {
	c *Client
}

func (v *VeoClient) Name() string {
	return VeoName
}

func (v *VeoClient) Policy() jobs.PollPolicy {
	return v.c.videoPolicy
}

func (v *VeoClient) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	if !v.c.HasCredentials() {
		return domain.JobHandle{}, ErrMissingAPIKey
	}
	if req.Kind != domain.JobKindVideo {
		return domain.JobHandle{}, errors.Wrapf(domain.ErrProviderUnavailable, "veo: %s jobs are not supported", req.Kind)
	}
	instance := veoInstance{Prompt: strings.TrimSpace(req.Prompt)}
	if src := req.SourceImage; src != nil && len(src.Data) > 0 {
		instance.Image = &veoImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(src.Data),
			MimeType:           firstNonEmpty(src.MIME, "image/png"),
		}
	}
	payload := veoRequest{
		Instances: []veoInstance{instance},
		Parameters: veoParameters{
			AspectRatio:     veoAspect(req.AspectRatio),
			NegativePrompt:  strings.TrimSpace(req.NegativePrompt),
			DurationSeconds: veoSeconds(req.DurationSec),
		},
	}
	var op veoOperation
	if err := v.c.invokeGemini(ctx, v.c.modelPath(v.c.videoModel, "predictLongRunning"), payload, &op); err != nil {
		return domain.JobHandle{}, err
	}
	if op.Name == "" {
		return domain.JobHandle{}, errors.New("veo: no operation name in response")
	}
	v.c.logger.Debug().Str("model", v.c.videoModel).Str("operation", op.Name).Int("scene", req.SceneIndex).Msg("veo: operation started")
	return domain.JobHandle{ID: op.Name, Provider: VeoName}, nil
}

// Poll fetches the operation once. A finished operation's video is downloaded
// here because the file URI needs the API key.
func (v *VeoClient) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	var op veoOperation
	if err := v.c.get(ctx, "/"+strings.TrimLeft(handle.ID, "/"), &op); err != nil {
		return domain.JobStatus{}, err
	}
	if !op.Done {
		return domain.Pending(), nil
	}
	if op.Error != nil {
		return domain.Failed("", fmt.Sprintf("status %d: %s", op.Error.Code, op.Error.Message)), nil
	}
	resp := op.Response.GenerateVideoResponse
	for _, sample := range resp.GeneratedSamples {
		if uri := strings.TrimSpace(sample.Video.URI); uri != "" {
			data, mime, err := v.c.downloadFile(ctx, uri)
			if err != nil {
				return domain.JobStatus{}, err
			}
			return domain.Succeeded(&domain.Artifact{Data: data, URL: uri, MIME: firstNonEmpty(mime, "video/mp4")}), nil
		}
	}
	if len(resp.RAIMediaFilteredReasons) > 0 {
		return domain.Failed("", "content filtered by safety policy: "+strings.Join(resp.RAIMediaFilteredReasons, "; ")), nil
	}
	return domain.Failed("", "operation finished without a video"), nil
}

func (c *Client) modelPath(model, method string) string {
	return fmt.Sprintf("/models/%s:%s", url.PathEscape(model), method)
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("genai: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(data))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
			if apiErr.Error.Status != "" {
				msg = apiErr.Error.Status + ": " + msg
			}
		}
		return &domain.ProviderError{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("genai: decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) decodePart(ctx context.Context, part geminiPart) ([]byte, string, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, "", fmt.Errorf("genai: decode inline data: %w", err)
		}
		return data, part.InlineData.MimeType, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.downloadFile(ctx, part.FileData.FileURI)
		if err != nil {
			return nil, "", err
		}
		return data, firstNonEmpty(part.FileData.MimeType, mime), nil
	}
	return nil, "", nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("genai: create download request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("genai: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", &domain.ProviderError{Provider: Name, StatusCode: resp.StatusCode, Message: "download: " + strings.TrimSpace(string(data))}
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("genai: read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func buildImagePrompt(req domain.JobRequest) string {
	lines := []string{strings.TrimSpace(req.Prompt)}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		lines = append(lines, "Aspect ratio: "+aspect)
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		lines = append(lines, "Avoid: "+neg)
	}
	return strings.Join(lines, "\n")
}

// veoAspect keeps the two ratios Veo accepts.
func veoAspect(aspect string) string {
	if strings.TrimSpace(aspect) == "16:9" {
		return "16:9"
	}
	return "9:16"
}

func veoSeconds(d float64) int {
	switch {
	case d <= 0:
		return 8
	case d < 5:
		return 5
	case d > 8:
		return 8
	}
	return int(d + 0.5)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ jobs.Client = (*VeoClient)(nil)
