package qwen

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
	"shortforge/internal/jobs"
)

// Name identifies the provider in chains, logs and stage statistics.
const Name = "qwen"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.Mark(errors.New("qwen: api key is required"), domain.ErrProviderUnavailable)

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	TextModel      string
	ImageModel     string
	VideoModel     string
	I2VModel       string
	DefaultSize    string
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// Policy bounds polling of async tasks; zero uses jobs.DefaultPollPolicy.
	Policy jobs.PollPolicy
}

// Client talks to DashScope. Image and video jobs go through the async task
// API and are polled by task id; text generation is a blocking call exposed
// through GenerateText.
type Client struct {
	apiKey      string
	baseURL     string
	textModel   string
	imageModel  string
	videoModel  string
	i2vModel    string
	defaultSize string
	watermark   bool
	policy      jobs.PollPolicy
	httpClient  *http.Client
	logger      *infra.Logger
}

type taskRequest struct {
	Model      string     `json:"model"`
	Input      taskInput  `json:"input"`
	Parameters taskParams `json:"parameters"`
}

type taskInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageURL       string `json:"img_url,omitempty"`
}

type taskParams struct {
	Size       string `json:"size,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	N          int    `json:"n,omitempty"`
	Watermark  *bool  `json:"watermark,omitempty"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Results    []struct {
			URL     string `json:"url"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"results"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type chatRequest struct {
	Model      string     `json:"model"`
	Input      chatInput  `json:"input"`
	Parameters chatParams `json:"parameters"`
}

type chatInput struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatParams struct {
	ResultFormat string `json:"result_format"`
}

type chatResponse struct {
	Output struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "720*1280"
	}
	policy := opts.Policy
	if policy.Interval <= 0 {
		policy = jobs.DefaultPollPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     baseURL,
		textModel:   orDefault(opts.TextModel, "qwen-plus"),
		imageModel:  orDefault(opts.ImageModel, "wanx2.1-t2i-turbo"),
		videoModel:  orDefault(opts.VideoModel, "wan2.1-t2v-turbo"),
		i2vModel:    orDefault(opts.I2VModel, "wan2.1-i2v-turbo"),
		defaultSize: defaultSize,
		watermark:   opts.Watermark,
		policy:      policy,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

func (c *Client) Name() string {
	return Name
}

func (c *Client) Policy() jobs.PollPolicy {
	return c.policy
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts an async image or video task and returns its task id.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	if !c.HasCredentials() {
		return domain.JobHandle{}, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return domain.JobHandle{}, errors.New("qwen: prompt is required")
	}

	var (
		payload taskRequest
		path    string
	)
	watermark := c.watermark
	switch req.Kind {
	case domain.JobKindImage:
		path = "/services/aigc/text2image/image-synthesis"
		payload = taskRequest{
			Model: c.imageModel,
			Input: taskInput{Prompt: prompt, NegativePrompt: strings.TrimSpace(req.NegativePrompt)},
			Parameters: taskParams{
				Size:      sizeFor(req.AspectRatio, c.defaultSize),
				N:         1,
				Watermark: &watermark,
			},
		}
	case domain.JobKindVideo:
		path = "/services/aigc/video-generation/video-synthesis"
		payload = taskRequest{
			Model: c.videoModel,
			Input: taskInput{Prompt: prompt, NegativePrompt: strings.TrimSpace(req.NegativePrompt)},
			Parameters: taskParams{
				Duration:  videoSeconds(req.DurationSec),
				Watermark: &watermark,
			},
		}
		if src := imageReference(req.SourceImage); src != "" {
			payload.Model = c.i2vModel
			payload.Input.ImageURL = src
			payload.Parameters.Resolution = "720P"
		} else {
			payload.Parameters.Size = sizeFor(req.AspectRatio, c.defaultSize)
		}
	default:
		return domain.JobHandle{}, errors.Wrapf(domain.ErrProviderUnavailable, "qwen: %s jobs are not supported", req.Kind)
	}

	var decoded taskResponse
	headers := map[string]string{"X-DashScope-Async": "enable"}
	if err := c.do(ctx, http.MethodPost, c.baseURL+path, payload, headers, &decoded); err != nil {
		return domain.JobHandle{}, err
	}
	if decoded.Code != "" {
		return domain.JobHandle{}, &domain.ProviderError{Provider: Name, Message: fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code)}
	}
	if decoded.Output.TaskID == "" {
		return domain.JobHandle{}, fmt.Errorf("qwen: no task id in response (request %s)", decoded.RequestID)
	}
	c.logger.Debug().
		Str("model", payload.Model).
		Str("task_id", decoded.Output.TaskID).
		Str("request_id", decoded.RequestID).
		Int("scene", req.SceneIndex).
		Msg("qwen: task submitted")
	return domain.JobHandle{ID: decoded.Output.TaskID, Provider: Name}, nil
}

// Poll checks the task once.
func (c *Client) Poll(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	var decoded taskResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/tasks/"+handle.ID, nil, nil, &decoded); err != nil {
		return domain.JobStatus{}, err
	}
	switch strings.ToUpper(decoded.Output.TaskStatus) {
	case "PENDING", "RUNNING", "":
		return domain.Pending(), nil
	case "SUCCEEDED":
		if url := strings.TrimSpace(decoded.Output.VideoURL); url != "" {
			return domain.Succeeded(&domain.Artifact{URL: url, MIME: "video/mp4"}), nil
		}
		for _, r := range decoded.Output.Results {
			if url := strings.TrimSpace(r.URL); url != "" {
				return domain.Succeeded(&domain.Artifact{URL: url, MIME: "image/png"}), nil
			}
		}
		return domain.Failed("", "qwen: task succeeded without output"), nil
	default:
		msg := decoded.Output.Message
		if msg == "" && len(decoded.Output.Results) > 0 {
			msg = decoded.Output.Results[0].Message
		}
		if msg == "" {
			msg = "task " + strings.ToLower(decoded.Output.TaskStatus)
		}
		if code := decoded.Output.Code; code != "" {
			msg = fmt.Sprintf("%s (%s)", msg, code)
		}
		return domain.Failed("", msg), nil
	}
}

// GenerateText runs one blocking chat completion.
func (c *Client) GenerateText(ctx context.Context, req domain.JobRequest) (*domain.Artifact, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := chatRequest{
		Model: c.textModel,
		Input: chatInput{Messages: []chatMessage{
			{Role: "system", Content: "You write narrated short-form video scripts and answer with JSON only."},
			{Role: "user", Content: req.Prompt},
		}},
		Parameters: chatParams{ResultFormat: "message"},
	}
	var decoded chatResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/services/aigc/text-generation/generation", payload, nil, &decoded); err != nil {
		return nil, err
	}
	for _, choice := range decoded.Output.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return &domain.Artifact{Text: text, MIME: "application/json"}, nil
		}
	}
	return nil, errors.New("qwen: empty completion")
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("qwen: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("qwen: build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			msg = fmt.Sprintf("%s (%s)", detail.Message, detail.Code)
		}
		return &domain.ProviderError{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("qwen: decode response: %w", err)
	}
	return nil
}

// sizeFor maps an aspect ratio onto a DashScope "W*H" size.
func sizeFor(aspect, fallback string) string {
	switch strings.TrimSpace(aspect) {
	case "9:16":
		return "720*1280"
	case "16:9":
		return "1280*720"
	case "1:1":
		return "1024*1024"
	case "4:5":
		return "864*1080"
	}
	return fallback
}

// videoSeconds rounds to what the wan models accept.
func videoSeconds(d float64) int {
	if d > 5 {
		return 10
	}
	return 5
}

func imageReference(src *domain.SourceImage) string {
	if src == nil {
		return ""
	}
	if url := strings.TrimSpace(src.URL); url != "" {
		return url
	}
	if len(src.Data) == 0 {
		return ""
	}
	mime := src.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(src.Data)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

var _ jobs.Client = (*Client)(nil)
