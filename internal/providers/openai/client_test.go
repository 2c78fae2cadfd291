package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respond(status int, contentType string, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:       "sk-test",
		Organization: "org-1",
		BaseURL:      "https://openai.test/v1",
		HTTPClient:   &http.Client{Transport: fn},
	})
	require.NoError(t, err)
	return client
}

func TestGenerateTextUsesJSONMode(t *testing.T) {
	var payload chatRequest
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		body, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": " {\"scenes\":[]} "}}}})
		return respond(http.StatusOK, "application/json", body), nil
	})

	artifact, err := client.GenerateText(context.Background(), domain.JobRequest{Prompt: "write"})

	require.NoError(t, err)
	assert.Equal(t, `{"scenes":[]}`, artifact.Text)
	assert.Equal(t, "json_object", payload.ResponseFormat.Type)
	assert.Equal(t, defaultChatModel, payload.Model)
}

func TestGenerateImageDecodesBase64(t *testing.T) {
	var payload imageRequest
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		body, _ := json.Marshal(map[string]any{"data": []any{map[string]any{"b64_json": base64.StdEncoding.EncodeToString([]byte("png"))}}})
		return respond(http.StatusOK, "application/json", body), nil
	})

	artifact, err := client.GenerateImage(context.Background(), domain.JobRequest{Prompt: "owl", NegativePrompt: "text", AspectRatio: "9:16"})

	require.NoError(t, err)
	assert.Equal(t, []byte("png"), artifact.Data)
	assert.Equal(t, "1024x1536", payload.Size)
	assert.Equal(t, "owl\nAvoid: text", payload.Prompt)
}

func TestGenerateSpeechReturnsAudioBytes(t *testing.T) {
	var payload speechRequest
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		return respond(http.StatusOK, "audio/mpeg", []byte("ID3")), nil
	})

	artifact, err := client.GenerateSpeech(context.Background(), domain.JobRequest{Prompt: "hello", Voice: "nova"})

	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), artifact.Data)
	assert.Equal(t, "audio/mpeg", artifact.MIME)
	assert.Equal(t, "nova", payload.Voice)
}

func TestErrorStatusBecomesProviderError(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusServiceUnavailable, "application/json",
			[]byte(`{"error":{"message":"The server is overloaded","type":"server_error"}}`)), nil
	})

	_, err := client.GenerateSpeech(context.Background(), domain.JobRequest{Prompt: "x"})

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	assert.True(t, strings.Contains(perr.Message, "overloaded"))
}

func TestMissingKeyShortCircuits(t *testing.T) {
	client, err := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", r.URL)
		return nil, nil
	})}})
	require.NoError(t, err)

	_, err = client.GenerateText(context.Background(), domain.JobRequest{Prompt: "x"})

	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}

func TestNormalizeChatModel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		aliased bool
	}{
		{"", "gpt-4o-mini", false},
		{"gpt-4o-mini", "gpt-4o-mini", false},
		{"GPT4o-mini", "gpt-4o-mini", true},
		{"gpt_35_turbo", "gpt-3.5-turbo", true},
		{"gpt-3.5", "gpt-3.5-turbo", true},
	}
	for _, tt := range tests {
		got, aliased := NormalizeChatModel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.aliased, aliased, tt.in)
	}
}
