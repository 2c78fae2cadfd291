package elevenlabs

import (
	"context"
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

func audio(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestGenerateSpeechPicksVoice(t *testing.T) {
	tests := []struct {
		voice string
		want  string
	}{
		{"", "/v1/text-to-speech/" + defaultVoiceID},
		{"alloy", "/v1/text-to-speech/" + defaultVoiceID},
		{"2EiwWnXFnvU5JabPnv8n", "/v1/text-to-speech/2EiwWnXFnvU5JabPnv8n"},
	}
	for _, tt := range tests {
		t.Run(tt.voice, func(t *testing.T) {
			var path string
			var payload speechRequest
			client, err := NewClient(Options{
				APIKey:  "xi",
				BaseURL: "https://el.test/v1",
				HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
					path = r.URL.Path
					assert.Equal(t, "xi", r.Header.Get("xi-api-key"))
					require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
					return audio(http.StatusOK, "ID3"), nil
				})},
			})
			require.NoError(t, err)

			artifact, err := client.GenerateSpeech(context.Background(), domain.JobRequest{Prompt: "hello there", Voice: tt.voice})

			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
			assert.Equal(t, []byte("ID3"), artifact.Data)
			assert.Equal(t, defaultModel, payload.ModelID)
			assert.Equal(t, 0.5, payload.VoiceSettings.Stability)
		})
	}
}

func TestGenerateSoundCapsDuration(t *testing.T) {
	var payload soundRequest
	client, err := NewClient(Options{
		APIKey: "xi",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "/v1/sound-generation", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			return audio(http.StatusOK, "ID3"), nil
		})},
	})
	require.NoError(t, err)

	artifact, err := client.GenerateSound(context.Background(), domain.JobRequest{Prompt: "calm lofi", DurationSec: 45})

	require.NoError(t, err)
	assert.Equal(t, maxSoundLength, payload.DurationSeconds)
	assert.Equal(t, maxSoundLength, artifact.DurationSec)
}

func TestErrorsAndMissingKey(t *testing.T) {
	client, err := NewClient(Options{
		APIKey: "xi",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return audio(http.StatusUnauthorized, `{"detail":{"status":"quota_exceeded","message":"This request exceeds your quota."}}`), nil
		})},
	})
	require.NoError(t, err)

	_, err = client.GenerateSpeech(context.Background(), domain.JobRequest{Prompt: "hi"})
	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "quota_exceeded: This request exceeds your quota.", perr.Message)

	keyless, err := NewClient(Options{})
	require.NoError(t, err)
	_, err = keyless.GenerateSound(context.Background(), domain.JobRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}
