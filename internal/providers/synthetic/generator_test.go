package synthetic

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/domain"
	"shortforge/internal/prompts"
	"shortforge/internal/stages"
)

func TestScriptParsesIntoRequestedScenes(t *testing.T) {
	req := prompts.NewBuilder().BuildRequest(domain.JobKindText, domain.SceneDescriptor{Title: "Night Owls", SceneCount: 4}, domain.StyleConfig{})

	artifact, err := NewGenerator(nil).Generate(context.Background(), req)
	require.NoError(t, err)

	script, err := stages.ParseScript(artifact.Text, domain.PipelineRequest{Title: "Night Owls", SceneCount: 4})
	require.NoError(t, err)
	require.Len(t, script.Scenes, 4)
	assert.Contains(t, script.Scenes[0].Narration, "Night Owls")
}

func TestImageIsDeterministicPNG(t *testing.T) {
	gen := NewGenerator(nil)
	req := domain.JobRequest{Kind: domain.JobKindImage, Prompt: "owl", AspectRatio: "9:16"}

	a, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data)
	cfg, err := png.DecodeConfig(bytes.NewReader(a.Data))
	require.NoError(t, err)
	assert.Equal(t, 540, cfg.Width)
	assert.Equal(t, 960, cfg.Height)
}

func TestSpeechIsSilentWAVOfEstimatedLength(t *testing.T) {
	artifact, err := NewGenerator(nil).Generate(context.Background(), domain.JobRequest{
		Kind:   domain.JobKindSpeech,
		Prompt: "one two three four five six seven eight nine ten",
	})
	require.NoError(t, err)

	assert.Equal(t, 4.0, artifact.DurationSec)
	assert.Equal(t, "audio/wav", artifact.MIME)
	assert.Equal(t, "RIFF", string(artifact.Data[:4]))
	assert.Len(t, artifact.Data, 44+4*sampleRate*2)
}

func TestVideoReusesSourceFrame(t *testing.T) {
	artifact, err := NewGenerator(nil).Generate(context.Background(), domain.JobRequest{
		Kind:        domain.JobKindVideo,
		DurationSec: 6,
		SourceImage: &domain.SourceImage{Data: []byte("jpeg"), MIME: "image/jpeg"},
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("jpeg"), artifact.Data)
	assert.Equal(t, "image/jpeg", artifact.MIME)
	assert.Equal(t, 6.0, artifact.DurationSec)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator(nil).Generate(ctx, domain.JobRequest{Kind: domain.JobKindImage})

	require.ErrorIs(t, err, context.Canceled)
}
