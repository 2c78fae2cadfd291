package render

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/stages"
)

func TestSegmentArgsWithNarration(t *testing.T) {
	args := SegmentArgs("clip.mp4", "audio.mp3", 6.4, false, "seg.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i clip.mp4 -i audio.mp3")
	assert.Contains(t, joined, "-t 6.40")
	assert.NotContains(t, joined, "anullsrc")
	assert.Equal(t, "seg.mp4", args[len(args)-1])
}

func TestSegmentArgsSilent(t *testing.T) {
	joined := strings.Join(SegmentArgs("clip.mp4", "", 0, false, "seg.mp4"), " ")

	assert.Contains(t, joined, "anullsrc")
	assert.Contains(t, joined, "-shortest")
}

func TestSegmentArgsStill(t *testing.T) {
	joined := strings.Join(SegmentArgs("clip.img", "", 0, true, "seg.mp4"), " ")

	assert.Contains(t, joined, "-loop 1 -framerate 30 -i clip.img")
	assert.Contains(t, joined, "-t 5.00")
	assert.Contains(t, joined, "pad=1080:1920")
	assert.NotContains(t, joined, "-stream_loop")
}

func TestFinishArgs(t *testing.T) {
	plain := strings.Join(FinishArgs("j.mp4", "", "", "out.mp4"), " ")
	assert.NotContains(t, plain, "-filter_complex")
	assert.Contains(t, plain, "-map 0:v -map 0:a -c:v copy")

	full := strings.Join(FinishArgs("j.mp4", "/tmp/x/subs.srt", "/tmp/x/m.mp3", "out.mp4"), " ")
	assert.Contains(t, full, `subtitles='/tmp/x/subs.srt'`)
	assert.Contains(t, full, "amix=inputs=2")
	assert.Contains(t, full, "-map [v] -map [a]")
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `C\:/it\'s/subs.srt`, escapeFilterPath(`C:/it's/subs.srt`))
}

func TestRenderWithoutClips(t *testing.T) {
	_, err := NewFFmpeg("", nil).Render(context.Background(), stages.RenderJob{})
	require.Error(t, err)
}
