// Package render composes the final video with ffmpeg.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"shortforge/internal/stages"
)

const (
	musicVolume         = "0.15"
	defaultStillSeconds = 5.0
	frameScale          = "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2"
)

// FFmpeg renders by shelling out to the ffmpeg binary.
type FFmpeg struct {
	Path   string
	Logger *zerolog.Logger
	// TempDir is where intermediate files go; empty uses the OS default.
	TempDir string
}

func NewFFmpeg(path string, logger *zerolog.Logger) *FFmpeg {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Logger: logger}
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

// Render muxes each clip with its narration, concatenates the segments,
// burns in subtitles and mixes in background music when present.
func (f *FFmpeg) Render(ctx context.Context, job stages.RenderJob) ([]byte, error) {
	if len(job.Clips) == 0 {
		return nil, errors.New("ffmpeg: nothing to render")
	}
	dir, err := os.MkdirTemp(f.TempDir, "shortforge-render-")
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg: temp dir")
	}
	defer os.RemoveAll(dir)

	var list strings.Builder
	for _, clip := range job.Clips {
		seg, err := f.segment(ctx, dir, clip)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&list, "file '%s'\n", seg)
	}
	listPath := filepath.Join(dir, "segments.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, errors.Wrap(err, "ffmpeg: write segment list")
	}
	joined := filepath.Join(dir, "joined.mp4")
	if err := f.run(ctx, ConcatArgs(listPath, joined)...); err != nil {
		return nil, err
	}

	subs, music := "", ""
	if len(job.Subtitles) > 0 {
		subs = filepath.Join(dir, "subtitles.srt")
		if err := os.WriteFile(subs, job.Subtitles, 0o644); err != nil {
			return nil, errors.Wrap(err, "ffmpeg: write subtitles")
		}
	}
	if len(job.Music) > 0 {
		name := filepath.Base(job.MusicFile)
		if job.MusicFile == "" {
			name = stages.MusicBase + ".mp3"
		}
		music = filepath.Join(dir, name)
		if err := os.WriteFile(music, job.Music, 0o644); err != nil {
			return nil, errors.Wrap(err, "ffmpeg: write music")
		}
	}
	final := filepath.Join(dir, "final.mp4")
	if err := f.run(ctx, FinishArgs(joined, subs, music, final)...); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(final)
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg: read output")
	}
	return data, nil
}

func (f *FFmpeg) segment(ctx context.Context, dir string, clip stages.RenderClip) (string, error) {
	ext := ".mp4"
	if clip.Still {
		ext = ".img"
	}
	video := filepath.Join(dir, fmt.Sprintf("clip_%02d%s", clip.Index, ext))
	if err := os.WriteFile(video, clip.Video, 0o644); err != nil {
		return "", errors.Wrap(err, "ffmpeg: write clip")
	}
	audio := ""
	if len(clip.Audio) > 0 {
		audio = filepath.Join(dir, fmt.Sprintf("audio_%02d.mp3", clip.Index))
		if err := os.WriteFile(audio, clip.Audio, 0o644); err != nil {
			return "", errors.Wrap(err, "ffmpeg: write audio")
		}
	}
	out := filepath.Join(dir, fmt.Sprintf("segment_%02d.mp4", clip.Index))
	if err := f.run(ctx, SegmentArgs(video, audio, clip.DurationSec, clip.Still, out)...); err != nil {
		return "", err
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if f.Logger != nil {
		f.Logger.Debug().Strs("args", args).Msg("ffmpeg: run")
	}
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", tail(stderr.String(), 800))
	}
	return nil
}

// SegmentArgs loops the clip to the narration length and replaces its
// soundtrack with the narration. Without narration the clip is re-encoded
// with a silent track and every frame is fitted to 1080x1920, so all
// segments share one stream layout and concatenate without re-encoding. A
// still image is held for the whole segment.
func SegmentArgs(video, audio string, seconds float64, still bool, out string) []string {
	args := []string{"-y"}
	switch {
	case still:
		if seconds <= 0 {
			seconds = defaultStillSeconds
		}
		args = append(args, "-loop", "1", "-framerate", "30")
	case seconds > 0:
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", video)
	if audio != "" {
		args = append(args, "-i", audio)
	} else {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
	}
	args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-vf", frameScale)
	if seconds > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", seconds))
	} else {
		args = append(args, "-shortest")
	}
	return append(args,
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p", "-r", "30",
		"-c:a", "aac", "-ar", "44100", "-ac", "2",
		out,
	)
}

func ConcatArgs(list, out string) []string {
	return []string{"-y", "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", out}
}

// FinishArgs burns subtitles and mixes music under the narration. Either
// may be empty.
func FinishArgs(joined, subtitles, music, out string) []string {
	args := []string{"-y", "-i", joined}
	if music != "" {
		args = append(args, "-stream_loop", "-1", "-i", music)
	}
	var filters []string
	videoOut := "0:v"
	if subtitles != "" {
		filters = append(filters, fmt.Sprintf("[0:v]subtitles='%s'[v]", escapeFilterPath(subtitles)))
		videoOut = "[v]"
	}
	audioOut := "0:a"
	if music != "" {
		filters = append(filters, fmt.Sprintf("[1:a]volume=%s[m];[0:a][m]amix=inputs=2:duration=first:dropout_transition=0[a]", musicVolume))
		audioOut = "[a]"
	}
	if len(filters) > 0 {
		args = append(args, "-filter_complex", strings.Join(filters, ";"))
	}
	args = append(args, "-map", videoOut, "-map", audioOut)
	if subtitles != "" {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p")
	} else {
		args = append(args, "-c:v", "copy")
	}
	return append(args, "-c:a", "aac", "-movflags", "+faststart", out)
}

func escapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(p)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

var _ stages.Renderer = (*FFmpeg)(nil)
