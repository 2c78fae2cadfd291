package domain

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// Manifest file names. Each stage owns exactly one manifest plus the artifact
// files it lists, so stages never overwrite each other.
const (
	RequestFile      = "request.json"
	ScriptManifest   = "script.json"
	ImageManifest    = "images.json"
	AudioManifest    = "audio.json"
	SubtitleManifest = "subtitles.json"
	VideoManifest    = "videos.json"
	RenderManifest   = "render.json"
)

// ManifestFor returns the manifest name written by stage.
func ManifestFor(stage StageName) string {
	switch stage {
	case StageScript:
		return ScriptManifest
	case StageImage:
		return ImageManifest
	case StageAudio:
		return AudioManifest
	case StageSubtitle:
		return SubtitleManifest
	case StageVideo:
		return VideoManifest
	case StageRender:
		return RenderManifest
	}
	return ""
}

// StageOutput is implemented by every stage manifest so it can be validated
// at the stage boundary before a downstream stage consumes it.
type StageOutput interface {
	Validate() error
}

// DecodeOutput unmarshals and validates a manifest.
func DecodeOutput(data []byte, out StageOutput) error {
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Mark(errors.Wrap(err, "decode manifest"), ErrInvalidOutput)
	}
	return out.Validate()
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidOutput)
}

type ScriptScene struct {
	Index       int     `json:"index"`
	Narration   string  `json:"narration"`
	ImagePrompt string  `json:"image_prompt"`
	VideoPrompt string  `json:"video_prompt,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// Descriptor converts a script scene into the PromptBuilder input.
func (s ScriptScene) Descriptor(title string) SceneDescriptor {
	return SceneDescriptor{
		Index:       s.Index,
		Title:       title,
		Narration:   s.Narration,
		ImagePrompt: s.ImagePrompt,
		VideoPrompt: s.VideoPrompt,
		DurationSec: s.DurationSec,
	}
}

type ScriptOutput struct {
	Title    string        `json:"title"`
	Topic    string        `json:"topic,omitempty"`
	Style    StyleConfig   `json:"style"`
	Scenes   []ScriptScene `json:"scenes"`
	Provider string        `json:"provider,omitempty"`
}

func (o *ScriptOutput) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return invalid("script: title is empty")
	}
	if len(o.Scenes) == 0 {
		return invalid("script: no scenes")
	}
	for i, scene := range o.Scenes {
		if scene.Index != i {
			return invalid("script: scene %d has index %d", i, scene.Index)
		}
		if strings.TrimSpace(scene.Narration) == "" {
			return invalid("script: scene %d has no narration", i)
		}
		if strings.TrimSpace(scene.ImagePrompt) == "" {
			return invalid("script: scene %d has no image prompt", i)
		}
	}
	return nil
}

// MediaEntry references one generated artifact file for a scene.
type MediaEntry struct {
	Index       int     `json:"index"`
	File        string  `json:"file"`
	MIME        string  `json:"mime"`
	Provider    string  `json:"provider"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

func validateEntries(kind string, entries []MediaEntry) error {
	if len(entries) == 0 {
		return invalid("%s: no entries", kind)
	}
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.File) == "" {
			return invalid("%s: scene %d has no file", kind, e.Index)
		}
		if seen[e.Index] {
			return invalid("%s: duplicate scene %d", kind, e.Index)
		}
		seen[e.Index] = true
	}
	return nil
}

// Lookup indexes entries by scene index.
func Lookup(entries []MediaEntry) map[int]MediaEntry {
	out := make(map[int]MediaEntry, len(entries))
	for _, e := range entries {
		out[e.Index] = e
	}
	return out
}

type ImageOutput struct {
	Images []MediaEntry `json:"images"`
	Errors []SceneError `json:"errors,omitempty"`
}

func (o *ImageOutput) Validate() error { return validateEntries("images", o.Images) }

type AudioOutput struct {
	Tracks []MediaEntry `json:"tracks"`
	Errors []SceneError `json:"errors,omitempty"`
}

func (o *AudioOutput) Validate() error {
	if err := validateEntries("audio", o.Tracks); err != nil {
		return err
	}
	for _, t := range o.Tracks {
		if t.DurationSec <= 0 {
			return invalid("audio: scene %d has no duration", t.Index)
		}
	}
	return nil
}

type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type SubtitleOutput struct {
	File   string       `json:"file"`
	Cues   []Cue        `json:"cues"`
	Errors []SceneError `json:"errors,omitempty"`
}

func (o *SubtitleOutput) Validate() error {
	if strings.TrimSpace(o.File) == "" {
		return invalid("subtitles: no file")
	}
	if len(o.Cues) == 0 {
		return invalid("subtitles: no cues")
	}
	for i, c := range o.Cues {
		if c.End <= c.Start {
			return invalid("subtitles: cue %d ends before it starts", i)
		}
		if i > 0 && c.Start < o.Cues[i-1].End {
			return invalid("subtitles: cue %d overlaps the previous cue", i)
		}
	}
	return nil
}

type VideoOutput struct {
	Clips  []MediaEntry `json:"clips"`
	Errors []SceneError `json:"errors,omitempty"`
}

func (o *VideoOutput) Validate() error { return validateEntries("videos", o.Clips) }

type RenderOutput struct {
	File        string  `json:"file"`
	MusicFile   string  `json:"music_file,omitempty"`
	Clips       int     `json:"clips"`
	DurationSec float64 `json:"duration_sec"`
}

func (o *RenderOutput) Validate() error {
	if strings.TrimSpace(o.File) == "" {
		return invalid("render: no file")
	}
	if o.Clips <= 0 {
		return invalid("render: no clips")
	}
	return nil
}
