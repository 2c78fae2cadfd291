// Package prompts turns scene descriptions into provider requests.
package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"shortforge/internal/domain"
)

// DefaultNegativePrompt captures artefacts image and video models should avoid.
const DefaultNegativePrompt = "low quality, blurry, distorted, washed out, incorrect anatomy, extra limbs, text artefacts, watermark"

const (
	DefaultAspectRatio = "9:16"
	DefaultLanguage    = "en"
	DefaultVoice       = "alloy"
	DefaultSceneCount  = 5
	// MaxVideoSeconds is the longest clip image-to-video providers accept.
	MaxVideoSeconds = 8
	minVideoSeconds = 5
)

// ExtraSceneCount carries the requested scene count on script requests.
const ExtraSceneCount = "scene_count"

// Builder is the default domain.PromptBuilder. It is pure and safe for
// concurrent use.
type Builder struct{}

func NewBuilder() Builder { return Builder{} }

func (Builder) BuildRequest(kind domain.JobKind, scene domain.SceneDescriptor, style domain.StyleConfig) domain.JobRequest {
	req := domain.JobRequest{
		Kind:        kind,
		SceneIndex:  scene.Index,
		AspectRatio: firstNonEmpty(style.AspectRatio, DefaultAspectRatio),
		Language:    firstNonEmpty(style.Language, DefaultLanguage),
	}
	switch kind {
	case domain.JobKindText:
		count := scene.SceneCount
		if count <= 0 {
			count = DefaultSceneCount
		}
		req.Prompt = ScriptPrompt(scene.Title, scene.Narration, count, style)
		req.Extras = map[string]string{ExtraSceneCount: strconv.Itoa(count)}
	case domain.JobKindImage:
		req.Prompt = imagePrompt(scene, style)
		req.NegativePrompt = DefaultNegativePrompt
	case domain.JobKindSpeech:
		req.Prompt = strings.TrimSpace(scene.Narration)
		req.Voice = firstNonEmpty(style.Voice, DefaultVoice)
		req.DurationSec = scene.DurationSec
	case domain.JobKindVideo:
		req.Prompt = videoPrompt(scene, style)
		req.NegativePrompt = DefaultNegativePrompt
		req.DurationSec = clipSeconds(scene.DurationSec)
	case domain.JobKindMusic:
		req.Prompt = musicPrompt(scene, style)
		req.DurationSec = scene.DurationSec
	}
	return req
}

// ScriptPrompt asks a text model for a scene-by-scene script as JSON.
func ScriptPrompt(title, topic string, scenes int, style domain.StyleConfig) string {
	if scenes <= 0 {
		scenes = DefaultSceneCount
	}
	var lines []string
	title = strings.TrimSpace(title)
	topic = strings.TrimSpace(topic)
	switch {
	case title != "" && topic != "" && title != topic:
		lines = append(lines, fmt.Sprintf("Write a short vertical video script titled %q about: %s.", title, topic))
	case title != "":
		lines = append(lines, fmt.Sprintf("Write a short vertical video script titled %q.", title))
	default:
		lines = append(lines, fmt.Sprintf("Write a short vertical video script about: %s.", topic))
	}
	lines = append(lines, fmt.Sprintf("Split it into exactly %d scenes of roughly 5 to 8 seconds of narration each.", scenes))
	if vs := strings.TrimSpace(style.VisualStyle); vs != "" {
		lines = append(lines, fmt.Sprintf("Visual style for every scene: %s.", vs))
	}
	lines = append(lines, fmt.Sprintf("Write the narration in language %q.", firstNonEmpty(style.Language, DefaultLanguage)))
	lines = append(lines,
		`Respond with JSON only, no markdown, in the form {"scenes":[{"narration":"...","image_prompt":"...","video_prompt":"...","duration_sec":6}]}.`,
		"image_prompt describes a single still frame in English; video_prompt describes the camera motion and action for that frame.",
	)
	return strings.Join(lines, "\n")
}

func imagePrompt(scene domain.SceneDescriptor, style domain.StyleConfig) string {
	lines := []string{strings.TrimSpace(scene.ImagePrompt)}
	if vs := strings.TrimSpace(style.VisualStyle); vs != "" {
		lines = append(lines, fmt.Sprintf("Visual style: %s.", vs))
	}
	lines = append(lines,
		fmt.Sprintf("Compose for a %s frame with the subject centred and room for captions at the bottom.", firstNonEmpty(style.AspectRatio, DefaultAspectRatio)),
		"Cinematic lighting, sharp focus, no on-image text.",
	)
	return strings.Join(lines, "\n")
}

func videoPrompt(scene domain.SceneDescriptor, style domain.StyleConfig) string {
	motion := strings.TrimSpace(scene.VideoPrompt)
	if motion == "" {
		motion = strings.TrimSpace(scene.ImagePrompt) + ". Slow cinematic camera push-in with subtle natural motion."
	}
	lines := []string{motion}
	if vs := strings.TrimSpace(style.VisualStyle); vs != "" {
		lines = append(lines, fmt.Sprintf("Keep the %s look of the source image.", vs))
	}
	return strings.Join(lines, "\n")
}

func musicPrompt(scene domain.SceneDescriptor, style domain.StyleConfig) string {
	mood := firstNonEmpty(style.MusicMood, "uplifting")
	prompt := fmt.Sprintf("Instrumental %s background music, no vocals", mood)
	if title := strings.TrimSpace(scene.Title); title != "" {
		prompt += fmt.Sprintf(", for a short video titled %q", title)
	}
	return prompt + "."
}

func clipSeconds(d float64) float64 {
	switch {
	case d <= 0:
		return minVideoSeconds
	case d < minVideoSeconds:
		return minVideoSeconds
	case d > MaxVideoSeconds:
		return MaxVideoSeconds
	}
	return d
}

// SceneCount reads the scene count extra, falling back to the default.
func SceneCount(req domain.JobRequest) int {
	n, err := strconv.Atoi(req.Extra(ExtraSceneCount))
	if err != nil || n <= 0 {
		return DefaultSceneCount
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var _ domain.PromptBuilder = Builder{}
