package stages

import (
	"context"
	"math"
	"strings"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
	"shortforge/internal/scenes"
)

// wordsPerSecond is an average narration pace.
const wordsPerSecond = 2.5

// EstimateSpeechSeconds guesses how long narration takes to read aloud.
func EstimateSpeechSeconds(narration string) float64 {
	words := len(strings.Fields(narration))
	secs := float64(words) / wordsPerSecond
	return math.Max(1, math.Round(secs*10)/10)
}

// Audio voices each scene's narration.
type Audio struct {
	deps Deps
}

func NewAudio(d Deps) *Audio { return &Audio{deps: d} }

func (s *Audio) Name() domain.StageName { return domain.StageAudio }

func (s *Audio) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	script, err := loadScript(ctx, in)
	if err != nil {
		return domain.StageResult{}, err
	}

	narration := make(map[int]string, len(script.Scenes))
	reqs := make([]scenes.SceneRequest, 0, len(script.Scenes))
	for _, sc := range script.Scenes {
		narration[sc.Index] = sc.Narration
		reqs = append(reqs, scenes.SceneRequest{
			Index:   sc.Index,
			Request: s.deps.Prompts.BuildRequest(domain.JobKindSpeech, sc.Descriptor(script.Title), script.Style),
		})
	}
	concurrency := s.deps.AudioConcurrency
	if concurrency <= 0 {
		concurrency = DefaultAudioConcurrency
	}
	batch := s.deps.aggregator(domain.JobKindSpeech, scenes.Options{
		Discipline:     scenes.Parallel,
		MaxConcurrency: concurrency,
	}).Run(ctx, reqs)

	m := s.deps.collectMedia(ctx, batch, "audio", ".mp3")
	if len(m.entries) == 0 {
		return result(domain.StageAudio, m.results, nil), nil
	}
	for i := range m.entries {
		if m.entries[i].DurationSec <= 0 {
			m.entries[i].DurationSec = EstimateSpeechSeconds(narration[m.entries[i].Index])
		}
	}
	manifest, err := encodeManifest(domain.AudioManifest, domain.AudioOutput{
		Tracks: m.entries,
		Errors: pipeline.SceneErrors(m.results),
	})
	if err != nil {
		return domain.StageResult{}, err
	}
	return result(domain.StageAudio, m.results, append(m.files, manifest)), nil
}
