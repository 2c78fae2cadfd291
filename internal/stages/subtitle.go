package stages

import (
	"context"
	"fmt"
	"math"
	"strings"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
)

// SubtitleFile is the SRT written by the subtitle stage.
const SubtitleFile = "subtitles.srt"

// Subtitle builds SRT cues from the script, timed by the voiced audio when
// it exists. It calls no provider.
type Subtitle struct {
	deps Deps
}

func NewSubtitle(d Deps) *Subtitle { return &Subtitle{deps: d} }

func (s *Subtitle) Name() domain.StageName { return domain.StageSubtitle }

func (s *Subtitle) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	script, err := loadScript(ctx, in)
	if err != nil {
		return domain.StageResult{}, err
	}
	var audio domain.AudioOutput
	hasAudio, err := readOptional(ctx, in.Store, in.Folder, domain.AudioManifest, &audio)
	if err != nil {
		return domain.StageResult{}, err
	}
	tracks := map[int]domain.MediaEntry{}
	if hasAudio {
		tracks = domain.Lookup(audio.Tracks)
	} else {
		log := s.deps.logger()
		log.Warn().Str("folder", in.Folder).Msg("subtitles: no audio manifest, using estimated timings")
	}

	cues := BuildCues(script.Scenes, tracks)
	results := make([]domain.SceneResult, 0, len(cues))
	for _, c := range cues {
		results = append(results, domain.SceneResult{Index: c.Index, Success: true, Provider: "local"})
	}
	out := domain.SubtitleOutput{File: SubtitleFile, Cues: cues}
	if err := out.Validate(); err != nil {
		return domain.StageResult{}, err
	}
	manifest, err := encodeManifest(domain.SubtitleManifest, out)
	if err != nil {
		return domain.StageResult{}, err
	}
	files := []domain.File{{Name: SubtitleFile, Data: []byte(FormatSRT(cues))}, manifest}
	return result(domain.StageSubtitle, results, files), nil
}

// BuildCues lays scenes end to end. A scene's length is its audio duration,
// else its scripted duration, else an estimate from the narration.
func BuildCues(scenes []domain.ScriptScene, tracks map[int]domain.MediaEntry) []domain.Cue {
	cues := make([]domain.Cue, 0, len(scenes))
	cursor := 0.0
	for _, sc := range scenes {
		text := strings.TrimSpace(sc.Narration)
		if text == "" {
			continue
		}
		dur := sc.DurationSec
		if t, ok := tracks[sc.Index]; ok && t.DurationSec > 0 {
			dur = t.DurationSec
		}
		if dur <= 0 {
			dur = EstimateSpeechSeconds(text)
		}
		cues = append(cues, domain.Cue{Index: sc.Index, Start: cursor, End: cursor + dur, Text: text})
		cursor += dur
	}
	return cues
}

// FormatSRT renders cues in SubRip format.
func FormatSRT(cues []domain.Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return b.String()
}

func srtTimestamp(sec float64) string {
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
