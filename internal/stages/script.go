package stages

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
	"shortforge/internal/scenes"
)

// Script asks the text chain for a scene-by-scene script.
type Script struct {
	deps Deps
}

func NewScript(d Deps) *Script { return &Script{deps: d} }

func (s *Script) Name() domain.StageName { return domain.StageScript }

func (s *Script) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	req := in.Request
	jobReq := s.deps.Prompts.BuildRequest(domain.JobKindText, domain.SceneDescriptor{
		Index:      0,
		Title:      req.Title,
		Narration:  req.Topic,
		SceneCount: req.SceneCount,
	}, req.Style)

	var script *domain.ScriptOutput
	accept := func(a *domain.Artifact) error {
		parsed, err := ParseScript(a.Text, req)
		if err != nil {
			return err
		}
		script = parsed
		return nil
	}
	agg := scenes.NewAggregator(acceptingRouter{router: s.deps.router(domain.JobKindText), accept: accept}, scenes.Options{
		Discipline: scenes.Sequential,
		Clock:      s.deps.Clock,
		Logger:     s.deps.Logger,
	})
	batch := agg.Run(ctx, []scenes.SceneRequest{{Index: 0, Request: jobReq}})
	if batch.HardFailure() || script == nil {
		return result(domain.StageScript, batch.Results, nil), nil
	}

	script.Provider = batch.Results[0].Provider
	manifest, err := encodeManifest(domain.ScriptManifest, script)
	if err != nil {
		return domain.StageResult{}, err
	}
	return result(domain.StageScript, batch.Results, []domain.File{manifest}), nil
}

// ParseScript extracts the script JSON from model output. Markdown fences and
// surrounding prose are tolerated. Extra scenes beyond the requested count
// are dropped.
func ParseScript(text string, req domain.PipelineRequest) (*domain.ScriptOutput, error) {
	body := strings.TrimSpace(text)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, errors.Mark(errors.New("script: no JSON object in response"), domain.ErrInvalidOutput)
	}
	var raw struct {
		Scenes []struct {
			Narration   string  `json:"narration"`
			ImagePrompt string  `json:"image_prompt"`
			VideoPrompt string  `json:"video_prompt"`
			DurationSec float64 `json:"duration_sec"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "script: decode"), domain.ErrInvalidOutput)
	}
	if req.SceneCount > 0 && len(raw.Scenes) > req.SceneCount {
		raw.Scenes = raw.Scenes[:req.SceneCount]
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSpace(req.Topic)
	}
	out := &domain.ScriptOutput{Title: title, Topic: req.Topic, Style: req.Style}
	for i, sc := range raw.Scenes {
		narration := strings.TrimSpace(sc.Narration)
		duration := sc.DurationSec
		if duration <= 0 {
			duration = EstimateSpeechSeconds(narration)
		}
		out.Scenes = append(out.Scenes, domain.ScriptScene{
			Index:       i,
			Narration:   narration,
			ImagePrompt: strings.TrimSpace(sc.ImagePrompt),
			VideoPrompt: strings.TrimSpace(sc.VideoPrompt),
			DurationSec: duration,
		})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
