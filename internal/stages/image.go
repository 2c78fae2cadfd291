package stages

import (
	"context"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
	"shortforge/internal/scenes"
)

// Image generates one still per script scene in parallel.
type Image struct {
	deps Deps
}

func NewImage(d Deps) *Image { return &Image{deps: d} }

func (s *Image) Name() domain.StageName { return domain.StageImage }

func (s *Image) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	script, err := loadScript(ctx, in)
	if err != nil {
		return domain.StageResult{}, err
	}

	reqs := make([]scenes.SceneRequest, 0, len(script.Scenes))
	for _, sc := range script.Scenes {
		reqs = append(reqs, scenes.SceneRequest{
			Index:   sc.Index,
			Request: s.deps.Prompts.BuildRequest(domain.JobKindImage, sc.Descriptor(script.Title), script.Style),
		})
	}
	concurrency := s.deps.ImageConcurrency
	if concurrency <= 0 {
		concurrency = DefaultImageConcurrency
	}
	batch := s.deps.aggregator(domain.JobKindImage, scenes.Options{
		Discipline:     scenes.Parallel,
		MaxConcurrency: concurrency,
	}).Run(ctx, reqs)

	m := s.deps.collectMedia(ctx, batch, "image", ".png")
	if len(m.entries) == 0 {
		return result(domain.StageImage, m.results, nil), nil
	}
	manifest, err := encodeManifest(domain.ImageManifest, domain.ImageOutput{
		Images: m.entries,
		Errors: pipeline.SceneErrors(m.results),
	})
	if err != nil {
		return domain.StageResult{}, err
	}
	return result(domain.StageImage, m.results, append(m.files, manifest)), nil
}
