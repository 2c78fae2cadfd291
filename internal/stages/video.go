package stages

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
	"shortforge/internal/scenes"
)

// Video animates each scene's still into a clip. Video providers reject
// bursts, so scenes go one at a time with a fixed gap.
type Video struct {
	deps Deps
}

func NewVideo(d Deps) *Video { return &Video{deps: d} }

func (s *Video) Name() domain.StageName { return domain.StageVideo }

func (s *Video) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	script, err := loadScript(ctx, in)
	if err != nil {
		return domain.StageResult{}, err
	}
	var images domain.ImageOutput
	if err := readManifest(ctx, in.Store, in.Folder, domain.ImageManifest, &images); err != nil {
		return domain.StageResult{}, err
	}
	stills := domain.Lookup(images.Images)

	var (
		reqs    []scenes.SceneRequest
		skipped []domain.SceneResult
	)
	for _, sc := range script.Scenes {
		img, ok := stills[sc.Index]
		if !ok {
			skipped = append(skipped, domain.SceneResult{
				Index:     sc.Index,
				Error:     "no source image for scene",
				ErrorKind: domain.KindFatal,
			})
			continue
		}
		data, err := readFile(ctx, in.Store, in.Folder, img.File)
		if err != nil {
			skipped = append(skipped, domain.SceneResult{
				Index:     sc.Index,
				Error:     errors.Wrap(err, "load source image").Error(),
				ErrorKind: domain.KindFatal,
			})
			continue
		}
		req := s.deps.Prompts.BuildRequest(domain.JobKindVideo, sc.Descriptor(script.Title), script.Style)
		req.SourceImage = &domain.SourceImage{Data: data, MIME: img.MIME}
		reqs = append(reqs, scenes.SceneRequest{Index: sc.Index, Request: req})
	}

	delay := s.deps.VideoDelay
	if delay <= 0 {
		delay = scenes.DefaultSequentialDelay
	}
	batch := s.deps.aggregator(domain.JobKindVideo, scenes.Options{
		Discipline: scenes.Sequential,
		Delay:      delay,
	}).Run(ctx, reqs)

	m := s.deps.collectMedia(ctx, batch, "clip", ".mp4")
	results := append(m.results, skipped...)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	if len(m.entries) == 0 {
		return result(domain.StageVideo, results, nil), nil
	}
	manifest, err := encodeManifest(domain.VideoManifest, domain.VideoOutput{
		Clips:  m.entries,
		Errors: pipeline.SceneErrors(results),
	})
	if err != nil {
		return domain.StageResult{}, err
	}
	return result(domain.StageVideo, results, append(m.files, manifest)), nil
}
