package stages

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"shortforge/internal/domain"
	"shortforge/internal/pipeline"
)

const (
	FinalFile = "final.mp4"
	// MusicBase is the stem of the saved backing track; the extension
	// follows the artifact's MIME type.
	MusicBase = "music"
)

// RenderClip is one scene's footage and voice-over. Still is set when the
// footage is a single image rather than a video.
type RenderClip struct {
	Index       int
	Video       []byte
	Still       bool
	Audio       []byte
	DurationSec float64
}

// RenderJob is everything the renderer composes into the final video.
type RenderJob struct {
	Clips     []RenderClip
	Subtitles []byte
	Music     []byte
	MusicFile string
}

// Renderer composes clips into one video.
type Renderer interface {
	Name() string
	Render(ctx context.Context, job RenderJob) ([]byte, error)
}

// Render stitches clips, narration, subtitles and optional music into
// final.mp4.
type Render struct {
	deps Deps
}

func NewRender(d Deps) *Render { return &Render{deps: d} }

func (s *Render) Name() domain.StageName { return domain.StageRender }

func (s *Render) Run(ctx context.Context, in pipeline.StageInput) (domain.StageResult, error) {
	if s.deps.Renderer == nil {
		return domain.StageResult{}, errors.New("render: no renderer configured")
	}
	job, err := s.loadJob(ctx, in)
	if err != nil {
		return domain.StageResult{}, err
	}
	if len(job.Clips) == 0 {
		return domain.StageResult{}, errors.Mark(errors.New("render: no clips to render"), domain.ErrInvalidOutput)
	}

	total := 0.0
	for _, c := range job.Clips {
		total += c.DurationSec
	}
	var files []domain.File
	if music, name := s.music(ctx, in, total); music != nil {
		job.Music, job.MusicFile = music, name
		files = append(files, domain.File{Name: name, Data: music})
	}

	video, err := s.deps.Renderer.Render(ctx, job)
	if err != nil {
		return result(domain.StageRender, []domain.SceneResult{{
			Index:     0,
			Provider:  s.deps.Renderer.Name(),
			Error:     err.Error(),
			ErrorKind: domain.KindFatal,
		}}, nil), nil
	}
	manifest, err := encodeManifest(domain.RenderManifest, domain.RenderOutput{
		File:        FinalFile,
		MusicFile:   job.MusicFile,
		Clips:       len(job.Clips),
		DurationSec: total,
	})
	if err != nil {
		return domain.StageResult{}, err
	}
	files = append(files, domain.File{Name: FinalFile, Data: video}, manifest)
	return result(domain.StageRender, []domain.SceneResult{{
		Index:    0,
		Success:  true,
		Provider: s.deps.Renderer.Name(),
	}}, files), nil
}

// loadJob reads the clip, narration and subtitle files concurrently.
func (s *Render) loadJob(ctx context.Context, in pipeline.StageInput) (RenderJob, error) {
	var videos domain.VideoOutput
	if err := readManifest(ctx, in.Store, in.Folder, domain.VideoManifest, &videos); err != nil {
		return RenderJob{}, err
	}
	var audio domain.AudioOutput
	hasAudio, err := readOptional(ctx, in.Store, in.Folder, domain.AudioManifest, &audio)
	if err != nil {
		return RenderJob{}, err
	}
	var subs domain.SubtitleOutput
	hasSubs, err := readOptional(ctx, in.Store, in.Folder, domain.SubtitleManifest, &subs)
	if err != nil {
		return RenderJob{}, err
	}
	tracks := map[int]domain.MediaEntry{}
	if hasAudio {
		tracks = domain.Lookup(audio.Tracks)
	}

	clips := make([]RenderClip, len(videos.Clips))
	var subtitles []byte
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range videos.Clips {
		g.Go(func() error {
			data, err := readFile(gctx, in.Store, in.Folder, entry.File)
			if err != nil {
				return err
			}
			clip := RenderClip{Index: entry.Index, Video: data, Still: isStill(entry.File), DurationSec: entry.DurationSec}
			if t, ok := tracks[entry.Index]; ok {
				voice, err := readFile(gctx, in.Store, in.Folder, t.File)
				if err != nil {
					return err
				}
				clip.Audio = voice
				clip.DurationSec = t.DurationSec
			}
			clips[i] = clip
			return nil
		})
	}
	if hasSubs {
		g.Go(func() error {
			data, err := readFile(gctx, in.Store, in.Folder, subs.File)
			if err != nil {
				return err
			}
			subtitles = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RenderJob{}, errors.Wrap(err, "render: load inputs")
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Index < clips[j].Index })
	return RenderJob{Clips: clips, Subtitles: subtitles}, nil
}

// music asks the music chain for a backing track and names it after its
// MIME type. Failure is tolerated.
func (s *Render) music(ctx context.Context, in pipeline.StageInput, seconds float64) ([]byte, string) {
	router, ok := s.deps.Routers[domain.JobKindMusic]
	if !ok || router == nil || len(router.Providers()) == 0 {
		return nil, ""
	}
	log := s.deps.logger()
	req := s.deps.Prompts.BuildRequest(domain.JobKindMusic, domain.SceneDescriptor{
		Title:       in.Request.Title,
		DurationSec: seconds,
	}, in.Request.Style)
	out, err := router.Route(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("folder", in.Folder).Msg("render: no background music, continuing without")
		return nil, ""
	}
	data, mime, err := s.deps.artifactBytes(ctx, out.Artifact)
	if err != nil {
		log.Warn().Err(err).Str("folder", in.Folder).Msg("render: background music unusable, continuing without")
		return nil, ""
	}
	return data, MusicBase + extension(mime, ".mp3")
}

func isStill(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	}
	return false
}
