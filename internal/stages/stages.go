// Package stages implements the six pipeline stages. Each stage reads its
// upstream manifests from the object store, fans its scenes out through the
// aggregator and returns the files to persist.
package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
	"shortforge/internal/fallback"
	"shortforge/internal/jobs"
	"shortforge/internal/pipeline"
	"shortforge/internal/scenes"
)

const (
	DefaultImageConcurrency = 4
	DefaultAudioConcurrency = 3
	maxDownloadBytes        = 512 << 20
)

// Deps is shared by every stage.
type Deps struct {
	// Routers holds one provider chain per job kind.
	Routers    map[domain.JobKind]*fallback.Router
	Prompts    domain.PromptBuilder
	Renderer   Renderer
	HTTPClient *http.Client
	Clock      jobs.Clock
	Logger     *zerolog.Logger

	ImageConcurrency int
	AudioConcurrency int
	VideoDelay       time.Duration
}

func (d Deps) router(kind domain.JobKind) *fallback.Router {
	if r, ok := d.Routers[kind]; ok && r != nil {
		return r
	}
	return fallback.NewRouter(nil, fallback.Options{Logger: d.Logger})
}

func (d Deps) logger() zerolog.Logger {
	if d.Logger != nil {
		return *d.Logger
	}
	return zerolog.New(io.Discard)
}

func (d Deps) aggregator(kind domain.JobKind, opts scenes.Options) *scenes.Aggregator {
	opts.Clock = d.Clock
	opts.Logger = d.Logger
	return scenes.NewAggregator(d.router(kind), opts)
}

// All returns the full pipeline in dependency order.
func All(d Deps) []pipeline.Stage {
	return []pipeline.Stage{
		NewScript(d),
		NewImage(d),
		NewAudio(d),
		NewSubtitle(d),
		NewVideo(d),
		NewRender(d),
	}
}

func readManifest(ctx context.Context, store domain.ObjectStore, folder, name string, out domain.StageOutput) error {
	files, err := store.Read(ctx, folder, name)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	if len(files) == 0 {
		return errors.Wrapf(domain.ErrNotFound, "missing upstream manifest %s", name)
	}
	if err := domain.DecodeOutput(files[0].Data, out); err != nil {
		return errors.Wrapf(err, "manifest %s", name)
	}
	return nil
}

// readOptional is readManifest that reports absence as (false, nil).
func readOptional(ctx context.Context, store domain.ObjectStore, folder, name string, out domain.StageOutput) (bool, error) {
	err := readManifest(ctx, store, folder, name, out)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func readFile(ctx context.Context, store domain.ObjectStore, folder, name string) ([]byte, error) {
	files, err := store.Read(ctx, folder, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "missing %s", name)
	}
	return files[0].Data, nil
}

func loadScript(ctx context.Context, in pipeline.StageInput) (*domain.ScriptOutput, error) {
	var script domain.ScriptOutput
	if err := readManifest(ctx, in.Store, in.Folder, domain.ScriptManifest, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

func encodeManifest(name string, v any) (domain.File, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.File{}, errors.Wrapf(err, "encode %s", name)
	}
	return domain.File{Name: name, Data: data}, nil
}

// media turns the successful scenes of a batch into files named
// prefix_NN.ext. Scenes whose artifact cannot be fetched become failures.
type media struct {
	entries []domain.MediaEntry
	files   []domain.File
	results []domain.SceneResult
}

func (d Deps) collectMedia(ctx context.Context, batch scenes.Batch, prefix, defaultExt string) media {
	var out media
	for _, r := range batch.Results {
		if !r.Success {
			out.results = append(out.results, r)
			continue
		}
		data, mime, err := d.artifactBytes(ctx, r.Artifact)
		if err != nil {
			out.results = append(out.results, domain.SceneResult{
				Index:     r.Index,
				Provider:  r.Provider,
				Error:     err.Error(),
				ErrorKind: domain.KindTransient,
			})
			continue
		}
		name := fmt.Sprintf("%s_%02d%s", prefix, r.Index, extension(mime, defaultExt))
		out.files = append(out.files, domain.File{Name: name, Data: data})
		out.entries = append(out.entries, domain.MediaEntry{
			Index:       r.Index,
			File:        name,
			MIME:        mime,
			Provider:    r.Provider,
			DurationSec: r.Artifact.DurationSec,
		})
		out.results = append(out.results, r)
	}
	return out
}

func (d Deps) artifactBytes(ctx context.Context, a *domain.Artifact) ([]byte, string, error) {
	if a == nil {
		return nil, "", errors.New("empty artifact")
	}
	if len(a.Data) > 0 {
		return a.Data, a.MIME, nil
	}
	if strings.TrimSpace(a.URL) == "" {
		return nil, "", errors.New("artifact has neither data nor url")
	}
	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "download artifact")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "download artifact")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", errors.Newf("download artifact: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", errors.Wrap(err, "download artifact")
	}
	mime := a.MIME
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	return data, mime, nil
}

func extension(mime, fallback string) string {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	}
	return fallback
}

// result assembles a StageResult from per-scene results.
func result(stage domain.StageName, results []domain.SceneResult, files []domain.File) domain.StageResult {
	return domain.StageResult{
		Stage:   stage,
		Results: results,
		Stats:   scenes.Summarize(results),
		Files:   files,
	}
}

// acceptingRouter applies an output check inside the fallback walk so a
// provider returning unusable output is skipped like a failed one.
type acceptingRouter struct {
	router *fallback.Router
	accept fallback.AcceptFunc
}

func (r acceptingRouter) Route(ctx context.Context, req domain.JobRequest) (fallback.Outcome, error) {
	return r.router.RouteAccept(ctx, req, r.accept)
}
