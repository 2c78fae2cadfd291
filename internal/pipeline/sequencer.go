// Package pipeline runs the stages of a short-video build in dependency
// order and persists each stage's output under the run's folder token.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
)

// LatestFolder selects the most recent folder in RunStage.
const LatestFolder = "latest"

// StageInput is what the sequencer hands to a stage.
type StageInput struct {
	Folder  string
	Request domain.PipelineRequest
	Store   domain.ObjectStore
}

// Stage produces one step of the pipeline. Run returns an error for problems
// that are not per-scene, such as a missing upstream manifest.
type Stage interface {
	Name() domain.StageName
	Run(ctx context.Context, in StageInput) (domain.StageResult, error)
}

// Options configures a Sequencer.
type Options struct {
	Namer  FolderNamer
	Logger *zerolog.Logger
}

// Sequencer is the Idle → Running(stage) → Complete | StageFailed(stage)
// state machine. State is kept per folder; runs on different folders share
// a Sequencer without seeing each other's phase.
type Sequencer struct {
	store  domain.ObjectStore
	stages map[domain.StageName]Stage
	order  []domain.StageName
	namer  FolderNamer
	logger zerolog.Logger

	mu     sync.Mutex
	states map[string]domain.PipelineState
}

// NewSequencer registers stages. They run in domain.StageOrder; stages not
// registered are skipped.
func NewSequencer(store domain.ObjectStore, stages []Stage, opts Options) *Sequencer {
	byName := make(map[domain.StageName]Stage, len(stages))
	for _, st := range stages {
		byName[st.Name()] = st
	}
	var order []domain.StageName
	for _, name := range domain.StageOrder {
		if _, ok := byName[name]; ok {
			order = append(order, name)
		}
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	namer := opts.Namer
	if namer.Now == nil && namer.NewID == nil {
		namer = DefaultFolderNamer()
	}
	return &Sequencer{
		store:  store,
		stages: byName,
		order:  order,
		namer:  namer,
		logger: logger,
		states: make(map[string]domain.PipelineState),
	}
}

// State returns the phase of folder, Idle when nothing ran against it in
// this process.
func (s *Sequencer) State(folder string) domain.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[folder]; ok {
		return st
	}
	return domain.PipelineState{Phase: domain.PhaseIdle}
}

// States returns a copy of every folder's phase.
func (s *Sequencer) States() map[string]domain.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.PipelineState, len(s.states))
	for folder, st := range s.states {
		out[folder] = st
	}
	return out
}

func (s *Sequencer) setState(folder string, st domain.PipelineState) domain.PipelineState {
	if folder == "" {
		return st
	}
	s.mu.Lock()
	s.states[folder] = st
	s.mu.Unlock()
	return st
}

// Prepare creates the folder token for req and records the request in it.
func (s *Sequencer) Prepare(ctx context.Context, req domain.PipelineRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Topic) == "" {
		return "", errors.New("pipeline: title or topic is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = req.Topic
	}
	folder := s.namer.Token(req.Title)
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "pipeline: encode request")
	}
	if _, err := s.store.Write(ctx, folder, domain.RequestFile, data); err != nil {
		return "", errors.Wrapf(err, "pipeline: write %s", domain.RequestFile)
	}
	s.logger.Info().Str("folder", folder).Str("title", req.Title).Msg("pipeline: folder created")
	return folder, nil
}

// RunPipeline runs every registered stage in order. It stops at the first
// stage that fails outright or produces no successful scene.
func (s *Sequencer) RunPipeline(ctx context.Context, req domain.PipelineRequest) domain.PipelineResult {
	folder, err := s.Prepare(ctx, req)
	if err != nil {
		return domain.PipelineResult{
			State:  domain.PipelineState{Phase: domain.PhaseStageFailed},
			Stages: []domain.StageSummary{{Error: err.Error()}},
		}
	}
	return s.Resume(ctx, folder, "")
}

// Resume runs stages from `from` (or the first stage when empty) through
// the end against an existing folder.
func (s *Sequencer) Resume(ctx context.Context, folder string, from domain.StageName) domain.PipelineResult {
	result := domain.PipelineResult{Folder: folder}
	if _, ok := s.stages[from]; from != "" && !ok {
		result.FailedStage = from
		result.State = s.setState(folder, domain.PipelineState{Phase: domain.PhaseStageFailed, Stage: from})
		result.Stages = []domain.StageSummary{{Stage: from, Error: "unknown stage"}}
		return result
	}
	started := from == ""
	for _, name := range s.order {
		if !started {
			if name != from {
				continue
			}
			started = true
		}
		summary, err := s.RunStage(ctx, name, folder)
		result.Stages = append(result.Stages, summary)
		if err != nil {
			result.FailedStage = name
			result.State = domain.PipelineState{Phase: domain.PhaseStageFailed, Stage: name}
			return result
		}
	}
	result.State = s.setState(folder, domain.PipelineState{Phase: domain.PhaseComplete})
	s.logger.Info().Str("folder", folder).Int("stages", len(result.Stages)).Msg("pipeline: complete")
	return result
}

// RunStage runs a single stage against folder. folder may be LatestFolder.
// The returned error is marked domain.ErrStageFailed when the stage did not
// produce any usable output; its files are then not persisted.
func (s *Sequencer) RunStage(ctx context.Context, name domain.StageName, folder string) (domain.StageSummary, error) {
	summary := domain.StageSummary{Stage: name}
	stage, ok := s.stages[name]
	if !ok {
		err := errors.Wrapf(domain.ErrNotFound, "pipeline: unknown stage %q", name)
		summary.Error = err.Error()
		return summary, err
	}

	folder, err := s.resolveFolder(ctx, folder)
	if err != nil {
		summary.Error = err.Error()
		return summary, err
	}
	req, err := s.loadRequest(ctx, folder)
	if err != nil {
		summary.Error = err.Error()
		return summary, err
	}

	s.setState(folder, domain.PipelineState{Phase: domain.PhaseRunning, Stage: name})
	log := s.logger.With().Str("folder", folder).Str("stage", string(name)).Logger()
	log.Info().Msg("pipeline: stage started")

	res, err := stage.Run(ctx, StageInput{Folder: folder, Request: req, Store: s.store})
	fillSummary(&summary, res)
	if err != nil {
		return s.fail(log, folder, summary, err)
	}
	if res.HardFailure() {
		return s.fail(log, folder, summary, hardFailureError(name, res.Results))
	}

	for _, f := range res.Files {
		if _, err := s.store.Write(ctx, folder, f.Name, f.Data); err != nil {
			return s.fail(log, folder, summary, errors.Wrapf(err, "persist %s", f.Name))
		}
		summary.Files = append(summary.Files, f.Name)
	}
	sort.Strings(summary.Files)
	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Interface("by_provider", summary.ByProvider).
		Msg("pipeline: stage finished")
	return summary, nil
}

func (s *Sequencer) fail(log zerolog.Logger, folder string, summary domain.StageSummary, cause error) (domain.StageSummary, error) {
	err := errors.Mark(errors.Wrapf(cause, "stage %s", summary.Stage), domain.ErrStageFailed)
	summary.Error = err.Error()
	s.setState(folder, domain.PipelineState{Phase: domain.PhaseStageFailed, Stage: summary.Stage})
	log.Error().Err(cause).Int("failed", summary.Failed).Msg("pipeline: stage failed")
	return summary, err
}

func (s *Sequencer) resolveFolder(ctx context.Context, folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder != "" && folder != LatestFolder {
		return folder, nil
	}
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return "", errors.Wrap(err, "pipeline: list folders")
	}
	if len(folders) == 0 {
		return "", errors.Wrap(domain.ErrNotFound, "pipeline: no folders yet")
	}
	return folders[0], nil
}

func (s *Sequencer) loadRequest(ctx context.Context, folder string) (domain.PipelineRequest, error) {
	var req domain.PipelineRequest
	files, err := s.store.Read(ctx, folder, domain.RequestFile)
	if err != nil {
		return req, errors.Wrapf(err, "pipeline: read %s/%s", folder, domain.RequestFile)
	}
	if len(files) == 0 {
		return req, errors.Wrapf(domain.ErrNotFound, "pipeline: folder %q has no %s", folder, domain.RequestFile)
	}
	if err := json.Unmarshal(files[0].Data, &req); err != nil {
		return req, errors.Wrapf(err, "pipeline: decode %s", domain.RequestFile)
	}
	return req, nil
}

func fillSummary(summary *domain.StageSummary, res domain.StageResult) {
	summary.Succeeded = res.Stats.Succeeded
	summary.Failed = res.Stats.Failed
	if len(res.Stats.ByProvider) > 0 {
		summary.ByProvider = res.Stats.ByProvider
	}
	summary.Errors = SceneErrors(res.Results)
}

// SceneErrors lists the failed scenes of results.
func SceneErrors(results []domain.SceneResult) []domain.SceneError {
	var out []domain.SceneError
	for _, r := range results {
		if r.Success {
			continue
		}
		out = append(out, domain.SceneError{Index: r.Index, Kind: r.ErrorKind, Message: r.Error})
	}
	return out
}

func hardFailureError(stage domain.StageName, results []domain.SceneResult) error {
	if len(results) == 0 {
		return errors.Newf("%s produced no scenes", stage)
	}
	msgs := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Success {
			msgs = append(msgs, r.Error)
		}
	}
	return errors.Newf("no scene succeeded (%d failed): %s", len(msgs), strings.Join(msgs, "; "))
}
