// Package scenes fans one stage's per-scene jobs out over a provider chain and
// collects the results in scene order.
package scenes

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
	"shortforge/internal/fallback"
	"shortforge/internal/jobs"
)

// Discipline selects how scenes are scheduled.
type Discipline string

const (
	Parallel   Discipline = "parallel"
	Sequential Discipline = "sequential"
)

// DefaultSequentialDelay spaces out scenes for providers that reject bursts.
const DefaultSequentialDelay = 2 * time.Second

// Router is the part of fallback.Router the aggregator needs.
type Router interface {
	Route(ctx context.Context, req domain.JobRequest) (fallback.Outcome, error)
}

// SceneRequest is one scene's job.
type SceneRequest struct {
	Index   int
	Request domain.JobRequest
}

// Options configures an Aggregator.
type Options struct {
	Discipline Discipline
	// MaxConcurrency bounds in-flight scenes for Parallel. Zero means one
	// worker per scene.
	MaxConcurrency int
	// Delay is waited between consecutive scenes for Sequential.
	Delay  time.Duration
	Clock  jobs.Clock
	Logger *zerolog.Logger
}

// Aggregator runs every scene of a stage through a Router.
type Aggregator struct {
	router Router
	opts   Options
	clock  jobs.Clock
	logger zerolog.Logger
}

func NewAggregator(router Router, opts Options) *Aggregator {
	if opts.Discipline == "" {
		opts.Discipline = Parallel
	}
	clock := opts.Clock
	if clock == nil {
		clock = jobs.RealClock()
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Aggregator{router: router, opts: opts, clock: clock, logger: logger}
}

// Batch is the collected outcome of one stage's scenes, sorted by index.
type Batch struct {
	Results []domain.SceneResult
	Stats   domain.SceneStats
}

// PartialSuccess reports whether at least one scene succeeded.
func (b Batch) PartialSuccess() bool {
	return b.Stats.Succeeded > 0
}

// HardFailure reports whether no scene succeeded.
func (b Batch) HardFailure() bool {
	return b.Stats.Succeeded == 0
}

// Run executes every scene and returns one result per scene. A scene whose
// chain is exhausted is recorded as failed; it never stops the others.
func (a *Aggregator) Run(ctx context.Context, scenes []SceneRequest) Batch {
	var results []domain.SceneResult
	switch a.opts.Discipline {
	case Sequential:
		results = a.runSequential(ctx, scenes)
	default:
		results = a.runParallel(ctx, scenes)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return Batch{Results: results, Stats: Summarize(results)}
}

func (a *Aggregator) runParallel(ctx context.Context, scenes []SceneRequest) []domain.SceneResult {
	if len(scenes) == 0 {
		return nil
	}
	size := a.opts.MaxConcurrency
	if size <= 0 || size > len(scenes) {
		size = len(scenes)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]domain.SceneResult, 0, len(scenes))
	)
	collect := func(r domain.SceneResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p interface{}) {
		a.logger.Error().Interface("panic", p).Msg("scenes: worker panicked")
	}))
	if err != nil {
		a.logger.Warn().Err(err).Msg("scenes: worker pool unavailable, running sequentially")
		out := make([]domain.SceneResult, 0, len(scenes))
		for _, sc := range scenes {
			out = append(out, a.runScene(ctx, sc))
		}
		return out
	}
	defer pool.Release()

	for _, sc := range scenes {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					collect(failedScene(sc.Index, errors.Newf("scene %d panicked: %v", sc.Index, p)))
				}
			}()
			collect(a.runScene(ctx, sc))
		})
		if submitErr != nil {
			wg.Done()
			collect(failedScene(sc.Index, errors.Wrap(submitErr, "schedule scene")))
		}
	}
	wg.Wait()
	return results
}

func (a *Aggregator) runSequential(ctx context.Context, scenes []SceneRequest) []domain.SceneResult {
	results := make([]domain.SceneResult, 0, len(scenes))
	for i, sc := range scenes {
		if i > 0 && a.opts.Delay > 0 {
			if err := a.clock.Sleep(ctx, a.opts.Delay); err != nil {
				results = append(results, failedScene(sc.Index, err))
				continue
			}
		}
		results = append(results, a.runScene(ctx, sc))
	}
	return results
}

func (a *Aggregator) runScene(ctx context.Context, sc SceneRequest) domain.SceneResult {
	req := sc.Request
	req.SceneIndex = sc.Index
	out, err := a.router.Route(ctx, req)
	if err != nil {
		a.logger.Warn().Int("scene", sc.Index).Str("kind", string(req.Kind)).Err(err).Msg("scenes: scene failed")
		return failedScene(sc.Index, err)
	}
	return domain.SceneResult{
		Index:    sc.Index,
		Success:  true,
		Provider: out.Provider,
		Artifact: out.Artifact,
	}
}

func failedScene(index int, err error) domain.SceneResult {
	res := domain.SceneResult{
		Index:     index,
		Error:     err.Error(),
		ErrorKind: domain.KindOf(err),
	}
	var chainErr *fallback.ChainError
	if errors.As(err, &chainErr) && len(chainErr.Attempts) > 0 {
		res.Provider = chainErr.Attempts[len(chainErr.Attempts)-1].Provider
		res.ErrorKind = chainErr.LastKind()
	}
	return res
}

// Summarize counts successes and failures, and successes per provider.
func Summarize(results []domain.SceneResult) domain.SceneStats {
	stats := domain.SceneStats{ByProvider: map[string]int{}}
	for _, r := range results {
		if r.Success {
			stats.Succeeded++
			stats.ByProvider[r.Provider]++
			continue
		}
		stats.Failed++
	}
	return stats
}
