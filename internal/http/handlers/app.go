package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
)

// Runner is the part of the pipeline sequencer the API drives.
type Runner interface {
	Prepare(ctx context.Context, req domain.PipelineRequest) (string, error)
	Resume(ctx context.Context, folder string, from domain.StageName) domain.PipelineResult
	RunStage(ctx context.Context, name domain.StageName, folder string) (domain.StageSummary, error)
	State(folder string) domain.PipelineState
	States() map[string]domain.PipelineState
}

// Options configures NewApp.
type Options struct {
	Runner Runner
	Store  domain.ObjectStore
	Logger zerolog.Logger
	// MaxRuns bounds pipelines running in the background; defaults to 2.
	MaxRuns int
	// BaseContext outlives requests and is cancelled on shutdown.
	BaseContext context.Context
}

type App struct {
	Runner Runner
	Store  domain.ObjectStore
	Logger zerolog.Logger

	pool    *ants.Pool
	baseCtx context.Context
}

func NewApp(opts Options) (*App, error) {
	if opts.Runner == nil || opts.Store == nil {
		return nil, errors.New("handlers: runner and store are required")
	}
	size := opts.MaxRuns
	if size <= 0 {
		size = 2
	}
	logger := opts.Logger
	pool, err := ants.NewPool(size, ants.WithNonblocking(true), ants.WithPanicHandler(func(p interface{}) {
		logger.Error().Interface("panic", p).Msg("background run panicked")
	}))
	if err != nil {
		return nil, errors.Wrap(err, "handlers: run pool")
	}
	ctx := opts.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &App{Runner: opts.Runner, Store: opts.Store, Logger: logger, pool: pool, baseCtx: ctx}, nil
}

// Close releases the run pool. Runs already started stop when BaseContext
// is cancelled.
func (a *App) Close() {
	a.pool.Release()
}

// Running reports how many background pipelines are in flight.
func (a *App) Running() int {
	return a.pool.Running()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}
