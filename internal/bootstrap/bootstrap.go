// Package bootstrap wires configuration into a ready pipeline: storage,
// credentials, provider chains, stages and the sequencer. Both binaries
// share it.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/infra/credentials"
	"shortforge/internal/jobs"
	"shortforge/internal/pipeline"
	"shortforge/internal/prompts"
	"shortforge/internal/providers"
	"shortforge/internal/render"
	"shortforge/internal/stages"
	"shortforge/internal/storage"
)

// Runtime holds everything a command needs. Close releases it.
type Runtime struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	DB          *pgxpool.Pool
	Store       domain.ObjectStore
	Credentials *credentials.Store
	Registry    *providers.Registry
	Sequencer   *pipeline.Sequencer

	closers []func()
}

// New opens the database when DATABASE_URL is set, selects the object store
// and builds the sequencer over all six stages.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var sql infra.SQLExecutor
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.DB = pool
		rt.closers = append(rt.closers, pool.Close)
		sql = infra.NewSQLRunner(pool, logger)
	}

	rt.Credentials = credentials.NewStore(sql, cfg.ProviderKeys())
	if err := rt.Credentials.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, sql)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	if c, isCloser := store.(interface{ Close() error }); isCloser {
		rt.closers = append(rt.closers, func() { _ = c.Close() })
	}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	rt.Registry, err = providers.NewRegistry(ctx, providers.Options{
		Config:      cfg,
		Credentials: rt.Credentials,
		HTTPClient:  httpClient,
		Logger:      &rt.Logger,
	})
	if err != nil {
		return nil, err
	}
	for _, kind := range domain.JobKinds {
		logger.Debug().Str("kind", string(kind)).Strs("chain", rt.Registry.ChainNames(kind)).Msg("provider chain")
	}

	poller := jobs.NewPoller(jobs.PollerOptions{Logger: &rt.Logger})
	deps := stages.Deps{
		Routers:          rt.Registry.Routers(poller),
		Prompts:          prompts.NewBuilder(),
		Renderer:         render.NewFFmpeg(cfg.FFmpegPath, &rt.Logger),
		HTTPClient:       httpClient,
		Logger:           &rt.Logger,
		ImageConcurrency: cfg.ImageConcurrency,
		AudioConcurrency: cfg.AudioConcurrency,
		VideoDelay:       cfg.VideoSceneDelay,
	}
	rt.Sequencer = pipeline.NewSequencer(store, stages.All(deps), pipeline.Options{Logger: &rt.Logger})

	ok = true
	return rt, nil
}

// OpenStore returns the object store selected by STORAGE_BACKEND.
func OpenStore(ctx context.Context, cfg *infra.Config, sql infra.SQLExecutor) (domain.ObjectStore, error) {
	switch cfg.StorageBackend {
	case infra.StorageFS, "":
		return storage.NewFileStore(cfg.StoragePath)
	case infra.StorageMemory:
		return storage.NewMemoryStore(), nil
	case infra.StorageGCS:
		return storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	case infra.StorageS3:
		return storage.NewS3Store(storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		})
	case infra.StoragePostgres:
		if sql == nil {
			return nil, errors.New("bootstrap: postgres storage needs DATABASE_URL")
		}
		store := storage.NewPostgresStore(sql)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Newf("bootstrap: unknown storage backend %q", cfg.StorageBackend)
	}
}

// Close runs the registered closers in reverse order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
