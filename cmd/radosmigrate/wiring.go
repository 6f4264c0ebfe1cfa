package main

import (
	"context"

	"github.com/andresuchdata/radosmigrate/internal/cache"
	"github.com/andresuchdata/radosmigrate/internal/config"
	"github.com/andresuchdata/radosmigrate/internal/repository"
	"github.com/andresuchdata/radosmigrate/internal/repository/postgres"
	"github.com/andresuchdata/radosmigrate/internal/service"
	"github.com/andresuchdata/radosmigrate/internal/storage"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// sinkOpeners builds each run history sink. Each sink is opened on its own so
// one that cannot be reached does not take the others down with it.
type sinkOpeners struct {
	repo      func(ctx context.Context, cfg *config.DatabaseConfig) (repository.RunRepository, func() error, error)
	progress  func(cfg config.CacheConfig) (cache.ProgressCache, error)
	summaries func(cfg config.CacheConfig) (cache.RunSummaryCache, error)
	archive   func(cfg config.ArchiveConfig) (*storage.Archive, error)
}

func defaultSinks() sinkOpeners {
	return sinkOpeners{
		repo:      openPostgres,
		progress:  cache.NewProgressCache,
		summaries: cache.NewRunSummaryCache,
		archive:   storage.NewArchiveFromConfig,
	}
}

// openRunService connects the configured history sinks: Postgres, Redis and
// the object archive. Disabled sinks are absent; a sink that fails to open is
// logged and replaced by its disabled form.
func openRunService(ctx context.Context, cfg *config.Config) (*service.RunService, func(), error) {
	return defaultSinks().open(ctx, cfg)
}

func (s sinkOpeners) open(ctx context.Context, cfg *config.Config) (*service.RunService, func(), error) {
	var (
		repo    repository.RunRepository
		closers []func() error
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to release run history resource")
			}
		}
	}

	if cfg.Database.Enabled {
		r, closeRepo, err := s.repo(ctx, &cfg.Database)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("Run history database unavailable, runs will not be stored in it")
		} else {
			repo = r
			closers = append(closers, closeRepo)
		}
	}

	progress, err := s.progress(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Progress cache unavailable, live progress disabled")
		progress = cache.NewNoopProgressCache()
	}
	closers = append(closers, progress.Close)

	summaries, err := s.summaries(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Run summary cache unavailable, reads go to the history store")
		summaries = cache.NewNoopRunSummaryCache()
	}
	closers = append(closers, summaries.Close)

	archive, err := s.archive(cfg.Archive)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Run archive unavailable, summaries will not be archived")
		archive = nil
	}

	return service.NewRunService(repo, summaries, progress, archive), release, nil
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (repository.RunRepository, func() error, error) {
	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return postgres.NewRunRepository(db), db.Close, nil
}
