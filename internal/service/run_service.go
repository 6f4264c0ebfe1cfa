package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/radosmigrate/internal/cache"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/internal/repository"
	"github.com/andresuchdata/radosmigrate/internal/storage"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// ErrHistoryDisabled is returned by queries that need the history database.
var ErrHistoryDisabled = errors.New("run history database is not configured")

// RunService records finished runs and serves them back to the CLI and HTTP API.
// Any of its collaborators may be nil except the caches.
type RunService struct {
	repo      repository.RunRepository
	summaries cache.RunSummaryCache
	progress  cache.ProgressCache
	archive   *storage.Archive
	now       func() time.Time
}

func NewRunService(repo repository.RunRepository, summaries cache.RunSummaryCache, progress cache.ProgressCache, archive *storage.Archive) *RunService {
	if summaries == nil {
		summaries = cache.NewNoopRunSummaryCache()
	}
	if progress == nil {
		progress = cache.NewNoopProgressCache()
	}
	return &RunService{
		repo:      repo,
		summaries: summaries,
		progress:  progress,
		archive:   archive,
		now:       time.Now,
	}
}

func (s *RunService) Progress() cache.ProgressCache {
	return s.progress
}

// Record persists a finished run to every configured sink. A failing sink does
// not stop the others; all failures are returned joined.
func (s *RunService) Record(ctx context.Context, summary *domain.RunSummary) error {
	var errs []error

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("save run history: %w", err))
		}
	}

	if err := s.summaries.SetSummary(ctx, summary); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", summary.ID).Msg("failed to cache run summary")
	}

	if s.archive != nil {
		key, err := s.archive.Put(ctx, summary)
		if err != nil {
			errs = append(errs, err)
		} else {
			logger.Log.Info().Str("run_id", summary.ID).Str("key", key).Msg("run summary archived")
		}
	}

	if err := s.progress.ClearRun(ctx, summary.ID); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", summary.ID).Msg("failed to clear live progress")
	}

	return errors.Join(errs...)
}

// GetRun reads through the summary cache, then the database, then the archive.
func (s *RunService) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	if cached, ok, err := s.summaries.GetSummary(ctx, id); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", id).Msg("run summary cache read failed")
	} else if ok {
		return cached, nil
	}

	summary, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.summaries.SetSummary(ctx, summary); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", id).Msg("failed to cache run summary")
	}
	return summary, nil
}

func (s *RunService) lookup(ctx context.Context, id string) (*domain.RunSummary, error) {
	if s.repo != nil {
		summary, err := s.repo.GetRun(ctx, id)
		if err == nil || !errors.Is(err, repository.ErrRunNotFound) || s.archive == nil {
			return summary, err
		}
	}
	if s.archive == nil {
		return nil, repository.ErrRunNotFound
	}

	summary, err := s.archive.Get(ctx, id)
	if err != nil {
		logger.Log.Debug().Err(err).Str("run_id", id).Msg("run not found in archive")
		return nil, repository.ErrRunNotFound
	}
	return summary, nil
}

func (s *RunService) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.ListRuns(ctx, filter)
}

// GetProgress returns live counters while a run is in flight and falls back
// to the recorded reports once it has finished.
func (s *RunService) GetProgress(ctx context.Context, id string) (domain.RunState, []domain.PoolProgress, error) {
	state, pools, err := s.progress.GetRunProgress(ctx, id)
	if err == nil {
		return state, pools, nil
	}
	if !errors.Is(err, cache.ErrProgressNotFound) {
		logger.Log.Warn().Err(err).Str("run_id", id).Msg("live progress read failed")
	}

	summary, err := s.GetRun(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return summary.State, progressFromSummary(summary), nil
}

func progressFromSummary(summary *domain.RunSummary) []domain.PoolProgress {
	out := make([]domain.PoolProgress, 0, len(summary.Pools))
	for _, r := range summary.Pools {
		state := domain.StateCompleted
		if r.HasFailures() {
			state = domain.StateFailed
		}
		out = append(out, domain.PoolProgress{
			Pool:      r.Pool,
			State:     state,
			Attempted: int64(r.Attempted),
			Succeeded: int64(r.Succeeded),
			Failed:    int64(r.Failed),
			Bytes:     r.Bytes,
		})
	}
	return out
}

// Prune deletes runs that started more than olderThan ago.
func (s *RunService) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, ErrHistoryDisabled
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune age must be positive, got %s", olderThan)
	}

	deleted, err := s.repo.DeleteRunsBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if err := s.summaries.InvalidateAll(ctx); err != nil {
			logger.Log.Warn().Err(err).Msg("failed to invalidate run summary cache")
		}
	}
	return deleted, nil
}
