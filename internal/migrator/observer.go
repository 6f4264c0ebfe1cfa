package migrator

import (
	"context"

	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// Observer receives progress callbacks. ObjectCopied is called from worker
// goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	StateChanged(ctx context.Context, state domain.RunState)
	PoolStarted(ctx context.Context, pool string)
	ObjectCopied(ctx context.Context, pool, key string, size int64, err error)
	PoolFinished(ctx context.Context, report domain.ReplicationReport)
}

// Observers fans callbacks out to several observers in order.
type Observers []Observer

func (o Observers) StateChanged(ctx context.Context, state domain.RunState) {
	for _, obs := range o {
		obs.StateChanged(ctx, state)
	}
}

func (o Observers) PoolStarted(ctx context.Context, pool string) {
	for _, obs := range o {
		obs.PoolStarted(ctx, pool)
	}
}

func (o Observers) ObjectCopied(ctx context.Context, pool, key string, size int64, err error) {
	for _, obs := range o {
		obs.ObjectCopied(ctx, pool, key, size, err)
	}
}

func (o Observers) PoolFinished(ctx context.Context, report domain.ReplicationReport) {
	for _, obs := range o {
		obs.PoolFinished(ctx, report)
	}
}

// LogObserver writes progress to the global logger.
type LogObserver struct {
	RunID string
}

func (l LogObserver) StateChanged(_ context.Context, state domain.RunState) {
	logger.Log.Debug().Str("run_id", l.RunID).Str("state", string(state)).Msg("Migration state changed")
}

func (l LogObserver) PoolStarted(_ context.Context, pool string) {
	logger.Log.Info().Str("run_id", l.RunID).Str("pool", pool).Msg("Replicating pool")
}

func (l LogObserver) ObjectCopied(_ context.Context, pool, key string, size int64, err error) {
	if err != nil {
		logger.Log.Warn().Err(err).Str("pool", pool).Str("key", key).Msg("Object copy failed")
		return
	}
	logger.Log.Debug().Str("pool", pool).Str("key", key).Int64("bytes", size).Msg("Object copied")
}

func (l LogObserver) PoolFinished(_ context.Context, r domain.ReplicationReport) {
	event := logger.Log.Info()
	if r.HasFailures() {
		event = logger.Log.Warn()
	}
	event.
		Str("run_id", l.RunID).
		Str("pool", r.Pool).
		Int("attempted", r.Attempted).
		Int("succeeded", r.Succeeded).
		Int("failed", r.Failed).
		Int64("bytes", r.Bytes).
		Bool("skipped", r.Skipped).
		Bool("interrupted", r.Interrupted).
		Dur("duration", r.FinishedAt.Sub(r.StartedAt)).
		Msg("Pool finished")
}

type nopObserver struct{}

func (nopObserver) StateChanged(context.Context, domain.RunState) {}
func (nopObserver) PoolStarted(context.Context, string) {}
func (nopObserver) ObjectCopied(context.Context, string, string, int64, error) {}
func (nopObserver) PoolFinished(context.Context, domain.ReplicationReport) {}
