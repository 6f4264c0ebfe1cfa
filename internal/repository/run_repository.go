package repository

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunRepository persists migration run history.
type RunRepository interface {
	SaveRun(ctx context.Context, summary *domain.RunSummary) error
	GetRun(ctx context.Context, id string) (*domain.RunSummary, error)
	// ListRuns returns runs newest first, with pool reports but without object failures.
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.RunSummary, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)
}
