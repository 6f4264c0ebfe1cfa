package migrator

import (
	"sync"
	"time"

	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// reportBuilder accumulates a ReplicationReport from concurrent workers.
type reportBuilder struct {
	mu     sync.Mutex
	report domain.ReplicationReport
}

func newReportBuilder(pool string) *reportBuilder {
	return &reportBuilder{report: domain.ReplicationReport{
		Pool:      pool,
		StartedAt: time.Now(),
	}}
}

func (b *reportBuilder) attempt() {
	b.mu.Lock()
	b.report.Attempted++
	b.mu.Unlock()
}

func (b *reportBuilder) succeed(bytes int64) {
	b.mu.Lock()
	b.report.Succeeded++
	b.report.Bytes += bytes
	b.mu.Unlock()
}

func (b *reportBuilder) fail(key string, err error) {
	b.mu.Lock()
	b.report.Failed++
	b.report.Failures = append(b.report.Failures, domain.ObjectFailure{
		Key:   key,
		Error: err.Error(),
		Err:   err,
	})
	b.mu.Unlock()
}

func (b *reportBuilder) listFailed(err error) {
	b.mu.Lock()
	b.report.ListError = err.Error()
	b.mu.Unlock()
}

func (b *reportBuilder) interrupted() {
	b.mu.Lock()
	b.report.Interrupted = true
	b.mu.Unlock()
}

func (b *reportBuilder) finish() domain.ReplicationReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.FinishedAt = time.Now()
	r := b.report
	r.Failures = append([]domain.ObjectFailure(nil), b.report.Failures...)
	return r
}

// skippedReport records a pool that was never replicated.
func skippedReport(pool string, err error) domain.ReplicationReport {
	now := time.Now()
	return domain.ReplicationReport{
		Pool:       pool,
		Skipped:    true,
		PoolError:  err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
}
