package migrator

import (
	"slices"

	"github.com/andresuchdata/radosmigrate/internal/domain"
)

const (
	defaultWorkers   = 1
	defaultChunkSize = 4 * 1024 * 1024 // 4MB
)

// Options tunes a migration run.
type Options struct {
	RunID             string
	Workers           int                     // Number of concurrent object copies per pool
	ChunkSize         int                     // Max bytes per read call
	PoolExists        domain.PoolExistsPolicy // What to do when the destination pool exists
	PreservePlacement bool                    // Recreate pools with the source pg_num/pgp_num/type
	DryRun            bool                    // Read everything, write nothing
	IncludePools      []string                // Only these pools, when non-empty
	ExcludePools      []string                // Never these pools
}

// DefaultOptions returns the sequential baseline.
func DefaultOptions() Options {
	return Options{
		Workers:           defaultWorkers,
		ChunkSize:         defaultChunkSize,
		PoolExists:        domain.PoolExistsSkip,
		PreservePlacement: true,
	}
}

func (o Options) normalized() Options {
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.PoolExists == "" {
		o.PoolExists = domain.PoolExistsSkip
	}
	return o
}

// selectPools applies the include/exclude filters, keeping discovery order.
func (o Options) selectPools(pools []string) []string {
	if len(o.IncludePools) == 0 && len(o.ExcludePools) == 0 {
		return pools
	}
	selected := make([]string, 0, len(pools))
	for _, p := range pools {
		if len(o.IncludePools) > 0 && !slices.Contains(o.IncludePools, p) {
			continue
		}
		if slices.Contains(o.ExcludePools, p) {
			continue
		}
		selected = append(selected, p)
	}
	return selected
}
