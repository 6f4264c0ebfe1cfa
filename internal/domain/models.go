// internal/domain/models.go
package domain

import (
	"strings"
	"time"
)

// PoolType is the data protection scheme of a pool.
type PoolType string

const (
	PoolTypeUnknown    PoolType = ""
	PoolTypeReplicated PoolType = "replicated"
	PoolTypeErasure    PoolType = "erasure"
)

// ParsePoolType maps a ceph pool type name or numeric code to a PoolType.
func ParsePoolType(s string) PoolType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replicated", "1":
		return PoolTypeReplicated
	case "erasure", "3":
		return PoolTypeErasure
	default:
		return PoolTypeUnknown
	}
}

// PoolDescriptor identifies a pool and carries the placement parameters
// needed to recreate it elsewhere. Zero values mean "cluster default".
type PoolDescriptor struct {
	Name   string   `json:"name"`
	PGNum  int      `json:"pg_num,omitempty"`
	PGPNum int      `json:"pgp_num,omitempty"`
	Type   PoolType `json:"pool_type,omitempty"`
}

// HasPlacement reports whether any placement parameter is set.
func (d PoolDescriptor) HasPlacement() bool {
	return d.PGNum > 0 || d.PGPNum > 0 || d.Type != PoolTypeUnknown
}

// ObjectRecord is one object read from a source pool: payload plus xattrs.
type ObjectRecord struct {
	Key        string
	Data       []byte
	Attributes map[string][]byte
}

// ObjectFailure pairs an object key with the error that stopped its copy.
type ObjectFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// ReplicationReport summarizes one pool's replication.
type ReplicationReport struct {
	Pool        string          `json:"pool"`
	Attempted   int             `json:"attempted"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Bytes       int64           `json:"bytes"`
	Failures    []ObjectFailure `json:"failures,omitempty"`
	ListError   string          `json:"list_error,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"`
	PoolError   string          `json:"pool_error,omitempty"`
	Interrupted bool            `json:"interrupted,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// HasFailures reports whether the pool was skipped or lost any object.
func (r ReplicationReport) HasFailures() bool {
	return r.Failed > 0 || r.Skipped || r.Interrupted || r.ListError != ""
}

// RunSummary is the persisted record of one migration run.
type RunSummary struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	Destination string              `json:"destination"`
	State       RunState            `json:"state"`
	DryRun      bool                `json:"dry_run"`
	Pools       []ReplicationReport `json:"pools"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// HasFailures reports whether any pool in the run reported failures.
func (s RunSummary) HasFailures() bool {
	for _, p := range s.Pools {
		if p.HasFailures() {
			return true
		}
	}
	return false
}

// Totals sums object counters across all pools.
func (s RunSummary) Totals() (attempted, succeeded, failed int, bytes int64) {
	for _, p := range s.Pools {
		attempted += p.Attempted
		succeeded += p.Succeeded
		failed += p.Failed
		bytes += p.Bytes
	}
	return attempted, succeeded, failed, bytes
}

// PoolProgress is the live view of a pool being replicated.
type PoolProgress struct {
	Pool      string   `json:"pool"`
	State     RunState `json:"state"`
	Attempted int64    `json:"attempted"`
	Succeeded int64    `json:"succeeded"`
	Failed    int64    `json:"failed"`
	Bytes     int64    `json:"bytes"`
}

// RunFilter narrows a run history listing.
type RunFilter struct {
	Limit  int
	States []RunState
	Pool   string
}
