package cluster

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// ErrPoolNotFound is returned when a pool does not exist on the cluster.
var ErrPoolNotFound = errors.New("pool not found")

// ConnConfig holds what is needed to open a handle to one cluster.
// ConfFile is the opaque ceph.conf style artifact owned by the client library.
type ConnConfig struct {
	ConfFile       string
	ClusterName    string
	User           string
	Keyring        string
	MonHost        string
	ConnectTimeout time.Duration
}

// String identifies the configuration in logs and reports.
func (c ConnConfig) String() string {
	if c.ConfFile != "" {
		return c.ConfFile
	}
	if c.MonHost != "" {
		return c.MonHost
	}
	return "<default>"
}

// Connector opens cluster handles.
type Connector interface {
	Connect(ctx context.Context, cfg ConnConfig) (Cluster, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg ConnConfig) (Cluster, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg ConnConfig) (Cluster, error) {
	return f(ctx, cfg)
}

// Cluster is a live handle to one storage cluster. It must be closed after use.
type Cluster interface {
	// ListPools returns the names of all pools on the cluster.
	ListPools(ctx context.Context) ([]string, error)

	// DescribePool returns placement metadata for a pool.
	DescribePool(ctx context.Context, name string) (domain.PoolDescriptor, error)

	// CreatePool creates a pool. It returns an error wrapping domain.ErrPoolExists
	// when the name is taken.
	CreatePool(ctx context.Context, desc domain.PoolDescriptor) error

	// OpenPool opens an I/O session against a pool.
	OpenPool(ctx context.Context, name string) (Pool, error)

	// Close releases the handle.
	Close() error
}

// Pool is an I/O session against one pool. Implementations must be safe for
// concurrent use by multiple goroutines.
type Pool interface {
	Name() string

	// Objects yields every object key in the pool. The sequence is finite,
	// may be ranged over again to restart the listing, and has no defined order.
	Objects(ctx context.Context) iter.Seq2[string, error]

	// Stat returns the payload size of an object.
	Stat(ctx context.Context, key string) (uint64, error)

	// Read fills buf from the object payload starting at offset.
	Read(ctx context.Context, key string, offset uint64, buf []byte) (int, error)

	// Xattrs returns all extended attributes of an object.
	Xattrs(ctx context.Context, key string) (map[string][]byte, error)

	// WriteFull replaces the object payload entirely.
	WriteFull(ctx context.Context, key string, data []byte) error

	// SetXattr sets one extended attribute on an object.
	SetXattr(ctx context.Context, key, name string, value []byte) error

	// RmXattr removes one extended attribute from an object.
	RmXattr(ctx context.Context, key, name string) error

	Close() error
}

// HasPool reports whether name is among the cluster's pools.
func HasPool(ctx context.Context, c Cluster, name string) (bool, error) {
	pools, err := c.ListPools(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range pools {
		if p == name {
			return true, nil
		}
	}
	return false, nil
}
