package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExists is returned when creating a pool whose name is taken.
	ErrPoolExists = errors.New("pool already exists")
	// ErrNoCluster is returned when an operation receives a nil cluster handle.
	ErrNoCluster = errors.New("cluster handle is not connected")
)

// Side names which of the two clusters an error relates to.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// ConnectStage distinguishes invalid configuration from a failed handshake.
type ConnectStage string

const (
	StageConfigure ConnectStage = "configure"
	StageHandshake ConnectStage = "handshake"
)

// ConnectionError means a cluster handle could not be established.
type ConnectionError struct {
	Side   Side
	Stage  ConnectStage
	Config string
	Err    error
}

func (e *ConnectionError) Error() string {
	switch e.Stage {
	case StageConfigure:
		return fmt.Sprintf("%s cluster: invalid configuration %q: %v", e.Side, e.Config, e.Err)
	default:
		return fmt.Sprintf("%s cluster: connect using %q: %v", e.Side, e.Config, e.Err)
	}
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DiscoveryError means the pool listing of the source cluster failed.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover pools: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// PoolErrorKind classifies a provisioning failure.
type PoolErrorKind string

const (
	PoolErrExists PoolErrorKind = "exists"
	PoolErrCreate PoolErrorKind = "create"
	PoolErrOpen   PoolErrorKind = "open"
)

// PoolError is a per-pool provisioning or session failure.
type PoolError struct {
	Pool string
	Kind PoolErrorKind
	Err  error
}

func (e *PoolError) Error() string {
	switch e.Kind {
	case PoolErrExists:
		return fmt.Sprintf("pool %q: %v", e.Pool, e.Err)
	case PoolErrOpen:
		return fmt.Sprintf("open pool %q: %v", e.Pool, e.Err)
	default:
		return fmt.Sprintf("create pool %q: %v", e.Pool, e.Err)
	}
}

func (e *PoolError) Unwrap() error { return e.Err }

// CopyOp names the step of an object copy that failed.
type CopyOp string

const (
	OpList     CopyOp = "list"
	OpStat     CopyOp = "stat"
	OpRead     CopyOp = "read"
	OpXattrs   CopyOp = "read-xattrs"
	OpWrite    CopyOp = "write"
	OpSetXattr CopyOp = "set-xattr"
	OpRmXattr  CopyOp = "remove-xattr"
)

// ObjectCopyError is a per-object failure recorded in a ReplicationReport.
type ObjectCopyError struct {
	Pool string
	Key  string
	Op   CopyOp
	Err  error
}

func (e *ObjectCopyError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Pool, e.Key, e.Err)
}

func (e *ObjectCopyError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends a run rather than a single pool or object.
func IsFatal(err error) bool {
	var (
		connErr *ConnectionError
		discErr *DiscoveryError
	)
	return errors.As(err, &connErr) || errors.As(err, &discErr)
}
