package domain

import "strings"

// RunState is a step of the migration state machine.
type RunState string

const (
	StateDisconnected  RunState = "disconnected"
	StateConnected     RunState = "connected"
	StateDiscovering   RunState = "discovering"
	StateProvisioning  RunState = "provisioning"
	StateReplicating   RunState = "replicating"
	StateDisconnecting RunState = "disconnecting"
	StateCompleted     RunState = "completed"
	StateFailed        RunState = "failed"
)

var runStateLabels = map[RunState]string{
	StateDisconnected:  "Disconnected",
	StateConnected:     "Connected",
	StateDiscovering:   "Discovering",
	StateProvisioning:  "Provisioning",
	StateReplicating:   "Replicating",
	StateDisconnecting: "Disconnecting",
	StateCompleted:     "Completed",
	StateFailed:        "Failed",
}

// Label returns a human-readable label for a run state.
func (s RunState) Label() string {
	if label, ok := runStateLabels[s]; ok {
		return label
	}

	return "Unknown"
}

// ParseRunState returns the state for a given label (case-insensitive).
func ParseRunState(label string) (RunState, bool) {
	s := RunState(strings.ToLower(strings.TrimSpace(label)))
	_, ok := runStateLabels[s]

	return s, ok
}

// PoolExistsPolicy decides what happens when a pool already exists on the destination.
type PoolExistsPolicy string

const (
	// PoolExistsSkip records the pool as skipped and continues with the next one.
	PoolExistsSkip PoolExistsPolicy = "skip"
	// PoolExistsMerge replicates into the existing pool, overwriting objects by key.
	PoolExistsMerge PoolExistsPolicy = "merge"
	// PoolExistsFail aborts the run.
	PoolExistsFail PoolExistsPolicy = "fail"
)

// ParsePoolExistsPolicy parses a policy name (case-insensitive).
func ParsePoolExistsPolicy(s string) (PoolExistsPolicy, bool) {
	switch p := PoolExistsPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PoolExistsSkip, PoolExistsMerge, PoolExistsFail:
		return p, true
	case "":
		return PoolExistsSkip, true
	default:
		return "", false
	}
}
