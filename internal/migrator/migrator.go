// Package migrator copies every pool and object of one cluster into another.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// Migrator runs discovery, provisioning and replication between two clusters.
type Migrator struct {
	connector cluster.Connector
	opts      Options
	observer  Observer

	mu    sync.Mutex
	state domain.RunState
}

// New creates a Migrator. A nil observer disables callbacks.
func New(connector cluster.Connector, opts Options, observer Observer) *Migrator {
	opts = opts.normalized()
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Migrator{
		connector: connector,
		opts:      opts,
		observer:  observer,
		state:     domain.StateDisconnected,
	}
}

// RunID identifies the run in logs, progress keys and history.
func (m *Migrator) RunID() string { return m.opts.RunID }

// State returns the current state of the run.
func (m *Migrator) State() domain.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Migrator) setState(ctx context.Context, state domain.RunState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.observer.StateChanged(ctx, state)
}

// Connect opens both clusters. When the destination fails, the source
// handle is closed before the error is returned.
func (m *Migrator) Connect(ctx context.Context, source, dest cluster.ConnConfig) (cluster.Cluster, cluster.Cluster, error) {
	src, err := m.connect(ctx, domain.SideSource, source)
	if err != nil {
		return nil, nil, err
	}

	dst, err := m.connect(ctx, domain.SideDestination, dest)
	if err != nil {
		closeCluster(domain.SideSource, src)
		return nil, nil, err
	}

	return src, dst, nil
}

func (m *Migrator) connect(ctx context.Context, side domain.Side, cfg cluster.ConnConfig) (cluster.Cluster, error) {
	c, err := m.connector.Connect(ctx, cfg)
	if err == nil {
		logger.Log.Info().Str("side", string(side)).Str("config", cfg.String()).Msg("Cluster connected")
		return c, nil
	}

	var connErr *domain.ConnectionError
	if errors.As(err, &connErr) {
		wrapped := *connErr
		wrapped.Side = side
		if wrapped.Config == "" {
			wrapped.Config = cfg.String()
		}
		return nil, &wrapped
	}
	return nil, &domain.ConnectionError{
		Side:   side,
		Stage:  domain.StageHandshake,
		Config: cfg.String(),
		Err:    err,
	}
}

func closeCluster(side domain.Side, c cluster.Cluster) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Log.Warn().Err(err).Str("side", string(side)).Msg("Failed to release cluster handle")
		return
	}
	logger.Log.Info().Str("side", string(side)).Msg("Cluster handle released")
}

// DiscoverPools lists the pools on src, filtered by the include/exclude options.
func (m *Migrator) DiscoverPools(ctx context.Context, src cluster.Cluster) ([]string, error) {
	if src == nil {
		return nil, &domain.DiscoveryError{Err: domain.ErrNoCluster}
	}

	pools, err := src.ListPools(ctx)
	if err != nil {
		return nil, &domain.DiscoveryError{Err: err}
	}

	selected := m.opts.selectPools(pools)
	logger.Log.Info().Strs("pools", selected).Int("total", len(pools)).Msg("Discovered pools")
	return selected, nil
}

// ProvisionPool creates name on dst, applying meta's placement when given.
// It returns a *domain.PoolError of kind exists when the pool is already there.
func (m *Migrator) ProvisionPool(ctx context.Context, dst cluster.Cluster, name string, meta *domain.PoolDescriptor) error {
	if dst == nil {
		return &domain.PoolError{Pool: name, Kind: domain.PoolErrCreate, Err: domain.ErrNoCluster}
	}

	exists, err := cluster.HasPool(ctx, dst, name)
	if err != nil {
		return &domain.PoolError{Pool: name, Kind: domain.PoolErrCreate, Err: fmt.Errorf("list destination pools: %w", err)}
	}
	if exists {
		return &domain.PoolError{Pool: name, Kind: domain.PoolErrExists, Err: domain.ErrPoolExists}
	}

	desc := domain.PoolDescriptor{Name: name}
	if meta != nil && m.opts.PreservePlacement {
		desc = *meta
		desc.Name = name
	}

	if m.opts.DryRun {
		logger.Log.Info().Str("pool", name).Msg("Dry run: would create pool")
		return nil
	}

	if err := dst.CreatePool(ctx, desc); err != nil {
		if errors.Is(err, domain.ErrPoolExists) {
			return &domain.PoolError{Pool: name, Kind: domain.PoolErrExists, Err: err}
		}
		return &domain.PoolError{Pool: name, Kind: domain.PoolErrCreate, Err: err}
	}

	logger.Log.Info().
		Str("pool", name).
		Int("pg_num", desc.PGNum).
		Int("pgp_num", desc.PGPNum).
		Str("pool_type", string(desc.Type)).
		Msg("Created pool")
	return nil
}

// Run migrates every discovered pool and returns one report per pool in
// discovery order. Both cluster handles are released on every path.
func (m *Migrator) Run(ctx context.Context, source, dest cluster.ConnConfig) ([]domain.ReplicationReport, error) {
	summary, err := m.RunWithSummary(ctx, source, dest)
	return summary.Pools, err
}

// RunWithSummary is Run returning the full run record.
func (m *Migrator) RunWithSummary(ctx context.Context, source, dest cluster.ConnConfig) (summary domain.RunSummary, err error) {
	summary = domain.RunSummary{
		ID:          m.opts.RunID,
		Source:      source.String(),
		Destination: dest.String(),
		DryRun:      m.opts.DryRun,
		State:       domain.StateDisconnected,
		StartedAt:   time.Now(),
	}

	// The machine ends in Disconnected or Failed; the summary records the
	// outcome, Completed or Failed.
	finish := func() {
		summary.FinishedAt = time.Now()
		if err != nil {
			summary.State = domain.StateFailed
			summary.Error = err.Error()
			m.setState(ctx, domain.StateFailed)
			return
		}
		summary.State = domain.StateCompleted
		m.setState(ctx, domain.StateDisconnected)
	}

	src, dst, err := m.Connect(ctx, source, dest)
	if err != nil {
		finish()
		return summary, err
	}
	m.setState(ctx, domain.StateConnected)

	defer func() {
		m.setState(ctx, domain.StateDisconnecting)
		closeCluster(domain.SideDestination, dst)
		closeCluster(domain.SideSource, src)
		finish()
	}()

	m.setState(ctx, domain.StateDiscovering)
	pools, err := m.DiscoverPools(ctx, src)
	if err != nil {
		return summary, err
	}

	for _, name := range pools {
		if err = ctx.Err(); err != nil {
			logger.Log.Warn().Str("pool", name).Msg("Run cancelled, remaining pools not replicated")
			return summary, err
		}

		report, poolErr := m.migratePool(ctx, src, dst, name)
		summary.Pools = append(summary.Pools, report)
		if poolErr != nil {
			err = poolErr
			return summary, err
		}
		if report.Interrupted {
			err = ctx.Err()
			return summary, err
		}
	}

	return summary, nil
}

// migratePool provisions and replicates one pool. It returns an error only
// when the run must stop.
func (m *Migrator) migratePool(ctx context.Context, src, dst cluster.Cluster, name string) (domain.ReplicationReport, error) {
	m.setState(ctx, domain.StateProvisioning)

	var meta *domain.PoolDescriptor
	if m.opts.PreservePlacement {
		desc, err := src.DescribePool(ctx, name)
		if err != nil {
			logger.Log.Warn().Err(err).Str("pool", name).Msg("Could not read pool placement, using destination defaults")
		} else {
			meta = &desc
		}
	}

	if err := m.ProvisionPool(ctx, dst, name, meta); err != nil {
		var poolErr *domain.PoolError
		exists := errors.As(err, &poolErr) && poolErr.Kind == domain.PoolErrExists

		switch {
		case exists && m.opts.PoolExists == domain.PoolExistsMerge:
			logger.Log.Info().Str("pool", name).Msg("Pool exists on destination, merging")
		case exists && m.opts.PoolExists == domain.PoolExistsFail:
			report := skippedReport(name, err)
			m.observer.PoolFinished(ctx, report)
			return report, err
		default:
			logger.Log.Warn().Err(err).Str("pool", name).Msg("Skipping pool")
			report := skippedReport(name, err)
			m.observer.PoolFinished(ctx, report)
			return report, nil
		}
	}

	m.setState(ctx, domain.StateReplicating)
	report, err := m.ReplicatePool(ctx, src, dst, name)
	if err != nil {
		logger.Log.Warn().Err(err).Str("pool", name).Msg("Skipping pool")
		report = skippedReport(name, err)
		m.observer.PoolFinished(ctx, report)
	}
	return report, nil
}
