package migrator

import (
	"context"
	"fmt"
	"io"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

// ReplicatePool copies every object of pool name from src to dst.
//
// Per-object failures are recorded in the report and do not stop the pool.
// An error is returned only when a pool session cannot be opened. Both
// sessions are closed before returning.
func (m *Migrator) ReplicatePool(ctx context.Context, src, dst cluster.Cluster, name string) (domain.ReplicationReport, error) {
	if src == nil || (dst == nil && !m.opts.DryRun) {
		return domain.ReplicationReport{}, &domain.PoolError{Pool: name, Kind: domain.PoolErrOpen, Err: domain.ErrNoCluster}
	}

	srcPool, err := src.OpenPool(ctx, name)
	if err != nil {
		return domain.ReplicationReport{}, &domain.PoolError{Pool: name, Kind: domain.PoolErrOpen, Err: fmt.Errorf("source: %w", err)}
	}
	defer closePool(domain.SideSource, srcPool)

	var dstPool cluster.Pool
	if !m.opts.DryRun {
		dstPool, err = dst.OpenPool(ctx, name)
		if err != nil {
			return domain.ReplicationReport{}, &domain.PoolError{Pool: name, Kind: domain.PoolErrOpen, Err: fmt.Errorf("destination: %w", err)}
		}
		defer closePool(domain.SideDestination, dstPool)
	}

	m.observer.PoolStarted(ctx, name)
	rb := newReportBuilder(name)

	var g errgroup.Group
	g.SetLimit(m.opts.Workers)

	for key, err := range srcPool.Objects(ctx) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			rb.listFailed(err)
			logger.Log.Error().Err(err).Str("pool", name).Msg("Object listing failed")
			break
		}

		rb.attempt()
		// Go blocks while Workers copies are in flight.
		g.Go(func() error {
			size, err := m.copyObject(ctx, srcPool, dstPool, key)
			if err != nil {
				rb.fail(key, err)
			} else {
				rb.succeed(size)
			}
			m.observer.ObjectCopied(ctx, name, key, size, err)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		rb.interrupted()
	}

	report := rb.finish()
	m.observer.PoolFinished(ctx, report)
	return report, nil
}

func closePool(side domain.Side, p cluster.Pool) {
	if err := p.Close(); err != nil {
		logger.Log.Warn().Err(err).Str("side", string(side)).Str("pool", p.Name()).Msg("Failed to close pool session")
	}
}

// copyObject reads one object from src and writes it to dst. With a nil dst
// (dry run) the object is read but not written.
func (m *Migrator) copyObject(ctx context.Context, src, dst cluster.Pool, key string) (int64, error) {
	fail := func(op domain.CopyOp, err error) (int64, error) {
		return 0, &domain.ObjectCopyError{Pool: src.Name(), Key: key, Op: op, Err: err}
	}

	record, err := m.readObject(ctx, src, key)
	if err != nil {
		return 0, err
	}

	if dst == nil {
		return int64(len(record.Data)), nil
	}

	if err := dst.WriteFull(ctx, key, record.Data); err != nil {
		return fail(domain.OpWrite, err)
	}

	// Sorted so retries and logs are reproducible.
	names := make([]string, 0, len(record.Attributes))
	for n := range record.Attributes {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if err := dst.SetXattr(ctx, key, n, record.Attributes[n]); err != nil {
			return fail(domain.OpSetXattr, fmt.Errorf("xattr %q: %w", n, err))
		}
	}

	// A merged object may already carry attributes the source does not have.
	if m.opts.PoolExists == domain.PoolExistsMerge {
		if err := pruneXattrs(ctx, dst, key, record.Attributes); err != nil {
			return fail(domain.OpRmXattr, err)
		}
	}

	return int64(len(record.Data)), nil
}

// pruneXattrs removes every attribute of the destination object that is not in keep.
func pruneXattrs(ctx context.Context, dst cluster.Pool, key string, keep map[string][]byte) error {
	existing, err := dst.Xattrs(ctx, key)
	if err != nil {
		return fmt.Errorf("list destination xattrs: %w", err)
	}
	stale := make([]string, 0, len(existing))
	for n := range existing {
		if _, ok := keep[n]; !ok {
			stale = append(stale, n)
		}
	}
	slices.Sort(stale)
	for _, n := range stale {
		if err := dst.RmXattr(ctx, key, n); err != nil {
			return fmt.Errorf("xattr %q: %w", n, err)
		}
	}
	return nil
}

// readObject reads the full payload in ChunkSize reads plus all xattrs.
func (m *Migrator) readObject(ctx context.Context, src cluster.Pool, key string) (domain.ObjectRecord, error) {
	fail := func(op domain.CopyOp, err error) (domain.ObjectRecord, error) {
		return domain.ObjectRecord{}, &domain.ObjectCopyError{Pool: src.Name(), Key: key, Op: op, Err: err}
	}

	size, err := src.Stat(ctx, key)
	if err != nil {
		return fail(domain.OpStat, err)
	}

	data := make([]byte, size)
	var offset uint64
	for offset < size {
		end := min(offset+uint64(m.opts.ChunkSize), size)
		n, err := src.Read(ctx, key, offset, data[offset:end])
		if err != nil {
			return fail(domain.OpRead, err)
		}
		if n == 0 {
			return fail(domain.OpRead, fmt.Errorf("read %d of %d bytes: %w", offset, size, io.ErrUnexpectedEOF))
		}
		offset += uint64(n)
	}

	attrs, err := src.Xattrs(ctx, key)
	if err != nil {
		return fail(domain.OpXattrs, err)
	}

	return domain.ObjectRecord{Key: key, Data: data, Attributes: attrs}, nil
}
