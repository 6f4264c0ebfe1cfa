package migrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/cluster/memory"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

var (
	srcConf = cluster.ConnConfig{ConfFile: "/etc/ceph/export.conf"}
	dstConf = cluster.ConnConfig{ConfFile: "/etc/ceph/import.conf"}
)

func newClusters(t *testing.T) (*memory.Store, *memory.Store, *memory.Connector) {
	t.Helper()
	src, dst := memory.New(), memory.New()
	conn := memory.NewConnector(map[string]*memory.Store{
		srcConf.ConfFile: src,
		dstConf.ConfFile: dst,
	})
	return src, dst, conn
}

func TestRun_TwoPoolScenario(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.Put("pool-a", "obj1", []byte("hello"), map[string][]byte{"owner": []byte("x")})
	src.AddPool(domain.PoolDescriptor{Name: "pool-b"})

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "pool-a", reports[0].Pool)
	assert.Equal(t, 1, reports[0].Attempted)
	assert.Equal(t, 1, reports[0].Succeeded)
	assert.Equal(t, 0, reports[0].Failed)

	assert.Equal(t, "pool-b", reports[1].Pool)
	assert.Zero(t, reports[1].Attempted)
	assert.Zero(t, reports[1].Succeeded)
	assert.Zero(t, reports[1].Failed)

	assert.Equal(t, []string{"pool-a", "pool-b"}, dst.Pools())
	data, attrs, ok := dst.Get("pool-a", "obj1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, map[string][]byte{"owner": []byte("x")}, attrs)

	assert.Equal(t, 1, src.Disconnects())
	assert.Equal(t, 1, dst.Disconnects())
	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
}

func TestRun_CopiesPayloadAndAttributesExactly(t *testing.T) {
	src, dst, conn := newClusters(t)

	big := bytes.Repeat([]byte{0x00, 0xff, 0x10, 0x7f}, 2500)
	objects := map[string][]byte{
		"empty":  {},
		"binary": {0x00, 0x01, 0x02, 0xfe, 0xff},
		"big":    big,
	}
	for key, data := range objects {
		src.Put("data", key, data, map[string][]byte{
			"user.key":   []byte(key),
			"user.blob":  {0x00, 0x01},
			"user.empty": {},
		})
	}

	opts := DefaultOptions()
	opts.ChunkSize = 333
	reports, err := New(conn, opts, nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Succeeded)
	assert.Equal(t, int64(len(big)+5), reports[0].Bytes)

	for key, want := range objects {
		got, attrs, ok := dst.Get("data", key)
		require.True(t, ok, key)
		assert.True(t, bytes.Equal(want, got), "payload mismatch for %s", key)
		_, srcAttrs, _ := src.Get("data", key)
		assert.Equal(t, srcAttrs, attrs, key)
	}
}

func TestRun_EmptyPoolRoundTrip(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.AddPool(domain.PoolDescriptor{Name: "empty"})

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Attempted)
	assert.Zero(t, reports[0].Succeeded)
	assert.Zero(t, reports[0].Failed)
	assert.False(t, reports[0].HasFailures())

	_, ok := dst.Pool("empty")
	assert.True(t, ok)
}

func TestReplicatePool_IsolatesObjectFailures(t *testing.T) {
	src, dst, conn := newClusters(t)
	for _, key := range []string{"k1", "k_bad", "k2", "k3"} {
		src.Put("p", key, []byte("v-"+key), nil)
	}
	src.FailObject("p", "k_bad", domain.OpRead, errors.New("EIO"))

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, 4, r.Attempted)
	assert.Equal(t, 3, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, "k_bad", r.Failures[0].Key)

	var copyErr *domain.ObjectCopyError
	require.ErrorAs(t, r.Failures[0].Err, &copyErr)
	assert.Equal(t, domain.OpRead, copyErr.Op)

	for _, key := range []string{"k1", "k2", "k3"} {
		_, _, ok := dst.Get("p", key)
		assert.True(t, ok, key)
	}
	_, _, ok := dst.Get("p", "k_bad")
	assert.False(t, ok)
}

func TestReplicatePool_RecordsEachFailingStep(t *testing.T) {
	tests := []struct {
		name   string
		inject func(src, dst *memory.Store)
		wantOp domain.CopyOp
	}{
		{
			name:   "stat",
			inject: func(src, _ *memory.Store) { src.FailObject("p", "a", domain.OpStat, errors.New("ENOENT")) },
			wantOp: domain.OpStat,
		},
		{
			name:   "xattrs",
			inject: func(src, _ *memory.Store) { src.FailObject("p", "a", domain.OpXattrs, errors.New("EIO")) },
			wantOp: domain.OpXattrs,
		},
		{
			name:   "write",
			inject: func(_, dst *memory.Store) { dst.FailObject("p", "a", domain.OpWrite, errors.New("ENOSPC")) },
			wantOp: domain.OpWrite,
		},
		{
			name:   "set xattr",
			inject: func(_, dst *memory.Store) { dst.FailObject("p", "a", domain.OpSetXattr, errors.New("E2BIG")) },
			wantOp: domain.OpSetXattr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst, conn := newClusters(t)
			src.Put("p", "a", []byte("payload"), map[string][]byte{"n": []byte("v")})
			src.Put("p", "b", []byte("other"), nil)
			tt.inject(src, dst)

			reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
			require.NoError(t, err)
			r := reports[0]
			assert.Equal(t, 2, r.Attempted)
			assert.Equal(t, 1, r.Succeeded)
			require.Len(t, r.Failures, 1)

			var copyErr *domain.ObjectCopyError
			require.ErrorAs(t, r.Failures[0].Err, &copyErr)
			assert.Equal(t, tt.wantOp, copyErr.Op)
			assert.Equal(t, "a", copyErr.Key)
		})
	}
}

func TestReplicatePool_ListingFailure(t *testing.T) {
	src, _, conn := newClusters(t)
	src.Put("p", "a", []byte("x"), nil)
	src.FailObject("p", "", domain.OpList, errors.New("ETIMEDOUT"))

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].ListError, "ETIMEDOUT")
	assert.True(t, reports[0].HasFailures())
	assert.Zero(t, reports[0].Attempted)
}

func TestConnect_ReleasesSourceWhenDestinationFails(t *testing.T) {
	src, dst, conn := newClusters(t)
	dst.FailConnect(errors.New("auth rejected"))

	m := New(conn, DefaultOptions(), nil)
	_, err := m.Run(context.Background(), srcConf, dstConf)
	require.Error(t, err)

	var connErr *domain.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, domain.SideDestination, connErr.Side)
	assert.Equal(t, domain.StageHandshake, connErr.Stage)
	assert.True(t, domain.IsFatal(err))

	assert.Equal(t, 1, src.Connects())
	assert.Equal(t, 1, src.Disconnects())
	assert.Equal(t, domain.StateFailed, m.State())
}

func TestConnect_InvalidConfiguration(t *testing.T) {
	_, _, conn := newClusters(t)

	_, _, err := New(conn, DefaultOptions(), nil).Connect(context.Background(),
		cluster.ConnConfig{ConfFile: "/missing.conf"}, dstConf)

	var connErr *domain.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, domain.SideSource, connErr.Side)
	assert.Equal(t, domain.StageConfigure, connErr.Stage)
}

func TestRun_DiscoveryFailureReleasesHandles(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.FailListPools(errors.New("EPERM"))

	_, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)

	var discErr *domain.DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, 1, src.Disconnects())
	assert.Equal(t, 1, dst.Disconnects())
}

func TestDiscoverPools(t *testing.T) {
	src, _, conn := newClusters(t)
	m := New(conn, DefaultOptions(), nil)

	_, err := m.DiscoverPools(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoCluster)

	handle, err := src.Connect(context.Background())
	require.NoError(t, err)
	defer handle.Close()

	pools, err := m.DiscoverPools(context.Background(), handle)
	require.NoError(t, err)
	assert.Empty(t, pools)

	for _, p := range []string{"rbd", "logs", ".mgr"} {
		src.AddPool(domain.PoolDescriptor{Name: p})
	}
	opts := DefaultOptions()
	opts.ExcludePools = []string{".mgr"}
	pools, err = New(conn, opts, nil).DiscoverPools(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"rbd", "logs"}, pools)

	opts = DefaultOptions()
	opts.IncludePools = []string{"logs"}
	pools, err = New(conn, opts, nil).DiscoverPools(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, pools)
}

func TestProvisionPool_AppliesPlacement(t *testing.T) {
	_, dst, conn := newClusters(t)
	handle, err := dst.Connect(context.Background())
	require.NoError(t, err)
	defer handle.Close()

	meta := &domain.PoolDescriptor{Name: "rbd", PGNum: 64, PGPNum: 64, Type: domain.PoolTypeReplicated}
	require.NoError(t, New(conn, DefaultOptions(), nil).ProvisionPool(context.Background(), handle, "rbd", meta))
	desc, ok := dst.Pool("rbd")
	require.True(t, ok)
	assert.Equal(t, *meta, desc)

	opts := DefaultOptions()
	opts.PreservePlacement = false
	require.NoError(t, New(conn, opts, nil).ProvisionPool(context.Background(), handle, "logs", meta))
	desc, _ = dst.Pool("logs")
	assert.False(t, desc.HasPlacement())

	err = New(conn, DefaultOptions(), nil).ProvisionPool(context.Background(), handle, "rbd", nil)
	var poolErr *domain.PoolError
	require.ErrorAs(t, err, &poolErr)
	assert.Equal(t, domain.PoolErrExists, poolErr.Kind)
	assert.ErrorIs(t, err, domain.ErrPoolExists)
}

func TestRun_PreservesSourcePlacement(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.AddPool(domain.PoolDescriptor{Name: "ec", PGNum: 128, PGPNum: 128, Type: domain.PoolTypeErasure})

	_, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)

	desc, ok := dst.Pool("ec")
	require.True(t, ok)
	assert.Equal(t, 128, desc.PGNum)
	assert.Equal(t, domain.PoolTypeErasure, desc.Type)
}

func TestRun_ExistingDestinationPool(t *testing.T) {
	setup := func(t *testing.T) (*memory.Store, *memory.Store, *memory.Connector) {
		src, dst, conn := newClusters(t)
		src.Put("shared", "k", []byte("new"), map[string][]byte{"v": []byte("2")})
		src.Put("fresh", "f", []byte("f"), nil)
		dst.Put("shared", "k", []byte("old"), map[string][]byte{"v": []byte("1"), "stale": []byte("z")})
		dst.Put("shared", "keep", []byte("untouched"), nil)
		return src, dst, conn
	}

	t.Run("skip leaves the pool untouched", func(t *testing.T) {
		_, dst, conn := setup(t)
		reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
		require.NoError(t, err)
		require.Len(t, reports, 2)

		assert.True(t, reports[0].Skipped)
		assert.Contains(t, reports[0].PoolError, "already exists")
		assert.Equal(t, 1, reports[1].Succeeded)

		data, attrs, _ := dst.Get("shared", "k")
		assert.Equal(t, []byte("old"), data)
		assert.Equal(t, []byte("1"), attrs["v"])
		assert.Equal(t, []string{"k", "keep"}, dst.Keys("shared"))
	})

	t.Run("running twice is idempotent", func(t *testing.T) {
		_, dst, conn := setup(t)
		for i := 0; i < 2; i++ {
			_, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
			require.NoError(t, err)
		}
		data, _, _ := dst.Get("fresh", "f")
		assert.Equal(t, []byte("f"), data)
		assert.Equal(t, []string{"k", "keep"}, dst.Keys("shared"))
	})

	t.Run("merge overwrites by key", func(t *testing.T) {
		_, dst, conn := setup(t)
		opts := DefaultOptions()
		opts.PoolExists = domain.PoolExistsMerge
		reports, err := New(conn, opts, nil).Run(context.Background(), srcConf, dstConf)
		require.NoError(t, err)
		assert.False(t, reports[0].Skipped)
		assert.Equal(t, 1, reports[0].Succeeded)

		data, attrs, _ := dst.Get("shared", "k")
		assert.Equal(t, []byte("new"), data)
		assert.Equal(t, map[string][]byte{"v": []byte("2")}, attrs)
		keep, _, ok := dst.Get("shared", "keep")
		require.True(t, ok)
		assert.Equal(t, []byte("untouched"), keep)
	})

	t.Run("merge records a failed attribute removal", func(t *testing.T) {
		_, dst, conn := setup(t)
		dst.FailObject("shared", "k", domain.OpRmXattr, errors.New("EPERM"))
		opts := DefaultOptions()
		opts.PoolExists = domain.PoolExistsMerge
		reports, err := New(conn, opts, nil).Run(context.Background(), srcConf, dstConf)
		require.NoError(t, err)
		require.Len(t, reports[0].Failures, 1)

		var copyErr *domain.ObjectCopyError
		require.ErrorAs(t, reports[0].Failures[0].Err, &copyErr)
		assert.Equal(t, domain.OpRmXattr, copyErr.Op)
		assert.Contains(t, copyErr.Error(), "stale")
	})

	t.Run("fail aborts and still disconnects", func(t *testing.T) {
		src, dst, conn := setup(t)
		opts := DefaultOptions()
		opts.PoolExists = domain.PoolExistsFail
		reports, err := New(conn, opts, nil).Run(context.Background(), srcConf, dstConf)
		require.ErrorIs(t, err, domain.ErrPoolExists)
		require.Len(t, reports, 1)
		assert.True(t, reports[0].Skipped)
		assert.Equal(t, 1, src.Disconnects())
		assert.Equal(t, 1, dst.Disconnects())
		_, ok := dst.Pool("fresh")
		assert.False(t, ok)
	})
}

func TestRun_CreateFailureSkipsPool(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.Put("a", "1", []byte("1"), nil)
	src.Put("b", "2", []byte("2"), nil)
	dst.FailCreate("a", errors.New("EPERM"))

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Skipped)
	assert.Contains(t, reports[0].PoolError, "EPERM")
	assert.Equal(t, 1, reports[1].Succeeded)
}

func TestRun_OpenFailureSkipsPool(t *testing.T) {
	src, _, conn := newClusters(t)
	src.Put("a", "1", []byte("1"), nil)
	src.Put("b", "2", []byte("2"), nil)
	src.FailOpen("a", errors.New("EACCES"))

	reports, err := New(conn, DefaultOptions(), nil).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Skipped)
	assert.Zero(t, src.OpenSessions())
	assert.Equal(t, 1, reports[1].Succeeded)
}

func TestReplicatePool_ConcurrentWorkers(t *testing.T) {
	src, dst, conn := newClusters(t)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("obj-%03d", i)
		src.Put("bulk", key, []byte(key), map[string][]byte{"i": []byte(key)})
		if i%20 == 0 {
			src.FailObject("bulk", key, domain.OpRead, errors.New("EIO"))
		}
	}

	var copied atomic.Int64
	obs := &countingObserver{copied: &copied}

	opts := DefaultOptions()
	opts.Workers = 8
	reports, err := New(conn, opts, obs).Run(context.Background(), srcConf, dstConf)
	require.NoError(t, err)

	r := reports[0]
	assert.Equal(t, 200, r.Attempted)
	assert.Equal(t, 190, r.Succeeded)
	assert.Equal(t, 10, r.Failed)
	assert.Len(t, r.Failures, 10)
	assert.Equal(t, int64(200), copied.Load())
	assert.Len(t, dst.Keys("bulk"), 190)
	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
}

func TestRun_CancellationStopsAndReleases(t *testing.T) {
	src, dst, conn := newClusters(t)
	for i := 0; i < 50; i++ {
		src.Put("first", fmt.Sprintf("k%02d", i), []byte("x"), nil)
	}
	src.Put("second", "k", []byte("y"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var copied atomic.Int64
	obs := &countingObserver{copied: &copied, cancelAfter: 5, cancel: cancel}

	m := New(conn, DefaultOptions(), obs)
	reports, err := m.Run(ctx, srcConf, dstConf)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.True(t, r.Interrupted)
	assert.Less(t, r.Attempted, 50)
	assert.Equal(t, domain.StateFailed, m.State())

	assert.Equal(t, 1, src.Disconnects())
	assert.Equal(t, 1, dst.Disconnects())
	assert.Zero(t, src.OpenSessions())
	assert.Zero(t, dst.OpenSessions())
	_, ok := dst.Pool("second")
	assert.False(t, ok)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	src, dst, conn := newClusters(t)
	src.Put("p", "a", []byte("abc"), map[string][]byte{"x": []byte("y")})
	src.Put("p", "b", []byte("de"), nil)

	opts := DefaultOptions()
	opts.DryRun = true
	summary, err := New(conn, opts, nil).RunWithSummary(context.Background(), srcConf, dstConf)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	require.Len(t, summary.Pools, 1)
	assert.Equal(t, 2, summary.Pools[0].Succeeded)
	assert.Equal(t, int64(5), summary.Pools[0].Bytes)
	assert.Empty(t, dst.Pools())
	assert.Zero(t, dst.Writes())
}

func TestRunWithSummary(t *testing.T) {
	src, _, conn := newClusters(t)
	src.Put("p", "a", []byte("abc"), nil)
	src.Put("p", "bad", []byte("x"), nil)
	src.FailObject("p", "bad", domain.OpRead, errors.New("EIO"))

	opts := DefaultOptions()
	opts.RunID = "run-1"
	var states []domain.RunState
	obs := &stateRecorder{states: &states}

	m := New(conn, opts, obs)
	summary, err := m.RunWithSummary(context.Background(), srcConf, dstConf)
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.ID)
	assert.Equal(t, srcConf.ConfFile, summary.Source)
	assert.Equal(t, domain.StateCompleted, summary.State)
	assert.True(t, summary.HasFailures())
	attempted, succeeded, failed, size := summary.Totals()
	assert.Equal(t, 2, attempted)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(3), size)

	assert.Equal(t, []domain.RunState{
		domain.StateConnected,
		domain.StateDiscovering,
		domain.StateProvisioning,
		domain.StateReplicating,
		domain.StateDisconnecting,
		domain.StateDisconnected,
	}, states)
	assert.Equal(t, domain.StateDisconnected, m.State())
}

type countingObserver struct {
	nopObserver
	copied      *atomic.Int64
	cancelAfter int64
	cancel      context.CancelFunc
}

func (o *countingObserver) ObjectCopied(context.Context, string, string, int64, error) {
	n := o.copied.Add(1)
	if o.cancel != nil && n == o.cancelAfter {
		o.cancel()
	}
}

type stateRecorder struct {
	nopObserver
	states *[]domain.RunState
}

func (o *stateRecorder) StateChanged(_ context.Context, s domain.RunState) {
	*o.states = append(*o.states, s)
}
