// Package rados implements the cluster collaborator on top of librados via go-ceph.
package rados

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/ceph/go-ceph/rados"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/domain"
	"github.com/andresuchdata/radosmigrate/pkg/logger"
)

const defaultConnectTimeout = 30 * time.Second

// Connector opens librados handles.
type Connector struct{}

// NewConnector returns a librados backed cluster.Connector.
func NewConnector() *Connector {
	return &Connector{}
}

var _ cluster.Connector = (*Connector)(nil)

// Connect builds a handle from cfg and performs the monitor handshake.
// Configuration errors and handshake errors are reported as separate stages.
func (c *Connector) Connect(ctx context.Context, cfg cluster.ConnConfig) (cluster.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := newConn(cfg)
	if err != nil {
		return nil, &domain.ConnectionError{Stage: domain.StageConfigure, Config: cfg.String(), Err: err}
	}

	logger.Log.Debug().Str("config", cfg.String()).Msg("Created cluster handle")

	if err := conn.Connect(); err != nil {
		conn.Shutdown()
		return nil, &domain.ConnectionError{Stage: domain.StageHandshake, Config: cfg.String(), Err: err}
	}

	logger.Log.Info().Str("config", cfg.String()).Msg("Connected to the cluster")
	return &Cluster{conn: conn, cfg: cfg}, nil
}

func newConn(cfg cluster.ConnConfig) (*rados.Conn, error) {
	var (
		conn *rados.Conn
		err  error
	)
	switch {
	case cfg.ClusterName != "":
		conn, err = rados.NewConnWithClusterAndUser(cfg.ClusterName, userOrDefault(cfg.User))
	case cfg.User != "":
		conn, err = rados.NewConnWithUser(cfg.User)
	default:
		conn, err = rados.NewConn()
	}
	if err != nil {
		return nil, fmt.Errorf("create handle: %w", err)
	}

	if cfg.ConfFile != "" {
		err = conn.ReadConfigFile(cfg.ConfFile)
	} else {
		err = conn.ReadDefaultConfigFile()
	}
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("read config: %w", err)
	}

	for opt, val := range connOptions(cfg) {
		if err := conn.SetConfigOption(opt, val); err != nil {
			conn.Shutdown()
			return nil, fmt.Errorf("set %s: %w", opt, err)
		}
	}
	return conn, nil
}

// connOptions are the config overrides applied after the conf file is read.
func connOptions(cfg cluster.ConnConfig) map[string]string {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	secs := strconv.Itoa(int(timeout.Seconds()))

	options := map[string]string{
		"client_mount_timeout": secs,
		"rados_mon_op_timeout": secs,
	}
	if cfg.Keyring != "" {
		options["keyring"] = cfg.Keyring
	}
	if cfg.MonHost != "" {
		options["mon_host"] = cfg.MonHost
	}
	return options
}

func userOrDefault(user string) string {
	if user == "" {
		return "client.admin"
	}
	return user
}

// Cluster is a connected librados handle.
type Cluster struct {
	conn *rados.Conn
	cfg  cluster.ConnConfig
}

var _ cluster.Cluster = (*Cluster)(nil)

// ListPools implements cluster.Cluster.
func (c *Cluster) ListPools(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.conn.ListPools()
}

type osdDump struct {
	Pools []struct {
		Name           string `json:"pool_name"`
		Type           int    `json:"type"`
		PGNum          int    `json:"pg_num"`
		PGPlacementNum int    `json:"pg_placement_num"`
	} `json:"pools"`
}

// DescribePool reads placement metadata from the OSD map.
func (c *Cluster) DescribePool(ctx context.Context, name string) (domain.PoolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return domain.PoolDescriptor{}, err
	}

	out, err := c.monCommand(map[string]any{"prefix": "osd dump", "format": "json"})
	if err != nil {
		return domain.PoolDescriptor{}, err
	}

	return findPool(out, name)
}

func findPool(osdDumpJSON []byte, name string) (domain.PoolDescriptor, error) {
	var dump osdDump
	if err := json.Unmarshal(osdDumpJSON, &dump); err != nil {
		return domain.PoolDescriptor{}, fmt.Errorf("decode osd dump: %w", err)
	}
	for _, p := range dump.Pools {
		if p.Name == name {
			return domain.PoolDescriptor{
				Name:   p.Name,
				PGNum:  p.PGNum,
				PGPNum: p.PGPlacementNum,
				Type:   domain.ParsePoolType(strconv.Itoa(p.Type)),
			}, nil
		}
	}
	return domain.PoolDescriptor{}, fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, name)
}

// CreatePool creates the pool with the descriptor's placement when present,
// with cluster defaults otherwise.
func (c *Cluster) CreatePool(ctx context.Context, desc domain.PoolDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// "osd pool create" succeeds on an existing pool, so check first.
	if _, err := c.conn.GetPoolByName(desc.Name); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrPoolExists, desc.Name)
	} else if !errors.Is(err, rados.ErrNotFound) {
		return fmt.Errorf("lookup pool %s: %w", desc.Name, err)
	}

	if !desc.HasPlacement() {
		return mapExists(c.conn.MakePool(desc.Name), desc.Name)
	}

	_, err := c.monCommand(poolCreateCommand(desc))
	return mapExists(err, desc.Name)
}

func poolCreateCommand(desc domain.PoolDescriptor) map[string]any {
	cmd := map[string]any{
		"prefix": "osd pool create",
		"pool":   desc.Name,
		"format": "json",
	}
	if desc.PGNum > 0 {
		cmd["pg_num"] = desc.PGNum
	}
	if desc.PGPNum > 0 {
		cmd["pgp_num"] = desc.PGPNum
	}
	if desc.Type != domain.PoolTypeUnknown {
		cmd["pool_type"] = string(desc.Type)
	}
	return cmd
}

func mapExists(err error, name string) error {
	if errors.Is(err, rados.ErrObjectExists) {
		return fmt.Errorf("%w: %s", domain.ErrPoolExists, name)
	}
	return err
}

func (c *Cluster) monCommand(cmd map[string]any) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	out, status, err := c.conn.MonCommand(payload)
	if err != nil {
		return nil, fmt.Errorf("mon command %v: %w (%s)", cmd["prefix"], err, status)
	}
	return out, nil
}

// OpenPool implements cluster.Cluster.
func (c *Cluster) OpenPool(ctx context.Context, name string) (cluster.Pool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ioctx, err := c.conn.OpenIOContext(name)
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, name)
		}
		return nil, err
	}
	return &Pool{name: name, ioctx: ioctx}, nil
}

// Close shuts the handle down.
func (c *Cluster) Close() error {
	c.conn.Shutdown()
	logger.Log.Debug().Str("config", c.cfg.String()).Msg("Cluster handle shut down")
	return nil
}

// Pool is an I/O context on one pool. librados I/O contexts are thread-safe.
type Pool struct {
	name  string
	ioctx *rados.IOContext
}

var _ cluster.Pool = (*Pool)(nil)

func (p *Pool) Name() string { return p.name }

// Objects lists the pool with a fresh librados iterator on every range.
func (p *Pool) Objects(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it, err := p.ioctx.Iter()
		if err != nil {
			yield("", err)
			return
		}
		defer it.Close()

		for it.Next() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", err)
		}
	}
}

func (p *Pool) Stat(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st, err := p.ioctx.Stat(key)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

func (p *Pool) Read(ctx context.Context, key string, offset uint64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.ioctx.Read(key, buf, offset)
}

func (p *Pool) Xattrs(ctx context.Context, key string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.ioctx.ListXattrs(key)
}

func (p *Pool) WriteFull(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ioctx.WriteFull(key, data)
}

func (p *Pool) SetXattr(ctx context.Context, key, name string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ioctx.SetXattr(key, name, value)
}

func (p *Pool) RmXattr(ctx context.Context, key, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ioctx.RmXattr(key, name)
}

func (p *Pool) Close() error {
	p.ioctx.Destroy()
	return nil
}
