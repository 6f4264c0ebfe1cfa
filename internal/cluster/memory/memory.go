// Package memory is an in-process cluster used by tests. It supports fault
// injection on every collaborator call and counts handle and session lifetimes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/andresuchdata/radosmigrate/internal/cluster"
	"github.com/andresuchdata/radosmigrate/internal/domain"
)

// ErrClosed is returned when a closed handle or session is used.
var ErrClosed = errors.New("memory: handle closed")

type object struct {
	data  []byte
	attrs map[string][]byte
}

type pool struct {
	desc    domain.PoolDescriptor
	objects map[string]*object
	keys    []string
}

type faultKey struct {
	pool string
	key  string
	op   domain.CopyOp
}

// Store is the state of one in-memory cluster.
type Store struct {
	mu     sync.Mutex
	pools  map[string]*pool
	order  []string
	faults map[faultKey]error

	connectErr error
	listErr    error
	createErrs map[string]error
	openErrs   map[string]error

	connects     int
	disconnects  int
	openSessions int
	writes       int
}

// New returns an empty cluster.
func New() *Store {
	return &Store{
		pools:      make(map[string]*pool),
		faults:     make(map[faultKey]error),
		createErrs: make(map[string]error),
		openErrs:   make(map[string]error),
	}
}

// AddPool creates a pool directly, bypassing fault injection.
func (s *Store) AddPool(desc domain.PoolDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addPoolLocked(desc)
}

func (s *Store) addPoolLocked(desc domain.PoolDescriptor) *pool {
	if p, ok := s.pools[desc.Name]; ok {
		return p
	}
	p := &pool{desc: desc, objects: make(map[string]*object)}
	s.pools[desc.Name] = p
	s.order = append(s.order, desc.Name)
	return p
}

// Put stores an object, creating the pool if needed.
func (s *Store) Put(poolName, key string, data []byte, attrs map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.addPoolLocked(domain.PoolDescriptor{Name: poolName})
	p.put(key, data)
	for name, value := range attrs {
		p.objects[key].attrs[name] = slices.Clone(value)
	}
}

// Get returns a copy of an object's payload and attributes.
func (s *Store) Get(poolName, key string) ([]byte, map[string][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolName]
	if !ok {
		return nil, nil, false
	}
	o, ok := p.objects[key]
	if !ok {
		return nil, nil, false
	}
	return slices.Clone(o.data), cloneAttrs(o.attrs), true
}

// Pools returns pool names in creation order.
func (s *Store) Pools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Pool returns the descriptor of a pool.
func (s *Store) Pool(name string) (domain.PoolDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[name]
	if !ok {
		return domain.PoolDescriptor{}, false
	}
	return p.desc, true
}

// Keys returns the object keys of a pool in insertion order.
func (s *Store) Keys(poolName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolName]
	if !ok {
		return nil
	}
	return slices.Clone(p.keys)
}

// FailConnect makes every Connect fail with err.
func (s *Store) FailConnect(err error) { s.mu.Lock(); s.connectErr = err; s.mu.Unlock() }

// FailListPools makes ListPools fail with err.
func (s *Store) FailListPools(err error) { s.mu.Lock(); s.listErr = err; s.mu.Unlock() }

// FailCreate makes CreatePool fail for one pool.
func (s *Store) FailCreate(poolName string, err error) {
	s.mu.Lock()
	s.createErrs[poolName] = err
	s.mu.Unlock()
}

// FailOpen makes OpenPool fail for one pool.
func (s *Store) FailOpen(poolName string, err error) {
	s.mu.Lock()
	s.openErrs[poolName] = err
	s.mu.Unlock()
}

// FailObject makes one operation on one object fail. Use an empty key with
// domain.OpList to fail the listing of a pool.
func (s *Store) FailObject(poolName, key string, op domain.CopyOp, err error) {
	s.mu.Lock()
	s.faults[faultKey{pool: poolName, key: key, op: op}] = err
	s.mu.Unlock()
}

// Connects returns how many handles were opened.
func (s *Store) Connects() int { s.mu.Lock(); defer s.mu.Unlock(); return s.connects }

// Disconnects returns how many handles were closed.
func (s *Store) Disconnects() int { s.mu.Lock(); defer s.mu.Unlock(); return s.disconnects }

// OpenSessions returns how many pool sessions are currently open.
func (s *Store) OpenSessions() int { s.mu.Lock(); defer s.mu.Unlock(); return s.openSessions }

// Writes returns how many payload and xattr writes were applied.
func (s *Store) Writes() int { s.mu.Lock(); defer s.mu.Unlock(); return s.writes }

func (s *Store) fault(poolName, key string, op domain.CopyOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[faultKey{pool: poolName, key: key, op: op}]
}

func (p *pool) put(key string, data []byte) {
	o, ok := p.objects[key]
	if !ok {
		o = &object{attrs: make(map[string][]byte)}
		p.objects[key] = o
		p.keys = append(p.keys, key)
	}
	o.data = slices.Clone(data)
}

func cloneAttrs(attrs map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(attrs))
	for k, v := range attrs {
		out[k] = slices.Clone(v)
	}
	return out
}

// Connector resolves ConnConfig.ConfFile to a registered Store.
type Connector struct {
	mu       sync.Mutex
	clusters map[string]*Store
}

// NewConnector returns a connector over the given clusters keyed by conf file.
func NewConnector(clusters map[string]*Store) *Connector {
	return &Connector{clusters: maps.Clone(clusters)}
}

// Register adds or replaces a cluster.
func (c *Connector) Register(conf string, s *Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clusters == nil {
		c.clusters = make(map[string]*Store)
	}
	c.clusters[conf] = s
}

// Connect implements cluster.Connector.
func (c *Connector) Connect(ctx context.Context, cfg cluster.ConnConfig) (cluster.Cluster, error) {
	c.mu.Lock()
	s, ok := c.clusters[cfg.ConfFile]
	c.mu.Unlock()
	if !ok {
		return nil, &domain.ConnectionError{
			Stage:  domain.StageConfigure,
			Config: cfg.String(),
			Err:    fmt.Errorf("no cluster registered for %q", cfg.ConfFile),
		}
	}
	return s.Connect(ctx)
}

// Connect opens a handle on the store.
func (s *Store) Connect(ctx context.Context) (cluster.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connects++
	return &handle{store: s}, nil
}

type handle struct {
	store  *Store
	mu     sync.Mutex
	closed bool
}

var _ cluster.Cluster = (*handle)(nil)

func (h *handle) check(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (h *handle) ListPools(ctx context.Context) ([]string, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return slices.Clone(s.order), nil
}

func (h *handle) DescribePool(ctx context.Context, name string) (domain.PoolDescriptor, error) {
	if err := h.check(ctx); err != nil {
		return domain.PoolDescriptor{}, err
	}
	desc, ok := h.store.Pool(name)
	if !ok {
		return domain.PoolDescriptor{}, fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, name)
	}
	return desc, nil
}

func (h *handle) CreatePool(ctx context.Context, desc domain.PoolDescriptor) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErrs[desc.Name]; err != nil {
		return err
	}
	if _, ok := s.pools[desc.Name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrPoolExists, desc.Name)
	}
	s.addPoolLocked(desc)
	return nil
}

func (h *handle) OpenPool(ctx context.Context, name string) (cluster.Pool, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErrs[name]; err != nil {
		return nil, err
	}
	if _, ok := s.pools[name]; !ok {
		return nil, fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, name)
	}
	s.openSessions++
	return &session{store: s, name: name}, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.store.mu.Lock()
	h.store.disconnects++
	h.store.mu.Unlock()
	return nil
}

type session struct {
	store  *Store
	name   string
	mu     sync.Mutex
	closed bool
}

var _ cluster.Pool = (*session)(nil)

func (p *session) Name() string { return p.name }

func (p *session) check(ctx context.Context, key string, op domain.CopyOp) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.store.fault(p.name, key, op)
}

func (p *session) object(key string) (*object, error) {
	pl, ok := p.store.pools[p.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, p.name)
	}
	o, ok := pl.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: not found", p.name, key)
	}
	return o, nil
}

func (p *session) Objects(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := p.check(ctx, "", domain.OpList); err != nil {
			yield("", err)
			return
		}
		p.store.mu.Lock()
		var keys []string
		if pl, ok := p.store.pools[p.name]; ok {
			keys = slices.Clone(pl.keys)
		}
		p.store.mu.Unlock()

		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (p *session) Stat(ctx context.Context, key string) (uint64, error) {
	if err := p.check(ctx, key, domain.OpStat); err != nil {
		return 0, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	o, err := p.object(key)
	if err != nil {
		return 0, err
	}
	return uint64(len(o.data)), nil
}

func (p *session) Read(ctx context.Context, key string, offset uint64, buf []byte) (int, error) {
	if err := p.check(ctx, key, domain.OpRead); err != nil {
		return 0, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	o, err := p.object(key)
	if err != nil {
		return 0, err
	}
	if offset >= uint64(len(o.data)) {
		return 0, nil
	}
	return copy(buf, o.data[offset:]), nil
}

func (p *session) Xattrs(ctx context.Context, key string) (map[string][]byte, error) {
	if err := p.check(ctx, key, domain.OpXattrs); err != nil {
		return nil, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	o, err := p.object(key)
	if err != nil {
		return nil, err
	}
	return cloneAttrs(o.attrs), nil
}

func (p *session) WriteFull(ctx context.Context, key string, data []byte) error {
	if err := p.check(ctx, key, domain.OpWrite); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	pl, ok := p.store.pools[p.name]
	if !ok {
		return fmt.Errorf("%w: %s", cluster.ErrPoolNotFound, p.name)
	}
	pl.put(key, data)
	p.store.writes++
	return nil
}

func (p *session) SetXattr(ctx context.Context, key, name string, value []byte) error {
	if err := p.check(ctx, key, domain.OpSetXattr); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	o, err := p.object(key)
	if err != nil {
		return err
	}
	o.attrs[name] = slices.Clone(value)
	p.store.writes++
	return nil
}

func (p *session) RmXattr(ctx context.Context, key, name string) error {
	if err := p.check(ctx, key, domain.OpRmXattr); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	o, err := p.object(key)
	if err != nil {
		return err
	}
	if _, ok := o.attrs[name]; !ok {
		return fmt.Errorf("xattr %s/%s %q: not found", p.name, key, name)
	}
	delete(o.attrs, name)
	p.store.writes++
	return nil
}

func (p *session) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.store.mu.Lock()
	p.store.openSessions--
	p.store.mu.Unlock()
	return nil
}
