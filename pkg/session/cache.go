// Package session caches one swarm per conversation.
//
// The cache is bounded by capacity (least recently used goes first) and by
// idle time: every Get refreshes an entry's expiry, so a session that keeps
// talking never expires. Concurrent first requests for the same session
// share a single build.
//
// A swarm taken with Acquire stays bound to its session until released,
// even if the cache evicts it meanwhile, so a session never has two swarms
// running turns at once.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/hive"
)

const (
	// DefaultCapacity is the default number of cached sessions.
	DefaultCapacity = 1024
	// DefaultIdleTTL is the default idle lifetime of a session.
	DefaultIdleTTL = 30 * time.Minute
)

// Factory builds the swarm for a session id.
type Factory func(ctx context.Context, id string) (*hive.Swarm, error)

// EvictFunc is called when a session leaves the cache for any reason.
type EvictFunc func(id string, s *hive.Swarm)

// Cache maps session ids to swarms. It is safe for concurrent use.
type Cache struct {
	factory  Factory
	capacity int
	ttl      time.Duration
	onEvict  []EvictFunc
	logger   *slog.Logger

	mu     sync.Mutex
	lru    *expirable.LRU[string, *hive.Swarm]
	leases map[string]*lease
	group  singleflight.Group
}

// lease pins a swarm to its session while turns are running on it.
type lease struct {
	swarm *hive.Swarm
	n     int
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity bounds the number of sessions.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithIdleTTL sets how long an unused session is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithOnEvict registers an eviction hook. Hooks run synchronously and must
// not call back into the cache.
func WithOnEvict(fn EvictFunc) Option {
	return func(c *Cache) {
		if fn != nil {
			c.onEvict = append(c.onEvict, fn)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache that builds missing sessions with factory.
func New(factory Factory, opts ...Option) (*Cache, error) {
	if factory == nil {
		return nil, errors.Errorf(errors.CodeConfig, "session cache requires a factory")
	}
	c := &Cache{
		factory:  factory,
		capacity: DefaultCapacity,
		ttl:      DefaultIdleTTL,
		logger:   slog.Default(),
		leases:   make(map[string]*lease),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lru = expirable.NewLRU[string, *hive.Swarm](c.capacity, c.evicted, c.ttl)
	return c, nil
}

func (c *Cache) evicted(id string, s *hive.Swarm) {
	c.logger.Debug("session evicted", "session_id", id)
	for _, fn := range c.onEvict {
		fn(id, s)
	}
}

// Get returns the session's swarm, building it on first use.
func (c *Cache) Get(ctx context.Context, id string) (*hive.Swarm, error) {
	if s, ok := c.lookup(id, false); ok {
		return s, nil
	}
	s, _, err := c.build(ctx, id, false)
	return s, err
}

// Acquire is Get for the duration of a turn. Until release is called,
// lookups of id return this swarm even after it has been evicted.
func (c *Cache) Acquire(ctx context.Context, id string) (s *hive.Swarm, release func(), err error) {
	s, ok := c.lookup(id, true)
	if !ok {
		if s, _, err = c.build(ctx, id, true); err != nil {
			return nil, nil, err
		}
	}
	var once sync.Once
	return s, func() { once.Do(func() { c.release(id) }) }, nil
}

// Prewarm builds the session's swarm ahead of its first message. An existing
// entry is kept; created reports whether this call built a new one.
func (c *Cache) Prewarm(ctx context.Context, id string) (created bool, err error) {
	if _, ok := c.lookup(id, false); ok {
		return false, nil
	}
	_, created, err = c.build(ctx, id, false)
	return created, err
}

// lookup finds id in the cache, refreshing its idle deadline, or among the
// leased swarms. hold takes a lease on the result.
func (c *Cache) lookup(id string, hold bool) (*hive.Swarm, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lru.Get(id)
	if ok {
		c.lru.Add(id, s)
	} else if l := c.leases[id]; l != nil {
		s, ok = l.swarm, true
	}
	if ok && hold {
		c.hold(id, s)
	}
	return s, ok
}

// hold must be called with c.mu held.
func (c *Cache) hold(id string, s *hive.Swarm) {
	l := c.leases[id]
	if l == nil {
		l = &lease{swarm: s}
		c.leases[id] = l
	}
	l.n++
}

func (c *Cache) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l := c.leases[id]; l != nil {
		if l.n--; l.n <= 0 {
			delete(c.leases, id)
		}
	}
}

func (c *Cache) build(ctx context.Context, id string, hold bool) (*hive.Swarm, bool, error) {
	if id == "" {
		return nil, false, errors.Errorf(errors.CodeInvalidInput, "session id is required")
	}
	built := false
	v, err, _ := c.group.Do(id, func() (any, error) {
		if s, ok := c.lookup(id, false); ok {
			return s, nil
		}
		s, err := c.factory(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An expired entry may still be present; removing it runs the hooks.
		c.lru.Remove(id)
		c.lru.Add(id, s)
		c.mu.Unlock()
		built = true
		c.logger.DebugContext(ctx, "session created", "session_id", id)
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	s := v.(*hive.Swarm)
	if hold {
		c.mu.Lock()
		c.hold(id, s)
		c.mu.Unlock()
	}
	return s, built, nil
}

// Peek returns the cached swarm without building or refreshing it.
func (c *Cache) Peek(id string) (*hive.Swarm, bool) {
	return c.lru.Peek(id)
}

// Evict removes a session, running the eviction hooks. A swarm still held
// by Acquire keeps serving its session until released.
func (c *Cache) Evict(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int { return c.lru.Len() }

// Keys returns the cached session ids, oldest first.
func (c *Cache) Keys() []string { return c.lru.Keys() }

// Purge evicts every session.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
