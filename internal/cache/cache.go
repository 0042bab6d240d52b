// Package cache memoizes series fetches for a bounded time.
//
// Entries are immutable and replaced by pointer swap, so readers of a fresh
// entry only take a read lock and never observe a half-written value. On a
// miss or expiry at most one producer runs per key; concurrent callers for
// the same key wait for and share its result. A failing producer leaves no
// entry behind.
package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Window is the paging shape a payload was fetched with. Two fetches with
// different windows are cached separately.
type Window struct {
	PerPage  int
	MaxPages int
}

type Key struct {
	Indicator string
	Countries []string
	Window    Window
}

// NewKey sorts and dedupes countries so that permuted peer lists share an
// entry.
func NewKey(indicator string, countries []string, w Window) Key {
	set := make(map[string]struct{}, len(countries))
	cs := make([]string, 0, len(countries))
	for _, c := range countries {
		if _, dup := set[c]; dup {
			continue
		}
		set[c] = struct{}{}
		cs = append(cs, c)
	}
	sort.Strings(cs)
	return Key{Indicator: indicator, Countries: cs, Window: w}
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Indicator)
	b.WriteByte('|')
	b.WriteString(strings.Join(k.Countries, ","))
	b.WriteString("|p")
	b.WriteString(strconv.Itoa(k.Window.PerPage))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(k.Window.MaxPages))
	return b.String()
}

type Entry[V any] struct {
	Key       string
	FetchedAt time.Time
	TTL       time.Duration
	Payload   V
}

// FreshAt reports whether the entry may still be served at now.
func (e *Entry[V]) FreshAt(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Recorder receives one call per lookup with "hit", "miss" or "shared".
type Recorder interface {
	ObserveLookup(result string)
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Shared    uint64 `json:"shared"`
	Evictions uint64 `json:"evictions"`
}

type options struct {
	now      func() time.Time
	recorder Recorder
}

type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithRecorder(r Recorder) Option { return func(o *options) { o.recorder = r } }

type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
	group   singleflight.Group
	opts    options

	hits, misses, shared, evictions atomic.Uint64
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{entries: make(map[string]*Entry[V]), opts: o}
}

// GetOrFetch returns the payload stored under key if it is younger than ttl.
// Otherwise it runs producer (once per key across concurrent callers),
// stores a successful result and returns it.
//
// producer runs detached from the caller's cancellation so that one caller
// giving up does not fail the others sharing the call; the caller itself
// returns ctx.Err() as soon as its context ends. When producer fails its
// error and whatever payload it returned are passed through unstored.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, producer func(ctx context.Context) (V, error)) (V, error) {
	k := key.String()
	if e, ok := c.fresh(k); ok {
		c.record(&c.hits, "hit")
		return e.Payload, nil
	}

	var ran bool
	var hit bool
	ch := c.group.DoChan(k, func() (any, error) {
		ran = true
		if e, ok := c.fresh(k); ok {
			hit = true
			return e.Payload, nil
		}
		v, err := producer(context.WithoutCancel(ctx))
		if err != nil {
			c.evictStale(k)
			return v, err
		}
		c.mu.Lock()
		c.entries[k] = &Entry[V]{Key: k, FetchedAt: c.opts.now(), TTL: ttl, Payload: v}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case r := <-ch:
		switch {
		case !ran:
			c.record(&c.shared, "shared")
		case hit:
			c.record(&c.hits, "hit")
		default:
			c.record(&c.misses, "miss")
		}
		v, _ := r.Val.(V)
		return v, r.Err
	}
}

// Peek returns the entry stored under key regardless of freshness.
func (c *Cache[V]) Peek(key Key) (*Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.String()]
	return e, ok
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.opts.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !e.FreshAt(now) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictions.Add(uint64(n))
	return n
}

func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Shared:    c.shared.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *Cache[V]) fresh(k string) (*Entry[V], bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok || !e.FreshAt(c.opts.now()) {
		return nil, false
	}
	return e, true
}

func (c *Cache[V]) evictStale(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok && !e.FreshAt(c.opts.now()) {
		delete(c.entries, k)
		c.evictions.Add(1)
	}
}

func (c *Cache[V]) record(counter *atomic.Uint64, result string) {
	counter.Add(1)
	if c.opts.recorder != nil {
		c.opts.recorder.ObserveLookup(result)
	}
}
