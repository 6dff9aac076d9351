package classinfo

import (
	"context"
	"errors"
	"sync"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCapacity     = 500
	DefaultWriteWorkers = 4
	DefaultWriteQueue   = 1024

	storeReadConcurrency = 16
)

var (
	// ErrNotReturned is reported for keys a fetch silently left out.
	ErrNotReturned = errors.New("classinfo: not returned by steam")
	errAbandoned   = errors.New("classinfo: resolution abandoned")
)

// Fetcher performs the outbound classinfo request. It may omit keys. When it fails part way it returns what
// it got together with the error; every key missing from the map then fails with that error.
type Fetcher interface {
	FetchClassInfos(ctx context.Context, keys []Key) (map[Key]*ClassInfo, error)
}

// Result is the outcome for one key. Exactly one of ClassInfo and Err is set.
type Result struct {
	ClassInfo *ClassInfo
	Err       error
}

type Options struct {
	Capacity int
	Fetcher  Fetcher
	// Store is optional; without it nothing is persisted.
	Store        store.Store
	WriteWorkers int
	WriteQueue   int
	Logger       *zap.Logger
}

type call struct {
	done  chan struct{}
	value *ClassInfo
	err   error
}

// Cache is safe for concurrent use. Its mutex only guards the in-memory structures; store and fetch calls are
// made without holding it.
type Cache struct {
	fetcher Fetcher
	store   store.Store
	writer  *writeBack
	logger  *zap.Logger

	mu       sync.Mutex
	entries  *lfu
	inflight map[Key]*call
	pins     map[Key]int
}

func New(opts Options) (*Cache, error) {
	if opts.Fetcher == nil {
		return nil, eris.New("classinfo: a fetcher is required")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.WriteWorkers <= 0 {
		opts.WriteWorkers = DefaultWriteWorkers
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = DefaultWriteQueue
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Cache{
		fetcher:  opts.Fetcher,
		store:    opts.Store,
		logger:   opts.Logger,
		entries:  newLFU(opts.Capacity),
		inflight: make(map[Key]*call),
		pins:     make(map[Key]int),
	}
	if opts.Store != nil {
		c.writer = newWriteBack(opts.Store, opts.WriteWorkers, opts.WriteQueue, opts.Logger)
	}
	return c, nil
}

// Resolve returns a result for every requested key. Keys are served from memory, then from the store, and
// whatever is left is fetched in a single call. A key already being resolved by another caller is awaited
// instead of fetched again, and resolved anew if that caller gave up first. Persisting fetched values happens after Resolve returns.
func (c *Cache) Resolve(ctx context.Context, keys []Key) map[Key]Result {
	results := make(map[Key]Result, len(keys))
	owned := make(map[Key]*call)
	waiting := make(map[Key]*call)
	var pinned []Key

	c.mu.Lock()
	for _, key := range keys {
		if _, seen := results[key]; seen {
			continue
		}
		if _, seen := owned[key]; seen {
			continue
		}
		if _, seen := waiting[key]; seen {
			continue
		}

		if value, ok := c.entries.get(key); ok {
			results[key] = Result{ClassInfo: value}
			c.pins[key]++
			pinned = append(pinned, key)
			continue
		}
		if existing, ok := c.inflight[key]; ok {
			waiting[key] = existing
			continue
		}

		owned[key] = &call{done: make(chan struct{})}
		c.inflight[key] = owned[key]
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		for _, key := range pinned {
			if c.pins[key]--; c.pins[key] <= 0 {
				delete(c.pins, key)
			}
		}
		c.mu.Unlock()
	}()

	if len(owned) > 0 {
		// anything not settled below, e.g. after a panicking fetcher, must not strand the waiters
		defer func() {
			for key := range owned {
				c.complete(key, nil, errAbandoned)
			}
		}()

		missing := make([]Key, 0, len(owned))
		for key := range owned {
			missing = append(missing, key)
		}

		for key, value := range c.loadStored(ctx, missing) {
			value = c.admit(key, value)
			pinned = append(pinned, key)
			results[key] = Result{ClassInfo: value}
			c.complete(key, value, nil)
			delete(owned, key)
		}

		if len(owned) > 0 {
			remaining := make([]Key, 0, len(owned))
			for key := range owned {
				remaining = append(remaining, key)
			}
			c.fetch(ctx, remaining, results, &pinned)
			for _, key := range remaining {
				delete(owned, key)
			}
		}
	}

	var retry []Key
	for key, pending := range waiting {
		select {
		case <-pending.done:
			if ownerGaveUp(pending.err) && ctx.Err() == nil {
				retry = append(retry, key)
				continue
			}
			results[key] = Result{ClassInfo: pending.value, Err: pending.err}
		case <-ctx.Done():
			results[key] = Result{Err: ctx.Err()}
		}
	}

	// the owner's context ended before ours did, resolve those keys again under ours
	if len(retry) > 0 {
		for key, result := range c.Resolve(ctx, retry) {
			results[key] = result
		}
	}

	return results
}

func ownerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errAbandoned)
}

func (c *Cache) fetch(ctx context.Context, keys []Key, results map[Key]Result, pinned *[]Key) {
	fetched, err := c.fetcher.FetchClassInfos(ctx, keys)
	if err != nil {
		err = eris.Wrap(err, "classinfo fetch failed")
		c.logger.Warn("classinfo fetch failed",
			zap.Int("keys", len(keys)),
			zap.Int("returned", len(fetched)),
			zap.Error(err),
		)
	}

	for _, key := range keys {
		value, ok := fetched[key]
		if !ok || value == nil {
			missing := ErrNotReturned
			if err != nil {
				missing = err
			}
			results[key] = Result{Err: missing}
			c.complete(key, nil, missing)
			continue
		}

		value = c.admit(key, value)
		*pinned = append(*pinned, key)
		c.persist(key, value)
		results[key] = Result{ClassInfo: value}
		c.complete(key, value, nil)
	}
}

// loadStored reads keys from the durable store concurrently. Read or decode failures count as misses.
func (c *Cache) loadStored(ctx context.Context, keys []Key) map[Key]*ClassInfo {
	if c.store == nil {
		return nil
	}

	var mu sync.Mutex
	found := make(map[Key]*ClassInfo)

	var g errgroup.Group
	g.SetLimit(storeReadConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			blob, err := c.store.Get(ctx, key.StoreKey())
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					c.logger.Debug("error loading classinfo", zap.Stringer("key", key), zap.Error(err))
				}
				return nil
			}

			value, err := decode(key, blob)
			if err != nil {
				c.logger.Debug("discarding stored classinfo", zap.Stringer("key", key), zap.Error(err))
				return nil
			}

			mu.Lock()
			found[key] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return found
}

// admit inserts value if key is absent and pins the key for the caller. It returns the resident value, which
// is the earlier one if another caller won the race.
func (c *Cache) admit(key Key, value *ClassInfo) *ClassInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, resident, evicted := c.entries.insert(key, value, c.isPinnedLocked)
	if !resident {
		c.logger.Debug("classinfo cache full of pinned entries, not caching", zap.Stringer("key", key))
	}
	if len(evicted) > 0 {
		c.logger.Debug("evicted classinfos", zap.Int("count", len(evicted)))
	}
	c.pins[key]++
	return current
}

func (c *Cache) isPinnedLocked(key Key) bool {
	return c.pins[key] > 0
}

func (c *Cache) complete(key Key, value *ClassInfo, err error) {
	c.mu.Lock()
	pending, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pending.value = value
	pending.err = err
	close(pending.done)
}

func (c *Cache) persist(key Key, value *ClassInfo) {
	if c.writer == nil {
		return
	}

	blob, err := encode(value)
	if err != nil {
		c.logger.Debug("error encoding classinfo", zap.Stringer("key", key), zap.Error(err))
		return
	}
	c.writer.schedule(key.StoreKey(), blob)
}

// Insert adds descriptions that arrived alongside other responses. Values already resident are kept. It
// returns how many values were new.
func (c *Cache) Insert(infos map[Key]*ClassInfo) int {
	inserted := 0
	for key, value := range infos {
		if value == nil {
			continue
		}

		c.mu.Lock()
		if c.entries.contains(key) {
			c.mu.Unlock()
			continue
		}
		_, resident, _ := c.entries.insert(key, value, c.isPinnedLocked)
		c.mu.Unlock()

		if resident {
			inserted++
		}
		c.persist(key, value)
	}
	return inserted
}

// Contains reports residency without counting an access.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.contains(key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.len()
}

// Flush waits for scheduled writes to reach the store.
func (c *Cache) Flush(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.flush(ctx)
}

// Close drains pending writes and stops the write-back workers.
func (c *Cache) Close(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.close(ctx)
}
