package classinfo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/escrow-tf/tradeoffers/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	gets  atomic.Int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return blob, nil
}

func (m *memoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = value
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

type fakeFetcher struct {
	calls   atomic.Int64
	release chan struct{}
	err     error
	omit    map[Key]bool

	mu        sync.Mutex
	requested [][]Key
}

func (f *fakeFetcher) FetchClassInfos(ctx context.Context, keys []Key) (map[Key]*ClassInfo, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requested = append(f.requested, keys)
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	result := make(map[Key]*ClassInfo, len(keys))
	for _, key := range keys {
		if f.omit[key] {
			continue
		}
		result[key] = &ClassInfo{AppID: key.AppID, ClassID: key.ClassID, InstanceID: key.InstanceID, Name: "fetched"}
	}
	return result, nil
}

func newTestCache(t *testing.T, fetcher Fetcher, s store.Store, capacity int) *Cache {
	t.Helper()
	cache, err := New(Options{Capacity: capacity, Fetcher: fetcher, Store: s})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Close(context.Background())
	})
	return cache
}

func TestResolveFetchesMissesInOneBatch(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := newTestCache(t, fetcher, nil, 10)

	keys := []Key{testKey(1), testKey(2), testKey(1), testKey(3)}
	results := cache.Resolve(context.Background(), keys)

	require.Len(t, results, 3)
	for _, key := range []Key{testKey(1), testKey(2), testKey(3)} {
		require.NoError(t, results[key].Err)
		assert.Equal(t, key.ClassID, results[key].ClassInfo.ClassID)
	}
	assert.EqualValues(t, 1, fetcher.calls.Load())
	assert.Len(t, fetcher.requested[0], 3)
	assert.Equal(t, 3, cache.Len())

	cache.Resolve(context.Background(), keys)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestResolveCollapsesConcurrentRequests(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache := newTestCache(t, fetcher, nil, 10)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]map[Key]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Resolve(context.Background(), []Key{testKey(42)})
		}(i)
	}

	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 1
	}, time.Second, time.Millisecond)
	// let the other callers reach the in-flight registry before releasing the fetch
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.EqualValues(t, 1, fetcher.calls.Load())
	first := results[0][testKey(42)].ClassInfo
	require.NotNil(t, first)
	for _, r := range results {
		require.NoError(t, r[testKey(42)].Err)
		assert.Same(t, first, r[testKey(42)].ClassInfo)
	}
}

func TestResolveWaiterOutlivesCancelledOwner(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache := newTestCache(t, fetcher, nil, 10)

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	owner := make(chan map[Key]Result, 1)
	go func() {
		owner <- cache.Resolve(ownerCtx, []Key{testKey(7)})
	}()
	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 1
	}, time.Second, time.Millisecond)

	waiter := make(chan map[Key]Result, 1)
	go func() {
		waiter <- cache.Resolve(context.Background(), []Key{testKey(7)})
	}()
	time.Sleep(20 * time.Millisecond)
	cancelOwner()

	ownerResults := <-owner
	assert.ErrorIs(t, ownerResults[testKey(7)].Err, context.Canceled)

	require.Eventually(t, func() bool {
		return fetcher.calls.Load() == 2
	}, time.Second, time.Millisecond)
	close(fetcher.release)

	waiterResults := <-waiter
	require.NoError(t, waiterResults[testKey(7)].Err)
	assert.Equal(t, "fetched", waiterResults[testKey(7)].ClassInfo.Name)
}

func TestResolveServesFromStore(t *testing.T) {
	s := newMemoryStore()
	blob, err := encode(&ClassInfo{AppID: 440, ClassID: 5, Name: "stored"})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), testKey(5).StoreKey(), blob))

	fetcher := &fakeFetcher{}
	cache := newTestCache(t, fetcher, s, 10)

	results := cache.Resolve(context.Background(), []Key{testKey(5)})
	require.NoError(t, results[testKey(5)].Err)
	assert.Equal(t, "stored", results[testKey(5)].ClassInfo.Name)
	assert.Zero(t, fetcher.calls.Load())
	assert.True(t, cache.Contains(testKey(5)))
}

func TestResolveTreatsCorruptStoredBlobAsMiss(t *testing.T) {
	s := newMemoryStore()
	require.NoError(t, s.Put(context.Background(), testKey(5).StoreKey(), []byte("{not json")))

	fetcher := &fakeFetcher{}
	cache := newTestCache(t, fetcher, s, 10)

	results := cache.Resolve(context.Background(), []Key{testKey(5)})
	require.NoError(t, results[testKey(5)].Err)
	assert.Equal(t, "fetched", results[testKey(5)].ClassInfo.Name)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestResolveWritesBackFetchedValues(t *testing.T) {
	s := newMemoryStore()
	cache := newTestCache(t, &fakeFetcher{}, s, 10)

	cache.Resolve(context.Background(), []Key{testKey(9)})
	require.NoError(t, cache.Flush(context.Background()))
	assert.True(t, s.has(testKey(9).StoreKey()))

	// a fresh cache over the same store no longer needs steam
	fetcher := &fakeFetcher{}
	fresh := newTestCache(t, fetcher, s, 10)
	results := fresh.Resolve(context.Background(), []Key{testKey(9)})
	require.NoError(t, results[testKey(9)].Err)
	assert.Zero(t, fetcher.calls.Load())
}

func TestResolveReportsPerKeyFailures(t *testing.T) {
	fetcher := &fakeFetcher{omit: map[Key]bool{testKey(2): true}}
	cache := newTestCache(t, fetcher, nil, 10)

	results := cache.Resolve(context.Background(), []Key{testKey(1), testKey(2)})
	require.NoError(t, results[testKey(1)].Err)
	assert.ErrorIs(t, results[testKey(2)].Err, ErrNotReturned)
	assert.False(t, cache.Contains(testKey(2)))
}

func TestResolveFetchErrorFailsBatchWithoutCaching(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("steam is down")}
	cache := newTestCache(t, fetcher, nil, 10)

	results := cache.Resolve(context.Background(), []Key{testKey(1), testKey(2)})
	for _, key := range []Key{testKey(1), testKey(2)} {
		assert.Error(t, results[key].Err)
		assert.Nil(t, results[key].ClassInfo)
	}
	assert.Zero(t, cache.Len())

	fetcher.err = nil
	results = cache.Resolve(context.Background(), []Key{testKey(1)})
	assert.NoError(t, results[testKey(1)].Err)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestResolveReturnsValuesLargerThanCapacity(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := newTestCache(t, fetcher, nil, 2)

	keys := []Key{testKey(1), testKey(2), testKey(3), testKey(4)}
	results := cache.Resolve(context.Background(), keys)
	for _, key := range keys {
		require.NoError(t, results[key].Err)
		assert.NotNil(t, results[key].ClassInfo)
	}
	assert.LessOrEqual(t, cache.Len(), 2)
}

func TestInsertKeepsResidentValue(t *testing.T) {
	s := newMemoryStore()
	cache := newTestCache(t, &fakeFetcher{}, s, 10)

	first := cache.Resolve(context.Background(), []Key{testKey(1)})[testKey(1)].ClassInfo
	inserted := cache.Insert(map[Key]*ClassInfo{
		testKey(1): {AppID: 440, ClassID: 1, Name: "inline"},
		testKey(2): {AppID: 440, ClassID: 2, Name: "inline"},
	})
	assert.Equal(t, 1, inserted)

	again := cache.Resolve(context.Background(), []Key{testKey(1), testKey(2)})
	assert.Same(t, first, again[testKey(1)].ClassInfo)
	assert.Equal(t, "inline", again[testKey(2)].ClassInfo.Name)

	require.NoError(t, cache.Flush(context.Background()))
	assert.True(t, s.has(testKey(2).StoreKey()))
}

func TestNewRequiresFetcher(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

type fetcherFunc func(ctx context.Context, keys []Key) (map[Key]*ClassInfo, error)

func (f fetcherFunc) FetchClassInfos(ctx context.Context, keys []Key) (map[Key]*ClassInfo, error) {
	return f(ctx, keys)
}

func TestResolveKeepsPartialFetchResults(t *testing.T) {
	failure := errors.New("second chunk failed")
	fetcher := fetcherFunc(func(_ context.Context, keys []Key) (map[Key]*ClassInfo, error) {
		return map[Key]*ClassInfo{testKey(1): testInfo(1)}, failure
	})
	cache := newTestCache(t, fetcher, nil, 10)

	results := cache.Resolve(context.Background(), []Key{testKey(1), testKey(2)})
	require.NoError(t, results[testKey(1)].Err)
	assert.ErrorIs(t, results[testKey(2)].Err, failure)
	assert.True(t, cache.Contains(testKey(1)))
	assert.False(t, cache.Contains(testKey(2)))
}
