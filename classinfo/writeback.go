package classinfo

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/escrow-tf/tradeoffers/store"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

type writeJob struct {
	key  string
	blob []byte
}

// writeBack persists blobs in the background. Jobs for the same key always land on the same worker, so writes
// for one key are applied in the order they were scheduled.
type writeBack struct {
	store   store.Store
	logger  *zap.Logger
	shards  []chan writeJob
	workers sync.WaitGroup

	// pending counts scheduled writes not yet attempted; idle is signalled when it drops to zero
	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	mu     sync.RWMutex
	closed bool
}

func newWriteBack(s store.Store, workers, queue int, logger *zap.Logger) *writeBack {
	w := &writeBack{
		store:  s,
		logger: logger,
		shards: make([]chan writeJob, workers),
	}
	w.idle = sync.NewCond(&w.pendingMu)
	for i := range w.shards {
		w.shards[i] = make(chan writeJob, queue)
		w.workers.Add(1)
		go w.run(w.shards[i])
	}
	return w
}

func (w *writeBack) run(jobs <-chan writeJob) {
	defer w.workers.Done()
	for job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.store.Put(ctx, job.key, job.blob); err != nil {
			// these are allowed to fail, the value is refetched on the next miss
			w.logger.Debug("error saving classinfo", zap.String("key", job.key), zap.Error(err))
		}
		cancel()
		w.done()
	}
}

func (w *writeBack) add() {
	w.pendingMu.Lock()
	w.pending++
	w.pendingMu.Unlock()
}

func (w *writeBack) done() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.pending--; w.pending == 0 {
		w.idle.Broadcast()
	}
}

// schedule never blocks. It reports false when the job was dropped because the shard queue is full or the
// write-back is closed.
func (w *writeBack) schedule(key string, blob []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	shard := w.shards[xxhash.Sum64String(key)%uint64(len(w.shards))]
	w.add()
	select {
	case shard <- writeJob{key: key, blob: blob}:
		return true
	default:
		w.done()
		w.logger.Debug("classinfo write queue full, dropping write", zap.String("key", key))
		return false
	}
}

// flush waits until every scheduled write has been attempted.
func (w *writeBack) flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pendingMu.Lock()
		for w.pending > 0 {
			w.idle.Wait()
		}
		w.pendingMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writeBack) close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, shard := range w.shards {
		close(shard)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
