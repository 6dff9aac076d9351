package classinfo

import "container/heap"

type lfuEntry struct {
	key   Key
	value *ClassInfo
	freq  uint64
	seq   uint64
	index int
}

// lfuHeap orders entries by access count, then by insertion order.
type lfuHeap []*lfuEntry

func (h lfuHeap) Len() int { return len(h) }

func (h lfuHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].seq < h[j].seq
}

func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *lfuHeap) Push(x any) {
	entry := x.(*lfuEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *lfuHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// lfu is not safe for concurrent use; Cache guards it with its mutex.
type lfu struct {
	capacity int
	entries  map[Key]*lfuEntry
	order    lfuHeap
	seq      uint64
}

func newLFU(capacity int) *lfu {
	return &lfu{
		capacity: capacity,
		entries:  make(map[Key]*lfuEntry, capacity),
	}
}

func (l *lfu) len() int {
	return len(l.entries)
}

func (l *lfu) contains(key Key) bool {
	_, ok := l.entries[key]
	return ok
}

// get counts an access.
func (l *lfu) get(key Key) (*ClassInfo, bool) {
	entry, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	entry.freq++
	heap.Fix(&l.order, entry.index)
	return entry.value, true
}

// insert adds key if absent, counting the insertion as one access, then evicts the least frequently used
// entries until the capacity holds. The new entry and entries protected by pinned are never evicted. An
// existing value is never replaced; the resident value is returned instead. When nothing can be evicted the
// new entry is dropped again and resident is false.
func (l *lfu) insert(key Key, value *ClassInfo, pinned func(Key) bool) (current *ClassInfo, resident bool, evicted []Key) {
	if entry, ok := l.entries[key]; ok {
		entry.freq++
		heap.Fix(&l.order, entry.index)
		return entry.value, true, nil
	}

	l.seq++
	entry := &lfuEntry{key: key, value: value, freq: 1, seq: l.seq}
	l.entries[key] = entry
	heap.Push(&l.order, entry)

	var skipped []*lfuEntry
	for len(l.entries) > l.capacity && l.order.Len() > 0 {
		victim := heap.Pop(&l.order).(*lfuEntry)
		if victim == entry || (pinned != nil && pinned(victim.key)) {
			skipped = append(skipped, victim)
			continue
		}
		delete(l.entries, victim.key)
		evicted = append(evicted, victim.key)
	}
	for _, s := range skipped {
		heap.Push(&l.order, s)
	}

	if len(l.entries) > l.capacity {
		heap.Remove(&l.order, entry.index)
		delete(l.entries, key)
		return value, false, evicted
	}

	return value, true, evicted
}
