package store

import (
	"context"
	"sync"
	"time"
)

// MemoryOptions configure the in-memory store's retention policy.
type MemoryOptions struct {
	// Limit is the maximum number of keys held; the oldest key is
	// evicted when it is exceeded. Zero means unbounded.
	Limit int
	// TTL expires entries after the given duration. Zero disables
	// expiry.
	TTL time.Duration
}

type memoryEntry struct {
	value    []byte
	storedAt time.Time
	seq      uint64
}

// memoryWatcher owns an unbounded FIFO so a slow subscriber never loses
// a value and never blocks the writer.
type memoryWatcher struct {
	key     string
	pending [][]byte
	signal  chan struct{} // capacity 1, coalesced wake-up
	mu      sync.Mutex
}

func (w *memoryWatcher) push(value []byte) {
	w.mu.Lock()
	w.pending = append(w.pending, cloneBytes(value))
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) drain() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = nil
	return batch
}

// MemoryStore is a single-process store. Values are copied on every set,
// get and delivery so readers never share memory with writers.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	watchers map[*memoryWatcher]struct{}
	opts     MemoryOptions
	seq      uint64
}

// NewMemoryStore creates an in-memory store with the given retention
// policy.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		watchers: make(map[*memoryWatcher]struct{}),
		opts:     opts,
	}
}

// Get returns a copy of the stored value, or nil when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return cloneBytes(entry.value), nil
}

// Set stores a copy of value under key; nil deletes. Every live watcher
// of the key is handed the new value.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.expireLocked()
	if value == nil {
		delete(s.entries, key)
	} else {
		s.seq++
		s.entries[key] = memoryEntry{value: cloneBytes(value), storedAt: time.Now(), seq: s.seq}
		s.evictLocked()
	}
	targets := make([]*memoryWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		if w.key == key {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		w.push(value)
	}
	return nil
}

// Watch subscribes to key. Each watcher has an independent queue: values
// are delivered in set order and none are dropped.
func (s *MemoryStore) Watch(ctx context.Context, key string, ready chan<- struct{}) (<-chan []byte, error) {
	w := &memoryWatcher{key: key, signal: make(chan struct{}, 1)}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	if ready != nil {
		close(ready)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			for _, value := range w.drain() {
				select {
				case out <- value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// expireLocked drops entries past their TTL. Caller holds s.mu.
func (s *MemoryStore) expireLocked() {
	if s.opts.TTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.opts.TTL)
	for key, entry := range s.entries {
		if entry.storedAt.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// evictLocked enforces the size limit, oldest insertion first. Caller
// holds s.mu.
func (s *MemoryStore) evictLocked() {
	if s.opts.Limit <= 0 {
		return
	}
	for len(s.entries) > s.opts.Limit {
		var oldestKey string
		oldestSeq := s.seq + 1
		for key, entry := range s.entries {
			if entry.seq < oldestSeq {
				oldestSeq = entry.seq
				oldestKey = key
			}
		}
		delete(s.entries, oldestKey)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
