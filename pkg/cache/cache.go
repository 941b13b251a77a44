package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/libraz/mygram-db/pkg/types"
)

// Entry is one cached result with the metadata invalidation needs.
type Entry struct {
	Fingerprint string
	Table       string
	DocIDs      []types.DocID
	Total       int
	Ngrams      []string
	CostMS      float64
	SizeBytes   int
	InsertedAt  time.Time
}

func (e *Entry) computeSize() int {
	size := len(e.Fingerprint) + len(e.Table) + len(e.DocIDs)*4 + 64
	for _, g := range e.Ngrams {
		size += len(g)
	}
	return size
}

type lruItem struct {
	entry *Entry
	elem  *list.Element
}

// Store is the byte-budgeted LRU entry table. It knows nothing about
// n-grams; the Manager pairs it with the invalidation engine and guarantees
// the unregister hook fires for every departure path (eviction, clear,
// explicit invalidation).
type Store struct {
	mu       sync.Mutex
	enabled  bool
	maxBytes int
	curBytes int
	minCost  float64
	ttl      time.Duration
	batch    int

	items map[string]*lruItem
	lru   *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64

	// onRemove fires, under the store mutex, for every entry leaving the
	// store regardless of cause.
	onRemove func(fingerprint string)
}

// StoreConfig sizes a Store.
type StoreConfig struct {
	Enabled           bool
	MaxMemoryBytes    int
	MinQueryCostMS    float64
	TTL               time.Duration
	EvictionBatchSize int
}

// NewStore builds the entry table. A store constructed disabled has no
// backing capacity and can never be enabled later.
func NewStore(cfg StoreConfig, onRemove func(string)) *Store {
	s := &Store{
		enabled:  cfg.Enabled,
		maxBytes: cfg.MaxMemoryBytes,
		minCost:  cfg.MinQueryCostMS,
		ttl:      cfg.TTL,
		batch:    cfg.EvictionBatchSize,
		onRemove: onRemove,
	}
	if s.batch <= 0 {
		s.batch = 16
	}
	if cfg.Enabled {
		s.items = make(map[string]*lruItem)
		s.lru = list.New()
	}
	return s
}

// Enabled reports whether the store holds entries.
func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Lookup returns the cached entry and refreshes its recency.
func (s *Store) Lookup(fingerprint string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil, false
	}
	item, ok := s.items[fingerprint]
	if !ok {
		s.misses++
		return nil, false
	}
	if s.ttl > 0 && time.Since(item.entry.InsertedAt) > s.ttl {
		s.removeLocked(fingerprint)
		s.misses++
		return nil, false
	}
	s.lru.MoveToFront(item.elem)
	s.hits++
	return item.entry, true
}

// Insert stores an entry when the store is enabled and the query cost
// clears the floor. Returns whether the entry was stored.
func (s *Store) Insert(e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || e.CostMS < s.minCost {
		return false
	}
	// Replacing the same fingerprint keeps its (just refreshed)
	// registration; the removal hook is for entries leaving the store.
	if old, ok := s.items[e.Fingerprint]; ok {
		s.curBytes -= old.entry.SizeBytes
		s.lru.Remove(old.elem)
		delete(s.items, e.Fingerprint)
	}

	e.SizeBytes = e.computeSize()
	e.InsertedAt = time.Now()

	elem := s.lru.PushFront(e.Fingerprint)
	s.items[e.Fingerprint] = &lruItem{entry: e, elem: elem}
	s.curBytes += e.SizeBytes

	for s.curBytes > s.maxBytes && s.lru.Len() > 0 {
		s.evictBatchLocked()
	}
	return true
}

// evictBatchLocked removes up to one batch of entries from the LRU tail,
// unregistering each before it is erased.
func (s *Store) evictBatchLocked() {
	for i := 0; i < s.batch; i++ {
		back := s.lru.Back()
		if back == nil {
			return
		}
		fp := back.Value.(string)
		s.removeLocked(fp)
		s.evictions++
	}
}

// Remove deletes one entry; used by invalidation. Returns whether it existed.
func (s *Store) Remove(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return false
	}
	return s.removeLocked(fingerprint)
}

func (s *Store) removeLocked(fingerprint string) bool {
	item, ok := s.items[fingerprint]
	if !ok {
		return false
	}
	// Unregister before erase so a failure cannot strand metadata.
	s.onRemove(fingerprint)
	s.curBytes -= item.entry.SizeBytes
	s.lru.Remove(item.elem)
	delete(s.items, fingerprint)
	return true
}

// Clear removes every entry, unregistering each.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	for fp := range s.items {
		s.onRemove(fp)
	}
	s.items = make(map[string]*lruItem)
	s.lru.Init()
	s.curBytes = 0
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Entries   int
	Bytes     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Snapshot returns current statistics.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Hits: s.hits, Misses: s.misses, Evictions: s.evictions}
	if s.enabled {
		st.Entries = len(s.items)
		st.Bytes = s.curBytes
	}
	return st
}
