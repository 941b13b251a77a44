package cache

import (
	"time"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/types"
)

// Manager owns the entry store and the reverse index together and holds
// their joint invariant: every entry departure unregisters its metadata,
// every insertion registers it. Nothing else touches either side directly.
type Manager struct {
	store  *Store
	rindex *ReverseIndex
	queue  *Queue

	gens map[string]*ngram.Generator
	norm ngram.Normalizer

	// syncOnly pins the synchronous invalidation path regardless of Start.
	syncOnly bool
}

// NewManager wires the cache for the configured tables. gens must map each
// table name to the generator with that table's n-gram sizes; invalidation
// tokenizes with the target table's settings, never another table's.
func NewManager(cfg config.CacheConfig, gens map[string]*ngram.Generator, norm ngram.Normalizer) *Manager {
	m := &Manager{
		rindex:   NewReverseIndex(),
		gens:     gens,
		norm:     norm,
		syncOnly: cfg.InvalidationStrategy == "sync",
	}
	m.store = NewStore(StoreConfig{
		Enabled:           cfg.Enabled,
		MaxMemoryBytes:    cfg.MaxMemoryMB * 1024 * 1024,
		MinQueryCostMS:    cfg.MinQueryCostMS,
		TTL:               time.Duration(cfg.TTLSeconds) * time.Second,
		EvictionBatchSize: cfg.EvictionBatchSize,
	}, m.rindex.Unregister)
	m.queue = NewQueue(
		cfg.Invalidation.BatchSize,
		time.Duration(cfg.Invalidation.MaxDelayMS)*time.Millisecond,
		m.applyInvalidation,
	)
	return m
}

// Enabled reports whether caching is active.
func (m *Manager) Enabled() bool { return m.store.Enabled() }

// Start launches the async invalidation worker, unless the configured
// invalidation strategy pins the synchronous path.
func (m *Manager) Start() {
	if m.syncOnly {
		return
	}
	m.queue.Start()
}

// Stop halts the worker; subsequent invalidations run synchronously.
func (m *Manager) Stop() { m.queue.Stop() }

// Lookup returns the cached entry for the query, if any.
func (m *Manager) Lookup(q *query.Query) (*Entry, bool) {
	fp := Fingerprint(q)
	if fp == "" {
		return nil, false
	}
	return m.store.Lookup(fp)
}

// Insert caches a completed query result. Entries under the cost floor and
// non-cacheable queries are dropped silently.
func (m *Manager) Insert(q *query.Query, docIDs []types.DocID, total int, ngrams []string, cost time.Duration) {
	fp := Fingerprint(q)
	if fp == "" {
		return
	}
	e := &Entry{
		Fingerprint: fp,
		Table:       q.Table,
		DocIDs:      docIDs,
		Total:       total,
		Ngrams:      ngrams,
		CostMS:      float64(cost.Microseconds()) / 1000.0,
	}
	// Refresh the registration before the insert: stale buckets from a
	// previous generation of this fingerprint are dropped, and if the
	// insert itself evicts the entry (tiny budgets) the removal hook
	// finds the metadata to unregister.
	m.rindex.Unregister(fp)
	m.rindex.Register(fp, q.Table, ngrams)
	if !m.store.Insert(e) {
		m.rindex.Unregister(fp)
		return
	}
	lg := log.WithComponent("cache")
	lg.Debug().
		Str("fp", Digest(fp)).
		Str("table", q.Table).
		Int("ngrams", len(ngrams)).
		Msg("cached query result")
}

// Invalidate reacts to a write event: an empty oldText is an INSERT, an
// empty newText a DELETE, both non-empty an UPDATE. The touched n-grams are
// computed with the target table's own n-gram sizes.
func (m *Manager) Invalidate(table, oldText, newText string) {
	gen, ok := m.gens[table]
	if !ok {
		return
	}
	var ngrams []string
	if oldText != "" {
		ngrams = append(ngrams, gen.Generate(m.norm.Normalize(oldText))...)
	}
	if newText != "" {
		ngrams = append(ngrams, gen.Generate(m.norm.Normalize(newText))...)
	}
	if len(ngrams) == 0 {
		return
	}
	m.queue.Enqueue(table, dedupeNgrams(ngrams))
}

func (m *Manager) applyInvalidation(table string, ngrams []string) {
	fps := m.rindex.Lookup(table, ngrams)
	for _, fp := range fps {
		m.store.Remove(fp)
	}
	if len(fps) > 0 {
		lg := log.WithComponent("cache")
		lg.Debug().
			Str("table", table).
			Int("ngrams", len(ngrams)).
			Int("entries", len(fps)).
			Msg("invalidated cache entries")
	}
}

// Clear empties the cache and, via the removal hook, the reverse index.
func (m *Manager) Clear() { m.store.Clear() }

// Stats snapshots cache counters.
func (m *Manager) Stats() Stats { return m.store.Snapshot() }

// ReverseIndexSize exposes live bucket counts for INFO output and tests.
func (m *Manager) ReverseIndexSize() (buckets, fingerprints int) {
	return m.rindex.BucketCount(), m.rindex.RegisteredCount()
}

func dedupeNgrams(ngrams []string) []string {
	seen := make(map[string]struct{}, len(ngrams))
	out := ngrams[:0]
	for _, g := range ngrams {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}
