package cache

import "sync"

type tableNgram struct {
	table string
	ngram string
}

// ReverseIndex maps (table, ngram) to the set of fingerprints whose cached
// results touched that n-gram. The Manager keeps it exactly in step with the
// Store: Register on insert, Unregister on every removal path.
type ReverseIndex struct {
	mu   sync.Mutex
	byTN map[tableNgram]map[string]struct{}
	byFP map[string][]tableNgram
}

// NewReverseIndex returns an empty reverse index.
func NewReverseIndex() *ReverseIndex {
	return &ReverseIndex{
		byTN: make(map[tableNgram]map[string]struct{}),
		byFP: make(map[string][]tableNgram),
	}
}

// Register adds fingerprint under every (table, ngram) bucket.
func (r *ReverseIndex) Register(fingerprint, table string, ngrams []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]tableNgram, 0, len(ngrams))
	for _, g := range ngrams {
		key := tableNgram{table: table, ngram: g}
		bucket, ok := r.byTN[key]
		if !ok {
			bucket = make(map[string]struct{})
			r.byTN[key] = bucket
		}
		bucket[fingerprint] = struct{}{}
		keys = append(keys, key)
	}
	r.byFP[fingerprint] = keys
}

// Unregister removes fingerprint from every bucket it appears in.
func (r *ReverseIndex) Unregister(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.byFP[fingerprint] {
		bucket, ok := r.byTN[key]
		if !ok {
			continue
		}
		delete(bucket, fingerprint)
		if len(bucket) == 0 {
			delete(r.byTN, key)
		}
	}
	delete(r.byFP, fingerprint)
}

// Lookup returns the union of fingerprints registered under any of the
// given (table, ngram) pairs.
func (r *ReverseIndex) Lookup(table string, ngrams []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for _, g := range ngrams {
		for fp := range r.byTN[tableNgram{table: table, ngram: g}] {
			seen[fp] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for fp := range seen {
		out = append(out, fp)
	}
	return out
}

// BucketCount returns the number of live (table, ngram) buckets.
func (r *ReverseIndex) BucketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTN)
}

// RegisteredCount returns the number of registered fingerprints.
func (r *ReverseIndex) RegisteredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFP)
}
