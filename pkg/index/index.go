package index

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/ngram"
)

// Index is a table's n-gram inverted index: term → shared posting list
// handle. The map lock is only held to look up or create handles; all
// posting mutation happens under each posting's own lock. Optimize copies
// the handles out under a read lock and works on them afterwards, so
// searches continue throughout a rebuild.
type Index struct {
	mu       sync.RWMutex
	postings map[string]*PostingList

	gen       *ngram.Generator
	threshold float64

	optimizing atomic.Bool
}

// New returns an empty index using gen for term extraction and threshold for
// posting strategy selection.
func New(gen *ngram.Generator, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultRoaringThreshold
	}
	return &Index{
		postings:  make(map[string]*PostingList),
		gen:       gen,
		threshold: threshold,
	}
}

// Generator exposes the index's n-gram generator so query planning and cache
// invalidation tokenize exactly as indexing does.
func (ix *Index) Generator() *ngram.Generator { return ix.gen }

// lookup returns the shared posting handle for term, or nil.
func (ix *Index) lookup(term string) *PostingList {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.postings[term]
}

// getOrCreate returns the posting for term, creating it if needed.
func (ix *Index) getOrCreate(term string) *PostingList {
	if p := ix.lookup(term); p != nil {
		return p
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if p, ok := ix.postings[term]; ok {
		return p
	}
	p := NewPostingList(ix.threshold)
	ix.postings[term] = p
	return p
}

// AddDocument indexes text under docID.
func (ix *Index) AddDocument(docID DocID, text string) {
	for _, term := range ix.gen.Generate(text) {
		ix.getOrCreate(term).Add(docID)
	}
}

// BatchEntry is one document of a bulk insertion.
type BatchEntry struct {
	DocID DocID
	Text  string
}

// AddDocumentBatch indexes many documents at once, accumulating per-term
// DocID runs so each posting takes a single AddBatch merge.
func (ix *Index) AddDocumentBatch(entries []BatchEntry) {
	perTerm := make(map[string][]DocID)
	for _, e := range entries {
		for _, term := range ix.gen.Generate(e.Text) {
			perTerm[term] = append(perTerm[term], e.DocID)
		}
	}
	for term, ids := range perTerm {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		ix.getOrCreate(term).AddBatch(ids)
	}
}

// UpdateDocument reindexes docID from oldText to newText, touching only the
// terms whose membership changes. New terms are added before old ones are
// removed, so a concurrent reader never observes the document absent from
// both generations at once.
func (ix *Index) UpdateDocument(docID DocID, oldText, newText string) {
	oldTerms := ix.gen.Generate(oldText)
	newTerms := ix.gen.Generate(newText)

	oldSet := make(map[string]struct{}, len(oldTerms))
	for _, t := range oldTerms {
		oldSet[t] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newTerms))
	for _, t := range newTerms {
		newSet[t] = struct{}{}
	}

	for _, t := range newTerms {
		if _, ok := oldSet[t]; !ok {
			ix.getOrCreate(t).Add(docID)
		}
	}
	for _, t := range oldTerms {
		if _, ok := newSet[t]; !ok {
			if p := ix.lookup(t); p != nil {
				p.Remove(docID)
			}
		}
	}
}

// RemoveDocument removes docID from every term of text. Empty postings are
// retained; readers tolerate them.
func (ix *Index) RemoveDocument(docID DocID, text string) {
	for _, term := range ix.gen.Generate(text) {
		if p := ix.lookup(term); p != nil {
			p.Remove(docID)
		}
	}
}

// Count returns the posting size for a single term.
func (ix *Index) Count(term string) uint64 {
	p := ix.lookup(term)
	if p == nil {
		return 0
	}
	return p.Size()
}

// TermCount returns the number of distinct terms.
func (ix *Index) TermCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings)
}

// MemoryUsage estimates the index footprint in bytes.
func (ix *Index) MemoryUsage() uint64 {
	handles := ix.snapshotHandles()
	var total uint64
	for _, h := range handles {
		total += uint64(len(h.term)) + h.posting.MemoryUsage()
	}
	return total
}

// ClearInPlace drops every posting while keeping the Index instance itself
// valid for long-lived holders of the pointer.
func (ix *Index) ClearInPlace() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = make(map[string]*PostingList)
}

type termHandle struct {
	term    string
	posting *PostingList
}

// snapshotHandles copies the shared handles out under a read lock. The
// handles stay valid even if the map drops an entry afterwards.
func (ix *Index) snapshotHandles() []termHandle {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	handles := make([]termHandle, 0, len(ix.postings))
	for term, p := range ix.postings {
		handles = append(handles, termHandle{term: term, posting: p})
	}
	return handles
}

// Optimize rewrites every posting's strategy for the current density. Only
// one optimization may run at a time; a second attempt reports busy.
func (ix *Index) Optimize(totalDocs uint64) error {
	if !ix.optimizing.CompareAndSwap(false, true) {
		return fmt.Errorf("optimize: %w", errdefs.ErrBusy)
	}
	defer ix.optimizing.Store(false)

	handles := ix.snapshotHandles()
	for _, h := range handles {
		h.posting.Optimize(totalDocs)
	}
	lg := log.WithComponent("index")
	lg.Debug().
		Int("terms", len(handles)).
		Uint64("total_docs", totalDocs).
		Msg("optimize complete")
	return nil
}

// OptimizeInBatches optimizes like Optimize but yields between batches so
// concurrent writers interleave. Postings are mutated in place through
// shared handles, so documents added mid-run land in the same lists the
// optimizer touches; a final reconciliation pass picks up terms created
// after the initial snapshot.
func (ix *Index) OptimizeInBatches(totalDocs uint64, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if !ix.optimizing.CompareAndSwap(false, true) {
		return fmt.Errorf("optimize: %w", errdefs.ErrBusy)
	}
	defer ix.optimizing.Store(false)

	handles := ix.snapshotHandles()
	seen := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		seen[h.term] = struct{}{}
	}

	for start := 0; start < len(handles); start += batchSize {
		end := start + batchSize
		if end > len(handles) {
			end = len(handles)
		}
		for _, h := range handles[start:end] {
			h.posting.Optimize(totalDocs)
		}
		runtime.Gosched()
	}

	// Terms created while the batches ran were not in the snapshot.
	for _, h := range ix.snapshotHandles() {
		if _, ok := seen[h.term]; !ok {
			h.posting.Optimize(totalDocs)
		}
	}
	return nil
}
