package index

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/libraz/mygram-db/pkg/types"
)

// DocID aliases the shared document identifier type.
type DocID = types.DocID

// DefaultRoaringThreshold is the density at which a posting list converts to
// a roaring bitmap.
const DefaultRoaringThreshold = 0.18

// Contains switches from linear scan to binary search above this entry count.
const containsBinarySearchMin = 16

// Strategy selects the posting list representation.
type Strategy uint8

const (
	// StrategyDelta stores the first DocID as-is and the rest as gaps.
	StrategyDelta Strategy = iota
	// StrategyBitmap stores a roaring bitmap.
	StrategyBitmap
)

// PostingList holds the sorted DocID set for a single term. Two
// representations are interchangeable: a delta-compressed array for sparse
// terms and a roaring bitmap for dense ones; Optimize moves between them
// based on occupancy. All operations are internally synchronized. A
// PostingList is never copied; Clone produces a new shared handle.
type PostingList struct {
	mu        sync.RWMutex
	strategy  Strategy
	threshold float64
	delta     []uint32
	bitmap    *roaring.Bitmap
}

// NewPostingList returns an empty delta-strategy list. A threshold of zero
// or below selects DefaultRoaringThreshold.
func NewPostingList(threshold float64) *PostingList {
	if threshold <= 0 {
		threshold = DefaultRoaringThreshold
	}
	return &PostingList{strategy: StrategyDelta, threshold: threshold}
}

func encodeDelta(docIDs []uint32) []uint32 {
	if len(docIDs) == 0 {
		return nil
	}
	encoded := make([]uint32, len(docIDs))
	encoded[0] = docIDs[0]
	for i := 1; i < len(docIDs); i++ {
		encoded[i] = docIDs[i] - docIDs[i-1]
	}
	return encoded
}

func decodeDelta(encoded []uint32) []uint32 {
	if len(encoded) == 0 {
		return nil
	}
	decoded := make([]uint32, len(encoded))
	decoded[0] = encoded[0]
	for i := 1; i < len(encoded); i++ {
		decoded[i] = decoded[i-1] + encoded[i]
	}
	return decoded
}

// Add inserts docID keeping sorted order. Adding an existing ID is a no-op.
func (p *PostingList) Add(docID DocID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.strategy == StrategyBitmap {
		p.bitmap.Add(docID)
		return
	}
	docs := decodeDelta(p.delta)
	i := sort.Search(len(docs), func(i int) bool { return docs[i] >= docID })
	if i < len(docs) && docs[i] == docID {
		return
	}
	docs = append(docs, 0)
	copy(docs[i+1:], docs[i:])
	docs[i] = docID
	p.delta = encodeDelta(docs)
}

// AddBatch merges a pre-sorted slice of DocIDs with the current contents.
func (p *PostingList) AddBatch(sorted []DocID) {
	if len(sorted) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.strategy == StrategyBitmap {
		p.bitmap.AddMany(sorted)
		return
	}
	existing := decodeDelta(p.delta)
	p.delta = encodeDelta(unionSorted(existing, sorted))
}

// Remove deletes docID. Removing an absent ID is a no-op.
func (p *PostingList) Remove(docID DocID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.strategy == StrategyBitmap {
		p.bitmap.Remove(docID)
		return
	}
	docs := decodeDelta(p.delta)
	i := sort.Search(len(docs), func(i int) bool { return docs[i] >= docID })
	if i >= len(docs) || docs[i] != docID {
		return
	}
	docs = append(docs[:i], docs[i+1:]...)
	p.delta = encodeDelta(docs)
}

// Contains reports membership.
func (p *PostingList) Contains(docID DocID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.strategy == StrategyBitmap {
		return p.bitmap.Contains(docID)
	}
	docs := decodeDelta(p.delta)
	if len(docs) <= containsBinarySearchMin {
		for _, d := range docs {
			if d == docID {
				return true
			}
		}
		return false
	}
	i := sort.Search(len(docs), func(i int) bool { return docs[i] >= docID })
	return i < len(docs) && docs[i] == docID
}

// Size returns the number of documents in the list.
func (p *PostingList) Size() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizeLocked()
}

func (p *PostingList) sizeLocked() uint64 {
	if p.strategy == StrategyBitmap {
		return p.bitmap.GetCardinality()
	}
	return uint64(len(p.delta))
}

// MemoryUsage estimates the in-memory footprint in bytes.
func (p *PostingList) MemoryUsage() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.strategy == StrategyBitmap {
		return p.bitmap.GetSizeInBytes()
	}
	return uint64(len(p.delta)) * 4
}

// GetStrategy returns the current representation.
func (p *PostingList) GetStrategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// GetAll returns every DocID in ascending order.
func (p *PostingList) GetAll() []DocID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.getAllLocked()
}

func (p *PostingList) getAllLocked() []DocID {
	if p.strategy == StrategyBitmap {
		return p.bitmap.ToArray()
	}
	return decodeDelta(p.delta)
}

// GetTopN returns up to limit DocIDs; descending when reverse is set, without
// materializing the full list for bitmap postings. limit == 0 returns all.
func (p *PostingList) GetTopN(limit int, reverse bool) []DocID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.strategy == StrategyBitmap {
		n := int(p.bitmap.GetCardinality())
		if limit == 0 || limit > n {
			limit = n
		}
		out := make([]DocID, 0, limit)
		if reverse {
			it := p.bitmap.ReverseIterator()
			for it.HasNext() && len(out) < limit {
				out = append(out, it.Next())
			}
		} else {
			it := p.bitmap.Iterator()
			for it.HasNext() && len(out) < limit {
				out = append(out, it.Next())
			}
		}
		return out
	}

	docs := decodeDelta(p.delta)
	if limit == 0 || limit > len(docs) {
		limit = len(docs)
	}
	out := make([]DocID, 0, limit)
	if reverse {
		for i := len(docs) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, docs[i])
		}
	} else {
		out = append(out, docs[:limit]...)
	}
	return out
}

// snapshot returns either a cloned bitmap or a decoded array without holding
// the lock past the copy; set operations then run lock-free, which keeps
// Intersect(a, b) and Intersect(b, a) free of lock-order cycles.
func (p *PostingList) snapshot() (*roaring.Bitmap, []DocID) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.strategy == StrategyBitmap {
		return p.bitmap.Clone(), nil
	}
	return nil, decodeDelta(p.delta)
}

// Intersect returns a new list holding the set intersection. When both
// inputs are bitmap the result is bitmap via native AND; otherwise the
// result is a delta array from a sorted merge.
func (p *PostingList) Intersect(other *PostingList) *PostingList {
	bmA, arrA := p.snapshot()
	bmB, arrB := other.snapshot()

	result := NewPostingList(p.threshold)
	if bmA != nil && bmB != nil {
		bmA.And(bmB)
		result.strategy = StrategyBitmap
		result.bitmap = bmA
		return result
	}
	if bmA != nil {
		arrA = bmA.ToArray()
	}
	if bmB != nil {
		arrB = bmB.ToArray()
	}
	result.delta = encodeDelta(intersectSorted(arrA, arrB))
	return result
}

// Union returns a new list holding the set union. Mixed-strategy inputs
// produce a delta-array result.
func (p *PostingList) Union(other *PostingList) *PostingList {
	bmA, arrA := p.snapshot()
	bmB, arrB := other.snapshot()

	result := NewPostingList(p.threshold)
	if bmA != nil && bmB != nil {
		bmA.Or(bmB)
		result.strategy = StrategyBitmap
		result.bitmap = bmA
		return result
	}
	if bmA != nil {
		arrA = bmA.ToArray()
	}
	if bmB != nil {
		arrB = bmB.ToArray()
	}
	result.delta = encodeDelta(unionSorted(arrA, arrB))
	return result
}

// Optimize may switch representation based on density = size / totalDocs.
// Conversion to bitmap happens at the threshold; conversion back to delta
// only below half of it, so lists near the boundary do not thrash.
func (p *PostingList) Optimize(totalDocs uint64) {
	if totalDocs == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	density := float64(p.sizeLocked()) / float64(totalDocs)
	switch {
	case density >= p.threshold && p.strategy == StrategyDelta:
		docs := decodeDelta(p.delta)
		p.bitmap = roaring.New()
		p.bitmap.AddMany(docs)
		p.bitmap.RunOptimize()
		p.delta = nil
		p.strategy = StrategyBitmap
	case density < p.threshold*0.5 && p.strategy == StrategyBitmap:
		p.delta = encodeDelta(p.bitmap.ToArray())
		p.bitmap = nil
		p.strategy = StrategyDelta
	}
}

// Clone returns a new, already-optimized copy.
func (p *PostingList) Clone(totalDocs uint64) *PostingList {
	bm, arr := p.snapshot()

	clone := NewPostingList(p.threshold)
	if bm != nil {
		clone.strategy = StrategyBitmap
		clone.bitmap = bm
	} else {
		clone.delta = encodeDelta(arr)
	}
	clone.Optimize(totalDocs)
	return clone
}

func intersectSorted(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func unionSorted(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
