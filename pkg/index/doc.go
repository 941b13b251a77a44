/*
Package index implements the per-table n-gram inverted index.

# Architecture

	┌─────────────────────── INDEX ───────────────────────┐
	│                                                      │
	│  term map (RWMutex)                                  │
	│    "gol" ──► PostingList (delta or roaring bitmap)   │
	│    "ola" ──► PostingList                             │
	│    ...                                               │
	│                                                      │
	│  Readers: RLock map → take posting handle → release  │
	│  map lock → operate under the posting's own lock.    │
	│  Writers: Lock map only to create/drop terms.        │
	│  Optimize: snapshot handles under RLock, then work   │
	│  lock-free; searches continue throughout.            │
	└──────────────────────────────────────────────────────┘

Each posting list stores its DocID set in one of two representations:
a delta-compressed array (first value + gaps) for sparse terms, or a
roaring bitmap for dense ones. Optimize moves lists between the two based
on occupancy, with hysteresis so lists near the boundary do not thrash:
conversion to bitmap happens at the configured threshold (default 0.18),
conversion back only below half of it.

# Search

SearchAnd intersects smallest-first so every later intersection is bounded
by the smallest list. Three fast paths apply:

  - a single term with a limit reads straight off the posting (GetTopN)
  - all-bitmap inputs above the merge-join thresholds intersect with a
    multi-way cursor that stops at the limit
  - selective two-list queries probe block-wise and fall back to a full
    intersection when the first block comes up empty

OptimizeInBatches yields between batches so writers interleave; postings
are mutated in place through shared handles, and a final reconciliation
pass covers terms created mid-run, so no concurrently added document is
ever lost. Only one optimization runs at a time; a second attempt
reports busy.
*/
package index
