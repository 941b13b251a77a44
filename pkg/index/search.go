package index

import "sort"

// Thresholds for the n-way merge join fast path.
const (
	mergeJoinMinSize     = 10000
	mergeJoinSelectivity = 0.5
)

// Block width for the batch-block probe path.
const probeBlockSize = 1024

// SearchAnd returns the DocIDs present in every term's posting, ascending
// (descending when reverse). limit == 0 means unlimited. A term with no
// posting short-circuits to empty.
func (ix *Index) SearchAnd(terms []string, limit int, reverse bool) []DocID {
	if len(terms) == 0 {
		return nil
	}

	lists := make([]*PostingList, 0, len(terms))
	for _, term := range terms {
		p := ix.lookup(term)
		if p == nil {
			return nil
		}
		lists = append(lists, p)
	}

	// Single term with a limit reads straight off the posting.
	if len(lists) == 1 {
		return lists[0].GetTopN(limit, reverse)
	}

	// Intersect smallest-first: every later intersection is bounded by the
	// smallest list.
	sort.Slice(lists, func(i, j int) bool { return lists[i].Size() < lists[j].Size() })

	minSize := lists[0].Size()
	maxSize := lists[len(lists)-1].Size()

	if allBitmap(lists) && minSize >= mergeJoinMinSize &&
		float64(minSize)/float64(maxSize) >= mergeJoinSelectivity {
		return mergeJoin(lists, limit, reverse)
	}

	if len(lists) == 2 && limit > 0 && !reverse && minSize >= mergeJoinMinSize &&
		float64(minSize)/float64(maxSize) >= mergeJoinSelectivity {
		if out, ok := blockProbe(lists[1], lists[0], limit); ok {
			return out
		}
	}

	acc := lists[0].Intersect(lists[1])
	for i := 2; i < len(lists); i++ {
		acc = acc.Intersect(lists[i])
		if acc.Size() == 0 {
			return nil
		}
	}
	return acc.GetTopN(limit, reverse)
}

// SearchOr returns the union of all found terms' postings, ascending.
// Missing terms contribute nothing.
func (ix *Index) SearchOr(terms []string) []DocID {
	var acc *PostingList
	for _, term := range terms {
		p := ix.lookup(term)
		if p == nil {
			continue
		}
		if acc == nil {
			acc = p.Clone(0)
			continue
		}
		acc = acc.Union(p)
	}
	if acc == nil {
		return nil
	}
	return acc.GetAll()
}

// SearchNot returns universe minus every document matching any term.
func (ix *Index) SearchNot(universe []DocID, terms []string) []DocID {
	excluded := ix.SearchOr(terms)
	if len(excluded) == 0 {
		out := make([]DocID, len(universe))
		copy(out, universe)
		return out
	}

	exSet := make(map[DocID]struct{}, len(excluded))
	for _, d := range excluded {
		exSet[d] = struct{}{}
	}
	out := make([]DocID, 0, len(universe))
	for _, d := range universe {
		if _, ok := exSet[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func allBitmap(lists []*PostingList) bool {
	for _, p := range lists {
		if p.GetStrategy() != StrategyBitmap {
			return false
		}
	}
	return true
}

// mergeJoin advances a cursor per list in lockstep, producing the
// intersection in ascending order and stopping at limit for forward scans.
func mergeJoin(lists []*PostingList, limit int, reverse bool) []DocID {
	arrays := make([][]DocID, len(lists))
	for i, p := range lists {
		arrays[i] = p.GetAll()
		if len(arrays[i]) == 0 {
			return nil
		}
	}

	cursors := make([]int, len(arrays))
	var out []DocID
	candidate := arrays[0][0]

	for {
		agreed := true
		for i := range arrays {
			// Advance cursor i to the first element >= candidate.
			a := arrays[i]
			j := cursors[i]
			for j < len(a) && a[j] < candidate {
				j++
			}
			cursors[i] = j
			if j == len(a) {
				goto done
			}
			if a[j] != candidate {
				candidate = a[j]
				agreed = false
				break
			}
		}
		if agreed {
			out = append(out, candidate)
			if limit > 0 && !reverse && len(out) >= limit {
				break
			}
			cursors[0]++
			if cursors[0] == len(arrays[0]) {
				break
			}
			candidate = arrays[0][cursors[0]]
		}
	}
done:
	if reverse {
		reverseInPlace(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
	}
	return out
}

// blockProbe scans the larger list block by block, probing each candidate in
// the smaller list. Returns ok=false when the first block yields no hits,
// signalling the caller to fall back to a full intersection.
func blockProbe(larger, smaller *PostingList, limit int) ([]DocID, bool) {
	all := larger.GetAll()
	var out []DocID

	for start := 0; start < len(all); start += probeBlockSize {
		end := start + probeBlockSize
		if end > len(all) {
			end = len(all)
		}
		for _, d := range all[start:end] {
			if smaller.Contains(d) {
				out = append(out, d)
				if len(out) >= limit {
					return out, true
				}
			}
		}
		if start == 0 && len(out) == 0 {
			return nil, false
		}
	}
	return out, true
}

func reverseInPlace(s []DocID) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
