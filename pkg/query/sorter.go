package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/storage"
	"github.com/libraz/mygram-db/pkg/types"
)

// DocID aliases the shared document identifier type.
type DocID = types.DocID

const (
	// Below this candidate count, pre-materializing sort keys costs more
	// than the repeated lookups it saves.
	schwartzianThreshold = 100

	// Partial sort is used when offset+limit needs less than this share of
	// the candidates.
	partialSortThreshold = 0.5

	// Sample size for ORDER BY column validation.
	sortColumnSampleSize = 100

	// Zero-pad widths for the string sort-key encoding.
	numericKeyWidth = 20
	floatPrecision  = 6

	// Offset added to signed values so their zero-padded decimal form
	// orders correctly. The order holds for values from -2^60 through
	// 2^63-1-2^60; values outside that range do not order correctly.
	signedKeyOffset = int64(1) << 60
)

// SortAndPaginate orders candidates per the query's ORDER BY (primary key
// DESC when absent) and returns the [offset, offset+limit) page. The input
// slice is reordered in place.
func SortAndPaginate(results []DocID, store *storage.DocumentStore, q *Query) ([]DocID, error) {
	if len(results) == 0 {
		return nil, nil
	}

	orderBy := OrderBy{Desc: true}
	if q.OrderBy != nil {
		orderBy = *q.OrderBy
	}

	if !orderBy.IsPrimaryKey() {
		if err := validateSortColumn(results, store, orderBy.Column); err != nil {
			return nil, err
		}
	}

	// offset+limit can exceed 2³²; clamp in 64-bit space.
	totalNeeded64 := uint64(q.Offset) + uint64(q.Limit)
	totalNeeded := len(results)
	if totalNeeded64 < uint64(totalNeeded) {
		totalNeeded = int(totalNeeded64)
	}

	usePartial := totalNeeded < len(results) &&
		float64(totalNeeded) < float64(len(results))*partialSortThreshold

	if orderBy.IsPrimaryKey() && len(results) >= schwartzianThreshold {
		sortSchwartzian(results, store, orderBy, totalNeeded, usePartial)
	} else {
		less := makeComparator(store, orderBy)
		if usePartial {
			partialSort(results, totalNeeded, less)
		} else {
			sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
		}
	}

	start := int(q.Offset)
	if start > len(results) {
		start = len(results)
	}
	end := start + int(q.Limit)
	if end > len(results) {
		end = len(results)
	}
	page := make([]DocID, end-start)
	copy(page, results[start:end])
	return page, nil
}

func validateSortColumn(results []DocID, store *storage.DocumentStore, column string) error {
	check := len(results)
	if check > sortColumnSampleSize {
		check = sortColumnSampleSize
	}
	for i := 0; i < check; i++ {
		if _, ok := store.GetFilterValue(results[i], column); ok {
			return nil
		}
	}
	lg := log.WithComponent("sorter")
	lg.Warn().
		Str("column", column).
		Int("sampled", check).
		Msg("order by column not found in sample")
	return fmt.Errorf("%w: order by column %q", errdefs.ErrColumnNotFound, column)
}

// sortEntry is a pre-materialized sort key, so sorting never touches the
// store lock.
type sortEntry struct {
	id    DocID
	isNum bool
	num   uint64
	key   string
}

func pkEntry(id DocID, store *storage.DocumentStore) sortEntry {
	pk, ok := store.GetPrimaryKey(id)
	if !ok {
		// Fall back to the DocID itself.
		return sortEntry{id: id, isNum: true, num: uint64(id)}
	}
	if n, ok := parseDigits(pk); ok {
		return sortEntry{id: id, isNum: true, num: n, key: pk}
	}
	return sortEntry{id: id, key: pk}
}

// entryCompare orders numeric pairs as unsigned integers and everything
// else as raw bytes; each cohort stays internally monotone.
func entryCompare(a, b sortEntry) int {
	if a.isNum && b.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return strings.Compare(a.key, b.key)
	}
	return strings.Compare(a.key, b.key)
}

func entryLess(a, b sortEntry, desc bool) bool {
	c := entryCompare(a, b)
	if desc {
		return c > 0
	}
	return c < 0
}

func sortSchwartzian(results []DocID, store *storage.DocumentStore, orderBy OrderBy, totalNeeded int, usePartial bool) {
	entries := make([]sortEntry, len(results))
	for i, id := range results {
		entries[i] = pkEntry(id, store)
	}

	less := func(a, b sortEntry) bool { return entryLess(a, b, orderBy.Desc) }
	if usePartial {
		partialSortEntries(entries, totalNeeded, less)
	} else {
		sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	}
	for i, e := range entries {
		results[i] = e.id
	}
}

// makeComparator builds the pairwise ordering used for small candidate sets
// and for filter-column ordering.
func makeComparator(store *storage.DocumentStore, orderBy OrderBy) func(a, b DocID) bool {
	if orderBy.IsPrimaryKey() {
		return func(a, b DocID) bool {
			ea, eb := pkEntry(a, store), pkEntry(b, store)
			return entryLess(ea, eb, orderBy.Desc)
		}
	}
	return func(a, b DocID) bool {
		ka := attrSortKey(a, store, orderBy.Column)
		kb := attrSortKey(b, store, orderBy.Column)
		if orderBy.Desc {
			return ka > kb
		}
		return ka < kb
	}
}

// attrSortKey encodes an attribute value as a string whose byte order
// matches the value order: null sorts first, bools as 0/1, signed ints
// shifted positive then zero-padded, floats fixed-precision zero-padded,
// strings as raw bytes.
func attrSortKey(id DocID, store *storage.DocumentStore, column string) string {
	v, ok := store.GetFilterValue(id, column)
	if !ok || v.IsNull() {
		return ""
	}
	switch {
	case v.Tag() == types.TagBool:
		if v.Bool() {
			return "1"
		}
		return "0"
	case v.Tag() == types.TagString:
		return v.Str()
	case v.Tag() == types.TagFloat64:
		return fmt.Sprintf("%0*.*f", numericKeyWidth, floatPrecision, v.Float64())
	case v.IsSigned():
		return fmt.Sprintf("%0*d", numericKeyWidth, v.Int64()+signedKeyOffset)
	default:
		return fmt.Sprintf("%0*d", numericKeyWidth, v.Uint64())
	}
}

func parseDigits(s string) (uint64, bool) {
	if s == "" || len(s) > 20 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// partialSort places the k smallest elements (per less) sorted at the front
// of s, leaving the tail unordered. O(n log k) via a bounded max-heap.
func partialSort(s []DocID, k int, less func(a, b DocID) bool) {
	if k <= 0 || k >= len(s) {
		sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
		return
	}

	heap := s[:k]
	buildMaxHeap(heap, less)
	for i := k; i < len(s); i++ {
		if less(s[i], heap[0]) {
			heap[0], s[i] = s[i], heap[0]
			siftDown(heap, 0, less)
		}
	}
	sort.Slice(heap, func(i, j int) bool { return less(heap[i], heap[j]) })
}

func buildMaxHeap(h []DocID, less func(a, b DocID) bool) {
	for i := len(h)/2 - 1; i >= 0; i-- {
		siftDown(h, i, less)
	}
}

func siftDown(h []DocID, i int, less func(a, b DocID) bool) {
	for {
		largest := i
		l, r := 2*i+1, 2*i+2
		if l < len(h) && less(h[largest], h[l]) {
			largest = l
		}
		if r < len(h) && less(h[largest], h[r]) {
			largest = r
		}
		if largest == i {
			return
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}

func partialSortEntries(s []sortEntry, k int, less func(a, b sortEntry) bool) {
	if k <= 0 || k >= len(s) {
		sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
		return
	}
	heap := s[:k]
	buildMaxHeapEntries(heap, less)
	for i := k; i < len(s); i++ {
		if less(s[i], heap[0]) {
			heap[0], s[i] = s[i], heap[0]
			siftDownEntries(heap, 0, less)
		}
	}
	sort.Slice(heap, func(i, j int) bool { return less(heap[i], heap[j]) })
}

func buildMaxHeapEntries(h []sortEntry, less func(a, b sortEntry) bool) {
	for i := len(h)/2 - 1; i >= 0; i-- {
		siftDownEntries(h, i, less)
	}
}

func siftDownEntries(h []sortEntry, i int, less func(a, b sortEntry) bool) {
	for {
		largest := i
		l, r := 2*i+1, 2*i+2
		if l < len(h) && less(h[largest], h[l]) {
			largest = l
		}
		if r < len(h) && less(h[largest], h[r]) {
			largest = r
		}
		if largest == i {
			return
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}
