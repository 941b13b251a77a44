package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/storage"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/types"
)

// DebugInfo is attached to responses when the connection has DEBUG ON.
type DebugInfo struct {
	Terms          []string `json:"terms"`
	CandidateCount int      `json:"candidate_count"`
	AfterNot       int      `json:"after_not"`
	AfterFilter    int      `json:"after_filter"`
	ElapsedMS      float64  `json:"elapsed_ms"`
}

// Result is a completed SEARCH: the page of documents plus the totals and
// the n-gram set the query consulted (the cache registers entries under it).
type Result struct {
	Total  int
	DocIDs []DocID
	Docs   []types.Document
	Ngrams []string
	Debug  *DebugInfo
	Cost   time.Duration
}

// Executor runs parsed queries against the table catalog.
type Executor struct {
	catalog *table.Catalog
	norm    ngram.Normalizer
}

// NewExecutor returns an executor sharing the catalog's tables.
func NewExecutor(catalog *table.Catalog, norm ngram.Normalizer) *Executor {
	return &Executor{catalog: catalog, norm: norm}
}

// Search runs the full pipeline: tokenize, AND-intersect, NOT-subtract,
// filter, sort, paginate, materialize.
func (e *Executor) Search(q *Query) (*Result, error) {
	started := time.Now()

	tbl, err := e.catalog.Get(q.Table)
	if err != nil {
		return nil, err
	}
	gen := tbl.Generator()

	terms := e.collectTerms(gen, q.SearchText, q.AndTerms)
	var notTerms []string
	for _, nt := range q.NotTerms {
		notTerms = append(notTerms, gen.Generate(e.norm.Normalize(nt))...)
	}
	notTerms = dedupe(notTerms)

	candidates := e.candidates(tbl, q, terms)
	candidateCount := len(candidates)

	if len(notTerms) > 0 {
		candidates = tbl.Index.SearchNot(candidates, notTerms)
	}
	afterNot := len(candidates)

	for _, cond := range orderFilters(q.Filters) {
		candidates = filterCandidates(candidates, tbl.Store, cond)
		if len(candidates) == 0 {
			break
		}
	}
	afterFilter := len(candidates)

	page, err := SortAndPaginate(candidates, tbl.Store, q)
	if err != nil {
		return nil, err
	}

	docs := make([]types.Document, 0, len(page))
	for _, id := range page {
		if doc, ok := tbl.Store.GetDocument(id); ok {
			docs = append(docs, doc)
		}
	}

	res := &Result{
		Total:  afterFilter,
		DocIDs: page,
		Docs:   docs,
		Ngrams: dedupe(append(append([]string{}, terms...), notTerms...)),
		Cost:   time.Since(started),
	}
	if q.Debug {
		res.Debug = &DebugInfo{
			Terms:          terms,
			CandidateCount: candidateCount,
			AfterNot:       afterNot,
			AfterFilter:    afterFilter,
			ElapsedMS:      float64(res.Cost.Microseconds()) / 1000.0,
		}
	}
	return res, nil
}

// Count runs the pipeline without sorting or materialization. The returned
// n-gram set feeds cache registration, like Result.Ngrams does for Search.
func (e *Executor) Count(q *Query) (uint64, []string, *DebugInfo, error) {
	started := time.Now()

	tbl, err := e.catalog.Get(q.Table)
	if err != nil {
		return 0, nil, nil, err
	}
	gen := tbl.Generator()

	terms := e.collectTerms(gen, q.SearchText, q.AndTerms)
	candidates := tbl.Index.SearchAnd(terms, 0, false)
	candidateCount := len(candidates)
	if len(terms) == 0 {
		candidates = tbl.Store.AllDocIDs()
		candidateCount = len(candidates)
	}

	var notTerms []string
	for _, nt := range q.NotTerms {
		notTerms = append(notTerms, gen.Generate(e.norm.Normalize(nt))...)
	}
	notTerms = dedupe(notTerms)
	if len(notTerms) > 0 {
		candidates = tbl.Index.SearchNot(candidates, notTerms)
	}
	afterNot := len(candidates)

	for _, cond := range orderFilters(q.Filters) {
		candidates = filterCandidates(candidates, tbl.Store, cond)
		if len(candidates) == 0 {
			break
		}
	}

	var dbg *DebugInfo
	if q.Debug {
		dbg = &DebugInfo{
			Terms:          terms,
			CandidateCount: candidateCount,
			AfterNot:       afterNot,
			AfterFilter:    len(candidates),
			ElapsedMS:      float64(time.Since(started).Microseconds()) / 1000.0,
		}
	}
	ngrams := dedupe(append(append([]string{}, terms...), notTerms...))
	return uint64(len(candidates)), ngrams, dbg, nil
}

// Get fetches a document by primary key.
func (e *Executor) Get(q *Query) (types.Document, error) {
	tbl, err := e.catalog.Get(q.Table)
	if err != nil {
		return types.Document{}, err
	}
	id, ok := tbl.Store.GetDocID(q.PrimaryKey)
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %q", errdefs.ErrDocumentNotFound, q.PrimaryKey)
	}
	doc, ok := tbl.Store.GetDocument(id)
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %q", errdefs.ErrDocumentNotFound, q.PrimaryKey)
	}
	return doc, nil
}

// collectTerms unions the n-grams of the search text and every AND term.
func (e *Executor) collectTerms(gen *ngram.Generator, text string, andTerms []string) []string {
	var terms []string
	terms = append(terms, gen.Generate(e.norm.Normalize(text))...)
	for _, at := range andTerms {
		terms = append(terms, gen.Generate(e.norm.Normalize(at))...)
	}
	return dedupe(terms)
}

// candidates fetches the AND candidate set, taking the top-N posting read
// when a single term is ordered by primary key with no other predicates.
func (e *Executor) candidates(tbl *table.Table, q *Query, terms []string) []DocID {
	if len(terms) == 0 {
		// Text-free query: every document is a candidate.
		return tbl.Store.AllDocIDs()
	}

	pkOrder := q.OrderBy == nil || q.OrderBy.IsPrimaryKey()
	if len(terms) == 1 && pkOrder && len(q.NotTerms) == 0 && len(q.Filters) == 0 {
		reverse := q.OrderBy == nil || q.OrderBy.Desc
		limit := int(uint64(q.Offset) + uint64(q.Limit))
		out := tbl.Index.SearchAnd(terms, limit, reverse)
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	return tbl.Index.SearchAnd(terms, 0, false)
}

// orderFilters runs equality conditions before range conditions.
func orderFilters(filters []FilterCondition) []FilterCondition {
	if len(filters) < 2 {
		return filters
	}
	ordered := make([]FilterCondition, 0, len(filters))
	for _, f := range filters {
		if f.IsEquality() {
			ordered = append(ordered, f)
		}
	}
	for _, f := range filters {
		if !f.IsEquality() {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

func filterCandidates(candidates []DocID, store *storage.DocumentStore, cond FilterCondition) []DocID {
	out := candidates[:0]
	for _, id := range candidates {
		v, ok := store.GetFilterValue(id, cond.Column)
		if matchFilter(v, ok, cond) {
			out = append(out, id)
		}
	}
	return out
}

// matchFilter tests one condition against one attribute value. A missing or
// null value only satisfies !=.
func matchFilter(v types.Value, present bool, cond FilterCondition) bool {
	if !present || v.IsNull() {
		return cond.Op == FilterNE
	}

	cmp, ok := compareValue(v, cond.Value)
	if !ok {
		// Type mismatch between stored value and condition literal.
		return cond.Op == FilterNE
	}
	switch cond.Op {
	case FilterEQ:
		return cmp == 0
	case FilterNE:
		return cmp != 0
	case FilterLT:
		return cmp < 0
	case FilterLTE:
		return cmp <= 0
	case FilterGT:
		return cmp > 0
	case FilterGTE:
		return cmp >= 0
	}
	return false
}

// compareValue compares a stored value with a query literal in the stored
// value's domain. Returns ok=false when the literal does not parse.
func compareValue(v types.Value, literal string) (int, bool) {
	switch {
	case v.Tag() == types.TagString:
		return strings.Compare(v.Str(), literal), true
	case v.Tag() == types.TagBool:
		want, err := parseBoolLiteral(literal)
		if err != nil {
			return 0, false
		}
		got := v.Bool()
		if got == want {
			return 0, true
		}
		if !got {
			return -1, true
		}
		return 1, true
	case v.Tag() == types.TagFloat64:
		want, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Float64() < want:
			return -1, true
		case v.Float64() > want:
			return 1, true
		}
		return 0, true
	case v.IsSigned():
		want, err := strconv.ParseInt(literal, 10, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Int64() < want:
			return -1, true
		case v.Int64() > want:
			return 1, true
		}
		return 0, true
	case v.IsUnsigned():
		want, err := strconv.ParseUint(literal, 10, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Uint64() < want:
			return -1, true
		case v.Uint64() > want:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func parseBoolLiteral(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a bool: %q", s)
}

func dedupe(terms []string) []string {
	if len(terms) < 2 {
		return terms
	}
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
