package cache

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/libraz/mygram-db/pkg/query"
)

// Fingerprint canonicalizes a query into its cache key. Two queries with
// the same canonical form always produce the same result set (modulo
// invalidation). Non-cacheable queries return "".
//
// Canonicalization: table name lowercased; whitespace runs in the search
// text (space, tab, U+3000) collapsed to single spaces; AND terms, NOT
// terms and filters sorted; ORDER BY and the numeric limit preserved.
func Fingerprint(q *query.Query) string {
	if q.Op != query.OpSearch && q.Op != query.OpCount {
		return ""
	}

	var b strings.Builder
	if q.Op == query.OpCount {
		b.WriteString("COUNT ")
	} else {
		b.WriteString("SEARCH ")
	}
	b.WriteString(strings.ToLower(q.Table))
	b.WriteByte(' ')
	b.WriteString(collapseWhitespace(q.SearchText))

	if len(q.AndTerms) > 0 {
		terms := append([]string{}, q.AndTerms...)
		sort.Strings(terms)
		for _, t := range terms {
			b.WriteString(" AND ")
			b.WriteString(collapseWhitespace(t))
		}
	}
	if len(q.NotTerms) > 0 {
		terms := append([]string{}, q.NotTerms...)
		sort.Strings(terms)
		for _, t := range terms {
			b.WriteString(" NOT ")
			b.WriteString(collapseWhitespace(t))
		}
	}
	if len(q.Filters) > 0 {
		filters := append([]query.FilterCondition{}, q.Filters...)
		sort.Slice(filters, func(i, j int) bool {
			if filters[i].Column != filters[j].Column {
				return filters[i].Column < filters[j].Column
			}
			if filters[i].Op != filters[j].Op {
				return filters[i].Op < filters[j].Op
			}
			return filters[i].Value < filters[j].Value
		})
		for _, f := range filters {
			b.WriteString(" FILTER ")
			b.WriteString(f.Column)
			b.WriteByte(' ')
			b.WriteString(string(f.Op))
			b.WriteByte(' ')
			b.WriteString(f.Value)
		}
	}
	if q.OrderBy != nil {
		b.WriteString(" SORT ")
		if q.OrderBy.Column == "" {
			b.WriteString("<pk>")
		} else {
			b.WriteString(q.OrderBy.Column)
		}
		if q.OrderBy.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	b.WriteString(" LIMIT ")
	b.WriteString(strconv.FormatUint(uint64(q.Limit), 10))
	if q.LimitExplicit {
		b.WriteByte('!')
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatUint(uint64(q.Offset), 10))
	}
	return b.String()
}

// Digest returns a short printable digest of a fingerprint for logs.
func Digest(fingerprint string) string {
	return strconv.FormatUint(xxhash.Sum64String(fingerprint), 16)
}

// collapseWhitespace folds runs of ASCII space, tab and ideographic space
// (U+3000) into single spaces and trims the ends.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '　' {
			inRun = true
			continue
		}
		if inRun && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}
