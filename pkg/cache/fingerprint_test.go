package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/libraz/mygram-db/pkg/query"
)

func searchQuery(mutate func(*query.Query)) *query.Query {
	q := &query.Query{
		Op:         query.OpSearch,
		Table:      "posts",
		SearchText: "hello world",
		Limit:      100,
	}
	if mutate != nil {
		mutate(q)
	}
	return q
}

func TestFingerprintWhitespaceNormalization(t *testing.T) {
	fp1 := Fingerprint(searchQuery(func(q *query.Query) { q.SearchText = "hello  world" }))
	fp2 := Fingerprint(searchQuery(func(q *query.Query) { q.SearchText = "hello world" }))
	fp3 := Fingerprint(searchQuery(func(q *query.Query) { q.SearchText = "hello\tworld" }))
	fp4 := Fingerprint(searchQuery(func(q *query.Query) { q.SearchText = "hello　world" })) // U+3000

	assert.Equal(t, fp1, fp2)
	assert.Equal(t, fp2, fp3)
	assert.Equal(t, fp3, fp4)
}

func TestFingerprintTableCaseInsensitive(t *testing.T) {
	fp1 := Fingerprint(searchQuery(func(q *query.Query) { q.Table = "Posts" }))
	fp2 := Fingerprint(searchQuery(func(q *query.Query) { q.Table = "POSTS" }))
	fp3 := Fingerprint(searchQuery(nil))

	assert.Equal(t, fp1, fp2)
	assert.Equal(t, fp2, fp3)
}

func TestFingerprintTermOrdering(t *testing.T) {
	fp1 := Fingerprint(searchQuery(func(q *query.Query) { q.AndTerms = []string{"b", "a"} }))
	fp2 := Fingerprint(searchQuery(func(q *query.Query) { q.AndTerms = []string{"a", "b"} }))
	assert.Equal(t, fp1, fp2)

	fp3 := Fingerprint(searchQuery(func(q *query.Query) { q.NotTerms = []string{"y", "x"} }))
	fp4 := Fingerprint(searchQuery(func(q *query.Query) { q.NotTerms = []string{"x", "y"} }))
	assert.Equal(t, fp3, fp4)

	assert.NotEqual(t, fp1, fp3)
}

func TestFingerprintFilterOrdering(t *testing.T) {
	fp1 := Fingerprint(searchQuery(func(q *query.Query) {
		q.Filters = []query.FilterCondition{
			{Column: "b", Op: query.FilterEQ, Value: "2"},
			{Column: "a", Op: query.FilterEQ, Value: "1"},
		}
	}))
	fp2 := Fingerprint(searchQuery(func(q *query.Query) {
		q.Filters = []query.FilterCondition{
			{Column: "a", Op: query.FilterEQ, Value: "1"},
			{Column: "b", Op: query.FilterEQ, Value: "2"},
		}
	}))
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintLimits(t *testing.T) {
	// Same default limit → same fingerprint.
	fp1 := Fingerprint(searchQuery(nil))
	fp2 := Fingerprint(searchQuery(nil))
	assert.Equal(t, fp1, fp2)

	// Different numeric limits differ even when both are defaults.
	fp3 := Fingerprint(searchQuery(func(q *query.Query) { q.Limit = 200 }))
	assert.NotEqual(t, fp1, fp3)

	// Explicit and default limits with the same number differ.
	fp4 := Fingerprint(searchQuery(func(q *query.Query) { q.LimitExplicit = true }))
	assert.NotEqual(t, fp1, fp4)
}

func TestFingerprintSortClause(t *testing.T) {
	fp1 := Fingerprint(searchQuery(nil))
	fp2 := Fingerprint(searchQuery(func(q *query.Query) { q.OrderBy = &query.OrderBy{Column: "score", Desc: true} }))
	assert.NotEqual(t, fp1, fp2)
}

func TestFingerprintCountPrefix(t *testing.T) {
	fp := Fingerprint(searchQuery(func(q *query.Query) { q.Op = query.OpCount }))
	assert.Contains(t, fp, "COUNT")
	assert.NotEqual(t, fp, Fingerprint(searchQuery(nil)))
}

func TestFingerprintNonCacheable(t *testing.T) {
	fp := Fingerprint(&query.Query{Op: query.OpGet, Table: "posts", PrimaryKey: "1"})
	assert.Empty(t, fp)
}

func TestFingerprintUnicodePreserved(t *testing.T) {
	fp := Fingerprint(searchQuery(func(q *query.Query) { q.SearchText = "日本語検索" }))
	assert.Contains(t, fp, "日本語検索")
}
