package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/types"
)

func testCatalog(t *testing.T) (*table.Catalog, *table.Table) {
	t.Helper()
	cfg := &config.Config{
		Tables: []config.TableConfig{{
			Name:           "posts",
			PrimaryKey:     "id",
			NgramSize:      1,
			KanjiNgramSize: 1,
			TextSource:     config.TextSource{Column: "body"},
			Filters:        []string{"status", "score"},
		}},
		Memory: config.MemoryConfig{RoaringThreshold: 0.18},
	}
	catalog := table.NewCatalog(cfg)
	tbl, err := catalog.Get("posts")
	require.NoError(t, err)
	return catalog, tbl
}

func addDoc(t *testing.T, tbl *table.Table, pk, text string, attrs map[string]types.Value) DocID {
	t.Helper()
	id, err := tbl.Store.AddDocument(pk, attrs)
	require.NoError(t, err)
	tbl.Index.AddDocument(id, text)
	return id
}

func TestExecutorSearchBasic(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	id1 := addDoc(t, tbl, "1", "golang tutorial", nil)
	addDoc(t, tbl, "2", "rust tutorial", nil)

	res, err := e.Search(&Query{Op: OpSearch, Table: "posts", SearchText: "golang", Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	require.Len(t, res.DocIDs, 1)
	assert.Equal(t, id1, res.DocIDs[0])
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "1", res.Docs[0].PrimaryKey)
	assert.NotEmpty(t, res.Ngrams)
}

func TestExecutorSearchUnknownTable(t *testing.T) {
	catalog, _ := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	_, err := e.Search(&Query{Op: OpSearch, Table: "nope", SearchText: "x", Limit: 10})
	assert.ErrorIs(t, err, errdefs.ErrTableNotFound)
}

func TestExecutorSearchNotTerms(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "1", "Hello world example", nil)
	addDoc(t, tbl, "2", "Hello programming", nil)
	id3 := addDoc(t, tbl, "3", "World news today", nil)

	res, err := e.Search(&Query{
		Op: OpSearch, Table: "posts",
		SearchText: "w",
		NotTerms:   []string{"x"},
		Limit:      10,
	})
	require.NoError(t, err)

	require.Len(t, res.DocIDs, 1)
	assert.Equal(t, id3, res.DocIDs[0])
}

func TestExecutorSearchAndTerms(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	id1 := addDoc(t, tbl, "1", "abc", nil)
	addDoc(t, tbl, "2", "ab", nil)

	res, err := e.Search(&Query{
		Op: OpSearch, Table: "posts",
		SearchText: "a",
		AndTerms:   []string{"c"},
		Limit:      10,
	})
	require.NoError(t, err)

	require.Len(t, res.DocIDs, 1)
	assert.Equal(t, id1, res.DocIDs[0])
}

func TestExecutorFilters(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	id1 := addDoc(t, tbl, "1", "post one", map[string]types.Value{
		"status": types.String("active"), "score": types.Int64(5),
	})
	addDoc(t, tbl, "2", "post two", map[string]types.Value{
		"status": types.String("hidden"), "score": types.Int64(50),
	})
	id3 := addDoc(t, tbl, "3", "post three", map[string]types.Value{
		"status": types.String("active"), "score": types.Int64(30),
	})

	res, err := e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "post",
		Filters: []FilterCondition{{Column: "status", Op: FilterEQ, Value: "active"}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []DocID{id1, id3}, res.DocIDs)

	res, err = e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "post",
		Filters: []FilterCondition{
			{Column: "status", Op: FilterEQ, Value: "active"},
			{Column: "score", Op: FilterGT, Value: "10"},
		},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.DocIDs, 1)
	assert.Equal(t, id3, res.DocIDs[0])
}

func TestExecutorFilterMissingColumnOnlyNE(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "1", "post", nil)

	res, err := e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "post",
		Filters: []FilterCondition{{Column: "status", Op: FilterEQ, Value: "active"}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.DocIDs)

	res, err = e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "post",
		Filters: []FilterCondition{{Column: "status", Op: FilterNE, Value: "active"}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Len(t, res.DocIDs, 1)
}

func TestExecutorSortLimit(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	for _, pk := range []string{"100", "50", "200", "150", "75"} {
		addDoc(t, tbl, pk, "match", nil)
	}

	res, err := e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "match",
		OrderBy: &OrderBy{Desc: true},
		Limit:   10,
	})
	require.NoError(t, err)

	pks := make([]string, 0, len(res.Docs))
	for _, d := range res.Docs {
		pks = append(pks, d.PrimaryKey)
	}
	assert.Equal(t, []string{"200", "150", "100", "75", "50"}, pks)

	// ASC is the exact reverse.
	res, err = e.Search(&Query{
		Op: OpSearch, Table: "posts", SearchText: "match",
		OrderBy: &OrderBy{},
		Limit:   10,
	})
	require.NoError(t, err)
	pksAsc := make([]string, 0, len(res.Docs))
	for _, d := range res.Docs {
		pksAsc = append(pksAsc, d.PrimaryKey)
	}
	assert.Equal(t, []string{"50", "75", "100", "150", "200"}, pksAsc)
}

func TestExecutorCount(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "1", "golang", nil)
	addDoc(t, tbl, "2", "golang", nil)
	addDoc(t, tbl, "3", "rust", nil)

	n, _, dbg, err := e.Count(&Query{Op: OpCount, Table: "posts", SearchText: "golang"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Nil(t, dbg)
}

func TestExecutorCountDebug(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "1", "golang", nil)

	n, ngrams, dbg, err := e.Count(&Query{Op: OpCount, Table: "posts", SearchText: "golang", Debug: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.NotEmpty(t, ngrams)
	require.NotNil(t, dbg)
	assert.NotEmpty(t, dbg.Terms)
}

func TestExecutorGet(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "42", "hello", map[string]types.Value{"status": types.String("ok")})

	doc, err := e.Get(&Query{Op: OpGet, Table: "posts", PrimaryKey: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", doc.PrimaryKey)
	assert.Equal(t, "ok", doc.Attrs["status"].Str())

	_, err = e.Get(&Query{Op: OpGet, Table: "posts", PrimaryKey: "404"})
	assert.ErrorIs(t, err, errdefs.ErrDocumentNotFound)
}

func TestExecutorNormalizesQueryText(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	// Index side stores normalized text.
	norm := ngram.DefaultNormalizer()
	addDoc(t, tbl, "1", norm.Normalize("GoLang"), nil)

	res, err := e.Search(&Query{Op: OpSearch, Table: "posts", SearchText: "GOLANG", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.DocIDs, 1)
}

func TestExecutorDebugInfo(t *testing.T) {
	catalog, tbl := testCatalog(t)
	e := NewExecutor(catalog, ngram.DefaultNormalizer())

	addDoc(t, tbl, "1", "golang", nil)

	res, err := e.Search(&Query{Op: OpSearch, Table: "posts", SearchText: "golang", Limit: 10, Debug: true})
	require.NoError(t, err)
	require.NotNil(t, res.Debug)
	assert.NotEmpty(t, res.Debug.Terms)
	assert.Equal(t, 1, res.Debug.AfterFilter)
}
