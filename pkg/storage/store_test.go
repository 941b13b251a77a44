package storage

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/types"
)

func TestAddDocumentAssignsSequentialIDs(t *testing.T) {
	s := NewDocumentStore()

	id1, err := s.AddDocument("pk1", nil)
	require.NoError(t, err)
	id2, err := s.AddDocument("pk2", nil)
	require.NoError(t, err)

	assert.Equal(t, DocID(1), id1)
	assert.Equal(t, DocID(2), id2)
	assert.Equal(t, 2, s.Size())
}

func TestAddDocumentDuplicatePK(t *testing.T) {
	s := NewDocumentStore()

	id1, err := s.AddDocument("pk1", map[string]types.Value{"status": types.String("a")})
	require.NoError(t, err)

	// Second add with the same PK returns the first DocID, does not update
	// attributes, and does not burn a counter value.
	id2, err := s.AddDocument("pk1", map[string]types.Value{"status": types.String("b")})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	v, ok := s.GetFilterValue(id1, "status")
	require.True(t, ok)
	assert.Equal(t, "a", v.Str())

	id3, err := s.AddDocument("pk3", nil)
	require.NoError(t, err)
	assert.Equal(t, DocID(2), id3)
}

func TestDocIDExhaustion(t *testing.T) {
	s := NewDocumentStore()
	s.setNextDocID(uint64(types.MaxDocID))

	// The last DocID is still assignable.
	id, err := s.AddDocument("last", nil)
	require.NoError(t, err)
	assert.Equal(t, DocID(types.MaxDocID), id)

	_, err = s.AddDocument("one-too-many", nil)
	assert.ErrorIs(t, err, errdefs.ErrDocIDExhausted)

	_, err = s.AddDocumentBatch([]BatchItem{{PrimaryKey: "batch"}})
	assert.ErrorIs(t, err, errdefs.ErrDocIDExhausted)
}

func TestUpdateDocument(t *testing.T) {
	s := NewDocumentStore()
	id, _ := s.AddDocument("pk1", map[string]types.Value{"a": types.Int64(1), "b": types.Int64(2)})

	err := s.UpdateDocument(id, map[string]types.Value{"a": types.Int64(9)})
	require.NoError(t, err)

	v, ok := s.GetFilterValue(id, "a")
	require.True(t, ok)
	assert.Equal(t, int64(9), v.Int64())
	// Replacement is wholesale: b is gone.
	_, ok = s.GetFilterValue(id, "b")
	assert.False(t, ok)

	err = s.UpdateDocument(12345, nil)
	assert.ErrorIs(t, err, errdefs.ErrDocumentNotFound)
}

func TestRemoveDocument(t *testing.T) {
	s := NewDocumentStore()
	id, _ := s.AddDocument("pk1", map[string]types.Value{"a": types.Int64(1)})

	assert.True(t, s.RemoveDocument(id))
	assert.False(t, s.RemoveDocument(id))

	_, ok := s.GetDocID("pk1")
	assert.False(t, ok)
	_, ok = s.GetPrimaryKey(id)
	assert.False(t, ok)

	// The PK is reusable and gets a fresh DocID.
	id2, err := s.AddDocument("pk1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestGetDocumentCopies(t *testing.T) {
	s := NewDocumentStore()
	id, _ := s.AddDocument("pk1", map[string]types.Value{"a": types.Int64(1)})

	doc, ok := s.GetDocument(id)
	require.True(t, ok)
	doc.Attrs["a"] = types.Int64(999)

	v, _ := s.GetFilterValue(id, "a")
	assert.Equal(t, int64(1), v.Int64())
}

func TestFilterByValue(t *testing.T) {
	s := NewDocumentStore()
	id1, _ := s.AddDocument("1", map[string]types.Value{"status": types.String("open")})
	_, _ = s.AddDocument("2", map[string]types.Value{"status": types.String("closed")})
	id3, _ := s.AddDocument("3", map[string]types.Value{"status": types.String("open")})

	got := s.FilterByValue("status", types.String("open"))
	assert.Equal(t, []DocID{id1, id3}, got)
}

func TestClearInPlaceResetsCounter(t *testing.T) {
	s := NewDocumentStore()
	_, _ = s.AddDocument("pk1", nil)
	_, _ = s.AddDocument("pk2", nil)

	s.ClearInPlace()

	assert.Zero(t, s.Size())
	id, err := s.AddDocument("pk3", nil)
	require.NoError(t, err)
	assert.Equal(t, DocID(1), id)
}

func TestDumpRoundTripAllTags(t *testing.T) {
	s := NewDocumentStore()
	attrs := map[string]types.Value{
		"b":   types.Bool(true),
		"i8":  types.Int8(-8),
		"u8":  types.Uint8(8),
		"i16": types.Int16(-1600),
		"u16": types.Uint16(1600),
		"i32": types.Int32(-320000),
		"u32": types.Uint32(320000),
		"i64": types.Int64(-64000000000),
		"s":   types.String("日本語 string"),
		"f":   types.Float64(3.25),
	}
	id, err := s.AddDocument("pk-all", attrs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf, "uuid:1-42"))

	loaded := NewDocumentStore()
	gtid, err := loaded.Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, "uuid:1-42", gtid)
	assert.Equal(t, s.NextDocID(), loaded.NextDocID())

	doc, ok := loaded.GetDocument(id)
	require.True(t, ok)
	assert.Equal(t, "pk-all", doc.PrimaryKey)
	require.Len(t, doc.Attrs, len(attrs))
	for name, want := range attrs {
		got, ok := doc.Attrs[name]
		require.True(t, ok, name)
		assert.True(t, want.Equal(got), name)
	}
}

func TestDumpRoundTripEmptyStore(t *testing.T) {
	s := NewDocumentStore()

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf, ""))

	loaded := NewDocumentStore()
	gtid, err := loaded.Load(&buf)
	require.NoError(t, err)
	assert.Empty(t, gtid)
	assert.Zero(t, loaded.Size())
}

func TestLoadRejectsBadMagic(t *testing.T) {
	s := NewDocumentStore()
	_, err := s.Load(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00")))
	assert.ErrorIs(t, err, errdefs.ErrCodec)
}

func TestLoadRejectsBadVersion(t *testing.T) {
	s := NewDocumentStore()
	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf, ""))
	raw := buf.Bytes()
	raw[4] = 99 // version byte

	_, err := NewDocumentStore().Load(bytes.NewReader(raw))
	assert.ErrorIs(t, err, errdefs.ErrCodec)
}

func TestLoadRejectsTruncated(t *testing.T) {
	s := NewDocumentStore()
	_, _ = s.AddDocument("pk", map[string]types.Value{"a": types.String("value")})
	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf, "gtid"))
	raw := buf.Bytes()

	_, err := NewDocumentStore().Load(bytes.NewReader(raw[:len(raw)-3]))
	assert.ErrorIs(t, err, errdefs.ErrCodec)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewDocumentStore()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				pk := string(rune('a'+w)) + string(rune('0'+i%10)) + string(rune('0'+i/10%10)) + string(rune('0'+i/100))
				id, err := s.AddDocument(pk, map[string]types.Value{"n": types.Int64(int64(i))})
				assert.NoError(t, err)
				_, _ = s.GetPrimaryKey(id)
				_, _ = s.GetDocID(pk)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1000, s.Size())
}
