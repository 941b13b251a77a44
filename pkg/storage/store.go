package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/types"
)

// DocID aliases the shared document identifier type.
type DocID = types.DocID

// DocumentStore holds a table's DocID↔primary-key bijection and the filter
// attribute map. All public operations are internally synchronized; the
// three maps move as one unit under a single readers–writer lock.
type DocumentStore struct {
	mu sync.RWMutex

	nextDocID uint64 // uint64 so the 2³²−1 boundary is detectable
	idToPK    map[DocID]string
	pkToID    map[string]DocID
	attrs     map[DocID]map[string]types.Value
}

// NewDocumentStore returns an empty store; the first document gets DocID 1.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		nextDocID: 1,
		idToPK:    make(map[DocID]string),
		pkToID:    make(map[string]DocID),
		attrs:     make(map[DocID]map[string]types.Value),
	}
}

// AddDocument assigns a DocID to primaryKey. Adding an existing primary key
// returns the original DocID without touching attributes or burning a
// counter value.
func (s *DocumentStore) AddDocument(primaryKey string, attrs map[string]types.Value) (DocID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(primaryKey, attrs)
}

func (s *DocumentStore) addLocked(primaryKey string, attrs map[string]types.Value) (DocID, error) {
	if id, ok := s.pkToID[primaryKey]; ok {
		lg := log.WithComponent("storage")
		lg.Warn().
			Str("pk", primaryKey).
			Uint32("doc_id", id).
			Msg("primary key already exists")
		return id, nil
	}
	if s.nextDocID > uint64(types.MaxDocID) {
		return 0, fmt.Errorf("%w: doc id counter reached %d", errdefs.ErrDocIDExhausted, uint64(types.MaxDocID))
	}

	id := DocID(s.nextDocID)
	s.nextDocID++

	s.idToPK[id] = primaryKey
	s.pkToID[primaryKey] = id
	if len(attrs) > 0 {
		s.attrs[id] = attrs
	}
	return id, nil
}

// BatchItem is one document of a bulk insertion.
type BatchItem struct {
	PrimaryKey string
	Attrs      map[string]types.Value
}

// AddDocumentBatch adds items in order, stopping at the first failure. The
// assigned IDs for all successful items are returned alongside the error.
func (s *DocumentStore) AddDocumentBatch(items []BatchItem) ([]DocID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]DocID, 0, len(items))
	for _, item := range items {
		id, err := s.addLocked(item.PrimaryKey, item.Attrs)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateDocument replaces the attribute map wholesale.
func (s *DocumentStore) UpdateDocument(docID DocID, attrs map[string]types.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.idToPK[docID]; !ok {
		return fmt.Errorf("%w: doc id %d", errdefs.ErrDocumentNotFound, docID)
	}
	if len(attrs) > 0 {
		s.attrs[docID] = attrs
	} else {
		delete(s.attrs, docID)
	}
	return nil
}

// RemoveDocument deletes the document and both mapping directions. Returns
// false when docID is unknown.
func (s *DocumentStore) RemoveDocument(docID DocID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk, ok := s.idToPK[docID]
	if !ok {
		return false
	}
	// Copy before erasing the forward entry: the reverse-map key must not
	// alias storage that delete() releases.
	pkCopy := strings.Clone(pk)

	delete(s.idToPK, docID)
	delete(s.pkToID, pkCopy)
	delete(s.attrs, docID)
	return true
}

// GetDocument returns a copy of the document, or false.
func (s *DocumentStore) GetDocument(docID DocID) (types.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pk, ok := s.idToPK[docID]
	if !ok {
		return types.Document{}, false
	}
	doc := types.Document{DocID: docID, PrimaryKey: pk}
	if attrs, ok := s.attrs[docID]; ok {
		doc.Attrs = make(map[string]types.Value, len(attrs))
		for k, v := range attrs {
			doc.Attrs[k] = v
		}
	}
	return doc, true
}

// GetDocID returns the DocID for a primary key.
func (s *DocumentStore) GetDocID(primaryKey string) (DocID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pkToID[primaryKey]
	return id, ok
}

// GetPrimaryKey returns the primary key for a DocID.
func (s *DocumentStore) GetPrimaryKey(docID DocID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pk, ok := s.idToPK[docID]
	return pk, ok
}

// GetFilterValue returns one attribute of one document.
func (s *DocumentStore) GetFilterValue(docID DocID, name string) (types.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs, ok := s.attrs[docID]
	if !ok {
		return types.Value{}, false
	}
	v, ok := attrs[name]
	return v, ok
}

// FilterByValue returns the sorted DocIDs whose attribute name equals value.
func (s *DocumentStore) FilterByValue(name string, value types.Value) []DocID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DocID
	for id, attrs := range s.attrs {
		if v, ok := attrs[name]; ok && v.Equal(value) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the document count.
func (s *DocumentStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idToPK)
}

// AllDocIDs returns every DocID in ascending order.
func (s *DocumentStore) AllDocIDs() []DocID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DocID, 0, len(s.idToPK))
	for id := range s.idToPK {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MemoryUsage estimates the store footprint in bytes.
func (s *DocumentStore) MemoryUsage() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, pk := range s.idToPK {
		total += 4 + uint64(len(pk))
	}
	for pk := range s.pkToID {
		total += uint64(len(pk)) + 4
	}
	for _, attrs := range s.attrs {
		total += 4
		for name, v := range attrs {
			total += uint64(len(name)) + uint64(v.MemSize())
		}
	}
	return total
}

// ClearInPlace empties the store while keeping the instance identity; the
// apply engine and lifecycle hold long-lived pointers to it. The DocID
// counter restarts at 1.
func (s *DocumentStore) ClearInPlace() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idToPK = make(map[DocID]string)
	s.pkToID = make(map[string]DocID)
	s.attrs = make(map[DocID]map[string]types.Value)
	s.nextDocID = 1
	lg := log.WithComponent("storage")
	lg.Info().Msg("document store cleared")
}

// setNextDocID is used by the dump loader.
func (s *DocumentStore) setNextDocID(next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDocID = next
}

// NextDocID exposes the counter for dumps and INFO output.
func (s *DocumentStore) NextDocID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextDocID
}
