package table

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/index"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/storage"
	"github.com/libraz/mygram-db/pkg/types"
)

// Table owns one mirrored table's Index and DocumentStore plus its schema.
// The apply engine and the lifecycle coordinator hold this pointer for the
// whole process lifetime; clearing always happens in place, never by
// replacing the owned instances.
type Table struct {
	Name   string
	Config config.TableConfig

	Index *index.Index
	Store *storage.DocumentStore

	// applyMu serializes the (store, index) mutation pair per table so a
	// reader never observes one side without the other.
	applyMu sync.Mutex
}

// New builds a table from its configuration.
func New(cfg config.TableConfig, roaringThreshold float64) *Table {
	gen := ngram.NewGenerator(cfg.NgramSize, cfg.KanjiNgramSize)
	return &Table{
		Name:   cfg.Name,
		Config: cfg,
		Index:  index.New(gen, roaringThreshold),
		Store:  storage.NewDocumentStore(),
	}
}

// Generator returns the table's n-gram generator.
func (t *Table) Generator() *ngram.Generator { return t.Index.Generator() }

// LockApply acquires the per-table write latch for a (store, index)
// mutation pair; the returned func releases it.
func (t *Table) LockApply() func() {
	t.applyMu.Lock()
	return t.applyMu.Unlock
}

// ClearInPlace empties both structures while preserving instance identity.
func (t *Table) ClearInPlace() {
	t.Index.ClearInPlace()
	t.Store.ClearInPlace()
}

// Text extracts the indexed text from a source row per the table's
// text_source configuration.
func (t *Table) Text(row map[string]string) string {
	src := t.Config.TextSource
	if src.Column != "" {
		return row[src.Column]
	}
	parts := make([]string, 0, len(src.Concat))
	for _, col := range src.Concat {
		parts = append(parts, row[col])
	}
	delim := src.Delimiter
	if delim == "" {
		delim = " "
	}
	return strings.Join(parts, delim)
}

// RowMatchesRequired evaluates the table's required_filters predicate.
func (t *Table) RowMatchesRequired(row map[string]string) bool {
	for _, rf := range t.Config.RequiredFilters {
		if row[rf.Column] != rf.Value {
			return false
		}
	}
	return true
}

// Attrs keeps only the configured filter columns of a typed row image.
func (t *Table) Attrs(values map[string]types.Value) map[string]types.Value {
	if len(t.Config.Filters) == 0 || len(values) == 0 {
		return nil
	}
	attrs := make(map[string]types.Value, len(t.Config.Filters))
	for _, name := range t.Config.Filters {
		if v, ok := values[name]; ok && !v.IsNull() {
			attrs[name] = v
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// Catalog maps table names to their Table. The set is fixed at startup;
// lookups are lock-free after construction.
type Catalog struct {
	tables map[string]*Table
	names  []string
}

// NewCatalog builds every configured table.
func NewCatalog(cfg *config.Config) *Catalog {
	c := &Catalog{tables: make(map[string]*Table, len(cfg.Tables))}
	for _, tc := range cfg.Tables {
		c.tables[tc.Name] = New(tc, cfg.Memory.RoaringThreshold)
		c.names = append(c.names, tc.Name)
	}
	sort.Strings(c.names)
	return c
}

// Get returns the named table.
func (c *Catalog) Get(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errdefs.ErrTableNotFound, name)
	}
	return t, nil
}

// Names returns the table names in sorted order.
func (c *Catalog) Names() []string { return c.names }
