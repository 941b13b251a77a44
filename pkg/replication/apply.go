package replication

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/table"
)

// ApplyStats counts applied events.
type ApplyStats struct {
	Inserts uint64
	Updates uint64
	Deletes uint64
	Skipped uint64
	Errors  uint64
}

// ApplyEngine turns parsed row events into (DocumentStore, Index) mutation
// pairs. Each pair runs under the table's apply latch so the two structures
// are observable as a unit; after a successful apply the engine notifies
// the cache invalidation engine. Apply leaves the replication cursor alone;
// it moves only through SetCursor.
type ApplyEngine struct {
	catalog *table.Catalog
	cache   *cache.Manager

	cursorMu sync.RWMutex
	cursor   string

	inserts atomic.Uint64
	updates atomic.Uint64
	deletes atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

// NewApplyEngine wires the engine to the catalog; cacheMgr may be nil when
// caching is disabled.
func NewApplyEngine(catalog *table.Catalog, cacheMgr *cache.Manager) *ApplyEngine {
	return &ApplyEngine{catalog: catalog, cache: cacheMgr}
}

// SetCursor records the replication position; called by the follower on
// each position sync, by the initial loader and by dump load.
func (e *ApplyEngine) SetCursor(gtid string) {
	e.cursorMu.Lock()
	e.cursor = gtid
	e.cursorMu.Unlock()
}

// Cursor returns the current replication position.
func (e *ApplyEngine) Cursor() string {
	e.cursorMu.RLock()
	defer e.cursorMu.RUnlock()
	return e.cursor
}

// Stats snapshots the event counters.
func (e *ApplyEngine) Stats() ApplyStats {
	return ApplyStats{
		Inserts: e.inserts.Load(),
		Updates: e.updates.Load(),
		Deletes: e.deletes.Load(),
		Skipped: e.skipped.Load(),
		Errors:  e.errors.Load(),
	}
}

// Apply processes one event. Row-level decode problems surface as
// ErrSourceFatal: the caller logs and skips, the mirror self-heals on the
// next full SYNC.
func (e *ApplyEngine) Apply(ev *RowEvent) error {
	tbl, err := e.catalog.Get(ev.Table)
	if err != nil {
		e.skipped.Add(1)
		return nil // unconfigured table, not replicated
	}

	unlock := tbl.LockApply()
	defer unlock()

	switch ev.Kind {
	case EventInsert:
		return e.applyInsert(tbl, ev)
	case EventUpdate:
		return e.applyUpdate(tbl, ev)
	case EventDelete:
		return e.applyDelete(tbl, ev)
	}
	e.errors.Add(1)
	return fmt.Errorf("%w: unknown event kind %d", errdefs.ErrSourceFatal, ev.Kind)
}

func (e *ApplyEngine) applyInsert(tbl *table.Table, ev *RowEvent) error {
	row := ev.New
	if row == nil {
		e.errors.Add(1)
		return fmt.Errorf("%w: insert without row image", errdefs.ErrSourceFatal)
	}
	if !tbl.RowMatchesRequired(row.Raw) {
		e.skipped.Add(1)
		return nil
	}

	id, err := tbl.Store.AddDocument(row.PK, tbl.Attrs(row.Attrs))
	if err != nil {
		e.errors.Add(1)
		return err
	}
	tbl.Index.AddDocument(id, row.Text)

	e.inserts.Add(1)
	e.notify(tbl.Name, "", row.Text)
	return nil
}

func (e *ApplyEngine) applyUpdate(tbl *table.Table, ev *RowEvent) error {
	oldRow, newRow := ev.Old, ev.New
	if oldRow == nil || newRow == nil {
		e.errors.Add(1)
		return fmt.Errorf("%w: update without both row images", errdefs.ErrSourceFatal)
	}

	_, wasIndexed := tbl.Store.GetDocID(oldRow.PK)
	nowMatches := tbl.RowMatchesRequired(newRow.Raw)

	switch {
	case !wasIndexed && nowMatches:
		// Row entered the mirrored set.
		id, err := tbl.Store.AddDocument(newRow.PK, tbl.Attrs(newRow.Attrs))
		if err != nil {
			e.errors.Add(1)
			return err
		}
		tbl.Index.AddDocument(id, newRow.Text)
		e.inserts.Add(1)
		e.notify(tbl.Name, "", newRow.Text)

	case wasIndexed && !nowMatches:
		// Row left the mirrored set.
		id, _ := tbl.Store.GetDocID(oldRow.PK)
		tbl.Index.RemoveDocument(id, oldRow.Text)
		tbl.Store.RemoveDocument(id)
		e.deletes.Add(1)
		e.notify(tbl.Name, oldRow.Text, "")

	case wasIndexed && nowMatches:
		id, _ := tbl.Store.GetDocID(oldRow.PK)
		if err := tbl.Store.UpdateDocument(id, tbl.Attrs(newRow.Attrs)); err != nil {
			e.errors.Add(1)
			return err
		}
		tbl.Index.UpdateDocument(id, oldRow.Text, newRow.Text)
		e.updates.Add(1)
		e.notify(tbl.Name, oldRow.Text, newRow.Text)

	default:
		e.skipped.Add(1)
	}
	return nil
}

func (e *ApplyEngine) applyDelete(tbl *table.Table, ev *RowEvent) error {
	row := ev.Old
	if row == nil {
		e.errors.Add(1)
		return fmt.Errorf("%w: delete without row image", errdefs.ErrSourceFatal)
	}

	id, ok := tbl.Store.GetDocID(row.PK)
	if !ok {
		// Row was never mirrored (required filter, or deleted twice).
		e.skipped.Add(1)
		return nil
	}
	// Index first, then store: a reader that still finds the terms also
	// still finds the document; never the other way around.
	tbl.Index.RemoveDocument(id, row.Text)
	tbl.Store.RemoveDocument(id)

	e.deletes.Add(1)
	e.notify(tbl.Name, row.Text, "")
	return nil
}

func (e *ApplyEngine) notify(tableName, oldText, newText string) {
	if e.cache == nil {
		return
	}
	e.cache.Invalidate(tableName, oldText, newText)
}

// LogSkippedRow records an unrecoverable row decode failure.
func LogSkippedRow(tableName string, err error) {
	lg := log.WithComponent("replication")
	lg.Error().
		Err(err).
		Str("table", tableName).
		Msg("row decode failed, skipping until next sync")
}
