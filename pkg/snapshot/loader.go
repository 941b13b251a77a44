package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/index"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/storage"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/types"
)

// Progress reports bulk-load advancement to the lifecycle coordinator.
type Progress func(tableName string, loaded, total uint64)

// Loader performs the initial snapshot: batched keyset-paginated SELECTs
// feeding the store and index, then records the server's executed GTID set
// as the replication cursor.
type Loader struct {
	cfg     *config.Config
	catalog *table.Catalog
	cursor  CursorStore
	norm    ngram.Normalizer

	progress Progress
}

// NewLoader builds a bulk loader.
func NewLoader(cfg *config.Config, catalog *table.Catalog, cursor CursorStore, progress Progress) *Loader {
	return &Loader{
		cfg:     cfg,
		catalog: catalog,
		cursor:  cursor,
		norm: ngram.Normalizer{
			NFKC:  cfg.Memory.Normalize.NFKC,
			Width: cfg.Memory.Normalize.Width,
			Lower: cfg.Memory.Normalize.Lower,
		},
		progress: progress,
	}
}

// SyncAll loads every configured table, build.parallelism at a time, and
// then records the cursor.
func (l *Loader) SyncAll(ctx context.Context) error {
	db, err := sql.Open("mysql", l.cfg.MySQL.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	// The cursor is captured before the scan: replaying events that raced
	// the load is idempotent, missing them is not.
	gtid, err := l.executedGTID(ctx, db)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	parallelism := l.cfg.Build.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	g.SetLimit(parallelism)

	for _, name := range l.catalog.Names() {
		g.Go(func() error {
			return l.loadTable(ctx, db, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.cursor.SetCursor(gtid)
	return nil
}

// SyncTable reloads one table in place and refreshes the cursor.
func (l *Loader) SyncTable(ctx context.Context, name string) error {
	db, err := sql.Open("mysql", l.cfg.MySQL.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	gtid, err := l.executedGTID(ctx, db)
	if err != nil {
		return err
	}
	if err := l.loadTable(ctx, db, name); err != nil {
		return err
	}
	l.cursor.SetCursor(gtid)
	return nil
}

func (l *Loader) executedGTID(ctx context.Context, db *sql.DB) (string, error) {
	var gtid string
	if err := db.QueryRowContext(ctx, "SELECT @@GLOBAL.gtid_executed").Scan(&gtid); err != nil {
		return "", fmt.Errorf("read gtid_executed: %w", err)
	}
	return strings.ReplaceAll(strings.ReplaceAll(gtid, "\n", ""), " ", ""), nil
}

func (l *Loader) loadTable(ctx context.Context, db *sql.DB, name string) error {
	tbl, err := l.catalog.Get(name)
	if err != nil {
		return err
	}
	tblLog := log.WithTable(name)

	// A failed or cancelled sync leaves the table empty, never replaced:
	// the apply engine's pointers into it must stay valid.
	tbl.ClearInPlace()

	var total uint64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", name)
	if err := db.QueryRowContext(ctx, countSQL).Scan(&total); err != nil {
		return fmt.Errorf("count %q: %w", name, err)
	}

	cols := l.selectColumns(tbl)
	colList := "`" + strings.Join(cols, "`, `") + "`"
	pk := tbl.Config.PrimaryKey

	batchSize := l.cfg.Build.BatchSize
	if batchSize < 1 {
		batchSize = 1000
	}
	throttle := time.Duration(l.cfg.Build.ThrottleMS) * time.Millisecond

	var loaded uint64
	lastPK := ""
	first := true
	for {
		select {
		case <-ctx.Done():
			tbl.ClearInPlace()
			return ctx.Err()
		default:
		}

		var rows *sql.Rows
		var err error
		if first {
			q := fmt.Sprintf("SELECT %s FROM `%s` ORDER BY `%s` LIMIT %d", colList, name, pk, batchSize)
			rows, err = db.QueryContext(ctx, q)
		} else {
			q := fmt.Sprintf("SELECT %s FROM `%s` WHERE `%s` > ? ORDER BY `%s` LIMIT %d", colList, name, pk, pk, batchSize)
			rows, err = db.QueryContext(ctx, q, lastPK)
		}
		if err != nil {
			tbl.ClearInPlace()
			return fmt.Errorf("scan %q: %w", name, err)
		}
		first = false

		n, last, err := l.loadBatch(tbl, cols, rows)
		rows.Close()
		if err != nil {
			tbl.ClearInPlace()
			return err
		}
		if n == 0 {
			break
		}
		lastPK = last
		loaded += uint64(n)
		if l.progress != nil {
			l.progress(name, loaded, total)
		}
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}

	tblLog.Info().
		Uint64("documents", loaded).
		Int("terms", tbl.Index.TermCount()).
		Msg("initial load complete")
	return nil
}

// selectColumns lists the columns the mirror needs: primary key, text
// source, filters and required-filter columns, deduplicated.
func (l *Loader) selectColumns(tbl *table.Table) []string {
	seen := make(map[string]struct{})
	var cols []string
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}

	add(tbl.Config.PrimaryKey)
	add(tbl.Config.TextSource.Column)
	for _, c := range tbl.Config.TextSource.Concat {
		add(c)
	}
	for _, c := range tbl.Config.Filters {
		add(c)
	}
	for _, rf := range tbl.Config.RequiredFilters {
		add(rf.Column)
	}
	return cols
}

func (l *Loader) loadBatch(tbl *table.Table, cols []string, rows *sql.Rows) (int, string, error) {
	var storeItems []storage.BatchItem
	var indexEntries []index.BatchEntry
	lastPK := ""

	scan := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}

	var texts []string
	scanned := 0
	for rows.Next() {
		scanned++
		if err := rows.Scan(ptrs...); err != nil {
			return 0, "", fmt.Errorf("row scan: %w", err)
		}
		raw := make(map[string]string, len(cols))
		for i, c := range cols {
			if scan[i].Valid {
				raw[c] = scan[i].String
			}
		}

		pk := raw[tbl.Config.PrimaryKey]
		lastPK = pk
		if !tbl.RowMatchesRequired(raw) {
			continue
		}

		attrs := make(map[string]types.Value, len(tbl.Config.Filters))
		for _, c := range tbl.Config.Filters {
			if v, ok := raw[c]; ok {
				attrs[c] = types.String(v)
			}
		}
		storeItems = append(storeItems, storage.BatchItem{PrimaryKey: pk, Attrs: tbl.Attrs(attrs)})
		texts = append(texts, l.norm.Normalize(tbl.Text(raw)))
	}
	if err := rows.Err(); err != nil {
		return 0, "", err
	}
	if len(storeItems) == 0 {
		return scanned, lastPK, nil
	}

	ids, err := tbl.Store.AddDocumentBatch(storeItems)
	if err != nil {
		return 0, "", err
	}
	for i, id := range ids {
		indexEntries = append(indexEntries, index.BatchEntry{DocID: id, Text: texts[i]})
	}
	tbl.Index.AddDocumentBatch(indexEntries)
	return scanned, lastPK, nil
}
