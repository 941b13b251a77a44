package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/table"
)

// CursorStore is the replication-cursor surface the dump manager needs.
type CursorStore interface {
	Cursor() string
	SetCursor(gtid string)
}

// DumpManager writes and restores whole-process snapshots: per table, the
// document store ("<base>.<table>.dmp") and its companion index dump
// ("<base>.<table>.idx"), produced together under the lifecycle's read-only
// latch so the pair is self-consistent.
type DumpManager struct {
	dir     string
	retain  int
	catalog *table.Catalog
	cursor  CursorStore
}

// NewDumpManager builds a manager rooted at dir.
func NewDumpManager(dir string, retain int, catalog *table.Catalog, cursor CursorStore) *DumpManager {
	if retain < 1 {
		retain = 1
	}
	return &DumpManager{dir: dir, retain: retain, catalog: catalog, cursor: cursor}
}

// resolveBase validates a user-supplied dump name: it must stay inside the
// dump directory, so separators and traversal are rejected.
func (m *DumpManager) resolveBase(name string) (string, error) {
	if name == "" {
		return "", errdefs.Invalidf("empty dump name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", errdefs.Invalidf("dump name %q must not contain path separators", name)
	}
	base := filepath.Join(m.dir, name)
	rel, err := filepath.Rel(m.dir, base)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errdefs.Invalidf("dump name %q escapes the dump directory", name)
	}
	return base, nil
}

func (m *DumpManager) storePath(base, tbl string) string { return base + "." + tbl + ".dmp" }
func (m *DumpManager) indexPath(base, tbl string) string { return base + "." + tbl + ".idx" }

// Save writes every table under the given base name and returns the base
// path. The caller holds the lifecycle's dump latch.
func (m *DumpManager) Save(name string) (string, error) {
	base, err := m.resolveBase(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", err
	}

	gtid := m.cursor.Cursor()
	for _, tblName := range m.catalog.Names() {
		tbl, err := m.catalog.Get(tblName)
		if err != nil {
			return "", err
		}
		if err := tbl.Store.SaveToFile(m.storePath(base, tblName), gtid); err != nil {
			return "", fmt.Errorf("dump store %q: %w", tblName, err)
		}
		f, err := os.Create(m.indexPath(base, tblName))
		if err != nil {
			return "", err
		}
		if err := tbl.Index.Save(f); err != nil {
			f.Close()
			return "", fmt.Errorf("dump index %q: %w", tblName, err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
	}

	lg := log.WithComponent("dump")
	lg.Info().
		Str("base", base).
		Str("gtid", gtid).
		Msg("dump saved")
	return base, nil
}

// AutoSave writes an auto_YYYYMMDD_HHMMSS snapshot and applies retention.
func (m *DumpManager) AutoSave() (string, error) {
	name := "auto_" + time.Now().Format("20060102_150405")
	base, err := m.Save(name)
	if err != nil {
		return "", err
	}
	if err := m.applyRetention(); err != nil {
		lg := log.WithComponent("dump")
		lg.Warn().Err(err).Msg("dump retention failed")
	}
	return base, nil
}

// applyRetention keeps the newest retain auto_ snapshot generations and
// never touches files without the auto_ prefix.
func (m *DumpManager) applyRetention() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	baseSet := make(map[string]struct{})
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "auto_") {
			continue
		}
		// auto_YYYYMMDD_HHMMSS.<table>.{dmp,idx}
		if i := strings.Index(name, "."); i > 0 {
			baseSet[name[:i]] = struct{}{}
		}
	}

	bases := make([]string, 0, len(baseSet))
	for b := range baseSet {
		bases = append(bases, b)
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(bases)))

	for _, b := range bases[min(len(bases), m.retain):] {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), b+".") {
				if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
					return err
				}
			}
		}
		lg := log.WithComponent("dump")
		lg.Debug().Str("base", b).Msg("retention removed snapshot")
	}
	return nil
}

// Load restores every table from the base name and installs the embedded
// cursor. Tables are cleared in place first; long-lived holders of the
// Index/Store pointers stay valid. The caller holds the loading latch.
func (m *DumpManager) Load(name string) (string, error) {
	base, err := m.resolveBase(name)
	if err != nil {
		return "", err
	}

	var gtid string
	for _, tblName := range m.catalog.Names() {
		tbl, err := m.catalog.Get(tblName)
		if err != nil {
			return "", err
		}

		tbl.ClearInPlace()
		tblGTID, err := tbl.Store.LoadFromFile(m.storePath(base, tblName))
		if err != nil {
			return "", fmt.Errorf("load store %q: %w", tblName, err)
		}
		f, err := os.Open(m.indexPath(base, tblName))
		if err != nil {
			return "", fmt.Errorf("load index %q: %w", tblName, err)
		}
		if err := tbl.Index.Load(f); err != nil {
			f.Close()
			return "", fmt.Errorf("load index %q: %w", tblName, err)
		}
		f.Close()
		gtid = tblGTID
	}

	if current := m.cursor.Cursor(); current != "" && current != gtid {
		// The dump may rewind the cursor; the source accepts this, so we
		// do too, visibly.
		lg := log.WithComponent("dump")
		lg.Warn().
			Str("current", current).
			Str("loaded", gtid).
			Msg("dump cursor differs from current cursor")
	}
	m.cursor.SetCursor(gtid)

	lg := log.WithComponent("dump")
	lg.Info().
		Str("base", base).
		Str("gtid", gtid).
		Msg("dump loaded")
	return base, nil
}

// AutoDumper periodically saves snapshots while running.
type AutoDumper struct {
	manager  *DumpManager
	interval time.Duration
	save     func() (string, error)
	stopCh   chan struct{}
	done     chan struct{}
}

// NewAutoDumper wraps save (typically the server's latched dump-save) with
// a timer. A zero interval disables the dumper.
func NewAutoDumper(manager *DumpManager, interval time.Duration, save func() (string, error)) *AutoDumper {
	return &AutoDumper{manager: manager, interval: interval, save: save}
}

// Start launches the timer loop; no-op when disabled.
func (a *AutoDumper) Start() {
	if a.interval <= 0 {
		return
	}
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				if _, err := a.save(); err != nil {
					lg := log.WithComponent("dump")
					lg.Error().Err(err).Msg("auto dump failed")
				}
			}
		}
	}()
}

// Stop halts the timer loop.
func (a *AutoDumper) Stop() {
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	<-a.done
	a.stopCh = nil
}
