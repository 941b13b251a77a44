package replication

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/types"
)

// Follower tails the source database's binlog and feeds parsed row events
// into the ApplyEngine. Connection loss is transient: the follower
// reconnects with exponential backoff from the last synced cursor.
type Follower struct {
	cfg     *config.Config
	catalog *table.Catalog
	engine  *ApplyEngine
	norm    ngram.Normalizer

	// gate is polled before each apply; it returns false while a dump has
	// replication paused.
	gate atomic.Pointer[func() bool]

	mu      sync.Mutex
	canal   *canal.Canal
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	reconnecting atomic.Bool
}

// NewFollower builds a follower; Start launches it.
func NewFollower(cfg *config.Config, catalog *table.Catalog, engine *ApplyEngine) *Follower {
	return &Follower{
		cfg:     cfg,
		catalog: catalog,
		engine:  engine,
		norm: ngram.Normalizer{
			NFKC:  cfg.Memory.Normalize.NFKC,
			Width: cfg.Memory.Normalize.Width,
			Lower: cfg.Memory.Normalize.Lower,
		},
	}
}

// SetGate installs the pause gate (lifecycle's replication_paused_for_dump).
func (f *Follower) SetGate(gate func() bool) {
	f.gate.Store(&gate)
}

// Running reports whether the apply loop is active.
func (f *Follower) Running() bool { return f.running.Load() }

// Reconnecting reports whether the follower is between connection attempts.
func (f *Follower) Reconnecting() bool { return f.reconnecting.Load() }

// Start launches the apply loop from the engine's current cursor.
func (f *Follower) Start() error {
	if !f.running.CompareAndSwap(false, true) {
		return nil
	}
	f.stopCh = make(chan struct{})
	f.wg.Add(1)
	go f.loop()
	return nil
}

// Stop halts the apply loop and waits for it to exit.
func (f *Follower) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	close(f.stopCh)
	f.mu.Lock()
	if f.canal != nil {
		f.canal.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Follower) loop() {
	defer f.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(f.cfg.Replication.ReconnectBackoffMin) * time.Millisecond
	policy.MaxInterval = time.Duration(f.cfg.Replication.ReconnectBackoffMax) * time.Millisecond
	policy.MaxElapsedTime = 0 // retry forever until stopped

	repLog := log.WithComponent("replication")
	for f.running.Load() {
		err := f.runOnce()
		if !f.running.Load() {
			return
		}
		wait := policy.NextBackOff()
		f.reconnecting.Store(true)
		repLog.Warn().
			Err(err).
			Dur("retry_in", wait).
			Msg("binlog stream lost, reconnecting")
		select {
		case <-f.stopCh:
			f.reconnecting.Store(false)
			return
		case <-time.After(wait):
		}
		f.reconnecting.Store(false)
	}
}

// runOnce connects and streams until the connection dies or Stop closes it.
func (f *Follower) runOnce() error {
	cc := canal.NewDefaultConfig()
	cc.Addr = fmt.Sprintf("%s:%d", f.cfg.MySQL.Host, f.cfg.MySQL.Port)
	cc.User = f.cfg.MySQL.User
	cc.Password = f.cfg.MySQL.Password
	cc.ServerID = f.cfg.Replication.ServerID
	cc.Dump.ExecutionPath = "" // the bulk loader owns initial snapshots
	for _, name := range f.catalog.Names() {
		cc.IncludeTableRegex = append(cc.IncludeTableRegex,
			"^"+regexp.QuoteMeta(f.cfg.MySQL.Database)+"\\."+regexp.QuoteMeta(name)+"$")
	}

	c, err := canal.NewCanal(cc)
	if err != nil {
		return fmt.Errorf("canal setup: %w", err)
	}
	c.SetEventHandler(&eventHandler{follower: f})

	f.mu.Lock()
	f.canal = c
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.canal = nil
		f.mu.Unlock()
		c.Close()
	}()

	cursor := f.engine.Cursor()
	if cursor == "" {
		return fmt.Errorf("replication requires a cursor; run SYNC or DUMP LOAD first")
	}
	set, err := mysql.ParseGTIDSet(mysql.MySQLFlavor, cursor)
	if err != nil {
		return fmt.Errorf("parse gtid %q: %w", cursor, err)
	}
	return c.StartFromGTID(set)
}

// waitGate blocks while replication is paused for a dump.
func (f *Follower) waitGate() {
	for {
		gate := f.gate.Load()
		if gate == nil || (*gate)() {
			return
		}
		select {
		case <-f.stopCh:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// eventHandler adapts canal callbacks into RowEvents.
type eventHandler struct {
	canal.DummyEventHandler
	follower *Follower
}

func (h *eventHandler) String() string { return "mygram-apply" }

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	f := h.follower
	tbl, err := f.catalog.Get(e.Table.Name)
	if err != nil {
		return nil // not mirrored
	}

	switch e.Action {
	case canal.InsertAction:
		for _, row := range e.Rows {
			f.applyOne(&RowEvent{
				Kind:  EventInsert,
				Table: tbl.Name,
				New:   f.rowImage(tbl, e, row),
			})
		}
	case canal.UpdateAction:
		for i := 0; i+1 < len(e.Rows); i += 2 {
			f.applyOne(&RowEvent{
				Kind:  EventUpdate,
				Table: tbl.Name,
				Old:   f.rowImage(tbl, e, e.Rows[i]),
				New:   f.rowImage(tbl, e, e.Rows[i+1]),
			})
		}
	case canal.DeleteAction:
		for _, row := range e.Rows {
			f.applyOne(&RowEvent{
				Kind:  EventDelete,
				Table: tbl.Name,
				Old:   f.rowImage(tbl, e, row),
			})
		}
	}
	return nil
}

func (h *eventHandler) OnPosSynced(_ *replication.EventHeader, _ mysql.Position, set mysql.GTIDSet, _ bool) error {
	if set != nil {
		h.follower.engine.SetCursor(set.String())
	}
	return nil
}

func (f *Follower) applyOne(ev *RowEvent) {
	f.waitGate()
	if err := f.engine.Apply(ev); err != nil {
		LogSkippedRow(ev.Table, err)
	}
}

// rowImage converts a canal row array into the engine's row image using the
// binlog table map's column names.
func (f *Follower) rowImage(tbl *table.Table, e *canal.RowsEvent, row []interface{}) *RowImage {
	raw := make(map[string]string, len(e.Table.Columns))
	attrs := make(map[string]types.Value, len(tbl.Config.Filters))

	for i, col := range e.Table.Columns {
		if i >= len(row) {
			break
		}
		raw[col.Name] = columnString(row[i])
	}
	for _, name := range tbl.Config.Filters {
		idx := columnIndex(e, name)
		if idx < 0 || idx >= len(row) {
			continue
		}
		attrs[name] = columnValue(row[idx])
	}

	return &RowImage{
		PK:    raw[tbl.Config.PrimaryKey],
		Text:  f.norm.Normalize(tbl.Text(raw)),
		Attrs: attrs,
		Raw:   raw,
	}
}

func columnIndex(e *canal.RowsEvent, name string) int {
	for i, col := range e.Table.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func columnString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// columnValue types a binlog column value into the engine's tagged variant.
func columnValue(v interface{}) types.Value {
	switch x := v.(type) {
	case nil:
		return types.Null()
	case bool:
		return types.Bool(x)
	case int8:
		return types.Int8(x)
	case int16:
		return types.Int16(x)
	case int32:
		return types.Int32(x)
	case int:
		return types.Int64(int64(x))
	case int64:
		return types.Int64(x)
	case uint8:
		return types.Uint8(x)
	case uint16:
		return types.Uint16(x)
	case uint32:
		return types.Uint32(x)
	case uint64:
		return types.Int64(int64(x))
	case float32:
		return types.Float64(float64(x))
	case float64:
		return types.Float64(x)
	case string:
		return types.String(x)
	case []byte:
		return types.String(string(x))
	default:
		return types.String(fmt.Sprintf("%v", x))
	}
}
