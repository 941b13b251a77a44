package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/lifecycle"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/replication"
	"github.com/libraz/mygram-db/pkg/snapshot"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/types"
)

// Engine glues the core together behind both protocol front ends: catalog,
// executor, cache, replication, dumps and the lifecycle coordinator. Every
// public operation reads the coordinator's flags in its preamble.
type Engine struct {
	cfg      *config.Config
	catalog  *table.Catalog
	executor *query.Executor
	cacheMgr *cache.Manager
	apply    *replication.ApplyEngine
	follower *replication.Follower
	loader   *snapshot.Loader
	dumps    *snapshot.DumpManager
	coord    *lifecycle.Coordinator
	stats    *Stats
}

// NewEngine wires the full core from configuration.
func NewEngine(cfg *config.Config) *Engine {
	catalog := table.NewCatalog(cfg)
	norm := ngram.Normalizer{
		NFKC:  cfg.Memory.Normalize.NFKC,
		Width: cfg.Memory.Normalize.Width,
		Lower: cfg.Memory.Normalize.Lower,
	}

	gens := make(map[string]*ngram.Generator, len(cfg.Tables))
	for _, name := range catalog.Names() {
		tbl, _ := catalog.Get(name)
		gens[name] = tbl.Generator()
	}
	cacheMgr := cache.NewManager(cfg.Cache, gens, norm)

	apply := replication.NewApplyEngine(catalog, cacheMgr)
	coord := lifecycle.New()

	e := &Engine{
		cfg:      cfg,
		catalog:  catalog,
		executor: query.NewExecutor(catalog, norm),
		cacheMgr: cacheMgr,
		apply:    apply,
		coord:    coord,
		stats:    NewStats(),
	}
	e.loader = snapshot.NewLoader(cfg, catalog, apply, coord.UpdateSyncProgress)
	e.dumps = snapshot.NewDumpManager(cfg.Dump.Dir, cfg.Dump.Retain, catalog, apply)

	if cfg.Replication.Enable {
		e.follower = replication.NewFollower(cfg, catalog, apply)
		e.follower.SetGate(func() bool { return !coord.PausedForDump() })
		if cfg.Replication.StartFrom != "" {
			apply.SetCursor(cfg.Replication.StartFrom)
		}
	}
	return e
}

// Accessors used by the protocol layers and tests.
func (e *Engine) Config() *config.Config            { return e.cfg }
func (e *Engine) Catalog() *table.Catalog           { return e.catalog }
func (e *Engine) Cache() *cache.Manager             { return e.cacheMgr }
func (e *Engine) Apply() *replication.ApplyEngine   { return e.apply }
func (e *Engine) Coordinator() *lifecycle.Coordinator {
	return e.coord
}
func (e *Engine) Stats() *Stats { return e.stats }

// Start launches background workers.
func (e *Engine) Start() {
	e.cacheMgr.Start()
}

// Shutdown stops background workers: the shutdown flag flips first (no
// mutex held), then workers are joined.
func (e *Engine) Shutdown() {
	e.coord.RequestShutdown()
	if e.follower != nil {
		e.follower.Stop()
		metrics.ReplicationRunning.Set(0)
	}
	e.cacheMgr.Stop()
}

func (e *Engine) checkQueryable() error {
	if e.coord.Loading() {
		return fmt.Errorf("%w: server is loading", errdefs.ErrPrecondition)
	}
	return nil
}

// SearchOutcome is a served search: the page plus response metadata.
type SearchOutcome struct {
	Total  int
	Docs   []types.Document
	Debug  *query.DebugInfo
	Cached bool
}

// Search serves one SEARCH, consulting the query cache first.
func (e *Engine) Search(q *query.Query) (*SearchOutcome, error) {
	if err := e.checkQueryable(); err != nil {
		return nil, err
	}
	e.stats.Search()
	started := time.Now()

	tbl, err := e.catalog.Get(q.Table)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("search", "error").Inc()
		return nil, err
	}

	if entry, ok := e.cacheMgr.Lookup(q); ok {
		metrics.CacheHitsTotal.Inc()
		metrics.QueriesTotal.WithLabelValues("search", "hit").Inc()
		docs := make([]types.Document, 0, len(entry.DocIDs))
		for _, id := range entry.DocIDs {
			if doc, found := tbl.Store.GetDocument(id); found {
				docs = append(docs, doc)
			}
		}
		return &SearchOutcome{Total: entry.Total, Docs: docs, Cached: true}, nil
	}
	metrics.CacheMissesTotal.Inc()

	res, err := e.executor.Search(q)
	if err != nil {
		e.stats.Error()
		metrics.QueriesTotal.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	e.cacheMgr.Insert(q, res.DocIDs, res.Total, res.Ngrams, res.Cost)

	metrics.QueriesTotal.WithLabelValues("search", "ok").Inc()
	metrics.QueryDuration.WithLabelValues("search").Observe(time.Since(started).Seconds())
	return &SearchOutcome{Total: res.Total, Docs: res.Docs, Debug: res.Debug}, nil
}

// CountResult is a served COUNT.
type CountResult struct {
	Count  uint64
	Debug  *query.DebugInfo
	Cached bool
}

// Count serves one COUNT, also cached.
func (e *Engine) Count(q *query.Query) (*CountResult, error) {
	if err := e.checkQueryable(); err != nil {
		return nil, err
	}
	e.stats.Count()
	started := time.Now()

	if entry, ok := e.cacheMgr.Lookup(q); ok {
		metrics.CacheHitsTotal.Inc()
		return &CountResult{Count: uint64(entry.Total), Cached: true}, nil
	}
	metrics.CacheMissesTotal.Inc()

	n, ngrams, dbg, err := e.executor.Count(q)
	if err != nil {
		e.stats.Error()
		metrics.QueriesTotal.WithLabelValues("count", "error").Inc()
		return nil, err
	}

	// COUNT caches the total with an empty page.
	e.cacheMgr.Insert(q, nil, int(n), ngrams, time.Since(started))

	metrics.QueriesTotal.WithLabelValues("count", "ok").Inc()
	metrics.QueryDuration.WithLabelValues("count").Observe(time.Since(started).Seconds())
	return &CountResult{Count: n, Debug: dbg}, nil
}

// Get serves one GET by primary key.
func (e *Engine) Get(q *query.Query) (types.Document, error) {
	if err := e.checkQueryable(); err != nil {
		return types.Document{}, err
	}
	e.stats.Get()
	doc, err := e.executor.Get(q)
	if err != nil {
		e.stats.Error()
		return types.Document{}, err
	}
	return doc, nil
}

// DumpSave writes a snapshot under the dump latch. An empty name uses the
// configured default; auto selects timestamped naming with retention.
func (e *Engine) DumpSave(name string) (string, error) {
	release, err := e.coord.BeginDumpSave()
	if err != nil {
		return "", err
	}
	defer release()

	if name == "" {
		name = strings.TrimSuffix(e.cfg.Dump.DefaultFilename, ".dmp")
	}
	return e.dumps.Save(name)
}

// AutoDumpSave is the timer callback: latched save with retention.
func (e *Engine) AutoDumpSave() (string, error) {
	release, err := e.coord.BeginDumpSave()
	if err != nil {
		return "", err
	}
	defer release()
	return e.dumps.AutoSave()
}

// DumpLoad restores a snapshot under the loading latch.
func (e *Engine) DumpLoad(name string) (string, error) {
	replicating := e.follower != nil && e.follower.Running()
	release, err := e.coord.BeginLoad(replicating)
	if err != nil {
		return "", err
	}
	defer release()

	if name == "" {
		name = strings.TrimSuffix(e.cfg.Dump.DefaultFilename, ".dmp")
	}
	base, err := e.dumps.Load(name)
	if err != nil {
		return "", err
	}
	e.cacheMgr.Clear()
	return base, nil
}

// ReplicationStart validates preconditions and launches the follower.
func (e *Engine) ReplicationStart() error {
	if e.follower == nil {
		return fmt.Errorf("%w: replication is disabled in configuration", errdefs.ErrPrecondition)
	}
	if e.follower.Running() {
		return fmt.Errorf("%w: replication already running", errdefs.ErrBusy)
	}
	if err := e.coord.CheckReplicationStart(e.apply.Cursor()); err != nil {
		return err
	}
	if err := e.follower.Start(); err != nil {
		return err
	}
	metrics.ReplicationRunning.Set(1)
	return nil
}

// ReplicationStop halts the follower.
func (e *Engine) ReplicationStop() error {
	if e.follower == nil {
		return fmt.Errorf("%w: replication is disabled in configuration", errdefs.ErrPrecondition)
	}
	e.follower.Stop()
	metrics.ReplicationRunning.Set(0)
	return nil
}

// ReplicationStatus describes the follower for STATUS output.
type ReplicationStatus struct {
	Enabled      bool
	Running      bool
	Reconnecting bool
	Cursor       string
	Stats        replication.ApplyStats
}

// Replication returns the follower status.
func (e *Engine) Replication() ReplicationStatus {
	st := ReplicationStatus{
		Enabled: e.follower != nil,
		Cursor:  e.apply.Cursor(),
		Stats:   e.apply.Stats(),
	}
	if e.follower != nil {
		st.Running = e.follower.Running()
		st.Reconnecting = e.follower.Reconnecting()
	}
	return st
}

// Sync kicks off a per-table bulk reload in the background.
func (e *Engine) Sync(tableName string) error {
	if _, err := e.catalog.Get(tableName); err != nil {
		return err
	}
	if err := e.coord.BeginSync(tableName); err != nil {
		return err
	}

	go func() {
		err := e.loader.SyncTable(context.Background(), tableName)
		e.coord.EndSync(tableName, err)
		if err != nil {
			lg := log.WithTable(tableName)
			lg.Error().Err(err).Msg("sync failed")
			return
		}
		e.cacheMgr.Clear()
		e.updateTableMetrics()
	}()
	return nil
}

// SyncAllBlocking runs the initial bulk snapshot for every table under the
// loading latch; used at cold start and by offline dump maintenance.
func (e *Engine) SyncAllBlocking(ctx context.Context) error {
	replicating := e.follower != nil && e.follower.Running()
	release, err := e.coord.BeginLoad(replicating)
	if err != nil {
		return err
	}
	defer release()

	if err := e.loader.SyncAll(ctx); err != nil {
		return err
	}
	e.updateTableMetrics()
	return nil
}

// SyncStatus reports every table's bulk-load phase.
func (e *Engine) SyncStatus() map[string]lifecycle.SyncProgress {
	return e.coord.SyncStatus()
}

// Optimize runs a batched index optimization in the background.
func (e *Engine) Optimize(tableName string) error {
	tbl, err := e.catalog.Get(tableName)
	if err != nil {
		return err
	}
	release, err := e.coord.BeginOptimize()
	if err != nil {
		return err
	}

	go func() {
		defer release()
		batch := e.cfg.Build.BatchSize
		if batch < 1 {
			batch = 1000
		}
		if err := tbl.Index.OptimizeInBatches(uint64(tbl.Store.Size()), batch); err != nil {
			lg := log.WithTable(tableName)
			lg.Error().Err(err).Msg("optimize failed")
			return
		}
		e.updateTableMetrics()
	}()
	return nil
}

func (e *Engine) updateTableMetrics() {
	var totalBytes uint64
	for _, name := range e.catalog.Names() {
		tbl, err := e.catalog.Get(name)
		if err != nil {
			continue
		}
		idxBytes := tbl.Index.MemoryUsage()
		storeBytes := tbl.Store.MemoryUsage()
		totalBytes += idxBytes + storeBytes
		metrics.DocumentsTotal.WithLabelValues(name).Set(float64(tbl.Store.Size()))
		metrics.TermsTotal.WithLabelValues(name).Set(float64(tbl.Index.TermCount()))
		metrics.MemoryBytes.WithLabelValues(name, "index").Set(float64(idxBytes))
		metrics.MemoryBytes.WithLabelValues(name, "store").Set(float64(storeBytes))
	}

	mem := e.cfg.Memory
	if mem.HardLimitMB > 0 && totalBytes > uint64(mem.HardLimitMB)*1024*1024 {
		lg := log.WithComponent("engine")
		lg.Error().
			Uint64("bytes", totalBytes).
			Int("hard_limit_mb", mem.HardLimitMB).
			Msg("memory hard limit exceeded")
	} else if mem.SoftTargetMB > 0 && totalBytes > uint64(mem.SoftTargetMB)*1024*1024 {
		lg := log.WithComponent("engine")
		lg.Warn().
			Uint64("bytes", totalBytes).
			Int("soft_target_mb", mem.SoftTargetMB).
			Msg("memory above soft target")
	}
}

// TableInfo is one table's INFO block.
type TableInfo struct {
	Name        string
	Documents   int
	Terms       int
	IndexBytes  uint64
	StoreBytes  uint64
}

// Info collects the INFO payload shared by both protocols.
type Info struct {
	Version       string
	UptimeSeconds uint64
	Tables        []TableInfo
	CacheStats    cache.Stats
	Replication   ReplicationStatus
	Connections   int64
	TotalRequests uint64
}

// Version is stamped via ldflags at build time.
var Version = "dev"

// Info snapshots server state for INFO and /info.
func (e *Engine) Info() Info {
	info := Info{
		Version:       Version,
		UptimeSeconds: e.stats.Uptime(),
		CacheStats:    e.cacheMgr.Stats(),
		Replication:   e.Replication(),
		Connections:   e.stats.ActiveConns(),
		TotalRequests: e.stats.TotalRequests(),
	}
	for _, name := range e.catalog.Names() {
		tbl, err := e.catalog.Get(name)
		if err != nil {
			continue
		}
		info.Tables = append(info.Tables, TableInfo{
			Name:       name,
			Documents:  tbl.Store.Size(),
			Terms:      tbl.Index.TermCount(),
			IndexBytes: tbl.Index.MemoryUsage(),
			StoreBytes: tbl.Store.MemoryUsage(),
		})
	}
	return info
}

// MaskedConfig renders the configuration with secrets hidden.
func (e *Engine) MaskedConfig() (string, error) {
	return e.cfg.MaskedYAML()
}
