package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/types"
)

// HTTPServer serves the JSON API. It shares the Engine (and therefore the
// stats object) with the TCP server so /info and /metrics report combined
// numbers.
type HTTPServer struct {
	cfg    config.HTTPConfig
	engine *Engine
	srv    *http.Server
	ln     net.Listener
}

// NewHTTPServer builds the JSON API server.
func NewHTTPServer(cfg *config.Config, engine *Engine) (*HTTPServer, error) {
	allow, err := parseCIDRs(cfg.Network.AllowCIDRs)
	if err != nil {
		return nil, err
	}

	s := &HTTPServer{cfg: cfg.API.HTTP, engine: engine}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cidrMiddleware(allow))
	if cfg.API.HTTP.EnableCORS {
		r.Use(corsMiddleware(cfg.API.HTTP.CORSAllowOrigin))
	}

	// Health endpoints bypass the loading gate; liveness is unconditional.
	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Get("/health/detail", s.handleHealthDetail)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/info", s.handleInfo)
	r.Get("/config", s.handleConfig)
	r.Get("/replication/status", s.handleReplicationStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.loadingGate)
		r.Post("/{table}/search", s.handleSearch)
		r.Get("/{table}/{docID:[0-9]+}", s.handleGetDoc)
	})

	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s, nil
}

// Start listens and serves in the background.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	lg := log.WithComponent("http")
	lg.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			lg := log.WithComponent("http")
			lg.Error().Err(err).Msg("http server exited")
		}
	}()
	return nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *HTTPServer) Handler() http.Handler { return s.srv.Handler }

func cidrMiddleware(allow []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allow) > 0 {
				ap, err := netip.ParseAddrPort(r.RemoteAddr)
				if err != nil || !prefixesContain(allow, ap.Addr().Unmap()) {
					writeJSONError(w, http.StatusForbidden, "address not allowed")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func prefixesContain(allow []netip.Prefix, addr netip.Addr) bool {
	for _, p := range allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loadingGate returns 503 for data endpoints while a load is in progress.
func (s *HTTPServer) loadingGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.engine.Coordinator().Loading() {
			writeJSONError(w, http.StatusServiceUnavailable, "server is loading")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// searchRequest is the POST /{table}/search body.
type searchRequest struct {
	Q       string          `json:"q"`
	And     []string        `json:"and,omitempty"`
	Not     []string        `json:"not,omitempty"`
	Filters []searchFilter  `json:"filters,omitempty"`
	Limit   *uint32         `json:"limit,omitempty"`
	Offset  uint32          `json:"offset,omitempty"`
	Sort    *searchSortSpec `json:"sort,omitempty"`
}

type searchFilter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  string `json:"value"`
}

type searchSortSpec struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

type searchResultDoc struct {
	DocID      types.DocID    `json:"doc_id"`
	PrimaryKey string         `json:"primary_key"`
	Filters    map[string]any `json:"filters,omitempty"`
}

type searchResponse struct {
	Count   int               `json:"count"`
	Limit   uint32            `json:"limit"`
	Offset  uint32            `json:"offset"`
	Results []searchResultDoc `json:"results"`
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q := &query.Query{
		Op:         query.OpSearch,
		Table:      tableName,
		SearchText: req.Q,
		AndTerms:   req.And,
		NotTerms:   req.Not,
		Offset:     req.Offset,
		Limit:      s.engine.Config().API.DefaultLimit,
	}
	if req.Limit != nil {
		if *req.Limit == 0 || *req.Limit > query.MaxLimit {
			writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", query.MaxLimit))
			return
		}
		q.Limit = *req.Limit
		q.LimitExplicit = true
	}
	for _, f := range req.Filters {
		op, ok := filterOpFromString(f.Op)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown filter op "+f.Op)
			return
		}
		q.Filters = append(q.Filters, query.FilterCondition{Column: f.Column, Op: op, Value: f.Value})
	}
	if req.Sort != nil {
		ob := &query.OrderBy{Column: req.Sort.Column, Desc: req.Sort.Direction == "DESC" || req.Sort.Direction == "desc"}
		if ob.Column == "id" {
			ob.Column = ""
		}
		q.OrderBy = ob
	}

	out, err := s.engine.Search(q)
	if err != nil {
		writeJSONError(w, HTTPStatus(err), err.Error())
		return
	}

	resp := searchResponse{
		Count:   out.Total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		Results: make([]searchResultDoc, 0, len(out.Docs)),
	}
	for _, doc := range out.Docs {
		resp.Results = append(resp.Results, docToResult(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

func filterOpFromString(s string) (query.FilterOp, bool) {
	switch s {
	case "=", "eq":
		return query.FilterEQ, true
	case "!=", "ne":
		return query.FilterNE, true
	case "<", "lt":
		return query.FilterLT, true
	case "<=", "lte":
		return query.FilterLTE, true
	case ">", "gt":
		return query.FilterGT, true
	case ">=", "gte":
		return query.FilterGTE, true
	}
	return "", false
}

func docToResult(doc types.Document) searchResultDoc {
	out := searchResultDoc{DocID: doc.DocID, PrimaryKey: doc.PrimaryKey}
	if len(doc.Attrs) > 0 {
		out.Filters = make(map[string]any, len(doc.Attrs))
		for name, v := range doc.Attrs {
			out.Filters[name] = valueToJSON(v)
		}
	}
	return out
}

func valueToJSON(v types.Value) any {
	switch {
	case v.IsNull():
		return nil
	case v.Tag() == types.TagBool:
		return v.Bool()
	case v.Tag() == types.TagString:
		return v.Str()
	case v.Tag() == types.TagFloat64:
		return v.Float64()
	case v.IsSigned():
		return v.Int64()
	default:
		return v.Uint64()
	}
}

func (s *HTTPServer) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "table")
	idStr := chi.URLParam(r, "docID")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	tbl, err := s.engine.Catalog().Get(tableName)
	if err != nil {
		writeJSONError(w, HTTPStatus(err), err.Error())
		return
	}
	doc, ok := tbl.Store.GetDocument(types.DocID(id))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, docToResult(doc))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": s.engine.Stats().Uptime(),
	})
}

func (s *HTTPServer) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	// Liveness always succeeds while the process serves requests.
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *HTTPServer) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if s.engine.Coordinator().Loading() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	coord := s.engine.Coordinator()
	rep := s.engine.Replication()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"loading":             coord.Loading(),
		"read_only":           coord.ReadOnly(),
		"optimizing":          coord.Optimizing(),
		"replication_running": rep.Running,
		"replication_cursor":  rep.Cursor,
		"uptime_seconds":      s.engine.Stats().Uptime(),
	})
}

func (s *HTTPServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := s.engine.Info()
	tables := make([]map[string]any, 0, len(info.Tables))
	for _, t := range info.Tables {
		tables = append(tables, map[string]any{
			"name":        t.Name,
			"documents":   t.Documents,
			"terms":       t.Terms,
			"index_bytes": t.IndexBytes,
			"store_bytes": t.StoreBytes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        info.Version,
		"uptime_seconds": info.UptimeSeconds,
		"connections":    info.Connections,
		"total_requests": info.TotalRequests,
		"tables":         tables,
		"cache": map[string]any{
			"entries":   info.CacheStats.Entries,
			"bytes":     info.CacheStats.Bytes,
			"hits":      info.CacheStats.Hits,
			"misses":    info.CacheStats.Misses,
			"evictions": info.CacheStats.Evictions,
		},
		"replication": map[string]any{
			"enabled": info.Replication.Enabled,
			"running": info.Replication.Running,
			"cursor":  info.Replication.Cursor,
		},
	})
}

func (s *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	masked, err := s.engine.MaskedConfig()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(masked))
}

func (s *HTTPServer) handleReplicationStatus(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.Replication()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":      rep.Enabled,
		"running":      rep.Running,
		"reconnecting": rep.Reconnecting,
		"cursor":       rep.Cursor,
		"inserts":      rep.Stats.Inserts,
		"updates":      rep.Stats.Updates,
		"deletes":      rep.Stats.Deletes,
		"skipped":      rep.Stats.Skipped,
	})
}
