package server

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/query"
)

// connContext is per-connection state: the connection id and the DEBUG
// toggle.
type connContext struct {
	id    string
	debug bool
}

// Per-client request budget; generous enough that only abusive clients
// ever see the limit.
const (
	tcpRateLimitRPS   = 2000
	tcpRateLimitBurst = 4000
)

// TCPServer serves the line-oriented text protocol: one request per line,
// one response line per request (INFO and CONFIG are multi-line blocks
// terminated by END). Lines are CRLF-delimited; bare LF is accepted.
type TCPServer struct {
	cfg     config.APIConfig
	engine  *Engine
	parser  *query.Parser
	allow   []netip.Prefix
	limiter *RateLimiter

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewTCPServer builds the text-protocol listener.
func NewTCPServer(cfg *config.Config, engine *Engine) (*TCPServer, error) {
	allow, err := parseCIDRs(cfg.Network.AllowCIDRs)
	if err != nil {
		return nil, err
	}
	return &TCPServer{
		cfg:     cfg.API,
		engine:  engine,
		parser:  query.NewParser(cfg.API.DefaultLimit),
		allow:   allow,
		limiter: NewRateLimiter(tcpRateLimitRPS, tcpRateLimitBurst),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func parseCIDRs(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("network.allow_cidrs: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func addrAllowed(allow []netip.Prefix, remote net.Addr) bool {
	if len(allow) == 0 {
		return true
	}
	ap, err := netip.ParseAddrPort(remote.String())
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Start begins accepting connections.
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.TCP.Bind, s.cfg.TCP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)

	lg := log.WithComponent("tcp")
	lg.Info().Str("addr", ln.Addr().String()).Msg("tcp server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, for tests using port 0.
func (s *TCPServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every active connection.
func (s *TCPServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.ln != nil {
		s.ln.Close()
	}
	s.connMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.running.Load() {
				lg := log.WithComponent("tcp")
				lg.Warn().Err(err).Msg("accept failed")
				continue
			}
			return
		}
		if !addrAllowed(s.allow, conn.RemoteAddr()) {
			conn.Close()
			continue
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()

	stats := s.engine.Stats()
	stats.ConnOpened()
	metrics.ConnectionsActive.Inc()
	defer func() {
		stats.ConnClosed()
		metrics.ConnectionsActive.Dec()
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	ctx := &connContext{id: uuid.NewString()[:8]}
	connLog := log.WithConnID(ctx.id)
	connLog.Debug().Str("remote", conn.RemoteAddr().String()).Msg("connection opened")

	clientIP := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes(s.cfg.MaxQueryLength))
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if s.cfg.MaxQueryLength > 0 && len(line) > s.cfg.MaxQueryLength {
			writeLine(writer, "ERROR query too long")
			continue
		}

		if !s.limiter.Allow(clientIP) {
			writeLine(writer, "ERROR rate limit exceeded")
			continue
		}

		stats.Request()
		metrics.RequestsTotal.Inc()
		writeLine(writer, s.process(line, ctx))
	}
	connLog.Debug().Msg("connection closed")
}

func maxLineBytes(configured int) int {
	if configured <= 0 {
		return 64 * 1024
	}
	// Room for the line plus the CR the scanner strips.
	return configured + 2
}

func writeLine(w *bufio.Writer, response string) {
	w.WriteString(response)
	w.WriteString("\r\n")
	w.Flush()
}

// process dispatches one request line.
func (s *TCPServer) process(line string, ctx *connContext) string {
	cmd, err := s.parser.Parse(line)
	if err != nil {
		s.engine.Stats().Error()
		return FormatError(err)
	}

	switch cmd.Type {
	case query.CmdQuery:
		return s.processQuery(cmd.Query, ctx)
	case query.CmdInfo:
		return FormatInfoResponse(s.engine.Info())
	case query.CmdConfig:
		masked, err := s.engine.MaskedConfig()
		if err != nil {
			return FormatError(err)
		}
		return FormatConfigResponse(masked)
	case query.CmdDumpSave:
		path, err := s.engine.DumpSave(cmd.Name)
		if err != nil {
			return FormatError(err)
		}
		return "OK SAVED " + path
	case query.CmdDumpLoad:
		path, err := s.engine.DumpLoad(cmd.Name)
		if err != nil {
			return FormatError(err)
		}
		return "OK LOADED " + path
	case query.CmdReplicationStart:
		if err := s.engine.ReplicationStart(); err != nil {
			return FormatError(err)
		}
		return "OK REPLICATION STARTED"
	case query.CmdReplicationStop:
		if err := s.engine.ReplicationStop(); err != nil {
			return FormatError(err)
		}
		return "OK REPLICATION STOPPED"
	case query.CmdReplicationStatus:
		return FormatReplicationStatusResponse(s.engine.Replication())
	case query.CmdSync:
		if err := s.engine.Sync(cmd.Table); err != nil {
			return FormatError(err)
		}
		return "OK SYNC STARTED " + cmd.Table
	case query.CmdSyncStatus:
		return FormatSyncStatusResponse(s.engine.SyncStatus())
	case query.CmdDebugOn:
		ctx.debug = true
		return "OK DEBUG ON"
	case query.CmdDebugOff:
		ctx.debug = false
		return "OK DEBUG OFF"
	case query.CmdOptimize:
		if err := s.engine.Optimize(cmd.Table); err != nil {
			return FormatError(err)
		}
		return "OK OPTIMIZE STARTED " + cmd.Table
	}
	return FormatError(fmt.Errorf("unhandled command"))
}

func (s *TCPServer) processQuery(q *query.Query, ctx *connContext) string {
	q.Debug = ctx.debug

	switch q.Op {
	case query.OpSearch:
		out, err := s.engine.Search(q)
		if err != nil {
			return FormatError(err)
		}
		return FormatSearchResponse(out)
	case query.OpCount:
		res, err := s.engine.Count(q)
		if err != nil {
			return FormatError(err)
		}
		return FormatCountResponse(res)
	case query.OpGet:
		doc, err := s.engine.Get(q)
		if err != nil {
			return FormatError(err)
		}
		return FormatGetResponse(doc)
	}
	return FormatError(fmt.Errorf("unhandled query op"))
}
