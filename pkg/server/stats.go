package server

import (
	"sync/atomic"
	"time"
)

// Stats is the server-wide counter set. One instance is shared by the TCP
// and HTTP servers so INFO and /metrics report the same numbers regardless
// of which listener served the traffic.
type Stats struct {
	startTime time.Time

	totalRequests atomic.Uint64
	activeConns   atomic.Int64
	totalConns    atomic.Uint64

	searches atomic.Uint64
	counts   atomic.Uint64
	gets     atomic.Uint64
	errors   atomic.Uint64
}

// NewStats starts the uptime clock.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) StartTime() time.Time { return s.startTime }

// Uptime returns seconds since server start.
func (s *Stats) Uptime() uint64 { return uint64(time.Since(s.startTime).Seconds()) }

func (s *Stats) ConnOpened() {
	s.activeConns.Add(1)
	s.totalConns.Add(1)
}

func (s *Stats) ConnClosed() { s.activeConns.Add(-1) }

func (s *Stats) Request() { s.totalRequests.Add(1) }

func (s *Stats) Search() { s.searches.Add(1) }
func (s *Stats) Count()  { s.counts.Add(1) }
func (s *Stats) Get()    { s.gets.Add(1) }
func (s *Stats) Error()  { s.errors.Add(1) }

func (s *Stats) ActiveConns() int64    { return s.activeConns.Load() }
func (s *Stats) TotalConns() uint64    { return s.totalConns.Load() }
func (s *Stats) TotalRequests() uint64 { return s.totalRequests.Load() }
func (s *Stats) Searches() uint64      { return s.searches.Load() }
func (s *Stats) Counts() uint64        { return s.counts.Load() }
func (s *Stats) Gets() uint64          { return s.gets.Load() }
func (s *Stats) Errors() uint64        { return s.errors.Load() }
