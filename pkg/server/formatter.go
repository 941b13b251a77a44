package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/lifecycle"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/types"
)

// Text-protocol response rendering. One line per response except INFO and
// CONFIG, which are multi-line blocks terminated by END.

// FormatSearchResponse renders "OK RESULTS <total> <pk>...".
func FormatSearchResponse(out *SearchOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK RESULTS %d", out.Total)
	for _, doc := range out.Docs {
		b.WriteByte(' ')
		b.WriteString(doc.PrimaryKey)
	}
	if out.Debug != nil {
		appendDebug(&b, out.Debug)
	}
	return b.String()
}

// FormatCountResponse renders "OK COUNT <n>".
func FormatCountResponse(res *CountResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK COUNT %d", res.Count)
	if res.Debug != nil {
		appendDebug(&b, res.Debug)
	}
	return b.String()
}

func appendDebug(b *strings.Builder, dbg *query.DebugInfo) {
	payload, err := json.Marshal(dbg)
	if err != nil {
		return
	}
	b.WriteString(" DEBUG ")
	b.Write(payload)
}

// FormatGetResponse renders "OK DOC <pk> <col=val>...".
func FormatGetResponse(doc types.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK DOC %s", doc.PrimaryKey)

	names := make([]string, 0, len(doc.Attrs))
	for name := range doc.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%s", name, doc.Attrs[name].Display())
	}
	return b.String()
}

// FormatInfoResponse renders the multi-line INFO block ending with END.
func FormatInfoResponse(info Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\r\n", info.Version)
	fmt.Fprintf(&b, "uptime_seconds: %d\r\n", info.UptimeSeconds)
	fmt.Fprintf(&b, "connections: %d\r\n", info.Connections)
	fmt.Fprintf(&b, "total_requests: %d\r\n", info.TotalRequests)
	for _, t := range info.Tables {
		fmt.Fprintf(&b, "table.%s.documents: %d\r\n", t.Name, t.Documents)
		fmt.Fprintf(&b, "table.%s.terms: %d\r\n", t.Name, t.Terms)
		fmt.Fprintf(&b, "table.%s.index_bytes: %d\r\n", t.Name, t.IndexBytes)
		fmt.Fprintf(&b, "table.%s.store_bytes: %d\r\n", t.Name, t.StoreBytes)
	}
	fmt.Fprintf(&b, "cache.entries: %d\r\n", info.CacheStats.Entries)
	fmt.Fprintf(&b, "cache.bytes: %d\r\n", info.CacheStats.Bytes)
	fmt.Fprintf(&b, "cache.hits: %d\r\n", info.CacheStats.Hits)
	fmt.Fprintf(&b, "cache.misses: %d\r\n", info.CacheStats.Misses)
	fmt.Fprintf(&b, "cache.evictions: %d\r\n", info.CacheStats.Evictions)
	fmt.Fprintf(&b, "replication.enabled: %t\r\n", info.Replication.Enabled)
	fmt.Fprintf(&b, "replication.running: %t\r\n", info.Replication.Running)
	fmt.Fprintf(&b, "replication.cursor: %s\r\n", info.Replication.Cursor)
	fmt.Fprintf(&b, "replication.inserts: %d\r\n", info.Replication.Stats.Inserts)
	fmt.Fprintf(&b, "replication.updates: %d\r\n", info.Replication.Stats.Updates)
	fmt.Fprintf(&b, "replication.deletes: %d\r\n", info.Replication.Stats.Deletes)
	b.WriteString("END")
	return b.String()
}

// FormatConfigResponse renders the masked configuration ending with END.
func FormatConfigResponse(masked string) string {
	masked = strings.ReplaceAll(strings.TrimRight(masked, "\n"), "\n", "\r\n")
	return masked + "\r\nEND"
}

// FormatReplicationStatusResponse renders one status line.
func FormatReplicationStatusResponse(st ReplicationStatus) string {
	state := "stopped"
	switch {
	case !st.Enabled:
		state = "disabled"
	case st.Reconnecting:
		state = "reconnecting"
	case st.Running:
		state = "running"
	}
	return fmt.Sprintf("OK REPLICATION %s cursor=%s inserts=%d updates=%d deletes=%d",
		state, st.Cursor, st.Stats.Inserts, st.Stats.Updates, st.Stats.Deletes)
}

// FormatSyncStatusResponse renders per-table sync phases on one line.
func FormatSyncStatusResponse(status map[string]lifecycle.SyncProgress) string {
	if len(status) == 0 {
		return "OK SYNC idle"
	}
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("OK SYNC")
	for _, name := range names {
		p := status[name]
		fmt.Fprintf(&b, " %s=%s:%d/%d", name, p.Phase, p.Loaded, p.Total)
	}
	return b.String()
}

// FormatError renders "ERROR <reason>" where the reason is the error's full
// message, or "internal error" when that message is empty.
func FormatError(err error) string {
	return "ERROR " + errorMessage(err)
}

func errorMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		msg = "internal error"
	}
	return msg
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrInvalidQuery):
		return 400
	case errors.Is(err, errdefs.ErrTableNotFound),
		errors.Is(err, errdefs.ErrColumnNotFound),
		errors.Is(err, errdefs.ErrDocumentNotFound):
		return 404
	case errors.Is(err, errdefs.ErrBusy):
		return 409
	case errors.Is(err, errdefs.ErrPrecondition):
		return 503
	default:
		return 500
	}
}
