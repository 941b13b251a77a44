package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/libraz/mygram-db/pkg/errdefs"
	"github.com/libraz/mygram-db/pkg/lifecycle"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/types"
)

func TestFormatSearchResponse(t *testing.T) {
	out := &SearchOutcome{
		Total: 3,
		Docs: []types.Document{
			{DocID: 1, PrimaryKey: "a"},
			{DocID: 2, PrimaryKey: "b"},
		},
	}
	assert.Equal(t, "OK RESULTS 3 a b", FormatSearchResponse(out))
}

func TestFormatSearchResponseEmpty(t *testing.T) {
	assert.Equal(t, "OK RESULTS 0", FormatSearchResponse(&SearchOutcome{}))
}

func TestFormatSearchResponseDebugSuffix(t *testing.T) {
	out := &SearchOutcome{
		Total: 1,
		Docs:  []types.Document{{DocID: 1, PrimaryKey: "a"}},
		Debug: &query.DebugInfo{Terms: []string{"ab"}, CandidateCount: 5},
	}
	got := FormatSearchResponse(out)
	assert.True(t, strings.HasPrefix(got, "OK RESULTS 1 a DEBUG {"), got)
	assert.Contains(t, got, `"candidate_count":5`)
}

func TestFormatCountResponse(t *testing.T) {
	assert.Equal(t, "OK COUNT 42", FormatCountResponse(&CountResult{Count: 42}))
}

func TestFormatGetResponse(t *testing.T) {
	doc := types.Document{
		DocID:      7,
		PrimaryKey: "pk7",
		Attrs: map[string]types.Value{
			"status": types.String("active"),
			"score":  types.Int64(9),
		},
	}
	// Attributes render sorted by name.
	assert.Equal(t, "OK DOC pk7 score=9 status=active", FormatGetResponse(doc))
}

func TestFormatInfoResponseEndsWithEND(t *testing.T) {
	info := Info{
		Version:       "test",
		UptimeSeconds: 12,
		Tables:        []TableInfo{{Name: "posts", Documents: 3, Terms: 9}},
	}
	got := FormatInfoResponse(info)
	assert.True(t, strings.HasSuffix(got, "END"))
	assert.Contains(t, got, "version: test")
	assert.Contains(t, got, "table.posts.documents: 3")
}

func TestFormatConfigResponse(t *testing.T) {
	got := FormatConfigResponse("logging:\n  level: info\n")
	assert.True(t, strings.HasSuffix(got, "END"))
	assert.Contains(t, got, "level: info")
}

func TestFormatReplicationStatusResponse(t *testing.T) {
	tests := []struct {
		name string
		st   ReplicationStatus
		want string
	}{
		{
			name: "disabled",
			st:   ReplicationStatus{},
			want: "disabled",
		},
		{
			name: "running",
			st:   ReplicationStatus{Enabled: true, Running: true, Cursor: "uuid:1-5"},
			want: "running",
		},
		{
			name: "reconnecting",
			st:   ReplicationStatus{Enabled: true, Running: true, Reconnecting: true},
			want: "reconnecting",
		},
		{
			name: "stopped",
			st:   ReplicationStatus{Enabled: true},
			want: "stopped",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatReplicationStatusResponse(tt.st)
			assert.Contains(t, got, "OK REPLICATION "+tt.want)
		})
	}
}

func TestFormatSyncStatusResponse(t *testing.T) {
	assert.Equal(t, "OK SYNC idle", FormatSyncStatusResponse(nil))

	got := FormatSyncStatusResponse(map[string]lifecycle.SyncProgress{
		"posts": {Phase: lifecycle.SyncRunning, Loaded: 10, Total: 100},
	})
	assert.Equal(t, "OK SYNC posts=running:10/100", got)
}

func TestFormatError(t *testing.T) {
	got := FormatError(errdefs.Invalidf("LIMIT must be between 1 and 1000"))
	assert.True(t, strings.HasPrefix(got, "ERROR "), got)
	assert.Contains(t, got, "LIMIT")
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: errdefs.Invalidf("x"), want: 400},
		{err: errdefs.ErrTableNotFound, want: 404},
		{err: errdefs.ErrDocumentNotFound, want: 404},
		{err: errdefs.ErrColumnNotFound, want: 404},
		{err: errdefs.ErrBusy, want: 409},
		{err: errdefs.ErrPrecondition, want: 503},
		{err: errors.New("boom"), want: 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
