package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/errdefs"
)

func TestParseSearchBasic(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse(`SEARCH posts golang`)
	require.NoError(t, err)
	require.Equal(t, CmdQuery, cmd.Type)

	q := cmd.Query
	assert.Equal(t, OpSearch, q.Op)
	assert.Equal(t, "posts", q.Table)
	assert.Equal(t, "golang", q.SearchText)
	assert.Equal(t, uint32(100), q.Limit)
	assert.False(t, q.LimitExplicit)
	assert.Zero(t, q.Offset)
}

func TestParseSearchFullClause(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse(`search posts "go tutorial" NOT rust AND beginner FILTER status = active FILTER score >= 10 SORT score DESC LIMIT 50 OFFSET 20`)
	require.NoError(t, err)

	q := cmd.Query
	assert.Equal(t, "go tutorial", q.SearchText)
	assert.Equal(t, []string{"rust"}, q.NotTerms)
	assert.Equal(t, []string{"beginner"}, q.AndTerms)
	require.Len(t, q.Filters, 2)
	assert.Equal(t, FilterCondition{Column: "status", Op: FilterEQ, Value: "active"}, q.Filters[0])
	assert.Equal(t, FilterCondition{Column: "score", Op: FilterGTE, Value: "10"}, q.Filters[1])
	require.NotNil(t, q.OrderBy)
	assert.Equal(t, "score", q.OrderBy.Column)
	assert.True(t, q.OrderBy.Desc)
	assert.Equal(t, uint32(50), q.Limit)
	assert.True(t, q.LimitExplicit)
	assert.Equal(t, uint32(20), q.Offset)
}

func TestParseSortIDMeansPrimaryKey(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse(`SEARCH posts x SORT id ASC`)
	require.NoError(t, err)
	require.NotNil(t, cmd.Query.OrderBy)
	assert.True(t, cmd.Query.OrderBy.IsPrimaryKey())
	assert.False(t, cmd.Query.OrderBy.Desc)
}

func TestParseLimitBounds(t *testing.T) {
	p := NewParser(100)

	_, err := p.Parse(`SEARCH posts x LIMIT 1000`)
	assert.NoError(t, err)

	_, err = p.Parse(`SEARCH posts x LIMIT 1001`)
	assert.ErrorIs(t, err, errdefs.ErrInvalidQuery)

	_, err = p.Parse(`SEARCH posts x LIMIT 0`)
	assert.ErrorIs(t, err, errdefs.ErrInvalidQuery)

	_, err = p.Parse(`SEARCH posts x LIMIT abc`)
	assert.ErrorIs(t, err, errdefs.ErrInvalidQuery)
}

func TestParseCount(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse(`COUNT posts golang NOT rust`)
	require.NoError(t, err)
	assert.Equal(t, OpCount, cmd.Query.Op)

	_, err = p.Parse(`COUNT posts golang LIMIT 10`)
	assert.ErrorIs(t, err, errdefs.ErrInvalidQuery)
}

func TestParseGet(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse(`GET posts 42`)
	require.NoError(t, err)
	assert.Equal(t, OpGet, cmd.Query.Op)
	assert.Equal(t, "42", cmd.Query.PrimaryKey)

	_, err = p.Parse(`GET posts`)
	assert.ErrorIs(t, err, errdefs.ErrInvalidQuery)
}

func TestParseControlCommands(t *testing.T) {
	p := NewParser(100)

	tests := []struct {
		line string
		want CommandType
	}{
		{line: "INFO", want: CmdInfo},
		{line: "config", want: CmdConfig},
		{line: "DUMP SAVE", want: CmdDumpSave},
		{line: "DUMP LOAD backup.dmp", want: CmdDumpLoad},
		{line: "REPLICATION START", want: CmdReplicationStart},
		{line: "REPLICATION stop", want: CmdReplicationStop},
		{line: "REPLICATION STATUS", want: CmdReplicationStatus},
		{line: "SYNC posts", want: CmdSync},
		{line: "SYNC STATUS", want: CmdSyncStatus},
		{line: "DEBUG ON", want: CmdDebugOn},
		{line: "DEBUG OFF", want: CmdDebugOff},
		{line: "OPTIMIZE posts", want: CmdOptimize},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := p.Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Type)
		})
	}
}

func TestParseControlArguments(t *testing.T) {
	p := NewParser(100)

	cmd, err := p.Parse("DUMP LOAD backup.dmp")
	require.NoError(t, err)
	assert.Equal(t, "backup.dmp", cmd.Name)

	cmd, err = p.Parse("SYNC posts")
	require.NoError(t, err)
	assert.Equal(t, "posts", cmd.Table)

	cmd, err = p.Parse("OPTIMIZE comments")
	require.NoError(t, err)
	assert.Equal(t, "comments", cmd.Table)
}

func TestParseErrors(t *testing.T) {
	p := NewParser(100)

	lines := []string{
		"",
		"BOGUS",
		"SEARCH posts",
		"SEARCH posts x FILTER a ~ b",
		"SEARCH posts x SORT a SIDEWAYS",
		"SEARCH posts x NOT",
		"DUMP",
		"REPLICATION",
		"DEBUG MAYBE",
	}
	for _, line := range lines {
		_, err := p.Parse(line)
		assert.ErrorIs(t, err, errdefs.ErrInvalidQuery, "line %q", line)
	}
}

func TestTokenizeQuotes(t *testing.T) {
	got := tokenize(`SEARCH posts "hello world" NOT "foo bar"`)
	assert.Equal(t, []string{"SEARCH", "posts", "hello world", "NOT", "foo bar"}, got)
}
