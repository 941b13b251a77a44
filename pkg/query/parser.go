package query

import (
	"strconv"
	"strings"

	"github.com/libraz/mygram-db/pkg/errdefs"
)

// Parser turns protocol lines into Commands. Commands are case-insensitive;
// arguments keep their case. Double quotes group tokens with spaces.
type Parser struct {
	// DefaultLimit seeds Query.Limit when no LIMIT clause is present.
	DefaultLimit uint32
}

// NewParser returns a parser with the given default limit (api.default_limit).
func NewParser(defaultLimit uint32) *Parser {
	if defaultLimit == 0 || defaultLimit > MaxLimit {
		defaultLimit = 100
	}
	return &Parser{DefaultLimit: defaultLimit}
}

// Parse parses one request line.
func (p *Parser) Parse(line string) (*Command, error) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return nil, errdefs.Invalidf("empty query")
	}

	switch strings.ToUpper(tokens[0]) {
	case "SEARCH":
		q, err := p.parseSearch(tokens, OpSearch)
		if err != nil {
			return nil, err
		}
		return &Command{Type: CmdQuery, Query: q}, nil
	case "COUNT":
		q, err := p.parseSearch(tokens, OpCount)
		if err != nil {
			return nil, err
		}
		return &Command{Type: CmdQuery, Query: q}, nil
	case "GET":
		if len(tokens) != 3 {
			return nil, errdefs.Invalidf("GET requires <table> <primary_key>")
		}
		return &Command{Type: CmdQuery, Query: &Query{
			Op:         OpGet,
			Table:      tokens[1],
			PrimaryKey: tokens[2],
		}}, nil
	case "INFO":
		return &Command{Type: CmdInfo}, nil
	case "CONFIG":
		return &Command{Type: CmdConfig}, nil
	case "DUMP":
		if len(tokens) < 2 {
			return nil, errdefs.Invalidf("DUMP requires SAVE or LOAD")
		}
		name := ""
		if len(tokens) > 2 {
			name = tokens[2]
		}
		switch strings.ToUpper(tokens[1]) {
		case "SAVE":
			return &Command{Type: CmdDumpSave, Name: name}, nil
		case "LOAD":
			return &Command{Type: CmdDumpLoad, Name: name}, nil
		}
		return nil, errdefs.Invalidf("unknown DUMP subcommand %q", tokens[1])
	case "REPLICATION":
		if len(tokens) < 2 {
			return nil, errdefs.Invalidf("REPLICATION requires START, STOP or STATUS")
		}
		switch strings.ToUpper(tokens[1]) {
		case "START":
			return &Command{Type: CmdReplicationStart}, nil
		case "STOP":
			return &Command{Type: CmdReplicationStop}, nil
		case "STATUS":
			return &Command{Type: CmdReplicationStatus}, nil
		}
		return nil, errdefs.Invalidf("unknown REPLICATION subcommand %q", tokens[1])
	case "SYNC":
		if len(tokens) < 2 {
			return nil, errdefs.Invalidf("SYNC requires <table> or STATUS")
		}
		if strings.ToUpper(tokens[1]) == "STATUS" {
			return &Command{Type: CmdSyncStatus}, nil
		}
		return &Command{Type: CmdSync, Table: tokens[1]}, nil
	case "DEBUG":
		if len(tokens) < 2 {
			return nil, errdefs.Invalidf("DEBUG requires ON or OFF")
		}
		switch strings.ToUpper(tokens[1]) {
		case "ON":
			return &Command{Type: CmdDebugOn}, nil
		case "OFF":
			return &Command{Type: CmdDebugOff}, nil
		}
		return nil, errdefs.Invalidf("unknown DEBUG argument %q", tokens[1])
	case "OPTIMIZE":
		if len(tokens) < 2 {
			return nil, errdefs.Invalidf("OPTIMIZE requires <table>")
		}
		return &Command{Type: CmdOptimize, Table: tokens[1]}, nil
	}
	return nil, errdefs.Invalidf("unknown command %q", tokens[0])
}

func (p *Parser) parseSearch(tokens []string, op Op) (*Query, error) {
	verb := "SEARCH"
	if op == OpCount {
		verb = "COUNT"
	}
	if len(tokens) < 3 {
		return nil, errdefs.Invalidf("%s requires <table> <text>", verb)
	}

	q := &Query{
		Op:         op,
		Table:      tokens[1],
		SearchText: tokens[2],
		Limit:      p.DefaultLimit,
	}

	i := 3
	for i < len(tokens) {
		switch strings.ToUpper(tokens[i]) {
		case "NOT":
			if i+1 >= len(tokens) {
				return nil, errdefs.Invalidf("NOT requires a term")
			}
			q.NotTerms = append(q.NotTerms, tokens[i+1])
			i += 2
		case "AND":
			if i+1 >= len(tokens) {
				return nil, errdefs.Invalidf("AND requires a term")
			}
			q.AndTerms = append(q.AndTerms, tokens[i+1])
			i += 2
		case "FILTER":
			if i+3 >= len(tokens) {
				return nil, errdefs.Invalidf("FILTER requires <column> <op> <value>")
			}
			fop, ok := parseFilterOp(tokens[i+2])
			if !ok {
				return nil, errdefs.Invalidf("unknown filter operator %q", tokens[i+2])
			}
			q.Filters = append(q.Filters, FilterCondition{
				Column: tokens[i+1],
				Op:     fop,
				Value:  tokens[i+3],
			})
			i += 4
		case "SORT":
			if i+2 >= len(tokens) {
				return nil, errdefs.Invalidf("SORT requires <column> ASC|DESC")
			}
			ob := &OrderBy{Column: tokens[i+1]}
			switch strings.ToUpper(tokens[i+2]) {
			case "ASC":
			case "DESC":
				ob.Desc = true
			default:
				return nil, errdefs.Invalidf("SORT direction must be ASC or DESC, got %q", tokens[i+2])
			}
			// The literal column "id" addresses the primary key.
			if strings.EqualFold(ob.Column, "id") {
				ob.Column = ""
			}
			q.OrderBy = ob
			i += 3
		case "LIMIT":
			if op != OpSearch {
				return nil, errdefs.Invalidf("LIMIT is only valid for SEARCH")
			}
			if i+1 >= len(tokens) {
				return nil, errdefs.Invalidf("LIMIT requires a number")
			}
			n, err := strconv.ParseUint(tokens[i+1], 10, 32)
			if err != nil {
				return nil, errdefs.Invalidf("invalid LIMIT %q", tokens[i+1])
			}
			if n == 0 || n > MaxLimit {
				return nil, errdefs.Invalidf("LIMIT must be between 1 and %d", MaxLimit)
			}
			q.Limit = uint32(n)
			q.LimitExplicit = true
			i += 2
		case "OFFSET":
			if op != OpSearch {
				return nil, errdefs.Invalidf("OFFSET is only valid for SEARCH")
			}
			if i+1 >= len(tokens) {
				return nil, errdefs.Invalidf("OFFSET requires a number")
			}
			n, err := strconv.ParseUint(tokens[i+1], 10, 32)
			if err != nil {
				return nil, errdefs.Invalidf("invalid OFFSET %q", tokens[i+1])
			}
			q.Offset = uint32(n)
			i += 2
		default:
			return nil, errdefs.Invalidf("unexpected token %q", tokens[i])
		}
	}
	return q, nil
}

func parseFilterOp(s string) (FilterOp, bool) {
	switch s {
	case "=":
		return FilterEQ, true
	case "!=", "<>":
		return FilterNE, true
	case "<":
		return FilterLT, true
	case "<=":
		return FilterLTE, true
	case ">":
		return FilterGT, true
	case ">=":
		return FilterGTE, true
	}
	return "", false
}

// tokenize splits on whitespace, honoring double-quoted groups.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			if inQuote {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case !inQuote && (r == ' ' || r == '\t' || r == '\r' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
