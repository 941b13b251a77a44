package query

// Op is the data-query operation.
type Op int

const (
	OpSearch Op = iota
	OpCount
	OpGet
)

// FilterOp is a structured filter comparison operator.
type FilterOp string

const (
	FilterEQ  FilterOp = "="
	FilterNE  FilterOp = "!="
	FilterLT  FilterOp = "<"
	FilterLTE FilterOp = "<="
	FilterGT  FilterOp = ">"
	FilterGTE FilterOp = ">="
)

// FilterCondition is one structured filter: column op value.
type FilterCondition struct {
	Column string
	Op     FilterOp
	Value  string
}

// IsEquality reports whether the condition is an equality test; the executor
// runs equality conditions before range conditions.
func (f FilterCondition) IsEquality() bool {
	return f.Op == FilterEQ || f.Op == FilterNE
}

// OrderBy names the sort column; an empty column means the primary key.
type OrderBy struct {
	Column string
	Desc   bool
}

// IsPrimaryKey reports whether the clause sorts on the primary key.
func (o OrderBy) IsPrimaryKey() bool { return o.Column == "" }

// MaxLimit caps LIMIT for every query.
const MaxLimit = 1000

// Query is a parsed data query, the shape both protocol front ends produce.
type Query struct {
	Op         Op
	Table      string
	SearchText string
	PrimaryKey string // GET only

	AndTerms []string
	NotTerms []string
	Filters  []FilterCondition
	OrderBy  *OrderBy

	Limit         uint32
	LimitExplicit bool
	Offset        uint32
	Debug         bool
}

// CommandType enumerates every protocol verb.
type CommandType int

const (
	CmdQuery CommandType = iota
	CmdInfo
	CmdConfig
	CmdDumpSave
	CmdDumpLoad
	CmdReplicationStart
	CmdReplicationStop
	CmdReplicationStatus
	CmdSync
	CmdSyncStatus
	CmdDebugOn
	CmdDebugOff
	CmdOptimize
)

// Command is one parsed protocol line: a data query or a control verb.
type Command struct {
	Type  CommandType
	Query *Query

	// Table carries the target of SYNC and OPTIMIZE.
	Table string
	// Name carries the optional dump file name of DUMP SAVE / DUMP LOAD.
	Name string
}
