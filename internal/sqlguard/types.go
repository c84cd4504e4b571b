package sqlguard

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnsafeStatement is matched by every validation failure.
var ErrUnsafeStatement = errors.New("statement rejected by safety policy")

// Reject reasons, in the order the rules run.
const (
	ReasonEmpty           = "empty"
	ReasonNotSelect       = "not_select"
	ReasonDialectSyntax   = "dialect_syntax"
	ReasonUnparseable     = "unparseable"
	ReasonNotSimpleSelect = "not_simple_select"
	ReasonLockingRead     = "locking_read"
	ReasonTableCount      = "table_count"
	ReasonUnknownTable    = "unknown_table"
	ReasonSubquery        = "subquery"
	ReasonStarProjection  = "star_projection"
	ReasonUnknownColumn   = "unknown_column"
	ReasonDeniedFunction  = "denied_function"
	ReasonStackedQuery    = "stacked_query"
	ReasonDeniedKeyword   = "denied_keyword"
)

// RejectError carries the rule that rejected a candidate. Detail may quote
// parts of the statement and must only be logged, never returned to callers.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return "sqlguard: " + e.Reason
	}
	return "sqlguard: " + e.Reason + ": " + e.Detail
}

func (e *RejectError) Is(target error) bool { return target == ErrUnsafeStatement }

// Reason returns the reject reason carried by err, or "".
func Reason(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Candidate is untrusted SQL text produced by the translator.
type Candidate struct {
	SQL string
}

// Statement is SQL text that passed every rule. Its fields are unexported so
// only Validator.Validate can produce a usable value; the zero value is
// invalid and the executor refuses it.
type Statement struct {
	sql     string
	table   string
	columns []string
	sealed  bool
}

// SQL returns the validated text, unmodified from the candidate.
func (s Statement) SQL() string { return s.sql }

// Table returns the single allow-listed table the statement reads.
func (s Statement) Table() string { return s.table }

// Columns returns the projected column names in select-list order. Aggregates
// and expressions are omitted.
func (s Statement) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Valid reports whether s was produced by a successful validation.
func (s Statement) Valid() bool { return s.sealed }

// Schema is the allow-list of tables and their columns. Names are compared
// case-insensitively.
type Schema struct {
	tables  []string
	columns map[string][]string
	index   map[string]map[string]bool
}

// DefaultSchema is the customers table of the reference deployment.
func DefaultSchema() *Schema {
	return NewSchema(map[string][]string{
		"customers": {"customer_id", "name", "gender", "location"},
	})
}

// NewSchema builds a Schema. Table order is alphabetical; column order is
// preserved as given.
func NewSchema(tables map[string][]string) *Schema {
	s := &Schema{
		columns: make(map[string][]string, len(tables)),
		index:   make(map[string]map[string]bool, len(tables)),
	}
	for table, cols := range tables {
		t := strings.ToLower(strings.TrimSpace(table))
		if t == "" {
			continue
		}
		set := make(map[string]bool, len(cols))
		ordered := make([]string, 0, len(cols))
		for _, c := range cols {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" || set[c] {
				continue
			}
			set[c] = true
			ordered = append(ordered, c)
		}
		s.tables = append(s.tables, t)
		s.columns[t] = ordered
		s.index[t] = set
	}
	sort.Strings(s.tables)
	return s
}

// Tables returns the allow-listed table names.
func (s *Schema) Tables() []string {
	out := make([]string, len(s.tables))
	copy(out, s.tables)
	return out
}

// Columns returns the allow-listed columns of table in declaration order.
func (s *Schema) Columns(table string) []string {
	cols := s.columns[strings.ToLower(table)]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// HasTable reports whether table is allow-listed.
func (s *Schema) HasTable(table string) bool {
	_, ok := s.index[strings.ToLower(table)]
	return ok
}

// HasColumn reports whether column is allow-listed for table.
func (s *Schema) HasColumn(table, column string) bool {
	return s.index[strings.ToLower(table)][strings.ToLower(column)]
}
