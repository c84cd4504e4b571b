// Package sqlguard statically validates translator output against a narrow
// read-only grammar: one SELECT over one allow-listed table and its
// allow-listed columns.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// DefaultDeniedKeywords are rejected anywhere in the statement as whole words.
var DefaultDeniedKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "REPLACE", "TRUNCATE",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "MERGE", "CALL", "UNION", "INTO", "OUTFILE",
	"LOAD_FILE", "XP_CMDSHELL", "SLEEP", "BENCHMARK",
}

// DefaultDeniedSymbols are rejected anywhere in the statement. Comments are
// never legitimate translator output; backslashes and double quotes are
// parsed differently by sqlparser and the engines we execute on.
var DefaultDeniedSymbols = []string{";--", "--", "/*", "*/", "\\", "\""}

// DefaultAllowedFunctions are the only function names a candidate may call.
var DefaultAllowedFunctions = []string{
	"count", "sum", "avg", "min", "max", "total",
	"lower", "upper", "length", "trim", "ltrim", "rtrim",
	"abs", "round", "coalesce", "ifnull", "nullif",
}

// Config configures a Validator. Nil slices use the defaults.
type Config struct {
	Schema           *Schema
	DeniedKeywords   []string
	DeniedSymbols    []string
	AllowedFunctions []string
}

// Validator checks candidates against the rule chain. It is immutable after
// construction and safe for concurrent use.
type Validator struct {
	schema  *Schema
	words   *regexp.Regexp // nil when no keywords are denied
	symbols []string
	funcs   map[string]bool
	rules   []rule
}

// checkState is threaded through the rules of a single validation.
type checkState struct {
	text    string // trimmed candidate
	table   string
	columns []string
}

type rule struct {
	name  string
	check func(v *Validator, st *checkState) *RejectError
}

// NewValidator creates a Validator. A nil schema uses DefaultSchema.
func NewValidator(cfg Config) (*Validator, error) {
	schema := cfg.Schema
	if schema == nil {
		schema = DefaultSchema()
	}
	if len(schema.Tables()) == 0 {
		return nil, fmt.Errorf("NewValidator: schema has no tables")
	}

	keywords := cfg.DeniedKeywords
	if keywords == nil {
		keywords = DefaultDeniedKeywords
	}
	symbols := cfg.DeniedSymbols
	if symbols == nil {
		symbols = DefaultDeniedSymbols
	}

	allowed := cfg.AllowedFunctions
	if allowed == nil {
		allowed = DefaultAllowedFunctions
	}

	v := &Validator{schema: schema, funcs: make(map[string]bool, len(allowed))}
	for _, fn := range allowed {
		if fn = strings.ToLower(strings.TrimSpace(fn)); fn != "" {
			v.funcs[fn] = true
		}
	}

	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}
	if len(quoted) > 0 {
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("NewValidator: %w", err)
		}
		v.words = re
	}
	for _, sym := range symbols {
		if sym != "" {
			v.symbols = append(v.symbols, sym)
		}
	}

	v.rules = []rule{
		{"select_prefix", (*Validator).checkSelectPrefix},
		{"dialect", (*Validator).checkDialect},
		{"single_table", (*Validator).checkStructure},
		{"no_stacked_query", (*Validator).checkStacked},
		{"denylist", (*Validator).checkDenylist},
	}
	return v, nil
}

// Schema returns the allow-list the validator enforces.
func (v *Validator) Schema() *Schema { return v.schema }

// Validate runs every rule in order and stops at the first failure. On
// success the candidate text is wrapped, unmodified, in a Statement.
func (v *Validator) Validate(c Candidate) (Statement, error) {
	st := &checkState{text: strings.TrimSpace(c.SQL)}
	if st.text == "" {
		return Statement{}, &RejectError{Reason: ReasonEmpty}
	}

	for _, r := range v.rules {
		if rej := r.check(v, st); rej != nil {
			return Statement{}, rej
		}
	}

	return Statement{
		sql:     c.SQL,
		table:   st.table,
		columns: st.columns,
		sealed:  true,
	}, nil
}

// checkSelectPrefix: the first token after comments must be SELECT.
func (v *Validator) checkSelectPrefix(st *checkState) *RejectError {
	word := firstWord(stripLeadingComments(st.text))
	if !strings.EqualFold(word, "SELECT") {
		return &RejectError{Reason: ReasonNotSelect, Detail: fmt.Sprintf("leading token %q", word)}
	}
	return nil
}

// checkDialect rejects text that sqlparser reads differently from the engines
// we execute on. sqlparser treats an unquoted '#' as a line comment and a
// backslash as an escape inside literals; SQLite and PostgreSQL do neither,
// so anything after them would reach the database unchecked.
func (v *Validator) checkDialect(st *checkState) *RejectError {
	if sym, ok := findDialectHazard(st.text); ok {
		return &RejectError{Reason: ReasonDialectSyntax, Detail: sym}
	}
	return nil
}

// checkStructure parses the first statement and enforces the single-table,
// allow-listed-columns shape.
func (v *Validator) checkStructure(st *checkState) *RejectError {
	head, _, _ := splitStatements(st.text)

	parsed, err := sqlparser.Parse(head)
	if err != nil {
		return &RejectError{Reason: ReasonUnparseable, Detail: err.Error()}
	}

	sel, ok := parsed.(*sqlparser.Select)
	if !ok {
		return &RejectError{Reason: ReasonNotSimpleSelect, Detail: fmt.Sprintf("%T", parsed)}
	}
	if sel.Lock != "" {
		return &RejectError{Reason: ReasonLockingRead, Detail: strings.TrimSpace(sel.Lock)}
	}

	if len(sel.From) != 1 {
		return &RejectError{Reason: ReasonTableCount, Detail: fmt.Sprintf("%d table expressions", len(sel.From))}
	}
	aliased, ok := sel.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return &RejectError{Reason: ReasonTableCount, Detail: "join"}
	}
	name, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return &RejectError{Reason: ReasonSubquery, Detail: "derived table"}
	}
	table := name.Name.String()
	if !name.Qualifier.IsEmpty() || !v.schema.HasTable(table) {
		return &RejectError{Reason: ReasonUnknownTable, Detail: sqlparser.String(name)}
	}
	table = strings.ToLower(table)
	alias := aliased.As.String()

	var columns []string
	for _, expr := range sel.SelectExprs {
		switch e := expr.(type) {
		case *sqlparser.StarExpr:
			return &RejectError{Reason: ReasonStarProjection}
		case *sqlparser.AliasedExpr:
			if col, ok := e.Expr.(*sqlparser.ColName); ok {
				columns = append(columns, col.Name.Lowered())
			}
		default:
			return &RejectError{Reason: ReasonNotSimpleSelect, Detail: fmt.Sprintf("%T", expr)}
		}
	}

	var rej *RejectError
	walkErr := sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.Subquery:
			rej = &RejectError{Reason: ReasonSubquery}
			return false, rej
		case *sqlparser.ColName:
			if r := v.checkColumn(n, table, alias); r != nil {
				rej = r
				return false, rej
			}
		case *sqlparser.FuncExpr:
			name := n.Name.Lowered()
			if !n.Qualifier.IsEmpty() || !v.funcs[name] {
				rej = &RejectError{Reason: ReasonDeniedFunction, Detail: sqlparser.String(n.Name)}
				return false, rej
			}
		case *sqlparser.GroupConcatExpr, *sqlparser.ConvertExpr, *sqlparser.ConvertUsingExpr,
			*sqlparser.MatchExpr, *sqlparser.ValuesFuncExpr:
			rej = &RejectError{Reason: ReasonDeniedFunction, Detail: fmt.Sprintf("%T", n)}
			return false, rej
		}
		return true, nil
	}, sel)
	if walkErr != nil {
		if rej != nil {
			return rej
		}
		return &RejectError{Reason: ReasonUnparseable, Detail: walkErr.Error()}
	}

	st.table = table
	st.columns = columns
	return nil
}

// checkColumn resolves a column reference against the single table.
// Select-list aliases are not column references.
func (v *Validator) checkColumn(col *sqlparser.ColName, table, alias string) *RejectError {
	name := col.Name.Lowered()
	if col.Qualifier.IsEmpty() {
		if v.schema.HasColumn(table, name) {
			return nil
		}
		return &RejectError{Reason: ReasonUnknownColumn, Detail: name}
	}

	q := col.Qualifier
	if !q.Qualifier.IsEmpty() {
		return &RejectError{Reason: ReasonUnknownColumn, Detail: sqlparser.String(col)}
	}
	qual := q.Name.String()
	if !strings.EqualFold(qual, table) && !(alias != "" && strings.EqualFold(qual, alias)) {
		return &RejectError{Reason: ReasonUnknownColumn, Detail: sqlparser.String(col)}
	}
	if !v.schema.HasColumn(table, name) {
		return &RejectError{Reason: ReasonUnknownColumn, Detail: sqlparser.String(col)}
	}
	return nil
}

// checkStacked rejects a separator followed by further content.
func (v *Validator) checkStacked(st *checkState) *RejectError {
	if hasStackedStatement(st.text) {
		return &RejectError{Reason: ReasonStackedQuery}
	}
	return nil
}

// checkDenylist is defense in depth beneath the prefix and structure checks.
func (v *Validator) checkDenylist(st *checkState) *RejectError {
	for _, sym := range v.symbols {
		if strings.Contains(st.text, sym) {
			return &RejectError{Reason: ReasonDeniedKeyword, Detail: sym}
		}
	}
	if v.words != nil {
		if m := v.words.FindString(st.text); m != "" {
			return &RejectError{Reason: ReasonDeniedKeyword, Detail: strings.ToUpper(m)}
		}
	}
	return nil
}
