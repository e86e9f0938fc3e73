package nl2sql

import (
	"context"
	"regexp"
	"strings"

	"github.com/querypilot/querypilot/internal/observability"
)

// SchemaView is the slice of schema metadata validation needs.
type SchemaView interface {
	HasTable(name string) bool
	HasColumn(table, column string) bool
	Text() string
}

// Preflighter compiles a statement server-side without executing it.
type Preflighter interface {
	Preflight(ctx context.Context, sql string) error
}

// forbiddenStatements are write and admin verbs that must never appear in
// generated SQL, matched word-bounded and case-insensitive.
var forbiddenStatements = []string{
	"INSERT", "UPDATE", "DELETE", "ALTER", "DROP", "TRUNCATE",
	"CREATE", "MERGE", "EXEC", "EXECUTE", "GRANT", "REVOKE",
	"BACKUP", "RESTORE",
}

// badTSQLPatterns are constructs open-weight models emit that SQL Server
// rejects.
var badTSQLPatterns = []string{
	" limit ",
	" offset ",
	" period for ",
	" grouping sets",
}

var (
	sqlStartRe     = regexp.MustCompile(`(?is)^\s*(with|select)\b`)
	tableNameRe    = regexp.MustCompile(`(?i)\bfrom\s+([\w\.\[\]]+)|\bjoin\s+([\w\.\[\]]+)`)
	cteFirstRe     = regexp.MustCompile(`(?i)\bwith\s+([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
	cteCommaRe     = regexp.MustCompile(`(?i),\s*([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
	columnRefRe    = regexp.MustCompile(`(?i)([A-Za-z0-9_\[\]]+)\.([A-Za-z0-9_\[\]]+)`)
	yearOrderKeyRe = regexp.MustCompile(`(?i)\bYEAR\s*\(\s*OrderDateKey\s*\)`)
)

const badYearUsageHint = "Do not use YEAR(OrderDateKey). OrderDateKey is an integer key; " +
	"join to DimDate on OrderDateKey = DateKey and filter on DimDate.CalendarYear " +
	"or DimDate.FullDateAlternateKey instead."

// ColumnRef identifies an alias.column reference that resolved to a real
// table but not to one of its columns.
type ColumnRef struct {
	Table  string `json:"table"`
	Alias  string `json:"alias"`
	Column string `json:"column"`
}

// Diagnostics records every validation finding for one statement. The zero
// value means nothing was checked.
type Diagnostics struct {
	IsSafe         bool        `json:"is_safe"`
	UnknownTables  []string    `json:"unknown_tables"`
	UnknownColumns []ColumnRef `json:"unknown_columns"`
	BadYearUsage   string      `json:"bad_year_usage,omitempty"`
	PreflightOK    bool        `json:"preflight_ok"`
	PreflightError string      `json:"preflight_error,omitempty"`
}

type Validator struct {
	schema          SchemaView
	preflighter     Preflighter
	strictPreflight bool
}

func NewValidator(schema SchemaView, preflighter Preflighter, strictPreflight bool) *Validator {
	return &Validator{
		schema:          schema,
		preflighter:     preflighter,
		strictPreflight: strictPreflight,
	}
}

// Validate runs the full check chain: safety gate, unknown tables and
// columns, the YEAR(OrderDateKey) heuristic, and, when everything local
// passes, the server-side preflight.
func (v *Validator) Validate(ctx context.Context, sql string) (bool, Diagnostics) {
	diag := Diagnostics{PreflightOK: true}

	diag.IsSafe = IsSafeSelect(sql)
	if !diag.IsSafe {
		observability.IncrementValidationFailure("unsafe_statement")
	}

	diag.UnknownTables = v.unknownTables(sql)
	if len(diag.UnknownTables) > 0 {
		observability.IncrementValidationFailure("unknown_table")
	}

	diag.UnknownColumns = v.unknownColumns(sql)
	if len(diag.UnknownColumns) > 0 {
		observability.IncrementValidationFailure("unknown_column")
	}

	badYear := yearOrderKeyRe.MatchString(sql)
	if badYear {
		diag.BadYearUsage = badYearUsageHint
		observability.IncrementValidationFailure("bad_year_usage")
	}

	if diag.IsSafe && len(diag.UnknownTables) == 0 && len(diag.UnknownColumns) == 0 {
		if v.strictPreflight && v.preflighter != nil {
			if err := v.preflighter.Preflight(ctx, sql); err != nil {
				diag.PreflightOK = false
				diag.PreflightError = err.Error()
				observability.IncrementValidationFailure("preflight")
			}
		}
	}

	// Bad YEAR() usage compiles fine but returns garbage, so it has to
	// force a repair round.
	if badYear {
		diag.PreflightOK = false
		if diag.PreflightError == "" {
			diag.PreflightError = badYearUsageHint
		}
	}

	ok := diag.IsSafe &&
		len(diag.UnknownTables) == 0 &&
		len(diag.UnknownColumns) == 0 &&
		diag.PreflightOK
	return ok, diag
}

// IsSafeSelect accepts only statements that start with SELECT or WITH and
// contain no write verbs or non-T-SQL constructs.
func IsSafeSelect(sql string) bool {
	lowered := strings.ToLower(strings.TrimSpace(sql))
	if !sqlStartRe.MatchString(lowered) {
		return false
	}
	padded := " " + lowered + " "
	for _, verb := range forbiddenStatements {
		if strings.Contains(padded, " "+strings.ToLower(verb)+" ") {
			return false
		}
	}
	for _, bad := range badTSQLPatterns {
		if strings.Contains(padded, bad) {
			return false
		}
	}
	return true
}

// ExtractTables pulls the identifiers after FROM and JOIN, dropping schema
// prefixes and brackets.
func ExtractTables(sql string) []string {
	seen := map[string]struct{}{}
	var tables []string
	for _, m := range tableNameRe.FindAllStringSubmatch(sql, -1) {
		ident := m[1]
		if ident == "" {
			ident = m[2]
		}
		if ident == "" {
			continue
		}
		parts := strings.Split(ident, ".")
		name := strings.Trim(parts[len(parts)-1], "[]")
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}

// ExtractCTENames collects every CTE name: the first after WITH and any
// comma-separated ones after it.
func ExtractCTENames(sql string) []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(name string) {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	for _, m := range cteFirstRe.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}
	for _, m := range cteCommaRe.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}
	return names
}

func (v *Validator) unknownTables(sql string) []string {
	ctes := map[string]struct{}{}
	for _, name := range ExtractCTENames(sql) {
		ctes[strings.ToLower(strings.Trim(name, "[]"))] = struct{}{}
	}
	var unknown []string
	for _, table := range ExtractTables(sql) {
		if v.schema.HasTable(table) {
			continue
		}
		if _, isCTE := ctes[strings.ToLower(table)]; isCTE {
			continue
		}
		unknown = append(unknown, table)
	}
	return unknown
}

// unknownColumns only checks alias.column pairs whose left side names a real
// table. Query aliases are skipped, the preflight catches those.
func (v *Validator) unknownColumns(sql string) []ColumnRef {
	var unknown []ColumnRef
	for _, m := range columnRefRe.FindAllStringSubmatch(sql, -1) {
		alias := m[1]
		table := strings.Trim(alias, "[]")
		if !v.schema.HasTable(table) {
			continue
		}
		column := strings.Trim(m[2], "[]")
		if v.schema.HasColumn(table, column) {
			continue
		}
		unknown = append(unknown, ColumnRef{Table: table, Alias: alias, Column: column})
	}
	return unknown
}
