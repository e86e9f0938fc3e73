package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// excludedTables are operational tables that never belong in prompts or
// validation. SSMS creates sysdiagrams on demand and AdventureWorks ships
// DatabaseLog.
var excludedTables = map[string]struct{}{
	"databaselog": {},
	"sysdiagrams": {},
}

// Snapshot is one immutable view of the warehouse schema. Lookups are
// case-insensitive because SQL Server identifiers are.
type Snapshot struct {
	tables  map[string]string   // lower name -> canonical name
	columns map[string][]string // lower table -> canonical column names, ordinal order
	text    string
}

type Service struct {
	db *sql.DB

	mu       sync.RWMutex
	snapshot *Snapshot
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const columnsQuery = `
SELECT c.TABLE_NAME, c.COLUMN_NAME
FROM INFORMATION_SCHEMA.COLUMNS c
JOIN INFORMATION_SCHEMA.TABLES t
  ON t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_SCHEMA = c.TABLE_SCHEMA
WHERE t.TABLE_TYPE = 'BASE TABLE' AND t.TABLE_SCHEMA = 'dbo'
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

// Refresh re-reads the schema from INFORMATION_SCHEMA and swaps in a new
// snapshot atomically.
func (s *Service) Refresh(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	snapshot := &Snapshot{
		tables:  map[string]string{},
		columns: map[string][]string{},
	}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("scan schema row: %w", err)
		}
		key := strings.ToLower(table)
		if _, skip := excludedTables[key]; skip {
			continue
		}
		snapshot.tables[key] = table
		snapshot.columns[key] = append(snapshot.columns[key], column)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema rows: %w", err)
	}
	if len(snapshot.tables) == 0 {
		return fmt.Errorf("introspect schema: no user tables found")
	}
	snapshot.text = renderText(snapshot)

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current view, or nil before the first Refresh.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func renderText(snapshot *Snapshot) string {
	names := make([]string, 0, len(snapshot.tables))
	for key := range snapshot.tables {
		names = append(names, key)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, key := range names {
		b.WriteString("- ")
		b.WriteString(snapshot.tables[key])
		b.WriteString(": ")
		b.WriteString(strings.Join(snapshot.columns[key], ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// Text renders the schema as one line per table, ready to paste into a
// prompt.
func (sn *Snapshot) Text() string {
	return sn.text
}

func (sn *Snapshot) HasTable(name string) bool {
	_, ok := sn.tables[strings.ToLower(name)]
	return ok
}

func (sn *Snapshot) HasColumn(table, column string) bool {
	columns, ok := sn.columns[strings.ToLower(table)]
	if !ok {
		return false
	}
	for _, c := range columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// Tables returns canonical table names in sorted order.
func (sn *Snapshot) Tables() []string {
	names := make([]string, 0, len(sn.tables))
	for _, canonical := range sn.tables {
		names = append(names, canonical)
	}
	sort.Strings(names)
	return names
}

// Columns returns the canonical column names of a table in ordinal order,
// or nil when the table is unknown.
func (sn *Snapshot) Columns(table string) []string {
	columns := sn.columns[strings.ToLower(table)]
	if columns == nil {
		return nil
	}
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// TableCount reports the number of tables in the snapshot.
func (sn *Snapshot) TableCount() int {
	return len(sn.tables)
}
