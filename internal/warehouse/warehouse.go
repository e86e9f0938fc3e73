package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Result is a fully materialized query result. Cell values keep whatever
// driver type came back; callers that compare results normalize via
// fmt.Sprint.
type Result struct {
	Columns []string
	Rows    [][]any
}

type Service struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func NewService(db *sql.DB, queryTimeout time.Duration) *Service {
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &Service{db: db, queryTimeout: queryTimeout}
}

func (s *Service) Ready(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// RunQuery executes arbitrary read SQL and materializes every row. The
// statement is expected to have passed validation already; this layer does
// not re-check it.
func (s *Service) RunQuery(ctx context.Context, query string) (*Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// Preflight asks SQL Server to describe the first result set of the
// statement without executing it. Binding errors (unknown columns, type
// mismatches) surface here before any data is touched.
func (s *Service) Preflight(ctx context.Context, query string) error {
	escaped := strings.ReplaceAll(query, "'", "''")
	batch := fmt.Sprintf(
		"DECLARE @q nvarchar(max) = N'%s'; EXEC sp_describe_first_result_set @tsql = @q;",
		escaped,
	)

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, batch)
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	return nil
}
