// Package mirror provides read-only access to the local relational mirror of
// the tenant. The mirror is populated by an offline sync; this package only
// ever reads it.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"

	// Mirror drivers: Postgres via pgx stdlib, SQLite via mattn.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// driverNames maps configuration names to database/sql driver names.
var driverNames = map[string]string{
	"postgres": "pgx",
	"sqlite3":  "sqlite3",
}

// Store wraps the mirror database handle.
type Store struct {
	db *sql.DB
}

// Open connects to the mirror using the configured driver ("postgres" or
// "sqlite3") and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unknown mirror driver %q", driver)
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mirror: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResultSet is a materialized query result: rows as generic maps plus the
// column schema inferred from the driver.
type ResultSet struct {
	Rows   []map[string]any
	Schema []models.ColumnSchema
}

// selectOnly guards against anything that is not a read. The mirror is
// read-only by contract; generated SQL must start with SELECT or WITH and
// must be a single statement.
var selectOnly = regexp.MustCompile(`(?is)^\s*(select|with)\b`)

// ErrNotReadOnly is returned for statements that are not plain reads.
var ErrNotReadOnly = fmt.Errorf("mirror accepts read-only statements")

// Query executes a read-only SQL statement and materializes the result set.
func (s *Store) Query(ctx context.Context, query string) (*ResultSet, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if !selectOnly.MatchString(trimmed) || strings.Contains(trimmed, ";") {
		return nil, ErrNotReadOnly
	}

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("mirror query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}

	rs := &ResultSet{Schema: make([]models.ColumnSchema, len(cols))}
	for i, c := range cols {
		typeName := ""
		if i < len(types) {
			typeName = strings.ToLower(types[i].DatabaseTypeName())
		}
		if typeName == "" {
			typeName = "text"
		}
		rs.Schema[i] = models.ColumnSchema{Name: c, Type: typeName}
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return rs, nil
}

// normalize converts driver-specific value types into JSON-friendly ones.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}
