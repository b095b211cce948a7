// internal/db/admin.go
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// ClearOptions controls how ClearTables empties the database.
type ClearOptions struct {
	// PreserveMigrations keeps the schema_migrations bookkeeping table.
	PreserveMigrations bool
	// Truncate empties tables instead of dropping them.
	Truncate bool
}

// ListTables returns every table in the public schema.
func ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ClearTables drops (or truncates) the given tables and returns the names it
// processed, in order. It stops at the first failure so the caller can report
// exactly how far it got.
func ClearTables(ctx context.Context, db *sql.DB, tables []string, opts ClearOptions) ([]string, error) {
	var cleared []string
	for _, table := range tables {
		if opts.PreserveMigrations && table == "schema_migrations" {
			continue
		}

		var stmt string
		if opts.Truncate {
			stmt = fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", pq.QuoteIdentifier(table))
		} else {
			stmt = fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(table))
		}

		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return cleared, fmt.Errorf("failed to clear table %s: %w", table, err)
		}
		cleared = append(cleared, table)
	}
	return cleared, nil
}
