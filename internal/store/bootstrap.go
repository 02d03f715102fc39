package store

import (
	"context"
	"fmt"
	"strings"
)

// Bootstrap creates the system tables (identity store and audit log) if they
// don't exist. Entity tables are handled by the Migrator.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range splitStatements(s.Dialect.SystemTablesSQL()) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	return nil
}

// splitStatements splits a DDL blob on ";" boundaries, dropping empties.
// The system DDL contains no string literals with semicolons.
func splitStatements(blob string) []string {
	var stmts []string
	for _, part := range strings.Split(blob, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			stmts = append(stmts, part)
		}
	}
	return stmts
}
