package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Migrate creates the images table and its indexes. It is safe to run repeatedly.
func Migrate(ctx context.Context, q Queryer) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
