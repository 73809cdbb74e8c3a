package lamportid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lamport/pkg/platform/tx"
)

// PostgresAllocator keeps the counter in the singleton lamport_id row.
type PostgresAllocator struct {
	db   *sql.DB
	opts options
}

// NewPostgres constructs a PostgreSQL-backed allocator.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresAllocator {
	return &PostgresAllocator{db: db, opts: buildOptions(opts)}
}

func (a *PostgresAllocator) Current(ctx context.Context) (int64, error) {
	var value int64
	err := tx.Pick(ctx, a.db).QueryRowContext(ctx,
		`SELECT current_value FROM lamport_id WHERE id = 1`,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotInitialized
		}
		return 0, fmt.Errorf("read lamport counter: %w", err)
	}
	return value, nil
}

// IssueAndIncrement bumps the counter in a single UPDATE ... RETURNING so the
// row lock serializes concurrent issuers.
func (a *PostgresAllocator) IssueAndIncrement(ctx context.Context) (int64, error) {
	query := `
		UPDATE lamport_id
		SET current_value = current_value + 1,
			updated_at = $1
		WHERE id = 1
		RETURNING current_value - 1
	`
	var issued int64
	err := tx.Pick(ctx, a.db).QueryRowContext(ctx, query, a.opts.now().UTC()).Scan(&issued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotInitialized
		}
		return 0, fmt.Errorf("issue lamport id: %w", err)
	}
	a.opts.metrics.IncIssued()
	return issued, nil
}

func (a *PostgresAllocator) Seed(ctx context.Context, start int64) (bool, error) {
	if start < 0 {
		return false, ErrInvalidSeed
	}
	now := a.opts.now().UTC()
	query := `
		INSERT INTO lamport_id (id, current_value, updated_at, created_at)
		VALUES (1, $1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := tx.Pick(ctx, a.db).ExecContext(ctx, query, start, now)
	if err != nil {
		return false, fmt.Errorf("seed lamport counter: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed lamport counter rows affected: %w", err)
	}
	return rows == 1, nil
}
