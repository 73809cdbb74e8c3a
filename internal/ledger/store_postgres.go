package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lamport/pkg/platform/sentinel"
	"lamport/pkg/platform/tx"
)

// PostgresStore persists ledger entries in the ledger_entries table.
// Writes join a transaction carried in ctx (see pkg/platform/tx).
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgres constructs a PostgreSQL-backed ledger.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

func (s *PostgresStore) Award(ctx context.Context, g Grant) (*Entry, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	e := g.entryAt(s.opts.now().UTC(), "")
	query := `
		INSERT INTO ledger_entries (subject_id, resource_type, category, amount, description, once_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
		RETURNING id
	`
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		e.SubjectID,
		string(e.Resource),
		string(e.Category),
		e.Amount,
		e.Description,
		e.CreatedAt,
		e.ExpiresAt,
	).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("award: %w", err)
	}
	return &e, nil
}

// AwardOnce relies on the partial unique index over (subject_id,
// resource_type, once_key). ON CONFLICT keeps a surrounding transaction usable
// when the key was already taken.
func (s *PostgresStore) AwardOnce(ctx context.Context, g Grant, onceKey string) (*Entry, error) {
	if onceKey == "" {
		return nil, fmt.Errorf("%w: once key is required", ErrInvalidGrant)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	e := g.entryAt(s.opts.now().UTC(), onceKey)
	query := `
		INSERT INTO ledger_entries (subject_id, resource_type, category, amount, description, once_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, resource_type, once_key) WHERE once_key IS NOT NULL DO NOTHING
		RETURNING id
	`
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		e.SubjectID,
		string(e.Resource),
		string(e.Category),
		e.Amount,
		e.Description,
		e.OnceKey,
		e.CreatedAt,
		e.ExpiresAt,
	).Scan(&e.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("award once %s: %w", onceKey, sentinel.ErrAlreadyUsed)
		}
		return nil, fmt.Errorf("award once: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) Balance(ctx context.Context, subjectID string, resource Resource) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE subject_id = $1
		  AND resource_type = $2
		  AND (expires_at IS NULL OR expires_at > $3)
	`
	var total int64
	if err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, subjectID, string(resource), s.opts.now().UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) DailyBalance(ctx context.Context, subjectID string, resource Resource) (int64, error) {
	now := s.opts.now().UTC()
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE subject_id = $1
		  AND resource_type = $2
		  AND (expires_at IS NULL OR expires_at > $3)
		  AND created_at >= $4
	`
	var total int64
	if err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, subjectID, string(resource), now, StartOfDayUTC(now)).Scan(&total); err != nil {
		return 0, fmt.Errorf("daily balance: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) BalanceByCategory(ctx context.Context, subjectID string, resource Resource, category Category, description string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE subject_id = $1
		  AND resource_type = $2
		  AND category = $3
		  AND description = $4
		  AND (expires_at IS NULL OR expires_at > $5)
	`
	var total int64
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		subjectID, string(resource), string(category), description, s.opts.now().UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("balance by category: %w", err)
	}
	return total, nil
}

// CountByCategory counts matching entries including expired ones that were not
// purged yet.
func (s *PostgresStore) CountByCategory(ctx context.Context, subjectID string, resource Resource, category Category, description string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE subject_id = $1
		  AND resource_type = $2
		  AND category = $3
		  AND description = $4
	`
	var count int64
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		subjectID, string(resource), string(category), description,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by category: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Summary(ctx context.Context, subjectID string) (Summary, error) {
	now := s.opts.now().UTC()
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE resource_type = $2), 0),
			COALESCE(SUM(amount) FILTER (WHERE resource_type = $3), 0),
			COALESCE(SUM(amount) FILTER (WHERE resource_type = $2 AND created_at >= $5), 0)
		FROM ledger_entries
		WHERE subject_id = $1
		  AND (expires_at IS NULL OR expires_at > $4)
	`
	sum := Summary{SubjectID: subjectID}
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		subjectID, string(ResourcePoints), string(ResourceEnergy), now, StartOfDayUTC(now),
	).Scan(&sum.Points, &sum.Energy, &sum.DailyPoints)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger summary: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		s.opts.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows affected: %w", err)
	}
	return n, nil
}

// LockSubject takes a transaction-scoped advisory lock keyed by subjectID.
func (s *PostgresStore) LockSubject(ctx context.Context, subjectID string) error {
	sqlTx, ok := tx.From(ctx)
	if !ok {
		return fmt.Errorf("lock subject %s: %w", subjectID, ErrNoTransaction)
	}
	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectID); err != nil {
		return fmt.Errorf("lock subject %s: %w", subjectID, err)
	}
	return nil
}
