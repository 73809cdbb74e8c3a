package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lamport/pkg/platform/sentinel"
	"lamport/pkg/platform/tx"
)

// PostgresStore persists records in timeline_events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectRecord = `SELECT event_id, subject_id, event_type, content, created_at FROM timeline_events`

func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	query := `
		INSERT INTO timeline_events (event_id, subject_id, event_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		r.EventID,
		r.SubjectID,
		string(r.EventType),
		r.Content,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID uuid.UUID) (*Record, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, selectRecord+` WHERE event_id = $1`, eventID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("timeline event %s: %w", eventID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get timeline event: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string, page Page) ([]*Record, error) {
	page = page.normalized()
	query := selectRecord + `
		WHERE subject_id = $1
		ORDER BY created_at ASC, event_id ASC
		OFFSET $2 LIMIT $3
	`
	return s.list(ctx, query, subjectID, page.Offset, page.Limit)
}

// ListByTypes returns records of any of the given types, oldest first.
func (s *PostgresStore) ListByTypes(ctx context.Context, types []EventType, page Page) ([]*Record, error) {
	page = page.normalized()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	query := selectRecord + `
		WHERE event_type = ANY($1)
		ORDER BY created_at ASC, event_id ASC
		OFFSET $2 LIMIT $3
	`
	return s.list(ctx, query, pq.Array(names), page.Offset, page.Limit)
}

func (s *PostgresStore) CountBySubject(ctx context.Context, subjectID string) (int64, error) {
	var n int64
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeline_events WHERE subject_id = $1`, subjectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count timeline events: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		eventType string
	)
	if err := row.Scan(&r.EventID, &r.SubjectID, &eventType, &r.Content, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.EventType = EventType(eventType)
	return &r, nil
}
