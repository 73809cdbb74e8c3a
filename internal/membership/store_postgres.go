package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lamport/internal/platform/postgres"
	"lamport/pkg/platform/sentinel"
	"lamport/pkg/platform/tx"
)

// PostgresStore persists members in the members table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Constraint names postgres generates for the UNIQUE columns in schema.sql.
const (
	constraintAddress    = "members_address_key"
	constraintInviteCode = "members_invite_code_key"
)

const memberColumns = `lamport_id, address, name, user_name, invite_code, invited_by, created_at`

func (s *PostgresStore) Create(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		m.LamportID,
		m.Address,
		m.Name,
		m.UserName,
		m.InviteCode,
		nullString(m.InvitedBy),
		m.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			constraint := postgres.ConstraintName(err)
			switch constraint {
			case constraintAddress:
				return fmt.Errorf("create member %s (%s): %w: %w", m.LamportID, constraint, ErrAddressTaken, sentinel.ErrConflict)
			case constraintInviteCode:
				return fmt.Errorf("create member %s (%s): %w: %w", m.LamportID, constraint, ErrInviteCodeTaken, sentinel.ErrConflict)
			}
			return fmt.Errorf("create member %s (%s): %w", m.LamportID, constraint, sentinel.ErrConflict)
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByLamportID(ctx context.Context, lamportID string) (*Member, error) {
	return s.findOne(ctx, `lamport_id = $1`, lamportID)
}

func (s *PostgresStore) ByAddress(ctx context.Context, address string) (*Member, error) {
	return s.findOne(ctx, `address = $1`, address)
}

func (s *PostgresStore) ByInviteCode(ctx context.Context, code string) (*Member, error) {
	return s.findOne(ctx, `invite_code = $1`, code)
}

func (s *PostgresStore) CountInvited(ctx context.Context, code string) (int64, error) {
	var n int64
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM members WHERE invited_by = $1`, code,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invited: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE ` + where
	var (
		m         Member
		invitedBy sql.NullString
	)
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, arg).Scan(
		&m.LamportID,
		&m.Address,
		&m.Name,
		&m.UserName,
		&m.InviteCode,
		&invitedBy,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	m.InvitedBy = invitedBy.String
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
