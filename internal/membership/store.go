package membership

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

// Create conflicts also wrap sentinel.ErrConflict. A conflict on the Lamport
// ID wraps only sentinel.ErrConflict.
var (
	ErrAddressTaken    = errors.New("address already registered")
	ErrInviteCodeTaken = errors.New("invite code taken")
)

// Store persists members. Create returns sentinel.ErrConflict when the Lamport
// ID, address or invite code is taken; lookups return sentinel.ErrNotFound.
type Store interface {
	Create(ctx context.Context, m *Member) error
	ByLamportID(ctx context.Context, lamportID string) (*Member, error)
	ByAddress(ctx context.Context, address string) (*Member, error)
	ByInviteCode(ctx context.Context, code string) (*Member, error)
	// CountInvited returns how many members registered with code.
	CountInvited(ctx context.Context, code string) (int64, error)
}

const (
	inviteCodeLength   = 8
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewInviteCode returns a random alphanumeric code.
func NewInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate invite code: %w", err)
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
