package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Resource is the balance an entry moves.
type Resource string

const (
	ResourcePoints Resource = "points"
	ResourceEnergy Resource = "energy"
)

func (r Resource) IsValid() bool {
	return r == ResourcePoints || r == ResourceEnergy
}

// Category records which action produced an entry.
type Category string

const (
	CategoryProposal Category = "proposal"
	CategoryInvite   Category = "invite"
	CategoryVote     Category = "vote"
	CategoryBinding  Category = "binding"
	CategoryRegister Category = "register"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryProposal, CategoryInvite, CategoryVote, CategoryBinding, CategoryRegister:
		return true
	}
	return false
}

// ErrInvalidGrant is returned when a grant is missing a subject or names an
// unknown resource or category.
var ErrInvalidGrant = errors.New("invalid ledger grant")

// Entry is one append-only ledger row. Amount is signed; consumption is a
// negative entry.
type Entry struct {
	ID          int64
	SubjectID   string
	Resource    Resource
	Category    Category
	Amount      int32
	Description string
	OnceKey     string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// IsExpiredAt reports whether the entry no longer counts towards balances.
func (e Entry) IsExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Grant describes an entry to append. A nil TTL never expires.
type Grant struct {
	SubjectID   string
	Resource    Resource
	Category    Category
	Amount      int32
	Description string
	TTL         *time.Duration
}

func (g Grant) Validate() error {
	if g.SubjectID == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidGrant)
	}
	if !g.Resource.IsValid() {
		return fmt.Errorf("%w: unknown resource %q", ErrInvalidGrant, g.Resource)
	}
	if !g.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidGrant, g.Category)
	}
	if g.TTL != nil && *g.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidGrant)
	}
	return nil
}

func (g Grant) entryAt(now time.Time, onceKey string) Entry {
	e := Entry{
		SubjectID:   g.SubjectID,
		Resource:    g.Resource,
		Category:    g.Category,
		Amount:      g.Amount,
		Description: g.Description,
		OnceKey:     onceKey,
		CreatedAt:   now,
	}
	if g.TTL != nil {
		exp := now.Add(*g.TTL)
		e.ExpiresAt = &exp
	}
	return e
}

// Summary is the per-member view returned by the points endpoint.
type Summary struct {
	SubjectID   string
	Points      int64
	Energy      int64
	DailyPoints int64
}

// StartOfDayUTC returns 00:00 UTC of the day containing t.
func StartOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
