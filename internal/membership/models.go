// Package membership implements the member-facing flows that drive the
// allocator, the ledger and the outbox: registration, account binding, voting
// and proposals.
package membership

import (
	"errors"
	"fmt"
	"strings"
	"time"

	platformstrings "lamport/pkg/platform/strings"
)

var (
	ErrInvalidRequest     = errors.New("invalid membership request")
	ErrInsufficientEnergy = errors.New("not enough energy")
	ErrUnknownInviteCode  = errors.New("unknown invite code")
)

// Member is a registered account keyed by its Lamport ID.
type Member struct {
	LamportID  string `json:"lamport_id"`
	Address    string `json:"address"`
	Name       string `json:"name"`
	UserName   string `json:"user_name"`
	InviteCode string `json:"invite_code"`
	// InvitedBy holds the inviter's invite code, empty when none was given.
	InvitedBy string    `json:"invited_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Address   string
	Name      string
	UserName  string
	InvitedBy string
}

func (r RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserName) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidRequest)
	}
	return nil
}

// RegisterResult carries the member and a bearer token. Created is false when
// the address was already registered.
type RegisterResult struct {
	Member  *Member `json:"member"`
	Token   string  `json:"token"`
	Created bool    `json:"created"`
}

type VoteRequest struct {
	LamportID string
	VoteID    string
	Title     string
	Content   string
	StartTime string
	EndTime   string
	Options   string
	Sig       string
}

func (r VoteRequest) Validate() error {
	if r.LamportID == "" {
		return fmt.Errorf("%w: lamport id is required", ErrInvalidRequest)
	}
	if r.VoteID == "" {
		return fmt.Errorf("%w: vote id is required", ErrInvalidRequest)
	}
	return nil
}

type ProposalRequest struct {
	LamportID   string
	Title       string
	Description string
	Options     []string
}

func (r ProposalRequest) Validate() error {
	if r.LamportID == "" {
		return fmt.Errorf("%w: lamport id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if len(platformstrings.DedupeAndTrimLower(r.Options)) < 2 {
		return fmt.Errorf("%w: at least two distinct options are required", ErrInvalidRequest)
	}
	return nil
}

// Stats is the points view for a single member.
type Stats struct {
	LamportID   string `json:"lamport_id"`
	Points      int64  `json:"point"`
	Energy      int64  `json:"energy"`
	DailyPoints int64  `json:"daily_point"`
	InviteCount int64  `json:"invite_count"`
}
