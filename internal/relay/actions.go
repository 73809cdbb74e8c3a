// Package relay signs membership actions as nostr events and publishes them
// to the configured relays.
package relay

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds used on the relay network.
const (
	KindVote   = 1
	KindCreate = 2321
	KindBind   = 2322
	KindInvite = 2323
)

// Action type names on the wire.
const (
	TypeCreate = "create"
	TypeBind   = "bind"
	TypeInvite = "invite"
	TypeVote   = "vote"
)

var (
	ErrUnknownAction  = errors.New("unknown relay action")
	ErrMissingAction  = errors.New("relay message has no action")
	ErrMissingLamport = errors.New("lamport id is required")
)

// Action is one of CreateAction, BindAction, InviteAction or VoteAction.
// Each kind carries a fixed tag schema.
type Action interface {
	Type() string
	Kind() int
	Tags() nostr.Tags
	Content() string
	validate() error
}

// CreateAction announces a social account bound to a Lamport ID.
type CreateAction struct {
	LamportID string `json:"lamport_id"`
	Twitter   string `json:"twitter"`
}

func NewCreate(lamportID, twitter string) (*CreateAction, error) {
	a := &CreateAction{LamportID: lamportID, Twitter: twitter}
	return a, a.validate()
}

func (a *CreateAction) Type() string { return TypeCreate }
func (a *CreateAction) Kind() int    { return KindCreate }

func (a *CreateAction) Tags() nostr.Tags {
	return nostr.Tags{
		{"LamportID", a.LamportID},
		{"Twitter", a.Twitter},
		{"lmport_type", "Create"},
	}
}

func (a *CreateAction) Content() string {
	return "LamportID:" + a.LamportID
}

func (a *CreateAction) validate() error {
	if a.LamportID == "" {
		return ErrMissingLamport
	}
	return nil
}

// BindAction binds a wallet address to a Lamport ID. Address is kept in
// EIP-55 checksum form.
type BindAction struct {
	LamportID string `json:"lamport_id"`
	Address   string `json:"address"`
	Sig       string `json:"sig"`
}

// NewBind normalizes address and rejects anything that is not a 20-byte hex
// address.
func NewBind(lamportID, address, sig string) (*BindAction, error) {
	checksummed, err := ChecksumAddress(address)
	if err != nil {
		return nil, err
	}
	a := &BindAction{LamportID: lamportID, Address: checksummed, Sig: sig}
	return a, a.validate()
}

func (a *BindAction) Type() string { return TypeBind }
func (a *BindAction) Kind() int    { return KindBind }

func (a *BindAction) Tags() nostr.Tags {
	return nostr.Tags{
		{"LamportID", a.LamportID},
		{"Address", a.Address},
		{"sig", a.Sig},
		{"lmport_type", "Bind"},
	}
}

func (a *BindAction) Content() string {
	return fmt.Sprintf("LamportID:%s bind address:%s", a.LamportID, a.Address)
}

func (a *BindAction) validate() error {
	if a.LamportID == "" {
		return ErrMissingLamport
	}
	if _, err := ChecksumAddress(a.Address); err != nil {
		return err
	}
	return nil
}

// InviteAction records that a member invited someone into a project.
type InviteAction struct {
	LamportID string `json:"lamport_id"`
	Project   string `json:"project"`
	Invitee   string `json:"invitee"`
	Link      string `json:"link"`
}

func NewInvite(lamportID, project, invitee, link string) (*InviteAction, error) {
	a := &InviteAction{LamportID: lamportID, Project: project, Invitee: invitee, Link: link}
	return a, a.validate()
}

func (a *InviteAction) Type() string { return TypeInvite }
func (a *InviteAction) Kind() int    { return KindInvite }

func (a *InviteAction) Tags() nostr.Tags {
	return nostr.Tags{
		{"LamportID", a.LamportID},
		{"p", a.Project},
		{"Invitee", a.Invitee},
		{"lmport_type", "Invite"},
		{"i", "invite"},
	}
}

func (a *InviteAction) Content() string {
	return fmt.Sprintf("%s Invite %s, Link:%s", a.LamportID, a.Invitee, a.Link)
}

func (a *InviteAction) validate() error {
	if a.LamportID == "" {
		return ErrMissingLamport
	}
	if a.Invitee == "" {
		return errors.New("invitee is required")
	}
	return nil
}

// VoteAction publishes a cast vote. Times and options are carried as the
// caller formatted them.
type VoteAction struct {
	LamportID string `json:"lamport_id"`
	VoteID    string `json:"vote_id"`
	Title     string `json:"title"`
	Body      string `json:"content"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Options   string `json:"options"`
	Sig       string `json:"sig"`
}

func NewVote(v VoteAction) (*VoteAction, error) {
	a := v
	return &a, a.validate()
}

func (a *VoteAction) Type() string { return TypeVote }
func (a *VoteAction) Kind() int    { return KindVote }

func (a *VoteAction) Tags() nostr.Tags {
	return nostr.Tags{
		{"LamportID", a.LamportID},
		{"vote_id", a.VoteID},
		{"title", a.Title},
		{"content", a.Body},
		{"start_time", a.StartTime},
		{"end_time", a.EndTime},
		{"options", a.Options},
		{"sig", a.Sig},
	}
}

func (a *VoteAction) Content() string {
	return fmt.Sprintf("%s Vote %s, Title:%s", a.LamportID, a.VoteID, a.Title)
}

func (a *VoteAction) validate() error {
	if a.LamportID == "" {
		return ErrMissingLamport
	}
	if a.VoteID == "" {
		return errors.New("vote id is required")
	}
	return nil
}
