package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"lamport/internal/lamportid"
	"lamport/internal/ledger"
	"lamport/internal/outbox"
	"lamport/internal/relay"
	"lamport/internal/timeline"
	"lamport/pkg/platform/sentinel"
	"lamport/pkg/platform/tx"
)

// TokenIssuer mints the bearer token returned on registration.
type TokenIssuer interface {
	CreateToken(lamportID, name, userName string) (string, error)
}

const (
	descInviteChannel = "twitter"
	descVoteReward    = "vote reward"
	descProposal      = "proposal reward"
	descRegister      = "register"

	platformTwitter = "twitter"
	inviteProject   = "lamport"

	maxInviteCodeAttempts = 3
)

// Service runs the membership flows. Ledger writes happen first (inside the
// tx runner when one is configured); outbox messages are enqueued after the
// ledger commit, so an enqueue failure leaves the rewards in place and is
// returned to the caller.
type Service struct {
	allocator lamportid.Allocator
	members   Store
	ledger    ledger.Ledger
	outbox    outbox.Enqueuer
	tokens    TokenIssuer
	tx        tx.Runner
	schedule  Schedule

	eventsTopic string
	relayTopic  string
	logger      *slog.Logger
	now         func() time.Time
	inviteCode  func() (string, error)

	spendLocks sync.Map
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSchedule(schedule Schedule) Option {
	return func(s *Service) {
		s.schedule = schedule
	}
}

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.tx = r
		}
	}
}

// WithTopics overrides the events and relay topic names.
func WithTopics(events, relayTopic string) Option {
	return func(s *Service) {
		if events != "" {
			s.eventsTopic = events
		}
		if relayTopic != "" {
			s.relayTopic = relayTopic
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithInviteCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.inviteCode = gen
		}
	}
}

func NewService(
	allocator lamportid.Allocator,
	members Store,
	l ledger.Ledger,
	enqueuer outbox.Enqueuer,
	tokens TokenIssuer,
	opts ...Option,
) *Service {
	s := &Service{
		allocator:   allocator,
		members:     members,
		ledger:      l,
		outbox:      enqueuer,
		tokens:      tokens,
		tx:          tx.NoopRunner{},
		schedule:    DefaultSchedule(),
		eventsTopic: outbox.TopicEvents,
		relayTopic:  outbox.TopicRelay,
		logger:      slog.Default(),
		now:         time.Now,
		inviteCode:  NewInviteCode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register is idempotent by address. A new member gets a Lamport ID, an invite
// code and the register energy; a resolvable inviter is rewarded once per
// invitee. The member row and its rewards commit together. Registering an
// existing address grants any reward a failed earlier attempt left out.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	address, err := relay.ChecksumAddress(strings.TrimSpace(req.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	existing, err := s.members.ByAddress(ctx, address)
	switch {
	case err == nil:
		return s.repair(ctx, existing)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, fmt.Errorf("lookup member: %w", err)
	}

	var inviter *Member
	if req.InvitedBy != "" {
		inviter, err = s.members.ByInviteCode(ctx, req.InvitedBy)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownInviteCode, req.InvitedBy)
			}
			return nil, fmt.Errorf("lookup inviter: %w", err)
		}
	}

	issued, err := s.allocator.IssueAndIncrement(ctx)
	if err != nil {
		return nil, fmt.Errorf("issue lamport id: %w", err)
	}
	member := &Member{
		LamportID: strconv.FormatInt(issued, 10),
		Address:   address,
		Name:      req.Name,
		UserName:  req.UserName,
		InvitedBy: req.InvitedBy,
		CreatedAt: s.now().UTC(),
	}

	var granted rewards
	created, err := s.create(ctx, member, func(ctx context.Context) (err error) {
		granted, err = s.grantRegisterRewards(ctx, member, inviter)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost a race on the address: the other registration owns the rewards.
		winner, err := s.members.ByAddress(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("lookup member: %w", err)
		}
		s.logger.InfoContext(ctx, "member already registered", "lamport_id", winner.LamportID)
		return s.repair(ctx, winner)
	}

	if err := s.announce(ctx, member, inviter, granted); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "member registered",
		"lamport_id", member.LamportID,
		"invited", inviter != nil,
	)
	return s.result(member, true)
}

// rewards reports which registration grants were written by one call.
type rewards struct {
	register bool
	invite   bool
}

// repair re-runs the idempotent registration grants for m and announces the
// ones that were still missing.
func (s *Service) repair(ctx context.Context, m *Member) (*RegisterResult, error) {
	var inviter *Member
	if m.InvitedBy != "" {
		found, err := s.members.ByInviteCode(ctx, m.InvitedBy)
		switch {
		case err == nil:
			inviter = found
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, fmt.Errorf("lookup inviter: %w", err)
		}
	}

	var granted rewards
	err := s.tx.RunInTx(ctx, func(ctx context.Context) (err error) {
		granted, err = s.grantRegisterRewards(ctx, m, inviter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register rewards: %w", err)
	}
	if granted.register || granted.invite {
		s.logger.WarnContext(ctx, "granted missing registration rewards",
			"lamport_id", m.LamportID,
			"register", granted.register,
			"invite", granted.invite,
		)
		if err := s.announce(ctx, m, inviter, granted); err != nil {
			return nil, err
		}
	}
	return s.result(m, false)
}

// grantRegisterRewards awards the register energy to m and the invite reward
// to inviter, skipping grants already on the ledger.
func (s *Service) grantRegisterRewards(ctx context.Context, m, inviter *Member) (rewards, error) {
	var granted rewards
	_, err := s.ledger.AwardOnce(ctx, ledger.Grant{
		SubjectID:   m.LamportID,
		Resource:    ledger.ResourceEnergy,
		Category:    ledger.CategoryRegister,
		Amount:      s.schedule.RegisterEnergy,
		Description: descRegister,
	}, "register")
	switch {
	case err == nil:
		granted.register = true
	case !sentinel.IsAlreadyUsed(err):
		return granted, err
	}
	if inviter == nil {
		return granted, nil
	}
	granted.invite, err = s.rewardInviter(ctx, inviter, m)
	return granted, err
}

// announce enqueues the messages that follow the grants in granted.
func (s *Service) announce(ctx context.Context, m, inviter *Member, granted rewards) error {
	var payloads []any
	if granted.register {
		bind, err := relay.NewBind(m.LamportID, m.Address, "")
		if err != nil {
			return err
		}
		payloads = append(payloads,
			s.timelineEvent(m.LamportID, timeline.EventTypeRegister, "Generated a Lamport ID"),
			relay.Message{Action: bind},
		)
	}
	if granted.invite && inviter != nil {
		invite, err := relay.NewInvite(inviter.LamportID, inviteProject, m.LamportID, m.InvitedBy)
		if err != nil {
			return err
		}
		payloads = append(payloads, relay.Message{Action: invite})
	}
	return s.enqueue(ctx, payloads...)
}

// rewardInviter reports whether the invite reward was granted by this call.
func (s *Service) rewardInviter(ctx context.Context, inviter, invitee *Member) (bool, error) {
	_, err := s.ledger.AwardOnce(ctx, ledger.Grant{
		SubjectID:   inviter.LamportID,
		Resource:    ledger.ResourcePoints,
		Category:    ledger.CategoryInvite,
		Amount:      s.schedule.InvitePoints,
		Description: descInviteChannel,
	}, "invite:"+invitee.LamportID)
	if sentinel.IsAlreadyUsed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = s.ledger.Award(ctx, ledger.Grant{
		SubjectID:   inviter.LamportID,
		Resource:    ledger.ResourceEnergy,
		Category:    ledger.CategoryInvite,
		Amount:      -s.schedule.InviteEnergy,
		Description: descInviteChannel,
	})
	return err == nil, err
}

// create inserts m and runs rewards in one transaction, retrying with a fresh
// invite code when the code is taken. It reports false when the address was
// registered concurrently. Any other conflict, such as a reused Lamport ID, is
// returned without retrying.
func (s *Service) create(ctx context.Context, m *Member, grant func(ctx context.Context) error) (bool, error) {
	for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
		code, err := s.inviteCode()
		if err != nil {
			return false, err
		}
		m.InviteCode = code
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.members.Create(ctx, m); err != nil {
				return err
			}
			if err := grant(ctx); err != nil {
				return fmt.Errorf("register rewards: %w", err)
			}
			return nil
		})
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrAddressTaken):
			return false, nil
		case !errors.Is(err, ErrInviteCodeTaken):
			return false, fmt.Errorf("create member %s: %w", m.LamportID, err)
		}
	}
	return false, fmt.Errorf("create member: no free invite code after %d attempts: %w", maxInviteCodeAttempts, sentinel.ErrConflict)
}

// BindAccount rewards the first binding of each platform.
func (s *Service) BindAccount(ctx context.Context, lamportID, platform, handle string) error {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if platform == "" || handle == "" {
		return fmt.Errorf("%w: platform and handle are required", ErrInvalidRequest)
	}
	if _, err := s.member(ctx, lamportID); err != nil {
		return err
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.ledger.AwardOnce(ctx, ledger.Grant{
			SubjectID:   lamportID,
			Resource:    ledger.ResourcePoints,
			Category:    ledger.CategoryBinding,
			Amount:      s.schedule.BindingPoints,
			Description: platform,
		}, "binding:"+platform); err != nil {
			return err
		}
		_, err := s.ledger.Award(ctx, ledger.Grant{
			SubjectID:   lamportID,
			Resource:    ledger.ResourceEnergy,
			Category:    ledger.CategoryBinding,
			Amount:      -s.schedule.BindingEnergy,
			Description: platform,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", platform, err)
	}

	payloads := []any{
		s.timelineEvent(lamportID, timeline.EventTypeBinding, "Bound a "+platform+" account"),
	}
	if platform == platformTwitter {
		create, err := relay.NewCreate(lamportID, handle)
		if err != nil {
			return err
		}
		payloads = append(payloads, relay.Message{Action: create})
	}
	return s.enqueue(ctx, payloads...)
}

// CastVote requires at least the vote cost in energy.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.member(ctx, req.LamportID); err != nil {
		return err
	}

	first, err := s.spend(ctx, req.LamportID, ledger.CategoryVote, descVoteReward,
		s.schedule.VotePoints, s.schedule.VoteEnergy)
	if err != nil {
		return err
	}

	vote, err := relay.NewVote(relay.VoteAction{
		LamportID: req.LamportID,
		VoteID:    req.VoteID,
		Title:     req.Title,
		Body:      req.Content,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Options:   req.Options,
		Sig:       req.Sig,
	})
	if err != nil {
		return err
	}
	payloads := []any{relay.Message{Action: vote}}
	if first {
		payloads = append(payloads, s.timelineEvent(req.LamportID, timeline.EventTypeVote, "First vote cast"))
	}
	return s.enqueue(ctx, payloads...)
}

// CreateProposal requires at least the proposal cost in energy.
func (s *Service) CreateProposal(ctx context.Context, req ProposalRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.member(ctx, req.LamportID); err != nil {
		return err
	}

	first, err := s.spend(ctx, req.LamportID, ledger.CategoryProposal, descProposal,
		s.schedule.ProposalPoints, s.schedule.ProposalEnergy)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	return s.enqueue(ctx, s.timelineEvent(req.LamportID, timeline.EventTypeProposal, "First proposal submission"))
}

// spend checks the energy floor, then awards points and consumes energy for
// category. It reports whether this was the member's first such action.
// Spends by one member are serialized in process and, through the ledger's
// subject lock, across processes.
func (s *Service) spend(ctx context.Context, lamportID string, category ledger.Category, desc string, points, cost int32) (bool, error) {
	unlock := s.lockSubject(lamportID)
	defer unlock()

	var first bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.LockSubject(ctx, lamportID); err != nil {
			return err
		}
		energy, err := s.ledger.Balance(ctx, lamportID, ledger.ResourceEnergy)
		if err != nil {
			return err
		}
		if energy < int64(cost) {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientEnergy, energy, cost)
		}
		if _, err := s.ledger.Award(ctx, ledger.Grant{
			SubjectID:   lamportID,
			Resource:    ledger.ResourcePoints,
			Category:    category,
			Amount:      points,
			Description: desc,
		}); err != nil {
			return err
		}
		if _, err := s.ledger.Award(ctx, ledger.Grant{
			SubjectID:   lamportID,
			Resource:    ledger.ResourceEnergy,
			Category:    category,
			Amount:      -cost,
			Description: desc,
		}); err != nil {
			return err
		}
		n, err := s.ledger.CountByCategory(ctx, lamportID, ledger.ResourcePoints, category, desc)
		if err != nil {
			return err
		}
		first = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s rewards: %w", category, err)
	}
	return first, nil
}

func (s *Service) lockSubject(lamportID string) func() {
	v, _ := s.spendLocks.LoadOrStore(lamportID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Points returns the member's balances and how many members they invited.
func (s *Service) Points(ctx context.Context, lamportID string) (*Stats, error) {
	m, err := s.member(ctx, lamportID)
	if err != nil {
		return nil, err
	}
	summary, err := s.ledger.Summary(ctx, lamportID)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	invited, err := s.members.CountInvited(ctx, m.InviteCode)
	if err != nil {
		return nil, err
	}
	return &Stats{
		LamportID:   lamportID,
		Points:      summary.Points,
		Energy:      summary.Energy,
		DailyPoints: summary.DailyPoints,
		InviteCount: invited,
	}, nil
}

// Member looks up a member by Lamport ID.
func (s *Service) Member(ctx context.Context, lamportID string) (*Member, error) {
	return s.member(ctx, lamportID)
}

func (s *Service) member(ctx context.Context, lamportID string) (*Member, error) {
	if lamportID == "" {
		return nil, fmt.Errorf("%w: lamport id is required", ErrInvalidRequest)
	}
	m, err := s.members.ByLamportID(ctx, lamportID)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", lamportID, err)
	}
	return m, nil
}

func (s *Service) result(m *Member, created bool) (*RegisterResult, error) {
	token, err := s.tokens.CreateToken(m.LamportID, m.Name, m.UserName)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &RegisterResult{Member: m, Token: token, Created: created}, nil
}

func (s *Service) timelineEvent(lamportID string, eventType timeline.EventType, content string) timeline.Event {
	return timeline.Event{SubjectID: lamportID, EventType: eventType, Content: content}
}

// enqueue routes timeline events to the events topic and relay messages to
// the relay topic. It stops at the first failure.
func (s *Service) enqueue(ctx context.Context, payloads ...any) error {
	for _, p := range payloads {
		topic := s.eventsTopic
		if _, ok := p.(relay.Message); ok {
			topic = s.relayTopic
		}
		if err := s.outbox.Enqueue(ctx, topic, p); err != nil {
			s.logger.ErrorContext(ctx, "enqueue after ledger commit failed", "topic", topic, "error", err)
			return err
		}
	}
	return nil
}
