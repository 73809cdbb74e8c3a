package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamport/internal/ledger"
	"lamport/pkg/platform/sentinel"
)

// fakeClock is a settable time source shared by the store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ttl(d time.Duration) *time.Duration { return &d }

func TestInMemoryStore_BalanceEmptyIsZero(t *testing.T) {
	s := ledger.NewInMemory()
	got, err := s.Balance(context.Background(), "nobody", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestInMemoryStore_BalanceSeparatesResourcesAndSubjects(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()

	grants := []ledger.Grant{
		{SubjectID: "1", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 10},
		{SubjectID: "1", Resource: ledger.ResourceEnergy, Category: ledger.CategoryRegister, Amount: 100},
		{SubjectID: "1", Resource: ledger.ResourceEnergy, Category: ledger.CategoryVote, Amount: -1},
		{SubjectID: "2", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 10},
	}
	for _, g := range grants {
		_, err := s.Award(ctx, g)
		require.NoError(t, err)
	}

	points, err := s.Balance(ctx, "1", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(10), points)

	energy, err := s.Balance(ctx, "1", ledger.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(99), energy)
}

func TestInMemoryStore_AwardNeverRejectsOnBalance(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()

	_, err := s.Award(ctx, ledger.Grant{SubjectID: "1", Resource: ledger.ResourceEnergy, Category: ledger.CategoryProposal, Amount: -10})
	require.NoError(t, err)

	energy, err := s.Balance(ctx, "1", ledger.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), energy)
}

func TestInMemoryStore_RejectsInvalidGrant(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()

	cases := map[string]ledger.Grant{
		"missing subject":  {Resource: ledger.ResourcePoints, Category: ledger.CategoryVote},
		"unknown resource": {SubjectID: "1", Resource: "karma", Category: ledger.CategoryVote},
		"unknown category": {SubjectID: "1", Resource: ledger.ResourcePoints, Category: "airdrop"},
		"zero ttl":         {SubjectID: "1", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, TTL: ttl(0)},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Award(ctx, g)
			require.ErrorIs(t, err, ledger.ErrInvalidGrant)
		})
	}
}

func TestInMemoryStore_DailyWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	clock := newFakeClock(now)
	s := ledger.NewInMemory(ledger.WithClock(clock.Now))

	clock.Set(now.Add(-25 * time.Hour))
	_, err := s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 5})
	require.NoError(t, err)

	clock.Set(now.Add(-time.Minute))
	_, err = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 3})
	require.NoError(t, err)

	clock.Set(now)
	daily, err := s.DailyBalance(ctx, "u", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(3), daily)

	total, err := s.Balance(ctx, "u", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(8), total)
}

func TestInMemoryStore_DailyWindowStartsAtMidnightUTC(t *testing.T) {
	ctx := context.Background()
	midnight := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(midnight.Add(-time.Second))
	s := ledger.NewInMemory(ledger.WithClock(clock.Now))

	_, err := s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 7})
	require.NoError(t, err)
	clock.Set(midnight)
	_, err = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 2})
	require.NoError(t, err)

	clock.Set(midnight.Add(time.Hour))
	daily, err := s.DailyBalance(ctx, "u", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(2), daily)
}

func TestInMemoryStore_ExpiredEntriesLeaveBalancesAndArePurged(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s := ledger.NewInMemory(ledger.WithClock(clock.Now))

	_, err := s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourceEnergy, Category: ledger.CategoryRegister, Amount: 100})
	require.NoError(t, err)
	_, err = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourceEnergy, Category: ledger.CategoryVote, Amount: 50, TTL: ttl(time.Hour)})
	require.NoError(t, err)

	energy, err := s.Balance(ctx, "u", ledger.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(150), energy)

	clock.Advance(2 * time.Hour)
	energy, err = s.Balance(ctx, "u", ledger.ResourceEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(100), energy, "expired entry must not count before purge")

	removed, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Len(t, s.Entries(), 1)

	removed, err = s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInMemoryStore_InviteAwardedTwiceCountsTwice(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()
	invite := ledger.Grant{
		SubjectID:   "inviter",
		Resource:    ledger.ResourcePoints,
		Category:    ledger.CategoryInvite,
		Amount:      100,
		Description: "twitter",
	}

	_, err := s.Award(ctx, invite)
	require.NoError(t, err)
	_, err = s.Award(ctx, invite)
	require.NoError(t, err)

	points, err := s.Balance(ctx, "inviter", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(200), points)

	count, err := s.CountByCategory(ctx, "inviter", ledger.ResourcePoints, ledger.CategoryInvite, "twitter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "callers can detect the duplicate before awarding")

	byCategory, err := s.BalanceByCategory(ctx, "inviter", ledger.ResourcePoints, ledger.CategoryInvite, "twitter")
	require.NoError(t, err)
	assert.Equal(t, int64(200), byCategory)

	other, err := s.BalanceByCategory(ctx, "inviter", ledger.ResourcePoints, ledger.CategoryInvite, "telegram")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestInMemoryStore_AwardOnce(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()
	g := ledger.Grant{SubjectID: "inviter", Resource: ledger.ResourcePoints, Category: ledger.CategoryInvite, Amount: 100, Description: "twitter"}

	_, err := s.AwardOnce(ctx, g, "invitee:42")
	require.NoError(t, err)
	_, err = s.AwardOnce(ctx, g, "invitee:42")
	require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)

	// Same key on the other resource is a different grant.
	g.Resource = ledger.ResourceEnergy
	g.Amount = -10
	_, err = s.AwardOnce(ctx, g, "invitee:42")
	require.NoError(t, err)

	points, err := s.Balance(ctx, "inviter", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(100), points)

	_, err = s.AwardOnce(ctx, g, "")
	require.ErrorIs(t, err, ledger.ErrInvalidGrant)
}

func TestInMemoryStore_Summary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := newFakeClock(now.Add(-48 * time.Hour))
	s := ledger.NewInMemory(ledger.WithClock(clock.Now))

	_, err := s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryBinding, Amount: 50})
	require.NoError(t, err)
	clock.Set(now)
	_, err = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 10})
	require.NoError(t, err)
	_, err = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourceEnergy, Category: ledger.CategoryRegister, Amount: 100})
	require.NoError(t, err)

	sum, err := s.Summary(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ledger.Summary{SubjectID: "u", Points: 60, Energy: 100, DailyPoints: 10}, sum)
}

func TestInMemoryStore_ConcurrentAwards(t *testing.T) {
	ctx := context.Background()
	s := ledger.NewInMemory()

	const writers = 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Award(ctx, ledger.Grant{SubjectID: "u", Resource: ledger.ResourcePoints, Category: ledger.CategoryVote, Amount: 1})
		}()
	}
	wg.Wait()

	points, err := s.Balance(ctx, "u", ledger.ResourcePoints)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), points)
}
