package ledger

import (
	"context"
	"fmt"
	"sync"

	"lamport/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in process. It is used by tests and by the
// single-node development profile.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
	opts    options
}

func NewInMemory(opts ...Option) *InMemoryStore {
	return &InMemoryStore{opts: buildOptions(opts)}
}

func (s *InMemoryStore) Award(_ context.Context, g Grant) (*Entry, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.appendLocked(g.entryAt(s.opts.now().UTC(), ""))
	return &e, nil
}

func (s *InMemoryStore) AwardOnce(_ context.Context, g Grant, onceKey string) (*Entry, error) {
	if onceKey == "" {
		return nil, fmt.Errorf("%w: once key is required", ErrInvalidGrant)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.SubjectID == g.SubjectID && e.Resource == g.Resource && e.OnceKey == onceKey {
			return nil, fmt.Errorf("award once %s: %w", onceKey, sentinel.ErrAlreadyUsed)
		}
	}
	e := s.appendLocked(g.entryAt(s.opts.now().UTC(), onceKey))
	return &e, nil
}

func (s *InMemoryStore) appendLocked(e Entry) Entry {
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return e
}

// sum adds the amounts of live entries accepted by match.
func (s *InMemoryStore) sum(match func(Entry) bool) int64 {
	now := s.opts.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.entries {
		if e.IsExpiredAt(now) || !match(e) {
			continue
		}
		total += int64(e.Amount)
	}
	return total
}

func (s *InMemoryStore) Balance(_ context.Context, subjectID string, resource Resource) (int64, error) {
	return s.sum(func(e Entry) bool {
		return e.SubjectID == subjectID && e.Resource == resource
	}), nil
}

func (s *InMemoryStore) DailyBalance(_ context.Context, subjectID string, resource Resource) (int64, error) {
	since := StartOfDayUTC(s.opts.now())
	return s.sum(func(e Entry) bool {
		return e.SubjectID == subjectID && e.Resource == resource && !e.CreatedAt.Before(since)
	}), nil
}

func (s *InMemoryStore) BalanceByCategory(_ context.Context, subjectID string, resource Resource, category Category, description string) (int64, error) {
	return s.sum(func(e Entry) bool {
		return e.SubjectID == subjectID && e.Resource == resource &&
			e.Category == category && e.Description == description
	}), nil
}

func (s *InMemoryStore) CountByCategory(_ context.Context, subjectID string, resource Resource, category Category, description string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, e := range s.entries {
		if e.SubjectID == subjectID && e.Resource == resource &&
			e.Category == category && e.Description == description {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Summary(ctx context.Context, subjectID string) (Summary, error) {
	points, _ := s.Balance(ctx, subjectID, ResourcePoints)
	energy, _ := s.Balance(ctx, subjectID, ResourceEnergy)
	daily, _ := s.DailyBalance(ctx, subjectID, ResourcePoints)
	return Summary{SubjectID: subjectID, Points: points, Energy: energy, DailyPoints: daily}, nil
}

func (s *InMemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.IsExpiredAt(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// LockSubject is a no-op: a memory store lives in one process, where callers
// serialize their own balance-checked writes.
func (s *InMemoryStore) LockSubject(context.Context, string) error {
	return nil
}

// Entries returns a copy of every stored entry in insertion order.
func (s *InMemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
