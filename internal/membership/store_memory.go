package membership

import (
	"context"
	"fmt"
	"sync"

	"lamport/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu           sync.RWMutex
	byLamportID  map[string]*Member
	byAddress    map[string]string
	byInviteCode map[string]string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byLamportID:  make(map[string]*Member),
		byAddress:    make(map[string]string),
		byInviteCode: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(_ context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byLamportID[m.LamportID]; ok {
		return fmt.Errorf("lamport id %s: %w", m.LamportID, sentinel.ErrConflict)
	}
	if _, ok := s.byAddress[m.Address]; ok {
		return fmt.Errorf("address %s: %w: %w", m.Address, ErrAddressTaken, sentinel.ErrConflict)
	}
	if _, ok := s.byInviteCode[m.InviteCode]; ok {
		return fmt.Errorf("invite code %s: %w: %w", m.InviteCode, ErrInviteCodeTaken, sentinel.ErrConflict)
	}
	stored := *m
	s.byLamportID[m.LamportID] = &stored
	s.byAddress[m.Address] = m.LamportID
	s.byInviteCode[m.InviteCode] = m.LamportID
	return nil
}

func (s *InMemoryStore) ByLamportID(_ context.Context, lamportID string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(lamportID)
}

func (s *InMemoryStore) ByAddress(_ context.Context, address string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAddress[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.getLocked(id)
}

func (s *InMemoryStore) ByInviteCode(_ context.Context, code string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byInviteCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.getLocked(id)
}

func (s *InMemoryStore) CountInvited(_ context.Context, code string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.byLamportID {
		if code != "" && m.InvitedBy == code {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) getLocked(lamportID string) (*Member, error) {
	m, ok := s.byLamportID[lamportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *m
	return &out, nil
}
