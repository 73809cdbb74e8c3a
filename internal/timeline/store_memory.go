package timeline

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"lamport/pkg/platform/sentinel"
)

// InMemoryStore keeps records in insertion order.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[uuid.UUID]*Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{byID: make(map[uuid.UUID]*Record)}
}

func (s *InMemoryStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.EventID]; ok {
		return fmt.Errorf("timeline event %s: %w", r.EventID, sentinel.ErrConflict)
	}
	cp := *r
	s.records = append(s.records, &cp)
	s.byID[cp.EventID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, eventID uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[eventID]
	if !ok {
		return nil, fmt.Errorf("timeline event %s: %w", eventID, sentinel.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string, page Page) ([]*Record, error) {
	return s.filter(page, func(r *Record) bool { return r.SubjectID == subjectID }), nil
}

func (s *InMemoryStore) ListByTypes(_ context.Context, types []EventType, page Page) ([]*Record, error) {
	return s.filter(page, func(r *Record) bool { return slices.Contains(types, r.EventType) }), nil
}

func (s *InMemoryStore) CountBySubject(_ context.Context, subjectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if r.SubjectID == subjectID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) filter(page Page, match func(*Record) bool) []*Record {
	page = page.normalized()
	s.mu.RLock()
	var matched []*Record
	for _, r := range s.records {
		if match(r) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if page.Offset >= len(matched) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	return matched[page.Offset:end]
}
