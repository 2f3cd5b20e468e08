package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"covenant/internal/adminaudit/models"
	"covenant/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []models.Entry
	seq     int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func less(a, b models.Entry) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.Sequence < b.Sequence
	}
	return a.Timestamp.Before(b.Timestamp)
}

// Latest is the most recently inserted entry; the chain follows insert order.
func (s *InMemoryStore) Latest(_ context.Context) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	latest := s.entries[len(s.entries)-1]
	return &latest, nil
}

func (s *InMemoryStore) Insert(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == entry.ID {
			return sentinel.ErrDuplicate
		}
	}
	s.seq++
	entry.Sequence = s.seq
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *InMemoryStore) CountSince(_ context.Context, adminID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.AdminID == adminID && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListChain(_ context.Context) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Entry(nil), s.entries...), nil
}

func (s *InMemoryStore) List(_ context.Context, f models.ReportFilter) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Entry
	for _, e := range s.entries {
		if f.AdminID != "" && e.AdminID != f.AdminID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[j], out[i]) })
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Tamper overwrites a stored entry in place. Tests use it to simulate an
// out-of-band edit of the table.
func (s *InMemoryStore) Tamper(id string, fn func(*models.Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			fn(&s.entries[i])
		}
	}
}
