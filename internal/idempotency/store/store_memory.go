package store

import (
	"context"
	"sync"
	"time"

	"covenant/internal/idempotency/models"
	"covenant/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.Record)}
}

func (s *InMemoryStore) Find(_ context.Context, key string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

// Insert stores rec unless a live record holds the key. A record already
// expired at rec.CreatedAt is replaced, as the Postgres upsert does.
func (s *InMemoryStore) Insert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok && !existing.IsExpired(rec.CreatedAt) {
		return sentinel.ErrDuplicate
	}
	s.records[rec.Key] = *rec
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
