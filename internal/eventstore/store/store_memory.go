package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"covenant/internal/eventstore/models"
	"covenant/pkg/platform/sentinel"
)

// InMemoryStore is an append-only event log for tests and single-process use.
// It enforces the same unique (aggregate, version) rule as the Postgres schema.
type InMemoryStore struct {
	mu      sync.RWMutex
	streams map[models.AggregateKey][]*models.DomainEvent
	byID    map[string]*models.DomainEvent
	order   []*models.DomainEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[models.AggregateKey][]*models.DomainEvent),
		byID:    make(map[string]*models.DomainEvent),
	}
}

func (s *InMemoryStore) Latest(_ context.Context, aggregateType, aggregateID string) (*models.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[models.AggregateKey{AggregateType: aggregateType, AggregateID: aggregateID}]
	if len(stream) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return clone(stream[len(stream)-1]), nil
}

func (s *InMemoryStore) Insert(_ context.Context, e *models.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.ID]; exists {
		return fmt.Errorf("event %s: %w", e.ID, sentinel.ErrDuplicate)
	}
	key := models.AggregateKey{AggregateType: e.AggregateType, AggregateID: e.AggregateID}
	for _, existing := range s.streams[key] {
		if existing.AggregateVersion == e.AggregateVersion {
			return fmt.Errorf("version %d: %w", e.AggregateVersion, sentinel.ErrDuplicate)
		}
	}
	stored := clone(e)
	s.streams[key] = append(s.streams[key], stored)
	sort.Slice(s.streams[key], func(i, j int) bool {
		return s.streams[key][i].AggregateVersion < s.streams[key][j].AggregateVersion
	})
	s.byID[e.ID] = stored
	s.order = append(s.order, stored)
	return nil
}

func (s *InMemoryStore) Stream(_ context.Context, aggregateType, aggregateID string, fromVersion int64) ([]*models.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DomainEvent
	for _, e := range s.streams[models.AggregateKey{AggregateType: aggregateType, AggregateID: aggregateID}] {
		if e.AggregateVersion >= fromVersion {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) Query(_ context.Context, f models.Filter) ([]*models.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.DomainEvent
	for _, e := range s.order {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].AggregateVersion < matched[j].AggregateVersion
		}
		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})
	limit := f.EffectiveLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*models.DomainEvent, 0, len(matched))
	for _, e := range matched {
		out = append(out, clone(e))
	}
	return out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, eventID string) (*models.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(e), nil
}

func (s *InMemoryStore) ListAggregates(_ context.Context) ([]models.AggregateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]models.AggregateKey, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AggregateType == keys[j].AggregateType {
			return keys[i].AggregateID < keys[j].AggregateID
		}
		return keys[i].AggregateType < keys[j].AggregateType
	})
	return keys, nil
}

func (s *InMemoryStore) FindOrphanCausations(_ context.Context) ([]models.OrphanCausation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orphans []models.OrphanCausation
	for _, e := range s.order {
		if e.CausationID == "" {
			continue
		}
		if _, ok := s.byID[e.CausationID]; !ok {
			orphans = append(orphans, models.OrphanCausation{EventID: e.ID, CausationID: e.CausationID})
		}
	}
	return orphans, nil
}

func clone(e *models.DomainEvent) *models.DomainEvent {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	return &c
}
