package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"covenant/internal/dispute/models"
	"covenant/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*models.Dispute
	outcomes map[string]*models.FinancialOutcome
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		disputes: make(map[string]*models.Dispute),
		outcomes: make(map[string]*models.FinancialOutcome),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.ID]; ok {
		return sentinel.ErrDuplicate
	}
	if d.Status == models.StatusOpen {
		for _, existing := range s.disputes {
			if existing.Status == models.StatusOpen &&
				existing.ContractID == d.ContractID &&
				existing.ClaimantID == d.ClaimantID {
				return sentinel.ErrDuplicate
			}
		}
	}
	s.disputes[d.ID] = d.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *InMemoryStore) AddEvidence(_ context.Context, disputeID string, evidence []models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[disputeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Evidence = append(d.Evidence, evidence...)
	return nil
}

// Update replaces the dispute's mutable fields when its stored version
// equals expectedVersion.
func (s *InMemoryStore) Update(_ context.Context, d *models.Dispute, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.disputes[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next := d.Clone()
	next.Evidence = existing.Evidence
	s.disputes[d.ID] = next
	return nil
}

func (s *InMemoryStore) InsertOutcome(_ context.Context, o *models.FinancialOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outcomes[o.DisputeID]; ok {
		return sentinel.ErrDuplicate
	}
	c := *o
	s.outcomes[o.DisputeID] = &c
	return nil
}

func (s *InMemoryStore) FindOutcome(_ context.Context, disputeID string) (*models.FinancialOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[disputeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time) ([]*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Dispute
	for _, d := range s.disputes {
		if d.Status == models.StatusOpen && d.Deadline.Before(now) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, q models.ListQuery) ([]*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Dispute
	for _, d := range s.disputes {
		if q.Status != "" && d.Status != q.Status {
			continue
		}
		if q.ContractID != "" && d.ContractID != q.ContractID {
			continue
		}
		if q.Visibility != nil && !visible(d, q.Visibility) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func visible(d *models.Dispute, v *models.Visibility) bool {
	if d.ClaimantID == v.UserID {
		return true
	}
	for _, id := range v.ContractIDs {
		if id == d.ContractID {
			return true
		}
	}
	return false
}

// InMemoryDirectory is a ContractDirectory backed by a map.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	contracts map[string]models.ContractParties
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{contracts: make(map[string]models.ContractParties)}
}

func (d *InMemoryDirectory) Put(p models.ContractParties) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contracts[p.ContractID] = p
}

func (d *InMemoryDirectory) GetParties(_ context.Context, contractID string) (*models.ContractParties, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.contracts[contractID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (d *InMemoryDirectory) ContractsForParty(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for id, p := range d.contracts {
		if p.IsParty(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
