package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signlink/internal/contracts/models"
	"signlink/pkg/platform/sentinel"
)

// InMemoryStore emulates the unique index on link_id.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	contracts map[string]*models.SignedContract
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{contracts: make(map[string]*models.SignedContract)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.SignedContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.LinkID]; ok {
		return fmt.Errorf("contract for link %s: %w", c.LinkID, sentinel.ErrConflict)
	}
	s.nextID++
	c.ID = s.nextID
	cp := *c
	s.contracts[c.LinkID] = &cp
	return nil
}

func (s *InMemoryStore) FindByLinkID(_ context.Context, linkID string) (*models.SignedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[linkID]
	if !ok {
		return nil, fmt.Errorf("contract not found: %w", sentinel.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) ExistsForLink(_ context.Context, linkID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contracts[linkID]
	return ok, nil
}

// DeleteForLinks is the cascade target for link deletion.
func (s *InMemoryStore) DeleteForLinks(linkIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range linkIDs {
		delete(s.contracts, id)
	}
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit, offset int) ([]models.Summary, error) {
	all := s.sorted()
	if offset >= len(all) {
		return []models.Summary{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]models.Summary, 0, end-offset)
	for _, c := range all[offset:end] {
		out = append(out, c.Summary())
	}
	return out, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := models.Stats{Total: int64(len(s.contracts)), ByType: map[models.SignatureType]int64{}}
	for _, c := range s.contracts {
		st.ByType[c.SignatureType]++
	}
	return st, nil
}

func (s *InMemoryStore) MonthlySigned(_ context.Context, since time.Time) ([]models.MonthlyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int64{}
	for _, c := range s.contracts {
		if c.SignedAt.Before(since) {
			continue
		}
		counts[c.SignedAt.UTC().Format("2006-01")]++
	}
	out := make([]models.MonthlyCount, 0, len(counts))
	for m, n := range counts {
		out = append(out, models.MonthlyCount{Month: m, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

func (s *InMemoryStore) TopInterpreters(_ context.Context, limit int) ([]models.InterpreterActivity, error) {
	s.mu.RLock()
	byName := map[string]*models.InterpreterActivity{}
	for _, c := range s.contracts {
		a, ok := byName[c.InterpreterName]
		if !ok {
			a = &models.InterpreterActivity{InterpreterName: c.InterpreterName}
			byName[c.InterpreterName] = a
		}
		a.ContractCount++
		if c.SignedAt.After(a.LastSigned) {
			a.LastSigned = c.SignedAt
		}
	}
	s.mu.RUnlock()

	out := make([]models.InterpreterActivity, 0, len(byName))
	for _, a := range byName {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContractCount != out[j].ContractCount {
			return out[i].ContractCount > out[j].ContractCount
		}
		return out[i].InterpreterName < out[j].InterpreterName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) sorted() []*models.SignedContract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SignedContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SignedAt.Equal(out[j].SignedAt) {
			return out[i].SignedAt.After(out[j].SignedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
