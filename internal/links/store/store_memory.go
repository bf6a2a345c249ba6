package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signlink/internal/links/models"
	"signlink/pkg/platform/sentinel"
)

// Error Contract:
// - Create returns ErrConflict when the id is already taken
// - lookups and MarkUsed return ErrNotFound for unknown ids

// DeleteHook is called with the ids removed by DeleteExpired, under the store
// lock. The in-memory contract store uses it to emulate ON DELETE CASCADE.
type DeleteHook func(ids []string)

// InMemoryStore stores links in memory for tests/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	links    map[string]*models.SecureLink
	onDelete DeleteHook
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{links: make(map[string]*models.SecureLink)}
}

// OnDelete registers the cascade hook.
func (s *InMemoryStore) OnDelete(hook DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = hook
}

func (s *InMemoryStore) Create(_ context.Context, link *models.SecureLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.ID]; ok {
		return fmt.Errorf("secure link %s: %w", link.ID, sentinel.ErrConflict)
	}
	cp := *link
	s.links[link.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.SecureLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	if !ok {
		return nil, fmt.Errorf("secure link not found: %w", sentinel.ErrNotFound)
	}
	cp := *link
	return &cp, nil
}

func (s *InMemoryStore) MarkUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return fmt.Errorf("secure link not found: %w", sentinel.ErrNotFound)
	}
	link.MarkUsed(at)
	return nil
}

func (s *InMemoryStore) CountExpired(_ context.Context, now, createdBefore time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, link := range s.links {
		if link.PurgeCandidate(now, createdBefore) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, link := range s.links {
		if link.PurgeCandidate(now, createdBefore) {
			ids = append(ids, id)
			delete(s.links, id)
		}
	}
	if len(ids) > 0 && s.onDelete != nil {
		s.onDelete(ids)
	}
	return int64(len(ids)), nil
}

func (s *InMemoryStore) Stats(_ context.Context, now time.Time) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dayStart := now.UTC().Truncate(24 * time.Hour)
	st := models.Stats{Total: int64(len(s.links))}
	for _, link := range s.links {
		switch link.Status(now) {
		case "used":
			st.Used++
		case "expired":
			st.Expired++
		default:
			st.Active++
		}
		if !link.CreatedAt.Before(dayStart) {
			st.Today++
		}
	}
	return st, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit, offset int) ([]*models.SecureLink, error) {
	all := s.sorted(func(*models.SecureLink) bool { return true })
	return page(all, limit, offset), nil
}

func (s *InMemoryStore) ListUnused(_ context.Context, afterID string, limit int) ([]*models.SecureLink, error) {
	all := s.sorted(func(l *models.SecureLink) bool { return !l.Used && l.ID > afterID })
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, 0), nil
}

func (s *InMemoryStore) sorted(keep func(*models.SecureLink) bool) []*models.SecureLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SecureLink, 0, len(s.links))
	for _, link := range s.links {
		if keep(link) {
			cp := *link
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func page(all []*models.SecureLink, limit, offset int) []*models.SecureLink {
	if offset >= len(all) {
		return []*models.SecureLink{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
