package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"signlink/internal/audit"
)

type row struct {
	id        int64
	linkID    string
	action    audit.Action
	details   *string
	ip        string
	userAgent string
	createdAt time.Time
}

// InMemoryStore keeps raw rows so reads go through the same parse path as Postgres.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []row
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(entry, entry.Details.Stored())
	return nil
}

// AppendRaw stores details text exactly as given, bypassing canonicalization.
// It reproduces rows written by older writers.
func (s *InMemoryStore) AppendRaw(_ context.Context, entry *audit.Entry, raw *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(entry, raw)
	return nil
}

func (s *InMemoryStore) insert(entry *audit.Entry, raw *string) {
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var copied *string
	if raw != nil {
		v := *raw
		copied = &v
	}
	s.rows = append(s.rows, row{
		id:        entry.ID,
		linkID:    entry.LinkID,
		action:    entry.Action,
		details:   copied,
		ip:        entry.IPAddress,
		userAgent: entry.UserAgent,
		createdAt: entry.CreatedAt,
	})
}

func (s *InMemoryStore) List(_ context.Context, limit, offset int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]row, len(s.rows))
	copy(sorted, s.rows)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].createdAt.Equal(sorted[j].createdAt) {
			return sorted[i].createdAt.After(sorted[j].createdAt)
		}
		return sorted[i].id > sorted[j].id
	})

	if offset >= len(sorted) {
		return []audit.Entry{}, nil
	}
	end := len(sorted)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]audit.Entry, 0, end-offset)
	for _, r := range sorted[offset:end] {
		out = append(out, toEntry(r))
	}
	return out, nil
}

func (s *InMemoryStore) Stats(_ context.Context, now time.Time) (audit.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := audit.StartOfDay(now)
	weekStart := now.Add(-7 * 24 * time.Hour)
	actions := map[audit.Action]struct{}{}
	links := map[string]struct{}{}
	stats := audit.Stats{Total: int64(len(s.rows))}
	for _, r := range s.rows {
		if !r.createdAt.Before(dayStart) {
			stats.Today++
		}
		if !r.createdAt.Before(weekStart) {
			stats.ThisWeek++
		}
		actions[r.action] = struct{}{}
		if r.linkID != "" {
			links[r.linkID] = struct{}{}
		}
	}
	stats.UniqueActions = int64(len(actions))
	stats.UniqueLinks = int64(len(links))
	return stats, nil
}

func (s *InMemoryStore) DailyActivity(_ context.Context, since time.Time) ([]audit.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int64{}
	for _, r := range s.rows {
		if r.createdAt.Before(since) {
			continue
		}
		counts[r.createdAt.UTC().Format(time.DateOnly)]++
	}
	out := make([]audit.DailyCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, audit.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *InMemoryStore) CountOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.rows {
		if r.createdAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(r row) bool { return r.createdAt.Before(cutoff) }), nil
}

func (s *InMemoryStore) DeleteCorrupted(_ context.Context) (int64, error) {
	return s.deleteWhere(func(r row) bool {
		return audit.ParseDetails(r.details).Corrupted()
	}), nil
}

func (s *InMemoryStore) RepairCorrupted(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.rows {
		if audit.ParseDetails(s.rows[i].details).Malformed() {
			s.rows[i].details = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) deleteWhere(match func(row) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n
}

// ActionsFor lists the actions recorded for linkID in insertion order.
func (s *InMemoryStore) ActionsFor(linkID string) []audit.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Action
	for _, r := range s.rows {
		if r.linkID == linkID {
			out = append(out, r.action)
		}
	}
	return out
}

func toEntry(r row) audit.Entry {
	return audit.Entry{
		ID:        r.id,
		LinkID:    r.linkID,
		Action:    r.action,
		Details:   audit.ParseDetails(r.details),
		IPAddress: r.ip,
		UserAgent: r.userAgent,
		CreatedAt: r.createdAt,
	}
}
