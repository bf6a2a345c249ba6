// Package legacy holds links issued before the persistent registry existed.
// It is only read by the migration shim.
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Record is a link as the legacy process kept it.
type Record struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	OTP       string    `json:"otp"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the legacy lookup surface.
type Store interface {
	All(ctx context.Context) ([]Record, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Memory is an explicitly constructed in-process legacy store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemory(records ...Record) *Memory {
	m := &Memory{records: make(map[string]Record, len(records))}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

// LoadFile seeds a Memory store from a JSON snapshot. The snapshot may be an
// array of records or an object keyed by link id. A missing file yields an
// empty store.
func LoadFile(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy snapshot: %w", err)
	}

	var list []Record
	if err := json.Unmarshal(raw, &list); err == nil {
		return NewMemory(list...), nil
	}

	var keyed map[string]Record
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("parse legacy snapshot: %w", err)
	}
	list = make([]Record, 0, len(keyed))
	for id, r := range keyed {
		if r.ID == "" {
			r.ID = id
		}
		list = append(list, r)
	}
	return NewMemory(list...), nil
}

// All returns records ordered by creation time, then id.
func (m *Memory) All(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}
