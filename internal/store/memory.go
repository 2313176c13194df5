package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is a process-local Store. Snapshots are deep-copied through JSON
// so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	seals     map[string][]SealRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string][]byte),
		seals:     make(map[string][]SealRecord),
	}
}

func (m *Memory) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.SessionID] = data
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snapshots[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (m *Memory) DeleteSnapshot(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}

func (m *Memory) ListSessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) AppendSeal(_ context.Context, r *SealRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seals[r.SessionID] = append(m.seals[r.SessionID], *r)
	return nil
}

func (m *Memory) ListSeals(_ context.Context, sessionID string) ([]SealRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SealRecord(nil), m.seals[sessionID]...), nil
}

func (m *Memory) Close() error { return nil }
