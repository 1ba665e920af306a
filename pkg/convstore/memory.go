package convstore

import (
	"context"
	"sync"
)

// memoryMaxHistory bounds the stored turns per device, matching the Redis
// implementation.
const memoryMaxHistory = 20

// Memory is an in-process [Store]. It backs deployments without Redis and
// keeps tests hermetic. Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	byDevice map[string][]Message
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byDevice: make(map[string][]Message)}
}

func (m *Memory) Context(ctx context.Context, deviceID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.byDevice[deviceID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (m *Memory) Add(ctx context.Context, deviceID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.byDevice[deviceID], Message{Role: role, Content: content})
	if len(history) > memoryMaxHistory {
		history = history[len(history)-memoryMaxHistory:]
	}
	m.byDevice[deviceID] = history
	return nil
}

func (m *Memory) Clear(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byDevice, deviceID)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
