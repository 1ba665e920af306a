package playqueue

import (
	"context"
	"sync"
)

// Memory is the in-process Store used in tests and single-node deployments
// without Redis.
type Memory struct {
	mu     sync.Mutex
	states map[string]*State
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]*State)}
}

func (m *Memory) state(deviceID string) *State {
	s, ok := m.states[deviceID]
	if !ok {
		s = NewState()
		m.states[deviceID] = s
	}
	return s
}

func (m *Memory) SetMode(ctx context.Context, deviceID string, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(deviceID).Mode = mode
	return nil
}

func (m *Memory) GetMode(ctx context.Context, deviceID string) (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(deviceID).Mode, nil
}

func (m *Memory) SetQueue(ctx context.Context, deviceID string, ids []int64, startIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(deviceID)
	s.IDs = append([]int64(nil), ids...)
	s.Index = startIndex
	s.clamp()
	return nil
}

func (m *Memory) AddToQueue(ctx context.Context, deviceID string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(deviceID)
	s.IDs = append(s.IDs, ids...)
	return nil
}

func (m *Memory) GetNext(ctx context.Context, deviceID string, wrap bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(deviceID).Next(wrap)
}

func (m *Memory) GetPrevious(ctx context.Context, deviceID string, wrap bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(deviceID).Previous(wrap)
}

func (m *Memory) ClearQueue(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, deviceID)
	return nil
}

func (m *Memory) GetQueue(ctx context.Context, deviceID string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.state(deviceID).IDs...), nil
}

func (m *Memory) Index(ctx context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(deviceID).Index, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
