package store

import (
	"context"
	"sync"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

// Memory is an in-process Store used when no database is configured and by
// tests. Flows are registered at startup; summaries accumulate for the life
// of the process.
type Memory struct {
	mu        sync.RWMutex
	flows     map[string]*flow.Flow
	summaries []*Summary
}

func NewMemory() *Memory {
	return &Memory{flows: make(map[string]*flow.Flow)}
}

// RegisterFlow validates and publishes a flow under its id.
func (m *Memory) RegisterFlow(id string, f *flow.Flow) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.flows[id] = f
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublishedFlow(_ context.Context, flowID string) (*flow.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (m *Memory) SaveSummary(_ context.Context, s *Summary) error {
	m.mu.Lock()
	m.summaries = append(m.summaries, s)
	m.mu.Unlock()
	return nil
}

// Summaries returns a snapshot of everything saved so far.
func (m *Memory) Summaries() []*Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Summary(nil), m.summaries...)
}
