package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/storymesh/core"
)

var (
	_ core.AgentStore    = (*InMemoryAgentStore)(nil)
	_ core.LocationStore = (*InMemoryLocationStore)(nil)
)

// InMemoryAgentStore is a naive process-local AgentStore.
//
// Concurrency: protected by RWMutex. Update runs fn under the write lock so
// concurrent read-modify-write cycles on one agent never interleave.
type InMemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*core.Agent
}

// NewInMemoryAgentStore creates an empty store, optionally seeded.
func NewInMemoryAgentStore(seed ...*core.Agent) *InMemoryAgentStore {
	s := &InMemoryAgentStore{agents: make(map[string]*core.Agent)}
	for _, a := range seed {
		s.agents[a.Name] = a.Clone()
	}
	return s
}

// Get returns a copy of the named agent or core.ErrNotFound.
func (s *InMemoryAgentStore) Get(_ context.Context, name string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", name, core.ErrNotFound)
	}
	return a.Clone(), nil
}

// Save stores a copy of agent, replacing any existing record.
func (s *InMemoryAgentStore) Save(_ context.Context, agent *core.Agent) error {
	if agent == nil || agent.Name == "" {
		return fmt.Errorf("save agent: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.Name] = agent.Clone()
	return nil
}

// List returns agent names in lexical order.
func (s *InMemoryAgentStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.agents))
	for n := range s.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Update applies fn to a copy of the record and stores the result if fn
// succeeds.
func (s *InMemoryAgentStore) Update(_ context.Context, name string, fn func(a *core.Agent) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[name]
	if !ok {
		return fmt.Errorf("agent %q: %w", name, core.ErrNotFound)
	}
	c := a.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.Name = name
	s.agents[name] = c
	return nil
}

// InMemoryLocationStore is a naive process-local LocationStore.
type InMemoryLocationStore struct {
	mu        sync.RWMutex
	locations map[string]*core.Location
}

// NewInMemoryLocationStore creates an empty store, optionally seeded.
func NewInMemoryLocationStore(seed ...*core.Location) *InMemoryLocationStore {
	s := &InMemoryLocationStore{locations: make(map[string]*core.Location)}
	for _, l := range seed {
		s.locations[l.Name] = l.Clone()
	}
	return s
}

// Get returns a copy of the named location or core.ErrNotFound.
func (s *InMemoryLocationStore) Get(_ context.Context, name string) (*core.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[name]
	if !ok {
		return nil, fmt.Errorf("location %q: %w", name, core.ErrNotFound)
	}
	return l.Clone(), nil
}

// Save stores a copy of loc.
func (s *InMemoryLocationStore) Save(_ context.Context, loc *core.Location) error {
	if loc == nil || loc.Name == "" {
		return fmt.Errorf("save location: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.Name] = loc.Clone()
	return nil
}

// Update applies fn to the named location, creating it when missing.
func (s *InMemoryLocationStore) Update(_ context.Context, name string, fn func(l *core.Location) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locations[name]
	if !ok {
		l = &core.Location{Name: name}
	}
	c := l.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.Name = name
	s.locations[name] = c
	return nil
}
