package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/storymesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAgentStore_GetSaveList(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryAgentStore()

	_, err := s.Get(ctx, "Alice")
	assert.ErrorIs(t, err, core.ErrNotFound)

	a := core.NewAgent("Alice")
	a.Relations["Bob"] = 3
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, core.NewAgent("Bob")))

	got, err := s.Get(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Relations["Bob"])

	// returned records are copies
	got.Relations["Bob"] = 99
	again, _ := s.Get(ctx, "Alice")
	assert.Equal(t, 3, again.Relations["Bob"])

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, names)

	assert.Error(t, s.Save(ctx, &core.Agent{}))
}

func TestInMemoryAgentStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryAgentStore(core.NewAgent("Alice"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "Alice", func(a *core.Agent) error {
				a.Relations["Bob"]++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "Alice")
	assert.Equal(t, 50, got.Relations["Bob"])

	boom := errors.New("boom")
	err := s.Update(ctx, "Alice", func(a *core.Agent) error {
		a.Role = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ = s.Get(ctx, "Alice")
	assert.Equal(t, core.DefaultAgentRole, got.Role)

	assert.ErrorIs(t, s.Update(ctx, "Nobody", func(*core.Agent) error { return nil }), core.ErrNotFound)
}

func TestInMemoryLocationStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryLocationStore(&core.Location{Name: "Kingdom", Context: []string{"A kingdom."}})

	require.NoError(t, s.Update(ctx, "Tavern", func(l *core.Location) error {
		l.Parent = "Kingdom"
		l.Context = append(l.Context, "A noisy tavern.")
		return nil
	}))

	assert.Equal(t, []string{"A noisy tavern.", "A kingdom."}, core.ResolveLocationContext(ctx, s, "Tavern"))

	_, err := s.Get(ctx, "Nowhere")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
