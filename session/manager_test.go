package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endRecorder struct {
	mu    sync.Mutex
	snaps []core.Snapshot
}

func (r *endRecorder) record(s core.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *endRecorder) all() []core.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Snapshot(nil), r.snaps...)
}

func newTestManager(rec *endRecorder, clock schedule.Clock) *Manager {
	n := 0
	return NewManager(func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
		o.OnEnd = rec.record
		o.NewID = func() string { n++; return fmt.Sprintf("s%d", n) }
		o.LocationOf = func(agent string) string {
			if agent == "Alice" {
				return "Tavern"
			}
			return ""
		}
	})
}

func TestCreate_AgentCannotJoinTwoActiveSessions(t *testing.T) {
	m := newTestManager(&endRecorder{}, nil)

	first, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice", "Bob"})
	require.NoError(t, err)

	_, err = m.Create(KindHuman, []string{"Alex"}, []string{"Carol", "Alice"})
	assert.ErrorIs(t, err, core.ErrStateConflict)

	_, err = m.Create(KindAmbient, nil, []string{"Bob", "Dave"})
	assert.ErrorIs(t, err, core.ErrStateConflict)

	second, err := m.Create(KindHuman, []string{"Alex"}, []string{"Carol"})
	require.NoError(t, err)
	assert.False(t, m.AddAgent(second.ID(), "Alice"))
	assert.True(t, m.AddAgent(second.ID(), "Dave"))

	got, ok := m.ByAgent("Alice")
	require.True(t, ok)
	assert.Equal(t, first.ID(), got.ID())
}

func TestCreate_RequiresAgents(t *testing.T) {
	m := newTestManager(&endRecorder{}, nil)
	_, err := m.Create(KindHuman, []string{"Steve"}, nil)
	assert.ErrorIs(t, err, core.ErrStateConflict)
}

func TestCreate_MovesParticipantAndEndsAbandonedSession(t *testing.T) {
	rec := &endRecorder{}
	m := newTestManager(rec, nil)

	old, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)
	old.Append(core.User("Steve: hi"))

	fresh, err := m.Create(KindHuman, []string{"Steve"}, []string{"Bob"})
	require.NoError(t, err)

	assert.False(t, old.Active())
	got, ok := m.ByParticipant("Steve")
	require.True(t, ok)
	assert.Equal(t, fresh.ID(), got.ID())
	assert.False(t, m.AgentBusy("Alice"))

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, old.ID(), snaps[0].SessionID)
	assert.Equal(t, "Tavern", snaps[0].Location)
}

func TestLookups(t *testing.T) {
	m := newTestManager(&endRecorder{}, nil)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)

	byID, ok := m.Get(s.ID())
	assert.True(t, ok)
	assert.Same(t, s, byID)

	byP, ok := m.ByParticipant("Steve")
	assert.True(t, ok)
	assert.Same(t, s, byP)

	byA, ok := m.ByAgent("Alice")
	assert.True(t, ok)
	assert.Same(t, s, byA)

	_, ok = m.ByAgent("Nobody")
	assert.False(t, ok)
	assert.Len(t, m.List(), 1)
}

func TestAddRemoveAgent(t *testing.T) {
	m := newTestManager(&endRecorder{}, nil)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)

	assert.True(t, m.AddAgent(s.ID(), "Bob"))
	assert.False(t, m.AddAgent(s.ID(), "Bob"))
	ended, ok := m.RemoveAgent(s.ID(), "Bob")
	assert.True(t, ok)
	assert.False(t, ended)
	_, ok = m.RemoveAgent(s.ID(), "Bob")
	assert.False(t, ok)
	assert.False(t, m.AddAgent("missing", "Bob"))

	assert.Equal(t, []core.Message{
		core.System("Bob has joined the conversation."),
		core.System("Bob has left the conversation."),
	}, s.History())
	assert.Equal(t, []string{"Alice"}, s.Agents())

	ended, ok = m.RemoveAgent(s.ID(), "Alice")
	assert.True(t, ok)
	assert.True(t, ended, "removing the last agent ends the session")
	assert.False(t, s.Active())
	assert.Equal(t, []string{"Alice"}, s.Agents())
	_, found := m.ByAgent("Alice")
	assert.False(t, found)
}

func TestRemoveAgent_ConcurrentRemovalsEndSessionOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec := &endRecorder{}
		m := newTestManager(rec, nil)
		s, err := m.Create(KindGroup, nil, []string{"Alice", "Bob"})
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			ended atomic.Int32
		)
		for _, name := range []string{"Alice", "Bob"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if e, ok := m.RemoveAgent(s.ID(), name); ok && e {
					ended.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ended.Load())
		assert.False(t, s.Active())
		require.Len(t, rec.all(), 1)
		assert.Len(t, rec.all()[0].Agents, 1, "the session never runs without an agent")
	}
}

func TestAddRemoveParticipant(t *testing.T) {
	rec := &endRecorder{}
	m := newTestManager(rec, nil)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)

	assert.True(t, m.AddParticipant(s.ID(), "Alex"))
	assert.False(t, m.AddParticipant(s.ID(), "Alex"))
	assert.True(t, m.RemoveParticipant(s.ID(), "Alex"))
	assert.False(t, m.RemoveParticipant(s.ID(), "Alex"))
	assert.True(t, s.Active())

	assert.True(t, m.RemoveParticipant(s.ID(), "Steve"))
	assert.False(t, s.Active())
	assert.Len(t, rec.all(), 1)
}

func TestRemoveLastParticipant_AgentOnlySessionKeepsRunning(t *testing.T) {
	m := newTestManager(&endRecorder{}, nil)
	s, err := m.Create(KindGroup, nil, []string{"Alice", "Bob"})
	require.NoError(t, err)

	assert.True(t, m.AddParticipant(s.ID(), "Steve"))
	assert.True(t, m.RemoveParticipant(s.ID(), "Steve"))
	assert.True(t, s.Active())
}

func TestEndSession_Idempotent(t *testing.T) {
	rec := &endRecorder{}
	m := newTestManager(rec, nil)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Bob"})
	require.NoError(t, err)
	s.Append(core.User("Steve: hello"))

	assert.True(t, m.EndSession(s.ID()))
	historyAfterFirst := s.History()
	assert.False(t, m.EndSession(s.ID()))

	assert.Equal(t, historyAfterFirst, s.History())
	assert.False(t, s.Append(core.User("late")))
	assert.Len(t, s.History(), 1)

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, core.DefaultLocation, snaps[0].Location)
	assert.Equal(t, []string{"Bob"}, snaps[0].Agents)
	assert.Equal(t, []core.Message{core.User("Steve: hello")}, snaps[0].History)

	_, ok := m.Get(s.ID())
	assert.False(t, ok)
	assert.False(t, m.AgentBusy("Bob"))
	assert.False(t, m.AddAgent(s.ID(), "Carol"))
}

func TestEndSession_CancelsContinuations(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	m := newTestManager(&endRecorder{}, clock)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)

	fired := false
	s.Timers().Replace("response", 5*time.Second, func() { fired = true })
	m.EndSession(s.ID())

	clock.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clock.Pending())
}

func TestEndSession_ConcurrentCallsRunHookOnce(t *testing.T) {
	rec := &endRecorder{}
	m := newTestManager(rec, nil)
	s, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EndSession(s.ID())
		}()
	}
	wg.Wait()
	assert.Len(t, rec.all(), 1)
}

func TestEndAll(t *testing.T) {
	rec := &endRecorder{}
	m := newTestManager(rec, nil)
	_, err := m.Create(KindHuman, []string{"Steve"}, []string{"Alice"})
	require.NoError(t, err)
	_, err = m.Create(KindAmbient, nil, []string{"Bob", "Carol"})
	require.NoError(t, err)

	m.EndAll()
	assert.Empty(t, m.List())
	assert.Len(t, rec.all(), 2)
}
