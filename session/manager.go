package session

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/schedule"
)

// Options configures a Manager.
type Options struct {
	Clock  schedule.Clock
	Logger logging.Logger
	// OnEnd receives the snapshot of every session exactly once, after the
	// registry lock is released. It must not block.
	OnEnd func(core.Snapshot)
	// LocationOf resolves an agent's location for snapshots. Empty results
	// fall back to core.DefaultLocation.
	LocationOf func(agent string) string
	// NewID generates opaque session ids.
	NewID func() string
}

// Manager is the registry of active sessions. Lock order is manager before
// session.
type Manager struct {
	opts Options

	mu            sync.RWMutex
	sessions      map[string]*Session
	byParticipant map[string]string
	byAgent       map[string]string
}

// NewManager constructs an empty registry.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Clock:  schedule.RealClock{},
		Logger: logging.NoOpLogger{},
		NewID:  uuid.NewString,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		opts:          opts,
		sessions:      make(map[string]*Session),
		byParticipant: make(map[string]string),
		byAgent:       make(map[string]string),
	}
}

// Create registers a new active session. It fails with core.ErrStateConflict
// when agents is empty or any agent already belongs to an active session.
// Participants already in another session are moved: they leave the old
// session, which ends if it was human-initiated and has no humans left.
func (m *Manager) Create(kind Kind, participants, agents []string) (*Session, error) {
	agents = dedupe(agents)
	participants = dedupe(participants)
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: a session needs at least one agent", core.ErrStateConflict)
	}

	m.mu.Lock()
	for _, a := range agents {
		if id, busy := m.byAgent[a]; busy {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: agent %q is already in session %s", core.ErrStateConflict, a, id)
		}
	}

	var abandoned []*Session
	for _, p := range participants {
		if old := m.detachParticipantLocked(p); old != nil {
			abandoned = append(abandoned, old)
		}
	}

	sess := m.createSessionLocked(kind, participants, agents)
	m.mu.Unlock()

	for _, old := range abandoned {
		m.EndSession(old.ID())
	}
	m.opts.Logger.Debug("session created", "session_id", sess.ID(), "kind", kind.String(), "agents", agents)
	return sess, nil
}

// createSessionLocked allocates and registers a session; caller must already
// hold the write lock.
func (m *Manager) createSessionLocked(kind Kind, participants, agents []string) *Session {
	sess := newSession(m.opts.NewID(), kind, m.opts.Clock, participants, agents)
	m.sessions[sess.id] = sess
	for _, a := range agents {
		m.byAgent[a] = sess.id
	}
	for _, p := range participants {
		m.byParticipant[p] = sess.id
	}
	return sess
}

// detachParticipantLocked removes p from its current session and returns that
// session when it should now be ended.
func (m *Manager) detachParticipantLocked(p string) *Session {
	id, ok := m.byParticipant[p]
	if !ok {
		return nil
	}
	delete(m.byParticipant, p)
	old := m.sessions[id]
	if old == nil {
		return nil
	}
	old.mu.Lock()
	old.removeParticipantLocked(p)
	empty := len(old.participants) == 0
	old.mu.Unlock()
	if empty && old.kind == KindHuman {
		return old
	}
	return nil
}

// Get returns an active session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ByParticipant returns the active session of a human participant.
func (m *Manager) ByParticipant(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sid, ok := m.byParticipant[id]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[sid]
	return s, ok
}

// ByAgent returns the active session an agent belongs to.
func (m *Manager) ByAgent(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sid, ok := m.byAgent[name]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[sid]
	return s, ok
}

// AgentBusy reports whether name belongs to an active session.
func (m *Manager) AgentBusy(name string) bool {
	_, ok := m.ByAgent(name)
	return ok
}

// List returns all active sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// AddAgent adds name to the session and records a join message. It returns
// false when the session is unknown or ended, or when the agent is already
// present here or in another active session.
func (m *Manager) AddAgent(sessionID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if _, busy := m.byAgent[name]; busy {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active || !sess.addAgentLocked(name) {
		return false
	}
	sess.history = append(sess.history, core.System(name+" has joined the conversation."))
	m.byAgent[name] = sessionID
	return true
}

// RemoveAgent removes name and records a leave message. Removing the last
// agent ends the session instead, which ended reports. ok is false when the
// agent is not in the active session.
func (m *Manager) RemoveAgent(sessionID, name string) (ended, ok bool) {
	m.mu.Lock()
	sess, found := m.sessions[sessionID]
	if !found {
		m.mu.Unlock()
		return false, false
	}
	sess.mu.Lock()
	if !sess.active || !slices.Contains(sess.agents, name) {
		sess.mu.Unlock()
		m.mu.Unlock()
		return false, false
	}
	if len(sess.agents) > 1 {
		sess.removeAgentLocked(name)
		sess.history = append(sess.history, core.System(name+" has left the conversation."))
		delete(m.byAgent, name)
		sess.mu.Unlock()
		m.mu.Unlock()
		return false, true
	}
	sess.mu.Unlock()

	snap, first := m.endLocked(sessionID)
	m.mu.Unlock()
	if !first {
		return false, false
	}
	m.finish(snap)
	return true, true
}

// AddParticipant adds a human to the session. It returns false when the
// participant is already present or belongs to another active session.
func (m *Manager) AddParticipant(sessionID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if _, busy := m.byParticipant[id]; busy {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active || !sess.addParticipantLocked(id) {
		return false
	}
	m.byParticipant[id] = sessionID
	return true
}

// RemoveParticipant removes a human. Removing the last human ends a
// human-initiated session; agent-only sessions keep running.
func (m *Manager) RemoveParticipant(sessionID, id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || m.byParticipant[id] != sessionID {
		m.mu.Unlock()
		return false
	}
	ended := m.detachParticipantLocked(id)
	m.mu.Unlock()

	if ended != nil {
		m.EndSession(sess.ID())
	}
	return true
}

// EndSession transitions the session to Ended, unregisters it, cancels its
// continuations and hands its snapshot to OnEnd. Only the first call for a
// session has any effect; it reports whether this call ended the session.
func (m *Manager) EndSession(id string) bool {
	m.mu.Lock()
	snap, first := m.endLocked(id)
	m.mu.Unlock()
	if !first {
		return false
	}
	m.finish(snap)
	return true
}

// endLocked ends and unregisters the session. m.mu must be held.
func (m *Manager) endLocked(id string) (core.Snapshot, bool) {
	sess, ok := m.sessions[id]
	if !ok {
		return core.Snapshot{}, false
	}
	snap, first := sess.end()
	if !first {
		return core.Snapshot{}, false
	}
	delete(m.sessions, id)
	for _, a := range snap.Agents {
		if m.byAgent[a] == id {
			delete(m.byAgent, a)
		}
	}
	for _, p := range snap.Participants {
		if m.byParticipant[p] == id {
			delete(m.byParticipant, p)
		}
	}
	return snap, true
}

func (m *Manager) finish(snap core.Snapshot) {
	snap.Location = m.locationOf(snap.Agents)
	m.opts.Logger.Debug("session ended", "session_id", snap.SessionID, "messages", len(snap.History))
	if m.opts.OnEnd != nil {
		m.opts.OnEnd(snap)
	}
}

func (m *Manager) locationOf(agents []string) string {
	if len(agents) == 0 || m.opts.LocationOf == nil {
		return core.DefaultLocation
	}
	if loc := m.opts.LocationOf(agents[0]); loc != "" {
		return loc
	}
	return core.DefaultLocation
}

// EndAll ends every active session.
func (m *Manager) EndAll() {
	for _, s := range m.List() {
		m.EndSession(s.ID())
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
