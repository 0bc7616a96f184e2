package session

import (
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/schedule"
)

// Kind distinguishes how a session was started.
type Kind int

const (
	// KindHuman sessions are started by a human and end when the last human leaves.
	KindHuman Kind = iota
	// KindGroup sessions are agent-only sessions started by a trigger.
	KindGroup
	// KindAmbient sessions are radiant agent-only exchanges that end after one round.
	KindAmbient
)

func (k Kind) String() string {
	switch k {
	case KindHuman:
		return "human"
	case KindGroup:
		return "group"
	case KindAmbient:
		return "ambient"
	default:
		return "unknown"
	}
}

// Info is a read-only summary of a session.
type Info struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Active       bool      `json:"active"`
	Agents       []string  `json:"agents"`
	Participants []string  `json:"participants"`
	Messages     int       `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is one bounded multi-party conversation. All methods are safe for
// concurrent use; mutations after End are refused.
type Session struct {
	id        string
	kind      Kind
	createdAt time.Time
	timers    *schedule.Group

	mu           sync.Mutex
	active       bool
	history      []core.Message
	participants []string
	agents       []string
	token        uint64
	inFlight     bool
	scanned      map[string]struct{}
}

func newSession(id string, kind Kind, clock schedule.Clock, participants, agents []string) *Session {
	return &Session{
		id:           id,
		kind:         kind,
		createdAt:    clock.Now(),
		timers:       schedule.NewGroup(clock),
		active:       true,
		participants: append([]string(nil), participants...),
		agents:       append([]string(nil), agents...),
		scanned:      map[string]struct{}{},
	}
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.id }

// Kind returns how the session was started.
func (s *Session) Kind() Kind { return s.kind }

// Timers returns the session-owned continuation group. Ending the session
// closes it.
func (s *Session) Timers() *schedule.Group { return s.timers }

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Append adds messages in order. It reports false when the session has ended.
func (s *Session) Append(msgs ...core.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.history = append(s.history, msgs...)
	return true
}

// History returns a copy of the full history.
func (s *Session) History() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.CloneMessages(s.history)
}

// Recent returns a copy of the last n messages.
func (s *Session) Recent(n int) []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	return core.CloneMessages(s.history[start:])
}

// Agents returns the agent names in join order.
func (s *Session) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agents...)
}

// Participants returns the human participant ids in join order.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants...)
}

// HasAgent reports agent membership.
func (s *Session) HasAgent(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.agents, name)
}

// HasParticipant reports participant membership.
func (s *Session) HasParticipant(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.participants, id)
}

// Token returns the current generation token.
func (s *Session) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// BumpToken invalidates every turn captured under an older token and returns
// the new token.
func (s *Session) BumpToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	return s.token
}

// TryBeginTurn marks a turn in flight. It fails when the session ended, the
// token is stale or another turn is already in flight.
func (s *Session) TryBeginTurn(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.inFlight || token != s.token {
		return false
	}
	s.inFlight = true
	return true
}

// EndTurn clears the in-flight mark.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

// InFlight reports whether a turn is being generated.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Commit appends msgs only if the session is active and token is current.
// A false result means the completion is stale and was discarded.
func (s *Session) Commit(token uint64, msgs ...core.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || token != s.token {
		return false
	}
	s.history = append(s.history, msgs...)
	return true
}

// MarkScanned records text as scanned for lore keywords. It reports false when
// identical text was scanned before.
func (s *Session) MarkScanned(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scanned[text]; ok {
		return false
	}
	s.scanned[text] = struct{}{}
	return true
}

// Info returns a summary.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		Kind:         s.kind.String(),
		Active:       s.active,
		Agents:       append([]string{}, s.agents...),
		Participants: append([]string{}, s.participants...),
		Messages:     len(s.history),
		CreatedAt:    s.createdAt,
	}
}

// end transitions Active -> Ended once and captures the snapshot. Location is
// filled in by the manager.
func (s *Session) end() (core.Snapshot, bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return core.Snapshot{}, false
	}
	s.active = false
	s.token++
	snap := core.Snapshot{
		SessionID:    s.id,
		History:      core.CloneMessages(s.history),
		Agents:       append([]string(nil), s.agents...),
		Participants: append([]string(nil), s.participants...),
	}
	s.mu.Unlock()

	s.timers.Close()
	return snap, true
}

func (s *Session) addAgentLocked(name string) bool {
	if slices.Contains(s.agents, name) {
		return false
	}
	s.agents = append(s.agents, name)
	return true
}

func (s *Session) removeAgentLocked(name string) bool {
	var ok bool
	s.agents, ok = remove(s.agents, name)
	return ok
}

func (s *Session) addParticipantLocked(id string) bool {
	if slices.Contains(s.participants, id) {
		return false
	}
	s.participants = append(s.participants, id)
	return true
}

func (s *Session) removeParticipantLocked(id string) bool {
	var ok bool
	s.participants, ok = remove(s.participants, id)
	return ok
}

func remove(list []string, v string) ([]string, bool) {
	i := slices.Index(list, v)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}
