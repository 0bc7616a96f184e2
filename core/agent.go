package core

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Default values applied to agent records created on demand.
const (
	DefaultAgentRole   = "Default role"
	DefaultLocation    = "Village"
	CommonLoreCategory = "common"
)

// Agent is the persisted record of an autonomous conversational persona.
// Memory[0], when present, is always the persona preamble.
type Agent struct {
	Name                string         `json:"name" yaml:"-"`
	Role                string         `json:"role" yaml:"role"`
	Context             string         `json:"context" yaml:"context"`
	Memory              []Message      `json:"-" yaml:"-"`
	Relations           map[string]int `json:"relations" yaml:"relations"`
	Location            string         `json:"location" yaml:"location"`
	Avatar              string         `json:"avatar" yaml:"avatar"`
	KnowledgeCategories []string       `json:"knowledgeCategories,omitempty" yaml:"knowledgeCategories,omitempty"`
}

// NewAgent returns a record with the default role and location.
func NewAgent(name string) *Agent {
	return &Agent{
		Name:      name,
		Role:      DefaultAgentRole,
		Location:  DefaultLocation,
		Relations: map[string]int{},
	}
}

// Clone performs a deep copy so callers can mutate the result freely.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Memory = CloneMessages(a.Memory)
	c.Relations = make(map[string]int, len(a.Relations))
	for k, v := range a.Relations {
		c.Relations[k] = v
	}
	c.KnowledgeCategories = append([]string(nil), a.KnowledgeCategories...)
	return &c
}

// Persona returns the persona preamble (first memory entry) if any.
func (a *Agent) Persona() (Message, bool) {
	if len(a.Memory) == 0 {
		return nil, false
	}
	return a.Memory[0], true
}

// MemoryWindow returns the persona entry followed by the last n memory
// entries. The persona is never duplicated when it already falls inside the
// window.
func (a *Agent) MemoryWindow(n int) []Message {
	if len(a.Memory) == 0 {
		return nil
	}
	start := len(a.Memory) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, 0, len(a.Memory)-start+1)
	if start > 0 {
		out = append(out, a.Memory[0])
	}
	return append(out, a.Memory[start:]...)
}

// Remember appends msgs to long-term memory. An empty memory is first seeded
// with the persona preamble built from Context so that Memory[0] stays the
// preamble.
func (a *Agent) Remember(msgs ...Message) {
	if len(a.Memory) == 0 && a.Context != "" {
		a.Memory = append(a.Memory, System(a.Context))
	}
	a.Memory = append(a.Memory, msgs...)
}

// AddKnowledge appends a line to the persona context and mirrors the change
// into the persona preamble.
func (a *Agent) AddKnowledge(line string) {
	if a.Context == "" {
		a.Context = line
	} else {
		a.Context += "\n" + line
	}
	if len(a.Memory) > 0 {
		a.Memory[0] = System(a.Context)
	}
}

// AdjustRelation adds delta to the relation score towards target and returns
// the new score.
func (a *Agent) AdjustRelation(target string, delta int) int {
	if a.Relations == nil {
		a.Relations = map[string]int{}
	}
	a.Relations[target] += delta
	return a.Relations[target]
}

// Categories returns the lower-cased knowledge categories, always including
// the common category.
func (a *Agent) Categories() map[string]struct{} {
	out := map[string]struct{}{CommonLoreCategory: {}}
	for _, c := range a.KnowledgeCategories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			out[c] = struct{}{}
		}
	}
	return out
}

// RelationSummary renders relations as "{Alice=10, Bob=-5}" with keys sorted so
// the output is deterministic.
func (a *Agent) RelationSummary() string {
	names := make([]string, 0, len(a.Relations))
	for n := range a.Relations {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(a.Relations[n]))
	}
	b.WriteByte('}')
	return b.String()
}

// AgentStore persists agent records. Implementations must be safe for
// concurrent use; Get returns a copy the caller may mutate and hand back to
// Save.
type AgentStore interface {
	Get(ctx context.Context, name string) (*Agent, error)
	Save(ctx context.Context, agent *Agent) error
	List(ctx context.Context) ([]string, error)
	// Update applies fn to the stored record under the store's lock and saves
	// the result. Missing records are reported with ErrNotFound.
	Update(ctx context.Context, name string, fn func(a *Agent) error) error
}
