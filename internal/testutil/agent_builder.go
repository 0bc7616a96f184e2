package testutil

import (
	"github.com/hupe1980/storymesh/core"
)

// AgentBuilder helps construct agent records with fluent chaining for tests.
// Example:
//
//	a := NewAgentBuilder("Alice").Role("Innkeeper").Relation("Bob", 5).Build()
type AgentBuilder struct {
	agent *core.Agent
}

// NewAgentBuilder starts from core.NewAgent(name) with the persona preamble
// "<name> is a test character."
func NewAgentBuilder(name string) *AgentBuilder {
	a := core.NewAgent(name)
	a.Context = name + " is a test character."
	return &AgentBuilder{agent: a}
}

// Role sets the role (chainable).
func (b *AgentBuilder) Role(role string) *AgentBuilder { b.agent.Role = role; return b }

// Context replaces the persona preamble (chainable).
func (b *AgentBuilder) Context(text string) *AgentBuilder { b.agent.Context = text; return b }

// Location sets the location name (chainable).
func (b *AgentBuilder) Location(name string) *AgentBuilder { b.agent.Location = name; return b }

// Relation sets the relation score towards target (chainable).
func (b *AgentBuilder) Relation(target string, score int) *AgentBuilder {
	b.agent.Relations[target] = score
	return b
}

// Categories sets the lore knowledge categories (chainable).
func (b *AgentBuilder) Categories(c ...string) *AgentBuilder {
	b.agent.KnowledgeCategories = append([]string(nil), c...)
	return b
}

// Memory appends memory entries after the preamble (chainable).
func (b *AgentBuilder) Memory(msgs ...core.Message) *AgentBuilder {
	b.agent.Memory = append(b.agent.Memory, msgs...)
	return b
}

// Build returns the record with the preamble as memory[0].
func (b *AgentBuilder) Build() *core.Agent {
	a := b.agent.Clone()
	a.Memory = append([]core.Message{core.System(a.Context)}, a.Memory...)
	return a
}
