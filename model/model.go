package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/storymesh/core"
)

// Request captures the normalized prompt handed to a provider.
type Request struct {
	Messages []core.Message
	// MaxTokens overrides the provider's configured completion budget when > 0.
	MaxTokens int64
}

// Info contains metadata about a completer implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Completer is the minimal interface the gateway needs to drive generation.
// Implementations return a *core.GenerationError for every failure
// (transport, status, malformed or empty response).
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Info() Info
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Info implements Completer.
func (f CompleterFunc) Info() Info { return Info{Name: "func", Provider: "func"} }

// MockCompleter is a lightweight in-memory Completer useful for tests & examples.
type MockCompleter struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	calls     []Request
}

// NewMockCompleter constructs a MockCompleter.
func NewMockCompleter(name string) *MockCompleter {
	return &MockCompleter{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for the text of
// the last prompt message.
func (m *MockCompleter) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.NewGenerationError(m.info.Provider, "context done", err)
	}
	if len(req.Messages) == 0 {
		return "", core.NewGenerationError(m.info.Provider, "no messages provided", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Request{Messages: core.CloneMessages(req.Messages), MaxTokens: req.MaxTokens})
	last := req.Messages[len(req.Messages)-1].Text()
	if resp, ok := m.responses[last]; ok {
		return resp, nil
	}
	return fmt.Sprintf("Mock response to: %s", last), nil
}

// Calls returns a copy of every request received so far.
func (m *MockCompleter) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Info implements Completer.
func (m *MockCompleter) Info() Info { return m.info }
