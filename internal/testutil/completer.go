package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/model"
)

// ErrNoScript is returned when no rule matches a prompt and no fallback is
// set.
var ErrNoScript = errors.New("testutil: no scripted answer")

type rule struct {
	contains string
	reply    string
	err      error
}

// ScriptedCompleter answers prompts from rules matched against the
// transcript of the prompt. The first matching rule wins. It implements both
// core.Generator and model.Completer and records every prompt.
type ScriptedCompleter struct {
	mu       sync.Mutex
	rules    []rule
	fallback *rule
	prompts  [][]core.Message
}

var (
	_ core.Generator  = (*ScriptedCompleter)(nil)
	_ model.Completer = (*ScriptedCompleter)(nil)
)

// NewScriptedCompleter creates an empty script.
func NewScriptedCompleter() *ScriptedCompleter { return &ScriptedCompleter{} }

// On answers reply to prompts whose transcript contains substr (chainable).
func (s *ScriptedCompleter) On(substr, reply string) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{contains: substr, reply: reply})
	return s
}

// Fail answers err to prompts whose transcript contains substr (chainable).
func (s *ScriptedCompleter) Fail(substr string, err error) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{contains: substr, err: err})
	return s
}

// Otherwise sets the answer for prompts no rule matches (chainable).
func (s *ScriptedCompleter) Otherwise(reply string) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &rule{reply: reply}
	return s
}

// Submit implements core.Generator.
func (s *ScriptedCompleter) Submit(ctx context.Context, prompt []core.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := core.Transcript(prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, core.CloneMessages(prompt))
	for _, r := range s.rules {
		if strings.Contains(text, r.contains) {
			return r.reply, r.err
		}
	}
	if s.fallback != nil {
		return s.fallback.reply, nil
	}
	return "", ErrNoScript
}

// Complete implements model.Completer.
func (s *ScriptedCompleter) Complete(ctx context.Context, req model.Request) (string, error) {
	return s.Submit(ctx, req.Messages)
}

// Info implements model.Completer.
func (s *ScriptedCompleter) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "mock"}
}

// Prompts returns copies of every prompt received.
func (s *ScriptedCompleter) Prompts() [][]core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]core.Message, len(s.prompts))
	for i, p := range s.prompts {
		out[i] = core.CloneMessages(p)
	}
	return out
}

// PromptsContaining returns the prompts whose transcript contains substr.
func (s *ScriptedCompleter) PromptsContaining(substr string) [][]core.Message {
	var out [][]core.Message
	for _, p := range s.Prompts() {
		if strings.Contains(core.Transcript(p), substr) {
			out = append(out, p)
		}
	}
	return out
}
