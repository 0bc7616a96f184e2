package lore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/schedule"
)

// DefaultCooldown suppresses re-injection of an entry within one session.
const DefaultCooldown = 60 * time.Second

// Target is the session surface the injector needs. *session.Session
// satisfies it.
type Target interface {
	ID() string
	History() []core.Message
	Agents() []string
	// MarkScanned reports false for text that was scanned before.
	MarkScanned(text string) bool
	Append(msgs ...core.Message) bool
}

// Options configures an Injector.
type Options struct {
	Cooldown time.Duration
	Clock    schedule.Clock
	Logger   logging.Logger
}

// Injector appends matching lore contexts to sessions.
type Injector struct {
	book   *Book
	agents core.AgentStore
	opts   Options

	mu     sync.Mutex
	recent map[string]map[string]time.Time // session id -> lore name -> suppressed until
}

// NewInjector creates an Injector over book. agents resolves knowledge
// categories; when nil every agent only knows the common category.
func NewInjector(book *Book, agents core.AgentStore, optFns ...func(o *Options)) *Injector {
	opts := Options{
		Cooldown: DefaultCooldown,
		Clock:    schedule.RealClock{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Injector{book: book, agents: agents, opts: opts, recent: map[string]map[string]time.Time{}}
}

// Inject scans the unscanned messages of t and appends the context of every
// newly matched entry. It returns the injected entries.
func (i *Injector) Inject(ctx context.Context, t Target) []core.LoreEntry {
	entries := i.book.Entries()
	if len(entries) == 0 {
		return nil
	}

	var texts []string
	for _, m := range t.History() {
		if m.Role() == core.RoleSystem {
			continue
		}
		if t.MarkScanned(m.Text()) {
			texts = append(texts, StripSpeaker(m.Text()))
		}
	}
	if len(texts) == 0 {
		return nil
	}

	known := i.categories(ctx, t.Agents())
	var injected []core.LoreEntry
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, e := range entries {
			if !accessible(e, known) || !matches(lower, e.Keywords) {
				continue
			}
			if !i.claim(t.ID(), e.Name) {
				continue
			}
			if !t.Append(core.System(e.Context)) {
				return injected
			}
			i.opts.Logger.Info("lore context injected", "session_id", t.ID(), "lore", e.Name)
			injected = append(injected, e)
		}
	}
	return injected
}

// Forget drops the cooldown state of a session.
func (i *Injector) Forget(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.recent, sessionID)
}

// claim starts the cooldown for name in session unless it is still running.
func (i *Injector) claim(sessionID, name string) bool {
	now := i.opts.Clock.Now()
	key := strings.ToLower(name)

	i.mu.Lock()
	defer i.mu.Unlock()
	m, ok := i.recent[sessionID]
	if !ok {
		m = map[string]time.Time{}
		i.recent[sessionID] = m
	}
	if until, ok := m[key]; ok && now.Before(until) {
		return false
	}
	m[key] = now.Add(i.opts.Cooldown)
	return true
}

func (i *Injector) categories(ctx context.Context, agents []string) map[string]struct{} {
	known := map[string]struct{}{core.CommonLoreCategory: {}}
	if i.agents == nil {
		return known
	}
	for _, name := range agents {
		a, err := i.agents.Get(ctx, name)
		if err != nil {
			continue
		}
		for c := range a.Categories() {
			known[c] = struct{}{}
		}
	}
	return known
}

func accessible(e core.LoreEntry, known map[string]struct{}) bool {
	for _, c := range e.Categories {
		if _, ok := known[c]; ok {
			return true
		}
	}
	return false
}

func matches(lower string, keywords []string) bool {
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// StripSpeaker removes a leading "Speaker:" label.
func StripSpeaker(text string) string {
	if i := strings.Index(text, ":"); i > 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return text
}
