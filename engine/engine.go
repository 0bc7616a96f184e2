package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/lore"
	"github.com/hupe1980/storymesh/memory"
	"github.com/hupe1980/storymesh/persona"
	"github.com/hupe1980/storymesh/prompt"
	"github.com/hupe1980/storymesh/schedule"
	"github.com/hupe1980/storymesh/selector"
	"github.com/hupe1980/storymesh/session"
	"github.com/hupe1980/storymesh/significance"
)

// Config defines the pacing and feature switches of an Engine.
//
// Delays are measured on the engine's schedule.Clock, so tests can drive them
// with a schedule.ManualClock.
type Config struct {
	// ResponseDelay is the quiet period after a human message before a turn
	// starts. Every new message restarts it.
	ResponseDelay time.Duration

	// ThinkingDelay separates the "thinking" indicator from generation. It is
	// also the back-off for a turn that finds another turn in flight.
	ThinkingDelay time.Duration

	// AmbientStep spaces the speakers of an ambient round.
	AmbientStep time.Duration

	// ProximityCooldown is the per-agent pause between proximity triggers.
	ProximityCooldown time.Duration

	// ChatEnabled turns automatic replies to human messages on.
	ChatEnabled bool

	// AmbientEnabled turns proximity-triggered conversations on.
	AmbientEnabled bool
}

// DefaultConfig mirrors the pacing of the reference world.
var DefaultConfig = Config{
	ResponseDelay:     2 * time.Second,
	ThinkingDelay:     3 * time.Second,
	AmbientStep:       3 * time.Second,
	ProximityCooldown: 30 * time.Second,
	ChatEnabled:       true,
	AmbientEnabled:    true,
}

// Options configures an Engine using the functional options pattern. Every
// collaborator has an in-memory or no-op default so an Engine can be built
// from a Generator alone.
type Options struct {
	Config Config

	// Agents persists agent records. Defaults to an in-memory store.
	Agents core.AgentStore

	// Locations persists location records. Defaults to an in-memory store.
	Locations core.LocationStore

	// Presenter receives every generated line. When it also implements
	// core.StatusReporter it receives indicator changes.
	Presenter core.Presenter

	// Personas generates preambles for agents created on demand.
	Personas *persona.Generator

	// WorldClock supplies the in-world time used in preambles.
	WorldClock core.WorldClock

	// Clock drives every delay. Defaults to schedule.RealClock.
	Clock schedule.Clock

	// Book is the lore book. Ignored when Injector is set.
	Book *lore.Book

	Injector  *lore.Injector
	Pipeline  *significance.Pipeline
	Assembler *prompt.Assembler
	Selector  *selector.Selector

	// Callbacks receives lifecycle notifications.
	Callbacks *CallbackManager

	// Coin decides between a greeting and an ambient exchange on proximity.
	Coin func() bool

	// NewID generates session ids.
	NewID func() string

	Logger logging.Logger
}

// Settings are the runtime switches that can be changed while running.
type Settings struct {
	ChatEnabled    bool `json:"chatEnabled"`
	AmbientEnabled bool `json:"ambientEnabled"`
}

// Engine orchestrates conversations between humans and agents. It owns the
// session registry, paces turns, and dispatches finished sessions to the
// significance pipeline.
//
// Concurrency model:
//   - Session state is guarded by the session itself; the engine never holds
//     its own lock while calling into a session or a collaborator.
//   - Continuations live in the session's schedule.Group and die with it.
//   - Every generation runs under a per-session context that is cancelled
//     when the session ends.
//   - Background work (pipelines, greetings) is tracked and drained by Close.
type Engine struct {
	gen       core.Generator
	opts      Options
	sessions  *session.Manager
	callbacks *CallbackManager
	logger    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu            sync.RWMutex
	settings      Settings
	muted         map[string]bool
	lastProximity map[string]time.Time
	closed        bool
	draining      bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc // session id -> cancels its generations
	ctxs     map[string]context.Context
}

// New creates an Engine that generates through gen.
func New(gen core.Generator, optFns ...func(o *Options)) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("engine: generator is required")
	}

	opts := Options{
		Config:     DefaultConfig,
		Presenter:  core.NoOpPresenter{},
		WorldClock: persona.SystemClock{},
		Clock:      schedule.RealClock{},
		Coin:       func() bool { return rand.IntN(2) == 0 },
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Agents == nil {
		opts.Agents = memory.NewInMemoryAgentStore()
	}
	if opts.Locations == nil {
		opts.Locations = memory.NewInMemoryLocationStore()
	}
	if opts.Personas == nil {
		p, err := persona.NewGenerator(persona.DefaultTraits())
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts.Personas = p
	}
	if opts.Injector == nil {
		book := opts.Book
		if book == nil {
			book = lore.NewBook()
		}
		opts.Injector = lore.NewInjector(book, opts.Agents, func(o *lore.Options) {
			o.Clock = opts.Clock
			o.Logger = opts.Logger
		})
	}
	if opts.Pipeline == nil {
		opts.Pipeline = significance.New(gen, opts.Agents, opts.Locations, func(o *significance.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Assembler == nil {
		opts.Assembler = prompt.New(opts.Locations)
	}
	if opts.Selector == nil {
		opts.Selector = selector.New(gen, func(o *selector.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		gen:       gen,
		opts:      opts,
		callbacks: opts.Callbacks,
		logger:    logging.With(opts.Logger, "component", "engine"),
		ctx:       ctx,
		cancel:    cancel,
		settings: Settings{
			ChatEnabled:    opts.Config.ChatEnabled,
			AmbientEnabled: opts.Config.AmbientEnabled,
		},
		muted:         map[string]bool{},
		lastProximity: map[string]time.Time{},
		active:        map[string]context.CancelFunc{},
		ctxs:          map[string]context.Context{},
	}
	e.sessions = session.NewManager(func(o *session.Options) {
		o.Clock = opts.Clock
		o.Logger = opts.Logger
		o.OnEnd = e.onSessionEnd
		o.LocationOf = e.locationOf
		if opts.NewID != nil {
			o.NewID = opts.NewID
		}
	})
	return e, nil
}

// Sessions returns the summaries of all active sessions.
func (e *Engine) Sessions() []session.Info {
	list := e.sessions.List()
	out := make([]session.Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// Session returns the summary and history of an active session.
func (e *Engine) Session(id string) (session.Info, []core.Message, error) {
	sess, ok := e.sessions.Get(id)
	if !ok {
		return session.Info{}, nil, fmt.Errorf("%w: session %q", core.ErrNotFound, id)
	}
	return sess.Info(), sess.History(), nil
}

// Agents returns the agent store.
func (e *Engine) Agents() core.AgentStore { return e.opts.Agents }

// Settings returns the current runtime switches.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// SetChatEnabled toggles automatic replies to human messages.
func (e *Engine) SetChatEnabled(enabled bool) {
	e.mu.Lock()
	e.settings.ChatEnabled = enabled
	e.mu.Unlock()
	e.logger.Info("chat toggled", "enabled", enabled)
}

// SetAmbientEnabled toggles proximity-triggered conversations.
func (e *Engine) SetAmbientEnabled(enabled bool) {
	e.mu.Lock()
	e.settings.AmbientEnabled = enabled
	e.mu.Unlock()
	e.logger.Info("ambient toggled", "enabled", enabled)
}

// SetMuted excludes or re-admits an agent from turn selection.
func (e *Engine) SetMuted(agent string, muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if muted {
		e.muted[agent] = true
	} else {
		delete(e.muted, agent)
	}
}

// Muted reports whether agent is muted.
func (e *Engine) Muted(agent string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.muted[agent]
}

// EnsureAgent returns the record for name, creating it with a generated
// persona when missing. The persona's time and season are refreshed from the
// world clock.
func (e *Engine) EnsureAgent(ctx context.Context, name string) (*core.Agent, error) {
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	now := e.opts.WorldClock.Now()

	_, err := e.opts.Agents.Get(ctx, name)
	if errors.Is(err, core.ErrNotFound) {
		a := core.NewAgent(name)
		preamble, gerr := e.opts.Personas.Generate(name, a.Role, now)
		if gerr != nil {
			return nil, gerr
		}
		a.Context = preamble
		a.Memory = []core.Message{core.System(preamble)}
		if err := e.opts.Agents.Save(ctx, a); err != nil {
			return nil, fmt.Errorf("save agent %q: %w", name, err)
		}
		e.logger.Info("agent created", "agent", name)
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %q: %w", name, err)
	}

	var out *core.Agent
	err = e.opts.Agents.Update(ctx, name, func(a *core.Agent) error {
		if a.Context == "" {
			preamble, gerr := e.opts.Personas.Generate(name, a.Role, now)
			if gerr != nil {
				return gerr
			}
			a.Context = preamble
		}
		a.Context = persona.Refresh(a.Context, now)
		if len(a.Memory) == 0 {
			a.Memory = []core.Message{core.System(a.Context)}
		} else if p, ok := a.Persona(); ok && p.Role() == core.RoleSystem {
			a.Memory[0] = core.System(persona.Refresh(p.Text(), now))
		}
		out = a.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh agent %q: %w", name, err)
	}
	return out, nil
}

// Close ends every active session, waits for background work such as
// pipelines to drain or ctx to expire, then cancels outstanding generations.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.sessions.EndAll()

	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.cancel()
	return err
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("%w: engine is closed", core.ErrStateConflict)
	}
	return nil
}

// goBackground runs fn on a tracked goroutine. Work submitted after Close has
// started draining is dropped.
func (e *Engine) goBackground(task string, fn func(ctx context.Context)) bool {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.logger.Warn("engine draining, dropping background task", "task", task)
		return false
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		defer logging.Recover(e.logger, "task", task)
		fn(e.ctx)
	}()
	return true
}

// track registers the generation context of a new session.
func (e *Engine) track(id string) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.activeMu.Lock()
	e.active[id] = cancel
	e.ctxs[id] = ctx
	e.activeMu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.activeMu.Lock()
	cancel, ok := e.active[id]
	delete(e.active, id)
	delete(e.ctxs, id)
	e.activeMu.Unlock()
	if ok {
		cancel()
	}
}

// contextFor returns the generation context of a session. Untracked sessions
// fall back to the engine context.
func (e *Engine) contextFor(id string) context.Context {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if ctx, ok := e.ctxs[id]; ok {
		return ctx
	}
	return e.ctx
}

func (e *Engine) locationOf(agent string) string {
	a, err := e.opts.Agents.Get(e.ctx, agent)
	if err != nil {
		return ""
	}
	return a.Location
}

func (e *Engine) present(ctx context.Context, sessionID string, agent *core.Agent, text, target string) {
	u := core.Utterance{
		SessionID: sessionID,
		Speaker:   agent.Name,
		Text:      text,
		Color:     persona.Color(agent.Name),
		Avatar:    agent.Avatar,
		Target:    target,
	}
	if err := e.opts.Presenter.Present(ctx, u); err != nil {
		e.logger.Warn("presenting utterance failed", "session_id", sessionID, "agent", agent.Name, "error", err)
	}
}

func (e *Engine) status(ctx context.Context, sessionID, agent string, st core.Status) {
	r, ok := e.opts.Presenter.(core.StatusReporter)
	if !ok {
		return
	}
	if err := r.Status(ctx, sessionID, agent, st); err != nil {
		e.logger.Debug("status update failed", "session_id", sessionID, "agent", agent, "error", err)
	}
}
