package selector

import (
	"context"
	"strings"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
)

// HistoryWindow is the number of recent history entries included in the
// selection prompt.
const HistoryWindow = 10

// Options configures a Selector.
type Options struct {
	HistoryWindow int
	Logger        logging.Logger
}

// Result is the outcome of one selection.
type Result struct {
	// Agent is the chosen speaker; empty when nobody is eligible.
	Agent string
	// Fallback is set when the model answer was unusable and the first
	// eligible agent was chosen instead.
	Fallback bool
	// Asked reports whether the generator was consulted.
	Asked bool
}

// OK reports whether a speaker was chosen.
func (r Result) OK() bool { return r.Agent != "" }

// Selector picks the next speaker.
type Selector struct {
	gen  core.Generator
	opts Options
}

// New creates a Selector backed by gen.
func New(gen core.Generator, optFns ...func(o *Options)) *Selector {
	opts := Options{
		HistoryWindow: HistoryWindow,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Selector{gen: gen, opts: opts}
}

// Select resolves the next speaker asynchronously. The returned channel
// receives exactly one Result and is never closed before that. The caller is
// never blocked; when a model call is needed it runs on its own goroutine.
func (s *Selector) Select(ctx context.Context, eligible []string, history []core.Message) <-chan Result {
	out := make(chan Result, 1)
	eligible = append([]string(nil), eligible...)

	switch len(eligible) {
	case 0:
		out <- Result{}
		return out
	case 1:
		out <- Result{Agent: eligible[0]}
		return out
	}

	prompt := Prompt(eligible, history, s.opts.HistoryWindow)
	go func() {
		r := Result{Agent: eligible[0], Fallback: true, Asked: true}
		defer func() { out <- r }()
		defer logging.Recover(s.opts.Logger, "component", "selector")
		r = s.ask(ctx, eligible, prompt)
	}()
	return out
}

// SelectFunc is the callback form of Select.
func (s *Selector) SelectFunc(ctx context.Context, eligible []string, history []core.Message, fn func(Result)) {
	ch := s.Select(ctx, eligible, history)
	select {
	case r := <-ch:
		fn(r)
	default:
		go func() { fn(<-ch) }()
	}
}

func (s *Selector) ask(ctx context.Context, eligible []string, prompt []core.Message) Result {
	answer, err := s.gen.Submit(ctx, prompt)
	if err != nil {
		s.opts.Logger.Warn("next speaker selection failed, using first agent", "error", err, "fallback", eligible[0])
		return Result{Agent: eligible[0], Fallback: true, Asked: true}
	}
	name, ok := Validate(answer, eligible)
	if !ok {
		s.opts.Logger.Debug("unrecognised speaker answer", "answer", answer, "fallback", name)
	}
	return Result{Agent: name, Fallback: !ok, Asked: true}
}

// Prompt builds the selection prompt: one system instruction naming the
// eligible agents followed by the last window history entries.
func Prompt(eligible []string, history []core.Message, window int) []core.Message {
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	out := make([]core.Message, 0, len(history)-start+1)
	out = append(out, core.System(
		"Based on the conversation history below, determine which character should speak next. "+
			"Consider: who was addressed in the last message, who has relevant information, "+
			"and who hasn't spoken recently. "+
			"Available characters: "+strings.Join(eligible, ", ")+"\n\n"+
			"Respond with ONLY the name of who should speak next. No explanation or additional text.",
	))
	return append(out, history[start:]...)
}

// Validate accepts answer only if, once trimmed, it exactly names an eligible
// agent. Otherwise it returns the first eligible agent and false.
func Validate(answer string, eligible []string) (string, bool) {
	if len(eligible) == 0 {
		return "", false
	}
	answer = strings.TrimSpace(answer)
	for _, name := range eligible {
		if answer == name {
			return name, true
		}
	}
	return eligible[0], false
}

// Eligible filters out muted agents, preserving order.
func Eligible(agents []string, muted func(name string) bool) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		if muted != nil && muted(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}
