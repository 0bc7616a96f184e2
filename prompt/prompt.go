package prompt

import (
	"context"
	"strings"

	"github.com/hupe1980/storymesh/core"
)

// Memory windows per turn mode.
const (
	GroupMemoryWindow   = 10
	AmbientMemoryWindow = 20
)

// RelationGuidance follows the relation summary in every prompt.
const RelationGuidance = "Your responses should reflect your relations with the other characters if applicable. Never print out the relation as dialogue."

// Mode selects the final directive and memory window.
type Mode int

const (
	// ModeGroup is a reply in a human or group session.
	ModeGroup Mode = iota
	// ModeAmbient is one agent's line in a radiant agent-only exchange.
	ModeAmbient
)

// Options configures an Assembler.
type Options struct {
	// GeneralContexts are world-flavor lines prepended to every prompt.
	GeneralContexts     []string
	GroupMemoryWindow   int
	AmbientMemoryWindow int
}

// Assembler builds prompts. It is safe for concurrent use.
type Assembler struct {
	locations core.LocationStore
	opts      Options
}

// New creates an Assembler. locations may be nil, in which case no location
// contexts are added.
func New(locations core.LocationStore, optFns ...func(o *Options)) *Assembler {
	opts := Options{
		GroupMemoryWindow:   GroupMemoryWindow,
		AmbientMemoryWindow: AmbientMemoryWindow,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.GeneralContexts = append([]string(nil), opts.GeneralContexts...)
	return &Assembler{locations: locations, opts: opts}
}

// Turn describes one agent's turn.
type Turn struct {
	Mode  Mode
	Agent *core.Agent
	// Agents are the session's agent names, the acting agent included.
	Agents []string
	// Participants are the human participants.
	Participants []string
	// History is the shared session history.
	History []core.Message
}

// Assemble returns the prompt for t.
func (a *Assembler) Assemble(ctx context.Context, t Turn) []core.Message {
	window := a.opts.GroupMemoryWindow
	if t.Mode == ModeAmbient {
		window = a.opts.AmbientMemoryWindow
	}

	out := a.preamble(ctx, t.Agent, window)
	out = append(out, t.History...)
	return append(out, core.System(Directive(t)))
}

// Directive renders the closing instruction of a turn prompt.
func Directive(t Turn) string {
	name := t.Agent.Name
	if t.Mode == ModeAmbient {
		return "You are " + name + " in a conversation with " + joinOthers(name, t.Agents, nil) +
			". Conversation can be about anything like about day or recent events. Don't make it go waste by asking questions." +
			" This is YOUR turn to speak. Do NOT generate dialogue for others."
	}
	return "You are " + name + ". You are currently in a conversation with: " + joinOthers(name, t.Agents, t.Participants) + "." +
		" This is YOUR turn to speak. Do NOT generate dialogue for others. " +
		"Address the relevant character(s) naturally based on previous dialogue."
}

// Greeting builds the prompt for an agent that has noticed target and opens
// a conversation with it.
func (a *Assembler) Greeting(ctx context.Context, agent *core.Agent, target string) []core.Message {
	out := a.preamble(ctx, agent, a.opts.GroupMemoryWindow)
	return append(out, core.System(
		"You are "+agent.Name+". You've just noticed "+target+
			" and decided to initiate a conversation. Generate a brief, natural greeting "+
			"to start the conversation based on your character, relations, and context.",
	))
}

// Join builds the prompt for an agent introducing itself to an ongoing
// conversation. Only the last GroupMemoryWindow history entries are shown.
func (a *Assembler) Join(ctx context.Context, agent *core.Agent, others []string, history []core.Message) []core.Message {
	out := a.preamble(ctx, agent, a.opts.GroupMemoryWindow)
	out = append(out, tail(history, a.opts.GroupMemoryWindow)...)
	return append(out,
		core.System("You are joining an ongoing conversation with: "+joinOthers(agent.Name, others, nil)+
			"\n\nGenerate a greeting or introduction that acknowledges the ongoing conversation. "+
			"Keep it brief and in-character. Don't use quotation marks or indicate who is speaking."),
		core.User("Write a single greeting or introduction line as "+agent.Name+" joining this conversation."),
	)
}

func (a *Assembler) preamble(ctx context.Context, agent *core.Agent, window int) []core.Message {
	var out []core.Message
	for _, c := range a.opts.GeneralContexts {
		out = append(out, core.System(c))
	}
	if a.locations != nil && agent.Location != "" {
		for _, c := range core.ResolveLocationContext(ctx, a.locations, agent.Location) {
			out = append(out, core.System(c))
		}
	}
	out = append(out,
		core.System("Relations: "+agent.RelationSummary()),
		core.System(RelationGuidance),
	)
	return append(out, agent.MemoryWindow(window)...)
}

func joinOthers(self string, agents, participants []string) string {
	others := make([]string, 0, len(agents)+len(participants))
	for _, n := range agents {
		if n != self {
			others = append(others, n)
		}
	}
	others = append(others, participants...)
	if len(others) == 0 {
		return "nobody"
	}
	return strings.Join(others, ", ")
}

func tail(msgs []core.Message, n int) []core.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
