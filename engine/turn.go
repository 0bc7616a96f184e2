package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/prompt"
	"github.com/hupe1980/storymesh/selector"
	"github.com/hupe1980/storymesh/session"
)

const (
	// EndMarker in a reply ends a session that has a human present.
	EndMarker = "[End]"

	// AwaitingReply follows every generated reply in the history.
	AwaitingReply = "..."

	// RestListening follows every scripted agent line.
	RestListening = "*Rest are listening...*"

	keyResponse = "response"
)

var speakerLabel = regexp.MustCompile(`^([\w\s']+):(?:\s*([\w\s']+):)?`)

// HandleMessage appends a human message to the participant's session and, when
// chat is enabled, restarts the response delay. Messages arriving during the
// delay collapse into one turn, and a turn already generating is superseded.
func (e *Engine) HandleMessage(ctx context.Context, participant, text string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	sess, ok := e.sessions.ByParticipant(participant)
	if !ok {
		return fmt.Errorf("%w: participant %q is not in a conversation", core.ErrNotFound, participant)
	}
	if !sess.Append(core.User(participant + ": " + text)) {
		return fmt.Errorf("%w: session %q has ended", core.ErrStateConflict, sess.ID())
	}
	if !e.Settings().ChatEnabled {
		return nil
	}
	e.scheduleTurn(sess, e.opts.Config.ResponseDelay)
	return nil
}

// RequestTurn schedules a turn in a session without a new message, for
// example to let a group session continue.
func (e *Engine) RequestTurn(sessionID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", core.ErrNotFound, sessionID)
	}
	e.scheduleTurn(sess, 0)
	return nil
}

// scheduleTurn invalidates older turns and schedules a new one.
func (e *Engine) scheduleTurn(sess *session.Session, delay time.Duration) {
	token := sess.BumpToken()
	sess.Timers().Replace(keyResponse, delay, func() { e.beginTurn(sess, token) })
}

// beginTurn is the response continuation. It yields to a turn already in
// flight by rescheduling itself after the thinking delay.
func (e *Engine) beginTurn(sess *session.Session, token uint64) {
	defer logging.Recover(e.logger, "session_id", sess.ID(), "step", "begin_turn")

	if !sess.Active() || sess.Token() != token {
		return
	}
	if !sess.TryBeginTurn(token) {
		if sess.InFlight() {
			sess.Timers().Replace(keyResponse, e.opts.Config.ThinkingDelay, func() { e.beginTurn(sess, token) })
		}
		return
	}

	ctx := e.contextFor(sess.ID())
	if injected := e.opts.Injector.Inject(ctx, sess); len(injected) > 0 {
		e.logger.Debug("lore injected", "session_id", sess.ID(), "entries", len(injected))
	}

	eligible := selector.Eligible(sess.Agents(), e.Muted)
	e.opts.Selector.SelectFunc(ctx, eligible, sess.History(), func(r selector.Result) {
		e.onSelected(ctx, sess, token, r)
	})
}

func (e *Engine) onSelected(ctx context.Context, sess *session.Session, token uint64, r selector.Result) {
	if !r.OK() || e.Muted(r.Agent) || !sess.HasAgent(r.Agent) {
		sess.EndTurn()
		return
	}
	if r.Fallback {
		e.logger.Debug("speaker selection fell back", "session_id", sess.ID(), "agent", r.Agent)
	}

	for _, a := range sess.Agents() {
		if a == r.Agent {
			e.status(ctx, sess.ID(), a, core.StatusThinking)
		} else {
			e.status(ctx, sess.ID(), a, core.StatusListening)
		}
	}

	speaker := r.Agent
	if !sess.Timers().After(e.opts.Config.ThinkingDelay, func() { e.runTurn(sess, token, speaker) }) {
		sess.EndTurn()
	}
}

// runTurn generates and commits one reply.
func (e *Engine) runTurn(sess *session.Session, token uint64, speaker string) {
	defer sess.EndTurn()
	defer logging.Recover(e.logger, "session_id", sess.ID(), "agent", speaker, "step", "turn")

	ctx := e.contextFor(sess.ID())
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeTurn, &CallbackContext{
		SessionID: sess.ID(),
		Agent:     speaker,
	}); err != nil {
		e.logger.Info("turn vetoed", "session_id", sess.ID(), "agent", speaker, "error", err)
		e.status(ctx, sess.ID(), speaker, core.StatusIdle)
		return
	}

	agent, reply, ok := e.speak(ctx, sess, speaker, prompt.ModeGroup)
	if !ok {
		return
	}
	if !sess.Commit(token, core.Assistant(speaker+": "+reply), core.User(AwaitingReply)) {
		e.logger.Debug("discarding stale reply", "session_id", sess.ID(), "agent", speaker)
		return
	}
	e.afterReply(ctx, sess, agent, reply)

	if strings.Contains(reply, EndMarker) && len(sess.Participants()) > 0 {
		e.sessions.EndSession(sess.ID())
	}
}

// speak assembles the prompt for speaker and returns the cleaned reply. It
// reports false when generation failed or produced nothing usable.
func (e *Engine) speak(ctx context.Context, sess *session.Session, speaker string, mode prompt.Mode) (*core.Agent, string, bool) {
	agent, err := e.EnsureAgent(ctx, speaker)
	if err != nil {
		e.fail(ctx, sess.ID(), speaker, "loading speaker failed", err)
		e.status(ctx, sess.ID(), speaker, core.StatusIdle)
		return nil, "", false
	}

	msgs := e.opts.Assembler.Assemble(ctx, prompt.Turn{
		Mode:         mode,
		Agent:        agent,
		Agents:       sess.Agents(),
		Participants: sess.Participants(),
		History:      sess.History(),
	})

	reply, err := e.gen.Submit(ctx, msgs)
	if err != nil {
		e.fail(ctx, sess.ID(), speaker, "generation failed", err)
		e.status(ctx, sess.ID(), speaker, core.StatusIdle)
		return nil, "", false
	}
	if reply = CleanReply(speaker, reply); reply == "" {
		e.logger.Warn("empty reply", "session_id", sess.ID(), "agent", speaker)
		e.status(ctx, sess.ID(), speaker, core.StatusIdle)
		return nil, "", false
	}
	return agent, reply, true
}

func (e *Engine) afterReply(ctx context.Context, sess *session.Session, agent *core.Agent, reply string) {
	shown := strings.TrimSpace(strings.ReplaceAll(reply, EndMarker, ""))
	if shown != "" {
		e.present(ctx, sess.ID(), agent, shown, "")
	}
	e.status(ctx, sess.ID(), agent.Name, core.StatusIdle)
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterTurn, &CallbackContext{
		SessionID: sess.ID(),
		Agent:     agent.Name,
		Text:      reply,
	}); err != nil {
		e.logger.Warn("after turn callback failed", "session_id", sess.ID(), "error", err)
	}
}

// AddAgentMessage appends a scripted line for agent to its session and
// presents it.
func (e *Engine) AddAgentMessage(ctx context.Context, agent, text string) error {
	sess, ok := e.sessions.ByAgent(agent)
	if !ok {
		return fmt.Errorf("%w: agent %q is not in a conversation", core.ErrNotFound, agent)
	}
	if !sess.Append(scripted(agent, text)...) {
		return fmt.Errorf("%w: session %q has ended", core.ErrStateConflict, sess.ID())
	}
	a, err := e.opts.Agents.Get(ctx, agent)
	if err != nil {
		a = core.NewAgent(agent)
	}
	e.present(ctx, sess.ID(), a, text, "")
	return nil
}

func scripted(agent, text string) []core.Message {
	return []core.Message{
		core.Assistant(agent + ": " + text),
		core.User(RestListening),
	}
}

// CleanReply trims a reply and removes a leading "Speaker:" label, including
// a doubled "Speaker: Speaker:", when it names speaker. Labels naming someone
// else are kept.
func CleanReply(speaker, reply string) string {
	reply = strings.TrimSpace(reply)
	m := speakerLabel.FindStringSubmatch(reply)
	if m == nil || !strings.EqualFold(strings.TrimSpace(m[1]), speaker) {
		return reply
	}
	if m[2] != "" && !strings.EqualFold(strings.TrimSpace(m[2]), speaker) {
		// Only the first label is ours.
		return strings.TrimSpace(reply[len(m[1])+1:])
	}
	return strings.TrimSpace(reply[len(m[0]):])
}
