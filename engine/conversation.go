package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/session"
)

// StartConversation starts a human-initiated session between participant and
// agents. A participant already in another session leaves it first; that
// session ends when no humans remain. Missing agent records are created.
func (e *Engine) StartConversation(ctx context.Context, participant string, agents []string) (session.Info, error) {
	if participant == "" {
		return session.Info{}, fmt.Errorf("%w: participant is required", core.ErrStateConflict)
	}
	return e.start(ctx, session.KindHuman, []string{participant}, agents)
}

// StartGroup starts an agent-only session. It fails with core.ErrStateConflict
// when any agent is already in an active session.
func (e *Engine) StartGroup(ctx context.Context, agents []string) (session.Info, error) {
	return e.start(ctx, session.KindGroup, nil, agents)
}

func (e *Engine) start(ctx context.Context, kind session.Kind, participants, agents []string) (session.Info, error) {
	if err := e.checkOpen(); err != nil {
		return session.Info{}, err
	}
	for _, name := range agents {
		if e.sessions.AgentBusy(name) {
			return session.Info{}, fmt.Errorf("%w: agent %q is already in a conversation", core.ErrStateConflict, name)
		}
	}
	for _, name := range agents {
		if _, err := e.EnsureAgent(ctx, name); err != nil {
			return session.Info{}, err
		}
	}

	sess, err := e.sessions.Create(kind, participants, agents)
	if err != nil {
		return session.Info{}, err
	}
	e.track(sess.ID())

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackSessionStart, &CallbackContext{SessionID: sess.ID()}); err != nil {
		e.logger.Warn("session start callback failed", "session_id", sess.ID(), "error", err)
	}
	e.logger.Info("conversation started", "session_id", sess.ID(), "kind", kind.String(), "agents", agents, "participants", participants)
	return sess.Info(), nil
}

// EndSession ends an active session. The significance pipeline runs in the
// background on its snapshot.
func (e *Engine) EndSession(id string) error {
	if !e.sessions.EndSession(id) {
		return fmt.Errorf("%w: session %q", core.ErrNotFound, id)
	}
	return nil
}

// EndConversation ends the session of a human participant.
func (e *Engine) EndConversation(participant string) error {
	sess, ok := e.sessions.ByParticipant(participant)
	if !ok {
		return fmt.Errorf("%w: participant %q is not in a conversation", core.ErrNotFound, participant)
	}
	return e.EndSession(sess.ID())
}

// LeaveConversation removes a human from their session. A human-initiated
// session ends with its last human.
func (e *Engine) LeaveConversation(participant string) error {
	sess, ok := e.sessions.ByParticipant(participant)
	if !ok {
		return fmt.Errorf("%w: participant %q is not in a conversation", core.ErrNotFound, participant)
	}
	e.sessions.RemoveParticipant(sess.ID(), participant)
	return nil
}

// JoinConversation adds a human to an existing session.
func (e *Engine) JoinConversation(sessionID, participant string) error {
	if !e.sessions.AddParticipant(sessionID, participant) {
		return fmt.Errorf("%w: cannot add %q to session %q", core.ErrStateConflict, participant, sessionID)
	}
	return nil
}

// AddAgent adds an agent to a running session. The newcomer greets the
// conversation in the background.
func (e *Engine) AddAgent(ctx context.Context, sessionID, name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if _, err := e.EnsureAgent(ctx, name); err != nil {
		return err
	}
	if !e.sessions.AddAgent(sessionID, name) {
		return fmt.Errorf("%w: cannot add agent %q to session %q", core.ErrStateConflict, name, sessionID)
	}
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	e.goBackground("join_greeting", func(context.Context) {
		e.greetJoin(sess, name)
	})
	return nil
}

func (e *Engine) greetJoin(sess *session.Session, name string) {
	ctx := e.contextFor(sess.ID())
	agent, err := e.EnsureAgent(ctx, name)
	if err != nil {
		e.logger.Warn("join greeting skipped", "session_id", sess.ID(), "agent", name, "error", err)
		return
	}
	others := make([]string, 0)
	for _, a := range sess.Agents() {
		if a != name {
			others = append(others, a)
		}
	}
	others = append(others, sess.Participants()...)

	e.status(ctx, sess.ID(), name, core.StatusThinking)
	reply, err := e.gen.Submit(ctx, e.opts.Assembler.Join(ctx, agent, others, sess.History()))
	e.status(ctx, sess.ID(), name, core.StatusIdle)
	if err != nil {
		e.fail(ctx, sess.ID(), name, "join greeting failed", err)
		return
	}
	if reply = CleanReply(name, reply); reply == "" {
		e.logger.Warn("empty join greeting", "session_id", sess.ID(), "agent", name)
		return
	}
	if sess.Append(scripted(name, reply)...) {
		e.present(ctx, sess.ID(), agent, reply, "")
	}
}

// RemoveAgent removes an agent from a session. When a human is present the
// leaver keeps a summary of the conversation so far. Removing the last agent
// ends the session.
func (e *Engine) RemoveAgent(ctx context.Context, sessionID, name string) error {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: agent %q is not in session %q", core.ErrNotFound, name, sessionID)
	}
	agents := sess.Agents()
	ended, ok := e.sessions.RemoveAgent(sessionID, name)
	if !ok {
		return fmt.Errorf("%w: agent %q is not in session %q", core.ErrNotFound, name, sessionID)
	}
	if ended {
		return nil
	}
	e.status(ctx, sessionID, name, core.StatusIdle)

	participants := sess.Participants()
	if len(participants) == 0 {
		return nil
	}
	snap := core.Snapshot{
		SessionID:    sessionID,
		History:      sess.History(),
		Agents:       agents,
		Participants: participants,
	}
	e.goBackground("leave_summary", func(bg context.Context) {
		if err := e.opts.Pipeline.SummarizeForAgent(bg, snap, name); err != nil {
			e.fail(bg, sessionID, name, "leave summary failed", err)
		}
	})
	return nil
}

// onSessionEnd receives every snapshot once from the session manager.
func (e *Engine) onSessionEnd(snap core.Snapshot) {
	e.untrack(snap.SessionID)
	e.opts.Injector.Forget(snap.SessionID)
	for _, a := range snap.Agents {
		e.status(e.ctx, snap.SessionID, a, core.StatusIdle)
	}
	if err := e.callbacks.ExecuteCallbacks(e.ctx, CallbackSessionEnd, &CallbackContext{SessionID: snap.SessionID}); err != nil {
		e.logger.Warn("session end callback failed", "session_id", snap.SessionID, "error", err)
	}
	e.logger.Info("conversation ended", "session_id", snap.SessionID, "messages", len(snap.History), "location", snap.Location)

	e.goBackground("significance", func(ctx context.Context) {
		report := e.opts.Pipeline.Run(ctx, snap)
		if report.Err != nil {
			e.fail(ctx, snap.SessionID, "", "significance pipeline incomplete", report.Err)
		}
		if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterPipeline, &CallbackContext{
			SessionID: snap.SessionID,
			Report:    &report,
		}); err != nil {
			e.logger.Warn("pipeline callback failed", "session_id", snap.SessionID, "error", err)
		}
	})
}

func (e *Engine) fail(ctx context.Context, sessionID, agent, msg string, err error) {
	e.logger.Warn(msg, "session_id", sessionID, "agent", agent, "error", err)
	_ = e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, &CallbackContext{
		SessionID: sessionID,
		Agent:     agent,
		Err:       err,
	})
}
