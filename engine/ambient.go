package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/prompt"
	"github.com/hupe1980/storymesh/session"
)

// StartAmbient starts a radiant exchange in which every agent speaks once, in
// order, spaced by AmbientStep. The session ends after the last agent's turn.
// With fewer than two agents the session ends immediately.
func (e *Engine) StartAmbient(ctx context.Context, agents []string) (session.Info, error) {
	info, err := e.start(ctx, session.KindAmbient, nil, agents)
	if err != nil {
		return info, err
	}
	sess, ok := e.sessions.Get(info.ID)
	if !ok {
		return info, nil
	}
	order := sess.Agents()
	if len(order) < 2 {
		e.sessions.EndSession(sess.ID())
		return sess.Info(), nil
	}

	token := sess.Token()
	remaining := &atomic.Int32{}
	remaining.Store(int32(len(order)))
	for i, name := range order {
		next := order[(i+1)%len(order)]
		speaker := name
		sess.Timers().After(time.Duration(i)*e.opts.Config.AmbientStep, func() {
			e.beginAmbientTurn(sess, token, speaker, next, remaining)
		})
	}
	return sess.Info(), nil
}

func (e *Engine) beginAmbientTurn(sess *session.Session, token uint64, speaker, next string, remaining *atomic.Int32) {
	ctx := e.contextFor(sess.ID())
	e.status(ctx, sess.ID(), speaker, core.StatusThinking)
	if !sess.Timers().After(e.opts.Config.ThinkingDelay, func() {
		e.runAmbientTurn(sess, token, speaker, next, remaining)
	}) {
		e.status(ctx, sess.ID(), speaker, core.StatusIdle)
		e.finishAmbientLine(sess, remaining)
	}
}

// runAmbientTurn generates one line of an ambient round. A line that fires
// while another is generating waits for ThinkingDelay and tries again. A line
// whose round was superseded gives up its slot.
func (e *Engine) runAmbientTurn(sess *session.Session, token uint64, speaker, next string, remaining *atomic.Int32) {
	if !sess.TryBeginTurn(token) {
		if sess.Active() && sess.InFlight() && sess.Timers().After(e.opts.Config.ThinkingDelay, func() {
			e.runAmbientTurn(sess, token, speaker, next, remaining)
		}) {
			return
		}
		e.status(e.contextFor(sess.ID()), sess.ID(), speaker, core.StatusIdle)
		e.finishAmbientLine(sess, remaining)
		return
	}

	defer e.finishAmbientLine(sess, remaining)
	defer sess.EndTurn()
	defer logging.Recover(e.logger, "session_id", sess.ID(), "agent", speaker, "step", "ambient_turn")

	ctx := e.contextFor(sess.ID())
	if injected := e.opts.Injector.Inject(ctx, sess); len(injected) > 0 {
		e.logger.Debug("lore injected", "session_id", sess.ID(), "entries", len(injected))
	}

	agent, reply, ok := e.speak(ctx, sess, speaker, prompt.ModeAmbient)
	if !ok {
		return
	}
	if !sess.Commit(token, core.Assistant(speaker+": "+reply), core.User(fmt.Sprintf("%s listens", next))) {
		return
	}
	e.afterReply(ctx, sess, agent, reply)
}

// finishAmbientLine counts down the round. The last line ends the session.
func (e *Engine) finishAmbientLine(sess *session.Session, remaining *atomic.Int32) {
	if remaining.Add(-1) == 0 {
		e.sessions.EndSession(sess.ID())
	}
}
