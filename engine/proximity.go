package engine

import (
	"context"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/session"
)

// ProximityAction is what a proximity trigger started.
type ProximityAction string

const (
	ProximityNone     ProximityAction = "none"
	ProximityGreeting ProximityAction = "greeting"
	ProximityAmbient  ProximityAction = "ambient"
)

// ProximityResult describes the outcome of HandleProximity.
type ProximityResult struct {
	Action    ProximityAction `json:"action"`
	Initiator string          `json:"initiator,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// HandleProximity reacts to a human standing near agents. The first free agent
// off cooldown either greets the human or starts an ambient exchange with
// another free nearby agent. Nothing happens while ambient is disabled or the
// human is already talking.
func (e *Engine) HandleProximity(ctx context.Context, participant string, nearby []string) (ProximityResult, error) {
	none := ProximityResult{Action: ProximityNone}
	if err := e.checkOpen(); err != nil {
		return none, err
	}
	if !e.Settings().AmbientEnabled {
		return none, nil
	}
	if _, busy := e.sessions.ByParticipant(participant); busy {
		return none, nil
	}

	initiator, ok := e.claimInitiator(nearby)
	if !ok {
		return none, nil
	}

	if !e.opts.Coin() {
		for _, partner := range nearby {
			if partner == initiator || !e.free(partner) {
				continue
			}
			info, err := e.StartAmbient(ctx, []string{initiator, partner})
			if err != nil {
				return none, err
			}
			return ProximityResult{Action: ProximityAmbient, Initiator: initiator, SessionID: info.ID}, nil
		}
	}

	info, err := e.StartConversation(ctx, participant, []string{initiator})
	if err != nil {
		return none, err
	}
	sess, ok := e.sessions.Get(info.ID)
	if ok {
		e.goBackground("greeting", func(context.Context) {
			e.greet(sess, initiator, participant)
		})
	}
	return ProximityResult{Action: ProximityGreeting, Initiator: initiator, SessionID: info.ID}, nil
}

// claimInitiator picks the first free agent off cooldown and starts its
// cooldown.
func (e *Engine) claimInitiator(nearby []string) (string, bool) {
	now := e.opts.Clock.Now()
	for _, name := range nearby {
		if !e.free(name) {
			continue
		}
		e.mu.Lock()
		last, seen := e.lastProximity[name]
		if seen && now.Sub(last) < e.opts.Config.ProximityCooldown {
			e.mu.Unlock()
			continue
		}
		e.lastProximity[name] = now
		e.mu.Unlock()
		return name, true
	}
	return "", false
}

func (e *Engine) free(agent string) bool {
	return agent != "" && !e.Muted(agent) && !e.sessions.AgentBusy(agent)
}

// greet generates an opening line from initiator to target and appends it as
// a scripted agent message.
func (e *Engine) greet(sess *session.Session, initiator, target string) {
	ctx := e.contextFor(sess.ID())
	agent, err := e.EnsureAgent(ctx, initiator)
	if err != nil {
		e.fail(ctx, sess.ID(), initiator, "greeting skipped", err)
		return
	}
	e.status(ctx, sess.ID(), initiator, core.StatusThinking)
	reply, err := e.gen.Submit(ctx, e.opts.Assembler.Greeting(ctx, agent, target))
	e.status(ctx, sess.ID(), initiator, core.StatusIdle)
	if err != nil {
		e.fail(ctx, sess.ID(), initiator, "greeting failed", err)
		return
	}
	if reply = CleanReply(initiator, reply); reply == "" {
		e.logger.Warn("empty greeting", "session_id", sess.ID(), "agent", initiator)
		return
	}
	if sess.Append(scripted(initiator, reply)...) {
		e.present(ctx, sess.ID(), agent, reply, target)
	}
}
