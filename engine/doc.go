// Package engine implements the conversation orchestrator of StoryMesh.
//
// The Engine owns the session registry and drives every conversation from
// the first message to the post-conversation analysis. It bridges the outer
// surfaces (HTTP API, proximity triggers, scripted lines) and the leaf
// packages that decide what is said.
//
// # Core Responsibilities
//
// Conversation lifecycle:
//   - Human-initiated, group and ambient sessions
//   - Agents joining with a greeting and leaving with a personal summary
//   - Ending sessions and dispatching their snapshot to the significance
//     pipeline in the background
//
// Turn pacing:
//   - Human messages restart a response delay so bursts collapse into one turn
//   - A generation token discards completions that were superseded
//   - At most one turn is in flight per session
//   - "thinking" and "listening" indicators precede every reply
//
// # Turn Flow
//
//	human message ─▶ response delay ─▶ lore injection ─▶ speaker selection
//	      ─▶ thinking delay ─▶ prompt assembly ─▶ gateway ─▶ commit + present
//
// # Usage
//
//	eng, err := engine.New(gateway,
//	    func(o *engine.Options) {
//	        o.Agents = agentStore
//	        o.Presenter = hub
//	        o.Logger = logger
//	    })
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	info, err := eng.StartConversation(ctx, "Steve", []string{"Alice", "Bob"})
//	_ = eng.HandleMessage(ctx, "Steve", "Good evening!")
//
// # Extensibility
//
// Callbacks registered on a CallbackManager observe session starts and ends,
// turns, pipeline reports and failures. A BeforeTurn callback that returns an
// error skips the turn.
package engine
