// Package schedule provides the timer abstraction used for turn pacing.
//
// A Group owns every pending continuation of one session. Closing the group
// stops all of its timers and turns later scheduling into a no-op, so ending
// a session cancels its continuations without per-call bookkeeping by the
// caller. Keyed continuations (Replace) model "at most one pending response"
// semantics.
package schedule
