// Package session implements the per-conversation state machine and the
// registry that enforces membership invariants across sessions.
//
// A Session is Active until ended and immutable afterwards. The Manager
// guarantees that a human participant and an agent each belong to at most one
// active session, supports lookup by session id, participant id and agent name,
// and hands a history snapshot to its end hook exactly once per session.
package session
