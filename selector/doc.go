// Package selector decides which agent speaks next in a session.
//
// With a single eligible agent no model call is made. Otherwise the
// generator is asked to name the next speaker and the answer is accepted only
// if it exactly matches an eligible agent; anything else falls back to the
// first eligible agent.
package selector
