// Package prompt assembles the ordered message sequence sent to the generator
// for one agent's turn.
//
// Every prompt follows the same layout:
//
//	general contexts
//	location contexts, nearest location first
//	relation summary and guidance
//	the agent's memory window (persona entry always first)
//	the shared session history
//	a final directive naming the acting agent
//
// Assembly is a pure function of its inputs plus the location store. Nothing
// here is randomised.
package prompt
