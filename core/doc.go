// Package core provides the foundational domain types and collaborator
// interfaces used by storymesh. It defines:
//
//   - Messages (a closed System/User/Assistant variant carrying text)
//   - Agent and location records owned by a storage collaborator
//   - Lore entries and significance findings
//   - Collaborator contracts for storage, presentation and the world clock
//   - The error taxonomy shared by the gateway, session manager and pipeline
//
// The package keeps orchestration concerns (scheduling, generation, parsing)
// out of scope, exposing small interfaces so hosts can plug their own
// persistence and delivery backends.
package core
