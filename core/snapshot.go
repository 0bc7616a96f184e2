package core

import "strings"

// Snapshot is the immutable view of a session captured when it ends. It
// outlives the session for asynchronous post-processing.
type Snapshot struct {
	SessionID    string
	History      []Message
	Agents       []string
	Participants []string
	Location     string
}

// ParticipantLabel joins participant names for prompts. Agent-only sessions
// are labelled "each other".
func (s Snapshot) ParticipantLabel() string {
	if len(s.Participants) == 0 {
		return "each other"
	}
	return strings.Join(s.Participants, ", ")
}
