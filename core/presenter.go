package core

import "context"

// Utterance is a generated line handed to the presentation collaborator. The
// core decides what is said and to whom; rendering is the presenter's concern.
type Utterance struct {
	SessionID string `json:"sessionId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Color     string `json:"color"`
	Avatar    string `json:"avatar,omitempty"`
	Target    string `json:"target,omitempty"`
}

// Presenter delivers utterances.
type Presenter interface {
	Present(ctx context.Context, u Utterance) error
}

// Status describes an agent indicator such as "thinking".
type Status string

const (
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusIdle      Status = "idle"
)

// StatusReporter is an optional Presenter extension receiving indicator
// changes.
type StatusReporter interface {
	Status(ctx context.Context, sessionID, agent string, status Status) error
}

// NoOpPresenter discards everything.
type NoOpPresenter struct{}

// Present implements Presenter.
func (NoOpPresenter) Present(context.Context, Utterance) error { return nil }
