package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/storymesh/core"
)

// StatusChange is one indicator update seen by RecordingPresenter.
type StatusChange struct {
	SessionID string
	Agent     string
	Status    core.Status
}

// RecordingPresenter records utterances and status changes. It is safe for
// concurrent use.
type RecordingPresenter struct {
	mu         sync.Mutex
	utterances []core.Utterance
	statuses   []StatusChange
}

var (
	_ core.Presenter      = (*RecordingPresenter)(nil)
	_ core.StatusReporter = (*RecordingPresenter)(nil)
)

// Present implements core.Presenter.
func (p *RecordingPresenter) Present(_ context.Context, u core.Utterance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utterances = append(p.utterances, u)
	return nil
}

// Status implements core.StatusReporter.
func (p *RecordingPresenter) Status(_ context.Context, sessionID, agent string, st core.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, StatusChange{SessionID: sessionID, Agent: agent, Status: st})
	return nil
}

// Utterances returns a copy of everything presented so far.
func (p *RecordingPresenter) Utterances() []core.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Utterance(nil), p.utterances...)
}

// Statuses returns a copy of the recorded indicator changes.
func (p *RecordingPresenter) Statuses() []StatusChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StatusChange(nil), p.statuses...)
}

// LastStatus returns the most recent status of agent.
func (p *RecordingPresenter) LastStatus(agent string) (core.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.statuses) - 1; i >= 0; i-- {
		if p.statuses[i].Agent == agent {
			return p.statuses[i].Status, true
		}
	}
	return "", false
}
