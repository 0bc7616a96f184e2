package significance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/hupe1980/storymesh/significance"

// Step names used in logs, spans and reports.
const (
	StepSummary  = "summary"
	StepEffects  = "effects"
	StepFindings = "findings"
	StepLeave    = "leave_summary"
)

// Options configures a Pipeline.
type Options struct {
	// MinHistory is the smallest history the pipeline analyses.
	MinHistory int
	// Threshold is the significance a summary must exceed to be stored.
	Threshold int
	// MaxRelationDelta clamps each relation effect; 0 disables clamping.
	MaxRelationDelta int
	Logger           logging.Logger
	Tracer           trace.Tracer
}

// Report describes what one run changed.
type Report struct {
	Skipped       bool
	Summary       Summary
	SummaryStored bool
	Effects       []Effect
	Placements    []Placement
	// Failures counts units of work that were aborted.
	Failures int
	// Err joins the failures of aborted units.
	Err error
}

// Pipeline distills finished sessions. It is safe for concurrent use.
type Pipeline struct {
	gen       core.Generator
	agents    core.AgentStore
	locations core.LocationStore
	opts      Options
}

// New creates a Pipeline. locations may be nil, which drops location rumors.
func New(gen core.Generator, agents core.AgentStore, locations core.LocationStore, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		MinHistory:       3,
		Threshold:        2,
		MaxRelationDelta: 20,
		Logger:           logging.NoOpLogger{},
		Tracer:           otel.Tracer(tracerName),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pipeline{gen: gen, agents: agents, locations: locations, opts: opts}
}

// pipelineLogger is implemented by *logging.StoryLogger.
type pipelineLogger interface {
	LogPipelineStep(step string, dur time.Duration, applied int, err error)
}

// run collects the outcome of concurrently executing units.
type run struct {
	mu     sync.Mutex
	report Report
	errs   []error
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Failures++
	r.errs = append(r.errs, err)
}

// Run analyses snap. It blocks until every step finished; callers run it off
// the request path. Failures are isolated per unit and reported, never
// returned.
func (p *Pipeline) Run(ctx context.Context, snap core.Snapshot) Report {
	if len(snap.History) < p.opts.MinHistory || len(snap.Agents) == 0 {
		return Report{Skipped: true}
	}

	ctx, span := p.opts.Tracer.Start(ctx, "significance.run", trace.WithAttributes(
		attribute.String("session.id", snap.SessionID),
		attribute.Int("history.len", len(snap.History)),
		attribute.Int("agents", len(snap.Agents)),
	))
	defer span.End()

	r := &run{}
	var g errgroup.Group
	g.Go(func() error {
		p.unit(ctx, r, StepSummary, "", func() (int, error) { return p.summarize(ctx, r, snap) })
		return nil
	})
	for _, agent := range snap.Agents {
		g.Go(func() error {
			p.unit(ctx, r, StepEffects, agent, func() (int, error) { return p.effects(ctx, r, snap, agent) })
			return nil
		})
	}
	g.Go(func() error {
		p.unit(ctx, r, StepFindings, "", func() (int, error) { return p.findings(ctx, r, snap) })
		return nil
	})
	_ = g.Wait()

	r.report.Err = errors.Join(r.errs...)
	if r.report.Err != nil {
		span.SetStatus(codes.Error, r.report.Err.Error())
	}
	span.SetAttributes(attribute.Int("failures", r.report.Failures))
	return r.report
}

// SummarizeForAgent stores a plain summary of snap in agent's memory. It is
// used when an agent leaves a session before it ends.
func (p *Pipeline) SummarizeForAgent(ctx context.Context, snap core.Snapshot, agent string) error {
	if len(snap.History) == 0 {
		return nil
	}
	ctx, span := p.opts.Tracer.Start(ctx, "significance.leave_summary",
		trace.WithAttributes(attribute.String("agent", agent)))
	defer span.End()

	r := &run{}
	p.unit(ctx, r, StepLeave, agent, func() (int, error) {
		text, err := p.gen.Submit(ctx, LeaveSummaryPrompt(snap))
		if err != nil {
			return 0, err
		}
		if text = strings.TrimSpace(text); text == "" {
			return 0, errors.New("empty summary")
		}
		return 1, p.agents.Update(ctx, agent, func(a *core.Agent) error {
			a.Remember(core.System(text))
			return nil
		})
	})
	err := errors.Join(r.errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// unit runs one isolated piece of work, recovering panics and logging the
// outcome.
func (p *Pipeline) unit(ctx context.Context, r *run, step, agent string, fn func() (int, error)) {
	_, span := p.opts.Tracer.Start(ctx, "significance."+step)
	if agent != "" {
		span.SetAttributes(attribute.String("agent", agent))
	}
	defer span.End()

	start := time.Now()
	applied, err := func() (applied int, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	}()
	if err != nil {
		if agent != "" {
			err = fmt.Errorf("%s for %s: %w", step, agent, err)
		} else {
			err = fmt.Errorf("%s: %w", step, err)
		}
		span.SetStatus(codes.Error, err.Error())
		r.fail(err)
	}

	log := p.opts.Logger
	if agent != "" {
		log = logging.With(log, "agent", agent)
	}
	if pl, ok := log.(pipelineLogger); ok {
		pl.LogPipelineStep(step, time.Since(start), applied, err)
		return
	}
	if err != nil {
		log.Error("pipeline step failed", "step", step, "error", err)
		return
	}
	log.Debug("pipeline step completed", "step", step, "applied", applied)
}

func (p *Pipeline) summarize(ctx context.Context, r *run, snap core.Snapshot) (int, error) {
	text, err := p.gen.Submit(ctx, SummaryPrompt(snap.History))
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, errors.New("empty summary")
	}
	sum := ParseSummary(text)
	r.mu.Lock()
	r.report.Summary = sum
	r.mu.Unlock()

	if sum.Significance <= p.opts.Threshold {
		p.opts.Logger.Info("summary not significant, discarded", "session_id", snap.SessionID, "significance", sum.Significance)
		return 0, nil
	}

	stored := 0
	var errs []error
	for _, agent := range snap.Agents {
		err := p.agents.Update(ctx, agent, func(a *core.Agent) error {
			a.Remember(core.System(sum.Text))
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("store summary for %s: %w", agent, err))
			continue
		}
		stored++
	}
	r.mu.Lock()
	r.report.SummaryStored = stored > 0
	r.mu.Unlock()
	return stored, errors.Join(errs...)
}

func (p *Pipeline) effects(ctx context.Context, r *run, snap core.Snapshot, agent string) (int, error) {
	others := append([]string(nil), snap.Participants...)
	for _, a := range snap.Agents {
		if a != agent {
			others = append(others, a)
		}
	}

	text, err := p.gen.Submit(ctx, EffectsPrompt(snap, agent, others))
	if err != nil {
		return 0, err
	}

	var mine []Effect
	for _, e := range ParseEffects(text) {
		if e.Character != agent || e.Kind != EffectRelation || e.Target == agent {
			continue
		}
		e.Value = Clamp(e.Value, p.opts.MaxRelationDelta)
		mine = append(mine, e)
	}
	if len(mine) == 0 {
		return 0, nil
	}

	err = p.agents.Update(ctx, agent, func(a *core.Agent) error {
		for _, e := range mine {
			a.AdjustRelation(e.Target, e.Value)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.report.Effects = append(r.report.Effects, mine...)
	r.mu.Unlock()
	return len(mine), nil
}

func (p *Pipeline) findings(ctx context.Context, r *run, snap core.Snapshot) (int, error) {
	prompt := FindingsPrompt(snap)
	text, err := p.gen.Submit(ctx, prompt)
	if err != nil {
		return 0, err
	}

	applied := 0
	var errs []error
	for _, pl := range Route(ParseFindings(text), snap.Agents) {
		if err := p.place(ctx, snap.Location, pl); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
		r.mu.Lock()
		r.report.Placements = append(r.report.Placements, pl)
		r.mu.Unlock()
	}
	return applied, errors.Join(errs...)
}

func (p *Pipeline) place(ctx context.Context, location string, pl Placement) error {
	if pl.Agent != "" {
		err := p.agents.Update(ctx, pl.Agent, func(a *core.Agent) error {
			a.AddKnowledge(pl.Text)
			return nil
		})
		if err != nil {
			return fmt.Errorf("personal knowledge for %s: %w", pl.Agent, err)
		}
		return nil
	}
	if p.locations == nil || location == "" {
		return nil
	}
	err := p.locations.Update(ctx, location, func(l *core.Location) error {
		l.Context = append(l.Context, pl.Text)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rumor for %s: %w", location, err)
	}
	return nil
}
