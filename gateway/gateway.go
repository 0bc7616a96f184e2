package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/hupe1980/storymesh/gateway"

// Outcome labels used in logs and spans.
const (
	OutcomeOK         = "ok"
	OutcomeOverloaded = "overloaded"
	OutcomeBusy       = "busy"
	OutcomeFailed     = "failed"
)

// Options configures admission control.
type Options struct {
	// MaxPending is the hard ceiling on submissions in the gateway (waiting or
	// calling). Exceeding it rejects immediately.
	MaxPending int64
	// MaxConcurrent is the number of semaphore permits for network calls.
	MaxConcurrent int64
	// AdmissionWait bounds how long a caller waits for a permit.
	AdmissionWait time.Duration
	Logger        logging.Logger
	Tracer        trace.Tracer
}

// Stats is a point-in-time view of gateway load.
type Stats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"inFlight"`
}

var _ core.Generator = (*Gateway)(nil)

// Gateway throttles calls to a model.Completer.
type Gateway struct {
	completer model.Completer
	sem       *semaphore.Weighted
	opts      Options
	pending   atomic.Int64
	inFlight  atomic.Int64
}

// New creates a gateway with 20 pending, 5 concurrent and a 10s wait by
// default.
func New(completer model.Completer, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		MaxPending:    20,
		MaxConcurrent: 5,
		AdmissionWait: 10 * time.Second,
		Logger:        logging.NoOpLogger{},
		Tracer:        otel.Tracer(tracerName),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Gateway{
		completer: completer,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		opts:      opts,
	}
}

// generationLogger is implemented by *logging.StoryLogger.
type generationLogger interface {
	LogGeneration(model string, dur time.Duration, outcome string, err error)
}

// Submit sends the prompt and returns the generated text. The error is one of
// core.ErrOverloaded, core.ErrBusy or a *core.GenerationError.
func (g *Gateway) Submit(ctx context.Context, prompt []core.Message) (string, error) {
	start := time.Now()
	ctx, span := g.opts.Tracer.Start(ctx, "gateway.submit",
		trace.WithAttributes(attribute.Int("prompt.messages", len(prompt))))
	defer span.End()

	text, outcome, err := g.submit(ctx, prompt)

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	g.record(time.Since(start), outcome, err)
	return text, err
}

func (g *Gateway) submit(ctx context.Context, prompt []core.Message) (string, string, error) {
	if n := g.pending.Add(1); n > g.opts.MaxPending {
		g.pending.Add(-1)
		return "", OutcomeOverloaded, core.ErrOverloaded
	}
	defer g.pending.Add(-1)

	waitCtx, cancel := context.WithTimeout(ctx, g.opts.AdmissionWait)
	err := g.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", OutcomeFailed, core.NewGenerationError(g.completer.Info().Provider, "cancelled while waiting for admission", ctxErr)
		}
		return "", OutcomeBusy, core.ErrBusy
	}
	defer g.sem.Release(1)

	g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	text, err := g.completer.Complete(ctx, model.Request{Messages: prompt})
	if err != nil {
		var genErr *core.GenerationError
		if !errors.As(err, &genErr) {
			err = core.NewGenerationError(g.completer.Info().Provider, "completer error", err)
		}
		return "", OutcomeFailed, err
	}
	return text, OutcomeOK, nil
}

func (g *Gateway) record(dur time.Duration, outcome string, err error) {
	name := g.completer.Info().Name
	if gl, ok := g.opts.Logger.(generationLogger); ok {
		gl.LogGeneration(name, dur, outcome, err)
		return
	}
	if err != nil {
		g.opts.Logger.Warn("generation not completed", "model", name, "outcome", outcome, "duration", dur, "error", err)
		return
	}
	g.opts.Logger.Debug("generation completed", "model", name, "duration", dur)
}

// Stats returns current load.
func (g *Gateway) Stats() Stats {
	return Stats{Pending: g.pending.Load(), InFlight: g.inFlight.Load()}
}

// Info describes the underlying completer.
func (g *Gateway) Info() model.Info { return g.completer.Info() }
