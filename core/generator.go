package core

import "context"

// Generator submits a prompt to the generation service and returns the reply
// text. The gateway implements it; so do test doubles.
type Generator interface {
	Submit(ctx context.Context, prompt []Message) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt []Message) (string, error)

// Submit implements Generator.
func (f GeneratorFunc) Submit(ctx context.Context, prompt []Message) (string, error) {
	return f(ctx, prompt)
}
