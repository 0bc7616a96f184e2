// Package logging provides a minimal logging interface and adapters for storymesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// every service uses for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StoryLogger with session/component scoping and generation helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "text", Output: os.Stderr})
//	eng := engine.New(deps, func(o *engine.Options) { o.Logger = logger })
package logging
