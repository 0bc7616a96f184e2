package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/storymesh/significance"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into the engine without modifying its logic. They execute
// synchronously on the goroutine that reached the lifecycle point, so they
// should return quickly.
//
// Available callback types:
//   - SessionStart/SessionEnd: around the lifetime of a session
//   - BeforeTurn/AfterTurn: around one agent's generated reply
//   - AfterPipeline: when the significance pipeline finished a snapshot
//   - OnError: when a turn or background task failed
type CallbackType string

const (
	// CallbackSessionStart is triggered after a session was registered.
	CallbackSessionStart CallbackType = "session_start"

	// CallbackSessionEnd is triggered once when a session ends, before its
	// snapshot is handed to the pipeline.
	CallbackSessionEnd CallbackType = "session_end"

	// CallbackBeforeTurn is triggered after the speaker was selected and
	// before generation. Returning an error skips the turn.
	CallbackBeforeTurn CallbackType = "before_turn"

	// CallbackAfterTurn is triggered after a reply was committed.
	CallbackAfterTurn CallbackType = "after_turn"

	// CallbackAfterPipeline is triggered with the pipeline report of an ended
	// session.
	CallbackAfterPipeline CallbackType = "after_pipeline"

	// CallbackOnError is triggered when generation or a background task fails.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect at its lifecycle point.
// Fields that do not apply are zero.
type CallbackContext struct {
	SessionID string

	// Agent is the speaker of a turn.
	Agent string

	// Text is the committed reply of an AfterTurn callback.
	Text string

	// Report is set for AfterPipeline callbacks.
	Report *significance.Report

	// Err is set for OnError callbacks.
	Err error

	CallbackType CallbackType

	// Metadata is free-form data for custom callbacks.
	Metadata map[string]any
}

// Callback is a hook executed at one lifecycle point.
type Callback interface {
	Type() CallbackType

	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback of the given type backed by fn.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback to the list for its type. Callbacks of one
// type run in registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks of callbackType in order and stops at
// the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback writes a one-line description of every lifecycle event it
// is registered for.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a LoggingCallback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger != nil {
		message := fmt.Sprintf("[%s] Session: %s, Agent: %s", c.callbackType, callbackCtx.SessionID, callbackCtx.Agent)
		c.logger(message)
	}
	return nil
}
