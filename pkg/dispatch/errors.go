package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying event rejections and failures.
var (
	// ErrIntegrity is returned when the client's fingerprint does not
	// match the committed state. The handler is not invoked; the client
	// must resynchronize the component before retrying.
	ErrIntegrity = errors.New("dispatch: state fingerprint mismatch")

	// ErrBadParams is returned when event parameters cannot be coerced
	// into the handler's declared shape. Nothing is mutated.
	ErrBadParams = errors.New("dispatch: invalid parameters")

	// ErrUnknownHandler is returned when the component type has no such
	// handler. Nothing is mutated.
	ErrUnknownHandler = errors.New("dispatch: unknown handler")

	// ErrEmitCycle is returned when emitted application events keep
	// re-triggering each other past the generation cap.
	ErrEmitCycle = errors.New("dispatch: possibly cyclic event handlers")
)

// HandlerError wraps a failure (error or panic) raised by a component
// handler. The component's committed state is unchanged when this is
// returned.
type HandlerError struct {
	ComponentID string
	Type        string
	Handler     string
	Err         error
	Panic       any
	Stack       []byte
}

// Error returns the failure with its component context.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: panic in %s.%s (%s): %v", e.Type, e.Handler, e.ComponentID, e.Panic)
	}
	return fmt.Sprintf("dispatch: %s.%s (%s): %v", e.Type, e.Handler, e.ComponentID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *HandlerError) Unwrap() error { return e.Err }
