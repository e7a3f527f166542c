package actor

import (
	"errors"
	"fmt"
)

var (
	// Dispatch errors
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrHandlerFailure     = errors.New("handler failed")
	ErrActorStopped       = errors.New("actor stopped")

	// Behavior errors
	ErrInvalidBehavior        = errors.New("invalid behavior")
	ErrBehaviorNotRegistered  = errors.New("behavior not registered")
	ErrBehaviorAlreadyDefined = errors.New("behavior already registered")
)

// HandlerError wraps an error returned (or a panic raised) by a user handler.
// It matches ErrHandlerFailure via errors.Is and unwraps to the original error.
type HandlerError struct {
	Actor   string
	Message string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Message, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandlerFailure }
