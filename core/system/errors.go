package system

import (
	"errors"
	"fmt"
	"strings"

	"github.com/salespaulo/fvi-actor-system/core/transport"
)

var (
	// Lifecycle errors
	ErrSystemDestroyed  = errors.New("system destroyed")
	ErrAlreadyListening = errors.New("already listening on a different address")
	ErrTeardownFailure  = errors.New("teardown failed")

	// ErrTimeout is returned by SendAndReceive when no reply arrived in time.
	ErrTimeout = transport.ErrTimeout
)

// SendError reports a failed fire-and-forget message on [System.Errors].
type SendError struct {
	ActorID string
	Message string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %q to %s: %v", e.Message, e.ActorID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TeardownError aggregates every failure of a Destroy. It matches
// ErrTeardownFailure and each collected error via errors.Is.
type TeardownError struct {
	Errs []error
}

func (e *TeardownError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s (%d): %s", ErrTeardownFailure, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *TeardownError) Unwrap() []error { return e.Errs }

func (e *TeardownError) Is(target error) bool { return target == ErrTeardownFailure }
