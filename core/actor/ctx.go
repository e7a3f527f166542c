package actor

import (
	"context"
	"log/slog"
)

type (
	// HandlerCtx is passed to every handler invocation.
	HandlerCtx interface {
		context.Context
		Log() *slog.Logger
		// Self returns the id of the instance running the handler.
		Self() string
		// Schedule runs f outside of the mailbox. The instance waits for
		// scheduled work before it reports itself stopped.
		Schedule(f func())
	}
)

type handlerCtx struct {
	context.Context
	log   *slog.Logger
	self  string
	sched Scheduler
}

func (hc *handlerCtx) Schedule(f func()) { hc.sched.Schedule(f) }
func (hc *handlerCtx) Log() *slog.Logger { return hc.log }
func (hc *handlerCtx) Self() string      { return hc.self }

var _ HandlerCtx = (*handlerCtx)(nil)
