package actor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/salespaulo/fvi-actor-system/core/logging"
)

type (
	OnPanic   func(recovered any, stack []byte, env Envelope)
	OnFailure func(env Envelope, err error)

	// Reply carries the outcome of a handler invocation.
	Reply struct {
		Result Result
		Error  error
	}

	// Envelope is one message in a mailbox.
	Envelope struct {
		Name    string     // message name used for handler dispatch
		Payload any        // Go value, or json.RawMessage after a serializing hop
		Reply   chan Reply // nil for fire-and-forget; must be buffered (cap >= 1)
	}

	// Sender is anything that accepts envelopes: an [Instance] or a
	// transport endpoint adapter.
	Sender interface {
		Send(ctx context.Context, env Envelope) error
	}
)

type Options struct {
	ID          string
	MailboxSize int
	Context     context.Context
	Logger      *slog.Logger
	OnPanic     OnPanic
	// OnFailure receives errors of fire-and-forget messages.
	OnFailure OnFailure
	// MaxConcurrentTasks caps the number of tasks run via HandlerCtx.Schedule.
	// If 0 or negative, 32 is used.
	MaxConcurrentTasks int
	// LockOSThread pins the dispatch goroutine to a dedicated OS thread for
	// the lifetime of the instance.
	LockOSThread bool
	Metrics      ActorMetrics
}

// Instance is a single actor: one mailbox, one dispatch goroutine.
// Messages are handled one at a time in arrival order.
type Instance struct {
	id       string
	log      *slog.Logger
	behavior *Behavior
	metrics  ActorMetrics

	mailbox chan Envelope

	stop chan struct{} // closed first: unblocks pending senders
	quit chan struct{} // closed once no sender can enqueue anymore
	done chan struct{}

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once

	cancel    context.CancelFunc
	onPanic   OnPanic
	onFailure OnFailure
}

// New starts an instance of b. Init functions of the behavior run before New
// returns; an init failure stops the instance and is returned.
func New(b *Behavior, opt Options) (*Instance, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if opt.ID == "" {
		opt.ID = gonanoid.Must(10)
	}
	if opt.MailboxSize <= 0 {
		opt.MailboxSize = 1024
	}
	if opt.Context == nil {
		opt.Context = context.Background()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaxConcurrentTasks <= 0 {
		opt.MaxConcurrentTasks = 32
	}
	if opt.Metrics == nil {
		opt.Metrics = NopActorMetrics()
	}

	log := opt.Logger.With(
		slog.String(logging.CategoryKey, b.Name()),
		slog.String("actor", opt.ID),
	)

	if opt.OnPanic == nil {
		opt.OnPanic = func(recovered any, stack []byte, env Envelope) {
			log.Error("actor panicked", slog.Any("recovered", recovered), slog.String("stack", string(stack)), slog.String("msg", env.Name))
		}
	}
	if opt.OnFailure == nil {
		opt.OnFailure = func(env Envelope, err error) {
			log.Error("message failed", slog.String("msg", env.Name), slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithCancel(opt.Context)

	a := &Instance{
		id:        opt.ID,
		log:       log,
		behavior:  b,
		metrics:   opt.Metrics,
		mailbox:   make(chan Envelope, opt.MailboxSize),
		stop:      make(chan struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		cancel:    cancel,
		onPanic:   opt.OnPanic,
		onFailure: opt.OnFailure,
	}

	hc := &handlerCtx{
		Context: ctx,
		log:     log,
		self:    opt.ID,
		sched:   NewScheduler(ctx, opt.MaxConcurrentTasks, b.Name(), log, opt.Metrics),
	}

	started := make(chan error, 1)
	go a.loop(hc, opt.LockOSThread, started)
	if err := <-started; err != nil {
		a.Stop()
		return nil, err
	}

	// the owning context ends the instance as well
	context.AfterFunc(opt.Context, a.Stop)

	return a, nil
}

func (a *Instance) ID() string { return a.id }

func (a *Instance) Behavior() *Behavior { return a.behavior }

// Done is closed when the instance has stopped.
func (a *Instance) Done() <-chan struct{} { return a.done }

// Send enqueues env. It blocks only while the mailbox is full.
func (a *Instance) Send(ctx context.Context, env Envelope) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrActorStopped
	}
	// counted before the hand-off so the dispatch loop never sees it negative
	a.metrics.MessageEnqueued(a.behavior.Name())
	select {
	case <-ctx.Done():
		a.metrics.MessageDequeued(a.behavior.Name())
		return fmt.Errorf("send failed: %w", ctx.Err())
	case <-a.stop:
		a.metrics.MessageDequeued(a.behavior.Name())
		return ErrActorStopped
	case a.mailbox <- env:
		return nil
	}
}

// Stop refuses new messages, lets the running handler finish, fails queued
// requests with ErrActorStopped and waits for scheduled tasks. Idempotent.
func (a *Instance) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		// wait for in-flight Send calls to leave before draining
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.quit)
	})
	<-a.done
}

// ---- internals ----

func (a *Instance) loop(hc *handlerCtx, lockThread bool, started chan<- error) {
	defer close(a.done)

	if lockThread {
		// never unlocked: the thread exits together with the instance
		runtime.LockOSThread()
	}

	for _, init := range a.behavior.inits {
		if err := init(hc); err != nil {
			started <- fmt.Errorf("failed to init actor: %w", err)
			a.shutdown(hc)
			return
		}
	}
	started <- nil
	a.metrics.InstanceStarted(a.behavior.Name())
	defer a.metrics.InstanceStopped(a.behavior.Name())

	for {
		// stop has priority over queued work
		select {
		case <-a.quit:
			a.shutdown(hc)
			return
		default:
		}

		select {
		case <-a.quit:
			a.shutdown(hc)
			return
		case env := <-a.mailbox:
			a.metrics.MessageDequeued(a.behavior.Name())
			a.dispatch(hc, env)
		}
	}
}

func (a *Instance) shutdown(hc *handlerCtx) {
	<-a.quit
drain:
	for {
		select {
		case env := <-a.mailbox:
			a.metrics.MessageDequeued(a.behavior.Name())
			if env.Reply != nil {
				env.Reply <- Reply{Error: ErrActorStopped}
			}
		default:
			break drain
		}
	}
	a.cancel()
	hc.sched.Wait()
	a.log.Debug("actor stopped")
}

func (a *Instance) dispatch(hc *handlerCtx, env Envelope) {
	timer := a.metrics.MessageDuration(a.behavior.Name(), env.Name)
	res, err := a.invoke(hc, env)
	timer.ObserveDuration()
	a.metrics.MessageProcessed(a.behavior.Name(), env.Name, err == nil)

	if env.Reply != nil {
		env.Reply <- Reply{Result: res, Error: err}
		return
	}
	if err != nil {
		a.onFailure(env, err)
	}
}

func (a *Instance) invoke(hc *handlerCtx, env Envelope) (res Result, err error) {
	h, ok := a.behavior.handler(env.Name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMessageKind, env.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			a.metrics.MessagePanic(a.behavior.Name(), env.Name)
			a.onPanic(r, debug.Stack(), env)
			// containment: keep running
			res, err = Result{}, &HandlerError{Actor: a.id, Message: env.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, herr := h(hc, env.Payload)
	if herr != nil {
		return Result{}, &HandlerError{Actor: a.id, Message: env.Name, Err: herr}
	}
	return ValueResult(v), nil
}

// Request delivers a message and waits for the reply.
func Request(ctx context.Context, s Sender, msgName string, payload any) (Result, error) {
	replyCh := make(chan Reply, 1)

	if err := s.Send(ctx, Envelope{Name: msgName, Payload: payload, Reply: replyCh}); err != nil {
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case reply := <-replyCh:
		return reply.Result, reply.Error
	}
}

// Tell delivers a fire-and-forget message.
func Tell(ctx context.Context, s Sender, msgName string, payload any) error {
	return s.Send(ctx, Envelope{Name: msgName, Payload: payload})
}
