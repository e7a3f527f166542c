package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// ActorRef is a location-transparent handle to an actor or a cluster group.
// Its operations behave the same whatever the placement.
type ActorRef struct {
	sys       *System
	id        string
	parent    *ActorRef
	placement placement.Config
	ep        transport.Endpoint
	report    func(*SendError)
	index     *sync.Map // where the ref is found by id
	log       *slog.Logger

	mu       sync.Mutex
	children map[string]*ActorRef
	stopped  bool

	stopOnce sync.Once
	stopErr  error
}

func (s *System) newRef(id string, parent *ActorRef, cfg placement.Config, ep transport.Endpoint, report func(*SendError), index *sync.Map) *ActorRef {
	r := &ActorRef{
		sys:       s,
		id:        id,
		parent:    parent,
		placement: cfg,
		ep:        ep,
		report:    report,
		index:     index,
		log:       s.log.With(slog.String("actor", id), slog.String("kind", string(ep.Kind()))),
		children:  make(map[string]*ActorRef),
	}
	index.Store(id, r)
	return r
}

func (r *ActorRef) ID() string                  { return r.id }
func (r *ActorRef) Placement() placement.Config { return r.placement }
func (r *ActorRef) Kind() transport.Kind        { return r.ep.Kind() }

// Parent returns nil for the root and for actors spawned by peers.
func (r *ActorRef) Parent() *ActorRef { return r.parent }

// PID returns the id of the process running the actor, or 0 for a group.
func (r *ActorRef) PID() int {
	switch ep := r.ep.(type) {
	case interface{ PID() int }:
		return ep.PID()
	case *placement.Group:
		return 0
	}
	return os.Getpid()
}

// Children returns a snapshot of the live children.
func (r *ActorRef) Children() []*ActorRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ActorRef, 0, len(r.children))
	for _, c := range r.children {
		out = append(out, c)
	}
	return out
}

// CreateChild starts a child running b with the given placement and returns
// once every member is live. Invalid behaviors and placements fail before
// anything is started.
func (r *ActorRef) CreateChild(ctx context.Context, b *actor.Behavior, opts ...placement.Option) (*ActorRef, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cfg := placement.New(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.createChild(ctx, gonanoid.Must(10), b, cfg)
}

func (r *ActorRef) createChild(ctx context.Context, id string, b *actor.Behavior, cfg placement.Config) (*ActorRef, error) {
	if err := r.sys.checkAlive(); err != nil {
		return nil, err
	}
	if r.isStopped() {
		return nil, actor.ErrActorStopped
	}

	// children of an actor hosted elsewhere are created in its process
	target := r.ep
	if g, ok := target.(*placement.Group); ok {
		target = g.Pick()
	}
	sp, remoteParent := target.(transport.Spawner)

	if remoteParent || cfg.Mode == placement.ModeForked || cfg.Mode == placement.ModeRemote {
		if err := r.sys.resolve(b); err != nil {
			return nil, err
		}
	}

	var (
		ep  transport.Endpoint
		err error
	)
	if remoteParent {
		ep, err = sp.Spawn(ctx, transport.SpawnRequest{ID: id, Behavior: b.Name(), Placement: cfg.Marshal()})
	} else {
		ep, err = r.sys.spawn(ctx, id, b, cfg, r.report)
	}
	if err != nil {
		r.log.Error("create child failed", slog.String("behavior", b.Name()), slog.Any("error", err))
		return nil, err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		_ = ep.Close(context.WithoutCancel(ctx))
		return nil, actor.ErrActorStopped
	}
	child := r.sys.newRef(id, r, cfg, ep, r.report, r.index)
	r.children[id] = child
	r.mu.Unlock()

	child.log.Debug("actor created",
		slog.String("parent", r.id),
		slog.String("behavior", b.Name()),
		slog.String("mode", string(cfg.Mode)),
		slog.Int("size", cfg.ClusterSize),
	)
	return child, nil
}

// Send delivers a fire-and-forget message. It returns once the message was
// handed to the mailbox or transport; handler failures are reported on
// [System.Errors].
func (r *ActorRef) Send(ctx context.Context, msgName string, payload any) error {
	if err := r.usable(); err != nil {
		return err
	}
	return actor.Tell(ctx, r.ep, msgName, payload)
}

// SendAndReceive delivers a message and waits for the reply, at most
// Config.RequestTimeout. On timeout the handler may still run.
func (r *ActorRef) SendAndReceive(ctx context.Context, msgName string, payload any) (actor.Result, error) {
	if err := r.usable(); err != nil {
		return actor.Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.sys.cfg.RequestTimeout)
	defer cancel()

	res, err := actor.Request(ctx, r.ep, msgName, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		return actor.Result{}, fmt.Errorf("%w: %q to %s: %w", ErrTimeout, msgName, r.id, err)
	}
	return res, err
}

// Ask is SendAndReceive with the reply decoded as OUT.
func Ask[OUT any](ctx context.Context, r *ActorRef, msgName string, payload any) (OUT, error) {
	res, err := r.SendAndReceive(ctx, msgName, payload)
	if err != nil {
		var zero OUT
		return zero, err
	}
	return actor.As[OUT](res)
}

// Stop stops the children first, then the actor itself, and releases the
// processes and connections behind it. Idempotent.
func (r *ActorRef) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { r.stopErr = r.stop(ctx) })
	return r.stopErr
}

func (r *ActorRef) stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	children := make([]*ActorRef, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	r.mu.Unlock()

	errs := stopAll(ctx, children)
	if err := r.ep.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop %s: %w", r.id, err))
	}

	r.index.CompareAndDelete(r.id, r)
	if r.parent != nil {
		r.parent.mu.Lock()
		delete(r.parent.children, r.id)
		r.parent.mu.Unlock()
	}
	r.log.Debug("actor stopped")
	return errors.Join(errs...)
}

// stopAll stops refs concurrently; one failure does not keep the others
// running.
func stopAll(ctx context.Context, refs []*ActorRef) []error {
	errs := make([]error, len(refs))
	var wg sync.WaitGroup
	for i, c := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Stop(ctx)
		}()
	}
	wg.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func (r *ActorRef) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *ActorRef) usable() error {
	if err := r.sys.checkAlive(); err != nil {
		return err
	}
	if r.isStopped() {
		return actor.ErrActorStopped
	}
	return nil
}
