package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/logging"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// State of a System.
type State int

const (
	StateCreated State = iota
	StateListening
	StateRunning
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// rootBehavior backs the root actor of every system.
var rootBehavior = actor.NewBehavior("$root",
	actor.Handle("ping", func(hc actor.HandlerCtx, _ any) (string, error) {
		return "pong", nil
	}),
)

// System owns one actor tree, the optional listener accepting remote peers
// and every process, thread and connection started on behalf of its actors.
// Multiple systems in one process are independent.
type System struct {
	id       string
	cfg      Config
	opts     options
	base     *slog.Logger // no category: actors add their own
	log      *slog.Logger
	trLog    *slog.Logger
	registry *actor.Registry
	pool     *transport.Pool
	errs     chan error

	ctx    context.Context
	cancel context.CancelFunc

	// every live ref of the local tree, by id
	refs sync.Map

	mu         sync.Mutex
	state      State
	root       *ActorRef
	host       *Host
	listeners  []transport.Listener
	listenAddr string

	destroyOnce sync.Once
	destroyErr  error
}

// New creates a System. A nil-valued cfg uses the runtime defaults.
func New(cfg Config, opts ...Option) *System {
	cfg = cfg.withDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		log, err := logging.New(os.Stderr, cfg.Log)
		if err != nil {
			log = slog.Default()
			log.Warn("invalid log config, using defaults", slog.Any("error", err))
		}
		o.log = log
	}
	if o.registry == nil {
		o.registry = actor.DefaultRegistry
	}
	if o.actorMetrics == nil {
		o.actorMetrics = actor.NopActorMetrics()
	}
	if o.transportMetrics == nil {
		o.transportMetrics = transport.NopTransportMetrics()
	}
	if o.errorBuffer <= 0 {
		o.errorBuffer = DefaultErrorBuffer
	}

	id := gonanoid.Must(8)
	base := o.log.With(slog.String("system", id))
	log := logging.Category(base, logging.SystemCategory)
	trLog := logging.Category(base, logging.TransportCategory)
	ctx, cancel := context.WithCancel(context.Background())

	s := &System{
		id:       id,
		cfg:      cfg,
		opts:     o,
		base:     base,
		log:      log,
		trLog:    trLog,
		registry: o.registry,
		errs:     make(chan error, o.errorBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.pool = transport.NewPool(transport.PoolOptions{
		Dialer: transport.SchemeDialer{
			Default: transport.TCPDialer{Log: trLog, Metrics: o.transportMetrics},
			Schemes: o.dialers,
		},
		ConnectTimeout: cfg.ConnectTimeout,
		OnFault:        func(_ string, f transport.Frame) { s.routeFault(f) },
		Log:            trLog,
		Metrics:        o.transportMetrics,
	})
	log.Debug("system created", slog.Any("log", logging.Categories(cfg.Log)))
	return s
}

func (s *System) ID() string     { return s.id }
func (s *System) Config() Config { return s.cfg }

func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors reports failures of fire-and-forget messages as *SendError. When
// nobody drains it, further errors are logged and dropped.
func (s *System) Errors() <-chan error { return s.errs }

// RootActor returns the in-memory root of the actor tree, creating it on
// first use.
func (s *System) RootActor(ctx context.Context) (*ActorRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateDestroying {
		return nil, ErrSystemDestroyed
	}
	if s.root != nil {
		return s.root, nil
	}

	id := "root-" + s.id
	ep, err := transport.NewMemoryEndpoint(rootBehavior, s.actorOptions(id, s.report))
	if err != nil {
		return nil, err
	}
	s.root = s.newRef(id, nil, placement.New(), ep, s.report, &s.refs)
	s.state = StateRunning
	return s.root, nil
}

// Listen accepts remote peers on Config.ListenAddr and on every listener
// added with WithListener.
func (s *System) Listen(ctx context.Context) error {
	return s.ListenOn(ctx, s.cfg.ListenAddr)
}

// ListenOn is Listen on addr. Calling it again with the same address is a
// no-op; a different address fails with ErrAlreadyListening.
func (s *System) ListenOn(ctx context.Context, addr string) error {
	addr = transport.NormalizeAddr(addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state >= StateDestroying:
		return ErrSystemDestroyed
	case s.listenAddr == addr:
		return nil
	case s.listenAddr != "":
		return fmt.Errorf("%w: %s, requested %s", ErrAlreadyListening, s.listenAddr, addr)
	}

	host := newHost(s, s.cfg.RemoteHostMode)
	listeners := append([]transport.Listener{
		transport.NewTCPListener(addr, s.trLog, s.opts.transportMetrics),
	}, s.opts.listeners...)

	for i, l := range listeners {
		if err := l.Start(s.ctx, host); err != nil {
			for _, started := range listeners[:i] {
				_ = started.Close()
			}
			return fmt.Errorf("listen: %w", err)
		}
	}

	s.host = host
	s.listeners = listeners
	s.listenAddr = addr
	if s.state == StateCreated {
		s.state = StateListening
	}
	return nil
}

// Addr returns the bound address of the TCP listener, or "" when not
// listening.
func (s *System) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr()
}

// Destroy stops accepting peers, stops every actor, reaps every process and
// closes every connection. All failures are collected in one
// *TeardownError. Further calls wait for the first one and return nil.
func (s *System) Destroy(ctx context.Context) error {
	first := false
	s.destroyOnce.Do(func() {
		first = true
		s.destroyErr = s.destroy(ctx)
	})
	if !first {
		return nil
	}
	return s.destroyErr
}

func (s *System) destroy(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateDestroying
	listeners, root := s.listeners, s.root
	s.listeners = nil
	s.mu.Unlock()

	s.log.Debug("destroying system")
	var errs []error

	// no new peers; closing the sessions stops the actors they spawned
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener %s: %w", l.Addr(), err))
		}
	}

	if root != nil {
		if err := root.Stop(ctx); err != nil {
			errs = append(errs, flatten(err)...)
		}
	}

	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host != nil {
		errs = append(errs, host.stopAll(ctx)...)
	}

	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connections: %w", err))
	}
	s.cancel()

	s.mu.Lock()
	s.state = StateDestroyed
	s.mu.Unlock()

	if len(errs) > 0 {
		s.log.Error("system destroyed with errors", slog.Int("errors", len(errs)))
		return &TeardownError{Errs: errs}
	}
	s.log.Debug("system destroyed")
	return nil
}

// flatten unpacks errors.Join results so a TeardownError lists every
// failure once.
func flatten(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func (s *System) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateDestroying {
		return ErrSystemDestroyed
	}
	return nil
}

// report delivers a fire-and-forget failure to the Errors channel.
func (s *System) report(e *SendError) {
	select {
	case s.errs <- e:
	default:
		s.log.Warn("error channel full, dropping", slog.String("actor", e.ActorID), slog.Any("error", e))
	}
}

// routeFault hands a fault frame received on a shared connection to the
// owner of the actor. Group members carry the group id before '#'.
func (s *System) routeFault(f transport.Frame) {
	e := faultError(f)
	id, _, _ := strings.Cut(f.Actor, "#")
	for _, key := range []string{f.Actor, id} {
		if r, ok := s.lookup(key); ok {
			r.report(e)
			return
		}
		if h := s.currentHost(); h != nil {
			if r, ok := h.hosted(key); ok {
				r.report(e)
				return
			}
		}
	}
	s.report(e)
}

func faultError(f transport.Frame) *SendError {
	err := f.Err.Err()
	if err == nil {
		err = errors.New("unknown failure")
	}
	return &SendError{ActorID: f.Actor, Message: f.Name, Err: err}
}

func (s *System) currentHost() *Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

func (s *System) lookup(id string) (*ActorRef, bool) {
	v, ok := s.refs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*ActorRef), true
}

func (s *System) actorOptions(id string, report func(*SendError)) actor.Options {
	return actor.Options{
		ID:          id,
		MailboxSize: s.cfg.MailboxSize,
		Context:     s.ctx,
		Logger:      s.base,
		Metrics:     s.opts.actorMetrics,
		OnFailure: func(env actor.Envelope, err error) {
			report(&SendError{ActorID: id, Message: env.Name, Err: err})
		},
	}
}

// resolve checks that b can be started in another process, where it is
// looked up by name.
func (s *System) resolve(b *actor.Behavior) error {
	if _, ok := s.registry.Lookup(b.Name()); !ok {
		return fmt.Errorf("%w: %q", actor.ErrBehaviorNotRegistered, b.Name())
	}
	return nil
}

// spawn starts the members of a new actor in this process or on the
// configured hosts.
func (s *System) spawn(ctx context.Context, id string, b *actor.Behavior, cfg placement.Config, report func(*SendError)) (transport.Endpoint, error) {
	return placement.Build(ctx, id, cfg, s.log, func(ctx context.Context, i int, host string) (transport.Endpoint, error) {
		memberID := id
		if !cfg.Single() {
			memberID = fmt.Sprintf("%s#%d", id, i)
		}

		switch cfg.Mode {
		case placement.ModeInMemory:
			return transport.NewMemoryEndpoint(b, s.actorOptions(memberID, report))
		case placement.ModeThreaded:
			return transport.NewThreadedEndpoint(b, s.actorOptions(memberID, report))
		case placement.ModeForked:
			return transport.SpawnForked(ctx, transport.ForkOptions{
				Path:         s.opts.executable,
				Args:         s.opts.executableArgs,
				Env:          s.cfg.env(),
				ID:           memberID,
				Behavior:     b.Name(),
				StartTimeout: s.cfg.SpawnTimeout,
				// the child's connection is exclusive to this member
				OnFault: func(f transport.Frame) { report(faultError(f)) },
				Log:     s.trLog,
				Metrics: s.opts.transportMetrics,
			})
		case placement.ModeRemote:
			return s.spawnRemote(ctx, memberID, b, host)
		}
		return nil, fmt.Errorf("%w: unknown mode %q", placement.ErrInvalidPlacementConfig, cfg.Mode)
	})
}

func (s *System) spawnRemote(ctx context.Context, id string, b *actor.Behavior, host string) (transport.Endpoint, error) {
	conn, _, release, err := s.pool.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SpawnTimeout)
	defer cancel()

	r, err := transport.RoundTrip(ctx, conn, transport.Frame{
		Kind:     transport.FrameSpawn,
		Actor:    id,
		Behavior: b.Name(),
	})
	if err != nil {
		_ = release(ctx)
		return nil, fmt.Errorf("%w: %s on %s: %w", transport.ErrSpawnFailure, b.Name(), host, err)
	}

	return transport.NewProxyEndpoint(transport.ProxyOptions{
		ID:      id,
		Kind:    transport.KindRemote,
		Conn:    conn,
		PID:     r.PID,
		Node:    host,
		Log:     s.trLog,
		Metrics: s.opts.transportMetrics,
		Release: release,
	}), nil
}
