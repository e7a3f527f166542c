package system

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// Host serves the frames of peers: it spawns actors on their behalf,
// delivers their messages and stops what a session spawned when the
// session ends.
type Host struct {
	sys         *System
	defaultMode placement.Mode
	log         *slog.Logger
	metrics     transport.TransportMetrics

	// hosted refs, by id
	actors sync.Map

	mu       sync.Mutex
	sessions map[string][]*ActorRef
}

func newHost(s *System, defaultMode placement.Mode) *Host {
	return &Host{
		sys:         s,
		defaultMode: defaultMode,
		log:         s.log.With(slog.String("component", "host")),
		metrics:     s.opts.transportMetrics,
		sessions:    make(map[string][]*ActorRef),
	}
}

func (h *Host) HandleFrame(ctx context.Context, sess transport.Session, f transport.Frame) {
	timer := h.metrics.FrameDuration(string(f.Kind))
	defer timer.ObserveDuration()

	var err error
	switch f.Kind {
	case transport.FrameHello:
		err = sess.Reply(transport.Frame{Kind: transport.FrameReply, ID: f.ID, PID: os.Getpid(), Node: h.sys.id})
	case transport.FrameSpawn:
		err = h.handleSpawn(ctx, sess, f)
	case transport.FrameDeliver:
		err = h.handleDeliver(ctx, sess, f)
	case transport.FrameStop:
		err = h.handleStop(ctx, sess, f)
	default:
		err = fmt.Errorf("%w: %q", transport.ErrUnexpectedFrame, f.Kind)
		if f.ID != 0 {
			_ = sess.Reply(f.ReplyTo().WithError(err))
		}
	}
	h.metrics.FrameHandled(string(f.Kind), err == nil)
	if err != nil {
		h.log.Debug("frame failed", slog.String("kind", string(f.Kind)), slog.String("actor", f.Actor), slog.Any("error", err))
	}
}

func (h *Host) handleSpawn(ctx context.Context, sess transport.Session, f transport.Frame) error {
	ref, err := h.spawn(ctx, sess, f)
	reply := f.ReplyTo()
	if err != nil {
		reply = reply.WithError(err)
	} else {
		reply.PID = ref.PID()
	}
	if rerr := sess.Reply(reply); rerr != nil && ref != nil {
		// the peer is gone; its session cleanup will not see this ref
		_ = ref.Stop(context.WithoutCancel(ctx))
		return rerr
	}
	return err
}

func (h *Host) spawn(ctx context.Context, sess transport.Session, f transport.Frame) (*ActorRef, error) {
	b, ok := h.sys.registry.Lookup(f.Behavior)
	if !ok {
		return nil, fmt.Errorf("%w: %q", actor.ErrBehaviorNotRegistered, f.Behavior)
	}

	if f.Parent != "" {
		parent, ok := h.hosted(f.Parent)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", transport.ErrUnknownActor, f.Parent)
		}
		cfg, err := placement.Unmarshal(f.Placement, placement.Config{})
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			return nil, err
		}
		return parent.createChild(ctx, f.Actor, b, cfg)
	}

	if err := h.sys.checkAlive(); err != nil {
		return nil, err
	}
	if _, exists := h.actors.Load(f.Actor); exists {
		return nil, fmt.Errorf("%w: actor %s already exists", transport.ErrSpawnFailure, f.Actor)
	}
	cfg, err := placement.Unmarshal(f.Placement, placement.Config{Mode: h.defaultMode})
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}

	report := func(e *SendError) {
		fault := transport.Frame{Kind: transport.FrameFault, Actor: e.ActorID, Name: e.Message}.WithError(e.Err)
		if err := sess.Reply(fault); err != nil {
			h.log.Warn("fault not delivered", slog.String("actor", e.ActorID), slog.Any("error", e.Err))
		}
	}
	ep, err := h.sys.spawn(ctx, f.Actor, b, cfg, report)
	if err != nil {
		return nil, err
	}
	ref := h.sys.newRef(f.Actor, nil, cfg, ep, report, &h.actors)

	h.mu.Lock()
	h.sessions[sess.ID()] = append(h.sessions[sess.ID()], ref)
	h.mu.Unlock()

	ref.log.Debug("hosted actor created", slog.String("session", sess.ID()), slog.String("behavior", b.Name()))
	return ref, nil
}

func (h *Host) handleDeliver(ctx context.Context, sess transport.Session, f transport.Frame) error {
	ref, ok := h.hosted(f.Actor)
	if !ok {
		return h.fail(sess, f, fmt.Errorf("%w: %s", transport.ErrUnknownActor, f.Actor))
	}

	env := actor.Envelope{Name: f.Name}
	if len(f.Data) > 0 {
		env.Payload = json.RawMessage(f.Data)
	}
	if f.NoReply {
		if err := ref.ep.Send(ctx, env); err != nil {
			return h.fail(sess, f, err)
		}
		return nil
	}

	replyCh := make(chan actor.Reply, 1)
	env.Reply = replyCh
	if err := ref.ep.Send(ctx, env); err != nil {
		return h.fail(sess, f, err)
	}

	// replies are awaited off the frame loop so the next message of this
	// actor can be enqueued
	go func() {
		r := <-replyCh
		reply := f.ReplyTo()
		if r.Error == nil {
			data, err := r.Result.Raw()
			if err != nil {
				r.Error = &actor.HandlerError{Actor: f.Actor, Message: f.Name, Err: err}
			}
			reply.Data = data
		}
		if r.Error != nil {
			reply = reply.WithError(r.Error)
		}
		if err := sess.Reply(reply); err != nil {
			h.log.Debug("reply not delivered", slog.String("actor", f.Actor), slog.Any("error", err))
		}
	}()
	return nil
}

func (h *Host) handleStop(ctx context.Context, sess transport.Session, f transport.Frame) error {
	ref, ok := h.hosted(f.Actor)
	if !ok {
		return h.fail(sess, f, fmt.Errorf("%w: %s", transport.ErrUnknownActor, f.Actor))
	}
	err := ref.Stop(ctx)
	h.forget(sess.ID(), ref)

	reply := f.ReplyTo()
	if err != nil {
		reply = reply.WithError(err)
	}
	if rerr := sess.Reply(reply); rerr != nil {
		return rerr
	}
	return err
}

// SessionClosed stops every actor the session spawned.
func (h *Host) SessionClosed(sess transport.Session) {
	h.mu.Lock()
	refs := h.sessions[sess.ID()]
	delete(h.sessions, sess.ID())
	h.mu.Unlock()

	if len(refs) == 0 {
		return
	}
	for _, err := range stopAll(h.sys.ctx, refs) {
		h.log.Warn("stopping session actor failed", slog.String("session", sess.ID()), slog.Any("error", err))
	}
}

// fail answers a request with err, or pushes a fault for a fire-and-forget
// delivery.
func (h *Host) fail(sess transport.Session, f transport.Frame, err error) error {
	var out transport.Frame
	if f.NoReply {
		out = transport.Frame{Kind: transport.FrameFault, Actor: f.Actor, Name: f.Name}.WithError(err)
	} else {
		out = f.ReplyTo().WithError(err)
	}
	if rerr := sess.Reply(out); rerr != nil {
		h.log.Debug("error not delivered", slog.String("actor", f.Actor), slog.Any("error", rerr))
	}
	return err
}

func (h *Host) hosted(id string) (*ActorRef, bool) {
	v, ok := h.actors.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*ActorRef), true
}

// stopAll stops the hosted actors that outlived their sessions.
func (h *Host) stopAll(ctx context.Context) []error {
	var refs []*ActorRef
	h.actors.Range(func(_, v any) bool {
		if r := v.(*ActorRef); r.parent == nil {
			refs = append(refs, r)
		}
		return true
	})
	var errs []error
	for _, err := range stopAll(ctx, refs) {
		errs = append(errs, flatten(err)...)
	}
	return errs
}

func (h *Host) forget(sessionID string, ref *ActorRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	refs := h.sessions[sessionID]
	for i, r := range refs {
		if r == ref {
			h.sessions[sessionID] = append(refs[:i], refs[i+1:]...)
			return
		}
	}
}

var _ transport.FrameHandler = (*Host)(nil)
