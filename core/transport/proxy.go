package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

// ProxyOptions configures a ProxyEndpoint.
type ProxyOptions struct {
	ID      string
	Kind    Kind
	Conn    Conn
	PID     int    // process hosting the actor
	Node    string // host address, empty for forked children
	Log     *slog.Logger
	Metrics TransportMetrics
	// Release frees what the endpoint owns (a process, a pooled
	// connection). It runs once, after the stop frame was sent.
	Release func(ctx context.Context) error
}

// ProxyEndpoint forwards envelopes to an actor hosted behind a Conn.
// Payloads and replies are JSON encoded.
type ProxyEndpoint struct {
	id      string
	kind    Kind
	conn    Conn
	pid     int
	node    string
	log     *slog.Logger
	metrics TransportMetrics
	release func(ctx context.Context) error

	closeOnce sync.Once
	closeErr  error
}

func NewProxyEndpoint(opt ProxyOptions) *ProxyEndpoint {
	if opt.Log == nil {
		opt.Log = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NopTransportMetrics()
	}
	return &ProxyEndpoint{
		id:      opt.ID,
		kind:    opt.Kind,
		conn:    opt.Conn,
		pid:     opt.PID,
		node:    opt.Node,
		log:     opt.Log.With(slog.String("actor", opt.ID), slog.String("kind", string(opt.Kind))),
		metrics: opt.Metrics,
		release: opt.Release,
	}
}

func (p *ProxyEndpoint) ID() string   { return p.id }
func (p *ProxyEndpoint) Kind() Kind   { return p.kind }
func (p *ProxyEndpoint) PID() int     { return p.pid }
func (p *ProxyEndpoint) Node() string { return p.node }

func (p *ProxyEndpoint) Send(ctx context.Context, env actor.Envelope) error {
	data, err := EncodePayload(env.Payload)
	if err != nil {
		return err
	}
	f := Frame{Kind: FrameDeliver, Actor: p.id, Name: env.Name, Data: data}

	if env.Reply == nil {
		err := p.conn.Notify(ctx, f)
		p.metrics.NotifyCompleted(string(p.kind), err == nil)
		p.recordError(err)
		return err
	}

	timer := p.metrics.RoundTripDuration(string(p.kind))
	reply := env.Reply
	err = p.conn.Submit(ctx, f, func(r Frame, err error) {
		timer.ObserveDuration()
		if err == nil && r.Err != nil {
			err = r.Err.Err()
		}
		p.metrics.RequestCompleted(string(p.kind), err == nil)
		if err != nil {
			p.recordError(err)
			reply <- actor.Reply{Error: err}
			return
		}
		reply <- actor.Reply{Result: actor.RawResult(r.Data)}
	})
	if err != nil {
		p.recordError(err)
	}
	return err
}

// Spawn creates a child actor in the process hosting this endpoint.
// The child shares the connection; it owns nothing to release.
func (p *ProxyEndpoint) Spawn(ctx context.Context, req SpawnRequest) (Endpoint, error) {
	r, err := RoundTrip(ctx, p.conn, Frame{
		Kind:      FrameSpawn,
		Actor:     req.ID,
		Parent:    p.id,
		Behavior:  req.Behavior,
		Placement: req.Placement,
	})
	if err != nil {
		p.metrics.TransportError("spawn")
		return nil, fmt.Errorf("%w: %s in %s: %w", ErrSpawnFailure, req.Behavior, p.kind, err)
	}
	return NewProxyEndpoint(ProxyOptions{
		ID:      req.ID,
		Kind:    p.kind,
		Conn:    p.conn,
		PID:     r.PID,
		Node:    p.node,
		Log:     p.log,
		Metrics: p.metrics,
	}), nil
}

// Close stops the remote actor and releases the endpoint. A host that is
// already gone counts as stopped.
func (p *ProxyEndpoint) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		var errs []error
		if _, err := RoundTrip(ctx, p.conn, Frame{Kind: FrameStop, Actor: p.id}); err != nil &&
			!errors.Is(err, ErrTransportClosed) && !errors.Is(err, ErrUnknownActor) {
			errs = append(errs, fmt.Errorf("stop %s: %w", p.id, err))
		}
		if p.release != nil {
			if err := p.release(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
		p.log.Debug("endpoint closed", slog.Any("error", p.closeErr))
	})
	return p.closeErr
}

func (p *ProxyEndpoint) recordError(err error) {
	if l := errorLabel(err); l != "" {
		p.metrics.TransportError(l)
	}
}

// EncodePayload returns the JSON form of a message payload.
func EncodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload %T: %w", payload, err)
	}
	return data, nil
}

var (
	_ Endpoint = (*ProxyEndpoint)(nil)
	_ Spawner  = (*ProxyEndpoint)(nil)
)
