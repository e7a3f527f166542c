package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

// ThreadedEndpoint runs the actor on a dedicated OS thread of the caller's
// process. Messages and replies are copied through their JSON form, so the
// actor never shares memory with its senders.
type ThreadedEndpoint struct {
	inst *actor.Instance
}

// NewThreadedEndpoint starts an instance of b pinned to its own OS thread.
func NewThreadedEndpoint(b *actor.Behavior, opt actor.Options) (*ThreadedEndpoint, error) {
	opt.LockOSThread = true
	inst, err := actor.New(b, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}
	return &ThreadedEndpoint{inst: inst}, nil
}

func (t *ThreadedEndpoint) ID() string { return t.inst.ID() }
func (t *ThreadedEndpoint) Kind() Kind { return KindThreaded }

func (t *ThreadedEndpoint) Send(ctx context.Context, env actor.Envelope) error {
	data, err := EncodePayload(env.Payload)
	if err != nil {
		return err
	}
	if data != nil {
		env.Payload = json.RawMessage(data)
	}

	reply := env.Reply
	if reply == nil {
		return t.inst.Send(ctx, env)
	}

	inner := make(chan actor.Reply, 1)
	env.Reply = inner
	if err := t.inst.Send(ctx, env); err != nil {
		return err
	}
	// the instance replies to every accepted request, even when stopping
	go func() {
		r := <-inner
		if r.Error == nil {
			raw, err := r.Result.Raw()
			if err != nil {
				r = actor.Reply{Error: &actor.HandlerError{Actor: t.inst.ID(), Message: env.Name, Err: err}}
			} else {
				r.Result = actor.RawResult(raw)
			}
		}
		reply <- r
	}()
	return nil
}

func (t *ThreadedEndpoint) Close(context.Context) error {
	t.inst.Stop()
	return nil
}

var _ Endpoint = (*ThreadedEndpoint)(nil)
