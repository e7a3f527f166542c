package transport

import (
	"context"
	"fmt"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

// MemoryEndpoint runs the actor in the caller's process on a goroutine.
// Payloads are passed by reference.
type MemoryEndpoint struct {
	inst *actor.Instance
}

// NewMemoryEndpoint starts an instance of b.
func NewMemoryEndpoint(b *actor.Behavior, opt actor.Options) (*MemoryEndpoint, error) {
	opt.LockOSThread = false
	inst, err := actor.New(b, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}
	return &MemoryEndpoint{inst: inst}, nil
}

func (m *MemoryEndpoint) ID() string { return m.inst.ID() }
func (m *MemoryEndpoint) Kind() Kind { return KindInMemory }

func (m *MemoryEndpoint) Send(ctx context.Context, env actor.Envelope) error {
	return m.inst.Send(ctx, env)
}

func (m *MemoryEndpoint) Close(context.Context) error {
	m.inst.Stop()
	return nil
}

var _ Endpoint = (*MemoryEndpoint)(nil)
