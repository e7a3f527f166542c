package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

type point struct {
	X, Y int
}

var pointBehavior = actor.NewBehavior("point",
	actor.Handle("move", func(hc actor.HandlerCtx, p *point) (*point, error) {
		p.X++
		return p, nil
	}),
)

func TestMemoryEndpoint_shares_payload(t *testing.T) {
	ep, err := NewMemoryEndpoint(pointBehavior, actor.Options{ID: "m1"})
	require.NoError(t, err)
	defer ep.Close(t.Context())
	require.Equal(t, KindInMemory, ep.Kind())
	require.Equal(t, "m1", ep.ID())

	p := &point{X: 1}
	res, err := actor.Request(t.Context(), ep, "move", p)
	require.NoError(t, err)
	require.False(t, res.IsRaw())
	require.Equal(t, 2, p.X)
}

func TestThreadedEndpoint_copies_payload(t *testing.T) {
	ep, err := NewThreadedEndpoint(pointBehavior, actor.Options{ID: "t1"})
	require.NoError(t, err)
	require.Equal(t, KindThreaded, ep.Kind())

	p := &point{X: 1}
	res, err := actor.Request(t.Context(), ep, "move", p)
	require.NoError(t, err)
	require.True(t, res.IsRaw())
	require.Equal(t, 1, p.X)

	out, err := actor.As[point](res)
	require.NoError(t, err)
	require.Equal(t, point{X: 2}, out)

	require.NoError(t, ep.Close(t.Context()))
	_, err = actor.Request(t.Context(), ep, "move", p)
	require.ErrorIs(t, err, actor.ErrActorStopped)
}

func TestEndpoints_invalid_behavior(t *testing.T) {
	_, err := NewMemoryEndpoint(actor.NewBehavior("empty"), actor.Options{})
	require.ErrorIs(t, err, ErrSpawnFailure)
	require.ErrorIs(t, err, actor.ErrInvalidBehavior)
}
