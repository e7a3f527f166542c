package transport

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

func TestMain(m *testing.M) {
	if IsChild() {
		if err := ServeParent(context.Background(), newEchoHost(), slog.New(slog.NewTextHandler(os.Stderr, nil))); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestSpawnForked(t *testing.T) {
	ep, err := SpawnForked(t.Context(), ForkOptions{
		Args:     []string{"-test.run=^$"},
		ID:       "f1",
		Behavior: "echo",
	})
	require.NoError(t, err)
	require.Equal(t, KindForked, ep.Kind())
	require.NotEqual(t, os.Getpid(), ep.PID())

	res, err := actor.Request(t.Context(), ep, "echo", []int{1, 2, 3})
	require.NoError(t, err)
	out, err := actor.As[[]int](res)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)

	require.NoError(t, ep.Close(t.Context()))

	_, err = actor.Request(t.Context(), ep, "echo", nil)
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestSpawnForked_bad_executable(t *testing.T) {
	_, err := SpawnForked(t.Context(), ForkOptions{Path: "/nonexistent/fvi-actor", ID: "x", Behavior: "echo"})
	require.ErrorIs(t, err, ErrSpawnFailure)
}

func TestSpawnForked_child_stdout_is_not_the_frame_stream(t *testing.T) {
	ep, err := SpawnForked(t.Context(), ForkOptions{
		Args:     []string{"-test.run=^$"},
		ID:       "printer",
		Behavior: "echo",
	})
	require.NoError(t, err)
	defer ep.Close(context.Background())

	for _, payload := range []string{"first", "second"} {
		res, err := actor.Request(t.Context(), ep, "print", payload)
		require.NoError(t, err)
		out, err := actor.As[string](res)
		require.NoError(t, err)
		require.Equal(t, payload, out)
	}
	require.NoError(t, actor.Tell(t.Context(), ep, "print", "told"))

	res, err := actor.Request(t.Context(), ep, "echo", 7)
	require.NoError(t, err)
	n, err := actor.As[int](res)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}
