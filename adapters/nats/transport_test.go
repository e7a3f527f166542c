package nats

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/actor"
	"github.com/salespaulo/fvi-actor-system/core/placement"
	"github.com/salespaulo/fvi-actor-system/core/system"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

func TestMain(m *testing.M) {
	system.Init()
	os.Exit(m.Run())
}

var echo = actor.MustRegister(actor.NewBehavior("nats.echo",
	actor.Handle("echo", func(hc actor.HandlerCtx, s string) (string, error) { return s, nil }),
	actor.Handle("self", func(hc actor.HandlerCtx, _ any) (string, error) { return hc.Self(), nil }),
))

func TestNats_Transport(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	connectNatsC := ReuseConnection(NewTestContainer(t))
	cfg := TransportConfig{Connect: connectNatsC, Log: slog.Default(), SubjectPrefix: "test"}

	t.Run("connect & close", func(t *testing.T) {
		nc, closeNc, err := connectNatsC()
		require.NoError(t, err)
		require.NotNil(t, nc)
		require.NoError(t, nc.Flush())
		closeNc()
	})

	t.Run("handshake", func(t *testing.T) {
		ln := NewListener(cfg, "node-a")
		require.NoError(t, ln.Start(t.Context(), handshakeOnly{}))
		defer ln.Close()
		require.Equal(t, "nats://node-a", ln.Addr())

		conn, hello, err := transport.Connect(t.Context(), NewDialer(cfg), ln.Addr(), time.Second, nil)
		require.NoError(t, err)
		require.Equal(t, os.Getpid(), hello.PID)
		require.NoError(t, conn.Close())
	})

	t.Run("no host", func(t *testing.T) {
		_, _, err := transport.Connect(t.Context(), NewDialer(cfg), "nats://nobody", 200*time.Millisecond, nil)
		require.ErrorIs(t, err, transport.ErrConnectFailure)
	})

	t.Run("remote actors", func(t *testing.T) {
		ln := NewListener(cfg, "node-b")
		server := system.New(system.Config{RemoteHostMode: placement.ModeThreaded}, system.WithListener(ln))
		defer server.Destroy(context.Background())
		require.NoError(t, server.ListenOn(t.Context(), "127.0.0.1:0"))

		client := system.New(system.Config{}, system.WithDialer(Scheme, NewDialer(cfg)))
		defer client.Destroy(context.Background())

		root, err := client.RootActor(t.Context())
		require.NoError(t, err)
		group, err := root.CreateChild(t.Context(), echo,
			placement.WithMode(placement.ModeRemote),
			placement.WithClusterSize(2),
			placement.WithHost(ln.Addr()),
		)
		require.NoError(t, err)

		msg, err := system.Ask[string](t.Context(), group, "echo", "over nats")
		require.NoError(t, err)
		require.Equal(t, "over nats", msg)

		selves := map[string]bool{}
		for range 2 {
			self, err := system.Ask[string](t.Context(), group, "self", nil)
			require.NoError(t, err)
			selves[self] = true
		}
		require.Len(t, selves, 2)

		require.NoError(t, group.Stop(t.Context()))
		require.NoError(t, client.Destroy(t.Context()))
		require.NoError(t, server.Destroy(t.Context()))
	})
}

// handshakeOnly answers hello frames.
type handshakeOnly struct{}

func (handshakeOnly) HandleFrame(_ context.Context, s transport.Session, f transport.Frame) {
	r := f.ReplyTo()
	r.PID = os.Getpid()
	_ = s.Reply(r)
}

func (handshakeOnly) SessionClosed(transport.Session) {}

func TestNodeFromAddr(t *testing.T) {
	require.Equal(t, "node-a", NodeFromAddr("nats://node-a"))
	require.Equal(t, "node-a", NodeFromAddr("node-a"))
}
