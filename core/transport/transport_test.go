package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/actor"
)

// echoHost is a minimal FrameHandler: deliver replies with the payload,
// message "fail" replies with a handler error.
type echoHost struct {
	mu     sync.Mutex
	actors map[string]bool
	closed chan string
}

func newEchoHost() *echoHost {
	return &echoHost{actors: make(map[string]bool), closed: make(chan string, 8)}
}

func (h *echoHost) HandleFrame(_ context.Context, s Session, f Frame) {
	reply := f.ReplyTo()
	switch f.Kind {
	case FrameHello:
		reply.PID = os.Getpid()
	case FrameSpawn:
		h.mu.Lock()
		h.actors[f.Actor] = true
		h.mu.Unlock()
		reply.PID = os.Getpid()
	case FrameStop:
		h.mu.Lock()
		delete(h.actors, f.Actor)
		h.mu.Unlock()
	case FrameDeliver:
		h.mu.Lock()
		known := h.actors[f.Actor]
		h.mu.Unlock()
		var err error
		switch {
		case !known:
			err = ErrUnknownActor
		case f.Name == "fail":
			err = &actor.HandlerError{Actor: f.Actor, Message: f.Name, Err: errors.New("boom")}
		case f.Name == "print":
			// stdout belongs to the program, not to the frame stream
			fmt.Println("printed by", os.Getpid(), string(f.Data))
		}
		if f.NoReply {
			if err != nil {
				_ = s.Reply(Frame{Kind: FrameFault, Actor: f.Actor, Name: f.Name}.WithError(err))
			}
			return
		}
		if err != nil {
			reply = reply.WithError(err)
		} else {
			reply.Data = f.Data
		}
	}
	_ = s.Reply(reply)
}

func (h *echoHost) SessionClosed(s Session) { h.closed <- s.ID() }

func pipePeer(t *testing.T, h FrameHandler, onFault func(Frame)) *Peer {
	t.Helper()
	client, server := net.Pipe()
	go ServeStream(t.Context(), NewStreamCodec(server), h, nil)
	p := NewPeer(NewStreamCodec(client), nil, onFault)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPeer_RoundTrip(t *testing.T) {
	p := pipePeer(t, newEchoHost(), nil)

	hello, err := Handshake(t.Context(), p)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), hello.PID)

	_, err = RoundTrip(t.Context(), p, Frame{Kind: FrameSpawn, Actor: "a1", Behavior: "echo"})
	require.NoError(t, err)

	r, err := RoundTrip(t.Context(), p, Frame{Kind: FrameDeliver, Actor: "a1", Name: "echo", Data: json.RawMessage(`"hi"`)})
	require.NoError(t, err)
	require.JSONEq(t, `"hi"`, string(r.Data))

	_, err = RoundTrip(t.Context(), p, Frame{Kind: FrameDeliver, Actor: "nope", Name: "echo"})
	require.ErrorIs(t, err, ErrUnknownActor)
}

func TestPeer_pending_fail_when_stream_ends(t *testing.T) {
	client, server := net.Pipe()
	p := NewPeer(NewStreamCodec(client), nil, nil)

	// read the request but never answer
	go func() {
		var f Frame
		_ = NewStreamCodec(server).Decode(&f)
		_ = server.Close()
	}()

	_, err := RoundTrip(t.Context(), p, Frame{Kind: FrameHello})
	require.ErrorIs(t, err, ErrTransportClosed)

	<-p.Done()
	err = p.Submit(t.Context(), Frame{Kind: FrameHello}, func(Frame, error) {})
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestPeer_context_cancel_forgets_request(t *testing.T) {
	client, server := net.Pipe()
	p := NewPeer(NewStreamCodec(client), nil, nil)
	t.Cleanup(func() { _ = p.Close() })
	go func() {
		c := NewStreamCodec(server)
		for {
			var f Frame
			if c.Decode(&f) != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := RoundTrip(ctx, p, Frame{Kind: FrameHello})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.pending) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestProxyEndpoint(t *testing.T) {
	faults := make(chan Frame, 1)
	host := newEchoHost()
	p := pipePeer(t, host, func(f Frame) { faults <- f })

	_, err := RoundTrip(t.Context(), p, Frame{Kind: FrameSpawn, Actor: "a1"})
	require.NoError(t, err)

	released := false
	ep := NewProxyEndpoint(ProxyOptions{
		ID:   "a1",
		Kind: KindRemote,
		Conn: p,
		Release: func(context.Context) error {
			released = true
			return nil
		},
	})

	res, err := actor.Request(t.Context(), ep, "echo", map[string]int{"n": 3})
	require.NoError(t, err)
	require.True(t, res.IsRaw())
	out, err := actor.As[map[string]int](res)
	require.NoError(t, err)
	require.Equal(t, 3, out["n"])

	_, err = actor.Request(t.Context(), ep, "fail", nil)
	require.ErrorIs(t, err, actor.ErrHandlerFailure)
	require.ErrorContains(t, err, "boom")

	require.NoError(t, actor.Tell(t.Context(), ep, "fail", nil))
	select {
	case f := <-faults:
		require.Equal(t, "fail", f.Name)
		require.ErrorIs(t, f.Err.Err(), actor.ErrHandlerFailure)
	case <-time.After(time.Second):
		t.Fatal("no fault received")
	}

	child, err := ep.Spawn(t.Context(), SpawnRequest{ID: "a2", Behavior: "echo"})
	require.NoError(t, err)
	require.Equal(t, KindRemote, child.Kind())
	res, err = actor.Request(t.Context(), child, "echo", "x")
	require.NoError(t, err)
	s, err := actor.As[string](res)
	require.NoError(t, err)
	require.Equal(t, "x", s)

	require.NoError(t, ep.Close(t.Context()))
	require.NoError(t, ep.Close(t.Context()))
	require.True(t, released)

	_, err = actor.Request(t.Context(), ep, "echo", nil)
	require.ErrorIs(t, err, ErrUnknownActor)
}

func TestTCP_listener_and_pool(t *testing.T) {
	host := newEchoHost()
	ln := NewTCPListener("127.0.0.1:0", nil, nil)
	require.NoError(t, ln.Start(t.Context(), host))
	t.Cleanup(func() { _ = ln.Close() })

	pool := NewPool(PoolOptions{})
	t.Cleanup(func() { _ = pool.Close() })

	c1, hello, rel1, err := pool.Acquire(t.Context(), ln.Addr())
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), hello.PID)

	c2, _, rel2, err := pool.Acquire(t.Context(), ln.Addr())
	require.NoError(t, err)
	require.Same(t, c1, c2)

	require.NoError(t, rel1(t.Context()))
	_, err = Handshake(t.Context(), c2)
	require.NoError(t, err)

	require.NoError(t, rel2(t.Context()))
	select {
	case <-host.closed:
	case <-time.After(time.Second):
		t.Fatal("session not closed after last release")
	}
}

func TestTCP_connect_failure(t *testing.T) {
	// grab a free port and release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	start := time.Now()
	_, _, err = Connect(t.Context(), TCPDialer{}, addr, time.Second, nil)
	require.ErrorIs(t, err, ErrConnectFailure)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestTCP_listener_close_ends_sessions(t *testing.T) {
	host := newEchoHost()
	ln := NewTCPListener("127.0.0.1:0", nil, nil)
	require.NoError(t, ln.Start(t.Context(), host))

	c, _, err := Connect(t.Context(), TCPDialer{}, ln.Addr(), time.Second, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, ln.Close())
	<-host.closed
	_, err = Handshake(t.Context(), c)
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestNormalizeAddr(t *testing.T) {
	require.Equal(t, "10.0.0.1:6161", NormalizeAddr("10.0.0.1"))
	require.Equal(t, "10.0.0.1:7000", NormalizeAddr("10.0.0.1:7000"))
	require.Equal(t, "node-a:6161", NormalizeAddr("tcp://node-a"))
	require.Equal(t, "[::1]:6161", NormalizeAddr("::1"))
}

func TestWireError(t *testing.T) {
	he := &actor.HandlerError{Actor: "a", Message: "m", Err: errors.New("bad")}
	err := EncodeError(he).Err()
	require.ErrorIs(t, err, actor.ErrHandlerFailure)
	require.EqualError(t, err, he.Error())

	err = EncodeError(actor.ErrUnknownMessageKind).Err()
	require.ErrorIs(t, err, actor.ErrUnknownMessageKind)

	err = EncodeError(errors.New("plain")).Err()
	require.EqualError(t, err, "plain")

	require.Nil(t, EncodeError(nil))
}
