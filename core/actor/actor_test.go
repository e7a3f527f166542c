package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/salespaulo/fvi-actor-system/core/logging"
)

func newTestInstance(t *testing.T, b *Behavior, opts ...func(*Options)) *Instance {
	o := Options{
		Context:            t.Context(),
		MailboxSize:        10_000,
		MaxConcurrentTasks: 1000,
	}
	for _, f := range opts {
		f(&o)
	}
	a, err := New(b, o)
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	return a
}

func TestInstance_request(t *testing.T) {
	a := newTestInstance(t, NewBehavior("greeter",
		Handle("greet", func(hc HandlerCtx, name string) (string, error) {
			return "Hello, " + name, nil
		}),
	))

	res, err := Request(t.Context(), a, "greet", "World")
	require.NoError(t, err)
	v, err := As[string](res)
	require.NoError(t, err)
	require.Equal(t, "Hello, World", v)
}

func TestInstance_struct_payload(t *testing.T) {
	type (
		ping struct{ Seq int }
		pong struct{ Seq int }
	)
	a := newTestInstance(t, NewBehavior("pinger",
		Handle("ping", func(hc HandlerCtx, p ping) (pong, error) {
			return pong{Seq: p.Seq + 1}, nil
		}),
	))

	res, err := Request(t.Context(), a, "ping", ping{Seq: 1})
	require.NoError(t, err)
	require.False(t, res.IsRaw())
	out, err := As[pong](res)
	require.NoError(t, err)
	require.Equal(t, 2, out.Seq)

	// a raw JSON payload is decoded into the handler's input type
	_, err = Request(t.Context(), a, "ping", []byte(`{"Seq":41}`))
	require.Error(t, err, "plain bytes are not raw JSON")

	res, err = Request(t.Context(), a, "ping", rawJSON(`{"Seq":41}`))
	require.NoError(t, err)
	out, err = As[pong](res)
	require.NoError(t, err)
	require.Equal(t, 42, out.Seq)
}

func TestInstance_tell(t *testing.T) {
	ch := make(chan string, 1)
	a := newTestInstance(t, NewBehavior("sink",
		HandleMsg("put", func(hc HandlerCtx, s string) error {
			ch <- s
			return nil
		}),
	))

	require.NoError(t, Tell(t.Context(), a, "put", "hello"))

	select {
	case <-time.After(time.Second):
		t.Fatal("timeout")
	case v := <-ch:
		require.Equal(t, "hello", v)
	}
}

func TestInstance_unknown_message(t *testing.T) {
	a := newTestInstance(t, NewBehavior("echo",
		Handle("echo", func(hc HandlerCtx, s string) (string, error) { return s, nil }),
	))

	_, err := Request(t.Context(), a, "nope", nil)
	require.ErrorIs(t, err, ErrUnknownMessageKind)

	// the mailbox keeps working
	res, err := Request(t.Context(), a, "echo", "still here")
	require.NoError(t, err)
	v, err := As[string](res)
	require.NoError(t, err)
	require.Equal(t, "still here", v)
}

func TestInstance_handler_error_and_panic(t *testing.T) {
	a := newTestInstance(t, NewBehavior("faulty",
		HandleMsg("fail", func(hc HandlerCtx, _ any) error { return fmt.Errorf("uups") }),
		HandleMsg("panic", func(hc HandlerCtx, _ any) error { panic("boom") }),
		Handle("ok", func(hc HandlerCtx, _ any) (int, error) { return 1, nil }),
	))

	_, err := Request(t.Context(), a, "fail", nil)
	require.ErrorIs(t, err, ErrHandlerFailure)
	require.ErrorContains(t, err, "uups")
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	require.Equal(t, "fail", he.Message)

	_, err = Request(t.Context(), a, "panic", nil)
	require.ErrorIs(t, err, ErrHandlerFailure)
	require.ErrorContains(t, err, "boom")

	res, err := Request(t.Context(), a, "ok", nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Value())
}

func TestInstance_tell_failure_reported(t *testing.T) {
	failures := make(chan error, 1)
	a := newTestInstance(t, NewBehavior("faulty",
		HandleMsg("fail", func(hc HandlerCtx, _ any) error { return fmt.Errorf("uups") }),
	), func(o *Options) {
		o.OnFailure = func(env Envelope, err error) { failures <- err }
	})

	require.NoError(t, Tell(t.Context(), a, "fail", nil))

	select {
	case <-time.After(time.Second):
		t.Fatal("timeout")
	case err := <-failures:
		require.ErrorIs(t, err, ErrHandlerFailure)
	}
}

func TestInstance_fifo_and_serialized(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     []int
		inflight atomic.Int32
		overlap  atomic.Bool
	)
	a := newTestInstance(t, NewBehavior("seq",
		HandleMsg("n", func(hc HandlerCtx, n int) error {
			if inflight.Add(1) > 1 {
				overlap.Store(true)
			}
			defer inflight.Add(-1)
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
			return nil
		}),
		Handle("sync", func(hc HandlerCtx, _ any) (any, error) { return nil, nil }),
	))

	for i := 0; i < 500; i++ {
		require.NoError(t, Tell(t.Context(), a, "n", i))
	}
	_, err := Request(t.Context(), a, "sync", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 500)
	for i, v := range seen {
		require.Equal(t, i, v)
	}
	require.False(t, overlap.Load())
}

func TestInstance_stop(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := newTestInstance(t, NewBehavior("slow",
		Handle("block", func(hc HandlerCtx, _ any) (string, error) {
			close(started)
			<-release
			return "done", nil
		}),
		Handle("queued", func(hc HandlerCtx, _ any) (string, error) { return "ran", nil }),
	))

	inflight := make(chan Reply, 1)
	require.NoError(t, a.Send(t.Context(), Envelope{Name: "block", Reply: inflight}))
	<-started

	queued := make(chan Reply, 1)
	require.NoError(t, a.Send(t.Context(), Envelope{Name: "queued", Reply: queued}))

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()

	// no new work once stopping
	require.Eventually(t, func() bool {
		return errors.Is(a.Send(t.Context(), Envelope{Name: "queued"}), ErrActorStopped)
	}, time.Second, time.Millisecond)

	close(release)
	<-stopped

	r := <-inflight
	require.NoError(t, r.Error)
	r = <-queued
	require.ErrorIs(t, r.Error, ErrActorStopped)

	// idempotent
	a.Stop()
	_, err := Request(t.Context(), a, "queued", nil)
	require.ErrorIs(t, err, ErrActorStopped)
}

func TestInstance_context_cancel_stops(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	a, err := New(NewBehavior("noop", HandleMsg("x", func(HandlerCtx, any) error { return nil })), Options{Context: ctx})
	require.NoError(t, err)

	cancel()
	select {
	case <-time.After(time.Second):
		t.Fatal("instance did not stop")
	case <-a.Done():
	}
}

func TestInstance_init(t *testing.T) {
	var initialized atomic.Bool
	a := newTestInstance(t, NewBehavior("init",
		Init(func(hc HandlerCtx) error {
			initialized.Store(true)
			return nil
		}),
		Handle("get", func(hc HandlerCtx, _ any) (bool, error) { return initialized.Load(), nil }),
	))
	res, err := Request(t.Context(), a, "get", nil)
	require.NoError(t, err)
	require.Equal(t, true, res.Value())

	_, err = New(NewBehavior("broken",
		Init(func(hc HandlerCtx) error { return fmt.Errorf("no db") }),
		HandleMsg("x", func(HandlerCtx, any) error { return nil }),
	), Options{Context: t.Context()})
	require.ErrorContains(t, err, "no db")
}

func TestInstance_schedule_waited_on_stop(t *testing.T) {
	var finished atomic.Bool
	running := make(chan struct{})
	a, err := New(NewBehavior("bg",
		HandleMsg("work", func(hc HandlerCtx, _ any) error {
			hc.Schedule(func() {
				close(running)
				time.Sleep(50 * time.Millisecond)
				finished.Store(true)
			})
			return nil
		}),
	), Options{Context: t.Context()})
	require.NoError(t, err)

	require.NoError(t, Tell(t.Context(), a, "work", nil))
	<-running

	a.Stop()
	require.True(t, finished.Load())
}

func TestInstance_lock_os_thread(t *testing.T) {
	a := newTestInstance(t, NewBehavior("pinned",
		Handle("echo", func(hc HandlerCtx, s string) (string, error) { return s, nil }),
	), func(o *Options) { o.LockOSThread = true })

	res, err := Request(t.Context(), a, "echo", "pinned")
	require.NoError(t, err)
	require.Equal(t, "pinned", res.Value())
}

func rawJSON(s string) json.RawMessage { return json.RawMessage(s) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInstance_log_category_is_behavior(t *testing.T) {
	var out syncBuffer
	log, err := logging.New(&out, logging.Config{Actors: map[string]string{
		"Default":      "error",
		"test.verbose": "debug",
	}})
	require.NoError(t, err)

	logDebug := Handle("log", func(hc HandlerCtx, msg string) (any, error) {
		hc.Log().Debug(msg)
		return nil, nil
	})
	verbose := newTestInstance(t, NewBehavior("test.verbose", logDebug), func(o *Options) { o.Logger = log })
	quiet := newTestInstance(t, NewBehavior("test.quiet", logDebug), func(o *Options) { o.Logger = log })

	_, err = Request(t.Context(), verbose, "log", "from-verbose")
	require.NoError(t, err)
	_, err = Request(t.Context(), quiet, "log", "from-quiet")
	require.NoError(t, err)

	require.Contains(t, out.String(), "from-verbose")
	require.Contains(t, out.String(), "category=test.verbose")
	require.NotContains(t, out.String(), "from-quiet")
}
