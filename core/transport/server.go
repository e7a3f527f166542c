package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/salespaulo/fvi-actor-system/core/perkey"
)

type (
	// Session is one client stream as seen by a host.
	Session interface {
		ID() string
		// Reply writes a frame back to the client.
		Reply(f Frame) error
		// Done is closed once the stream has ended.
		Done() <-chan struct{}
	}

	// FrameHandler serves the frames of host sessions.
	// HandleFrame is called sequentially for frames addressed to the same
	// actor and concurrently across actors; it must not block on replies.
	FrameHandler interface {
		HandleFrame(ctx context.Context, s Session, f Frame)
		SessionClosed(s Session)
	}

	// Listener accepts client streams and serves them with a FrameHandler.
	Listener interface {
		Start(ctx context.Context, h FrameHandler) error
		// Addr is the address clients dial. Valid after Start.
		Addr() string
		Close() error
	}

	// Dialer opens client streams to hosts. onFault receives fault frames
	// of fire-and-forget deliveries; it may be nil.
	Dialer interface {
		Dial(ctx context.Context, addr string, onFault func(Frame)) (Conn, error)
	}
)

type streamSession struct {
	id    string
	codec Codec
	done  chan struct{}
}

func (s *streamSession) ID() string            { return s.id }
func (s *streamSession) Reply(f Frame) error   { return s.codec.Encode(f) }
func (s *streamSession) Done() <-chan struct{} { return s.done }

// ServeStream reads frames from codec until the stream ends and hands them
// to h. Frames for one actor are handled in arrival order.
func ServeStream(ctx context.Context, codec Codec, h FrameHandler, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	sess := &streamSession{
		id:    gonanoid.Must(8),
		codec: codec,
		done:  make(chan struct{}),
	}
	log = log.With(slog.String("session", sess.id))
	log.Debug("session opened")

	d := perkey.New[string]()
	defer func() {
		d.Close()
		close(sess.done)
		h.SessionClosed(sess)
		_ = codec.Close()
		log.Debug("session closed")
	}()

	for {
		var f Frame
		if err := codec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("session read ended", slog.Any("error", err))
			}
			return
		}
		if err := d.Submit(f.Actor, func() { h.HandleFrame(ctx, sess, f) }); err != nil {
			return
		}
	}
}

// sessionSet tracks the open streams of a listener so Close can end them.
type sessionSet struct {
	mu      sync.Mutex
	closers map[io.Closer]struct{}
	wg      sync.WaitGroup
	metrics TransportMetrics
}

func newSessionSet(m TransportMetrics) *sessionSet {
	return &sessionSet{closers: make(map[io.Closer]struct{}), metrics: m}
}

func (s *sessionSet) serve(ctx context.Context, c io.Closer, codec Codec, h FrameHandler, log *slog.Logger) {
	s.mu.Lock()
	s.closers[c] = struct{}{}
	s.metrics.SessionsActive(len(s.closers))
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ServeStream(ctx, codec, h, log)
		s.mu.Lock()
		delete(s.closers, c)
		s.metrics.SessionsActive(len(s.closers))
		s.mu.Unlock()
	}()
}

func (s *sessionSet) closeAll() {
	s.mu.Lock()
	for c := range s.closers {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
