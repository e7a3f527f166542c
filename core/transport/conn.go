package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

type (
	// ReplyFunc receives the outcome of a submitted request exactly once.
	ReplyFunc func(reply Frame, err error)

	// Conn is the client side of a connection to a host process.
	Conn interface {
		// Submit sends a request frame; cb is invoked with the reply, a
		// transport error, or ctx.Err() when ctx ends first.
		Submit(ctx context.Context, f Frame, cb ReplyFunc) error
		// Notify sends a frame that expects no reply.
		Notify(ctx context.Context, f Frame) error
		Close() error
	}
)

// RoundTrip submits f and waits for its reply. A reply carrying an error is
// returned as that error.
func RoundTrip(ctx context.Context, c Conn, f Frame) (Frame, error) {
	type result struct {
		f   Frame
		err error
	}
	ch := make(chan result, 1)
	if err := c.Submit(ctx, f, func(r Frame, err error) { ch <- result{r, err} }); err != nil {
		return Frame{}, err
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Frame{}, r.err
		}
		if r.f.Err != nil {
			return r.f, r.f.Err.Err()
		}
		return r.f, nil
	}
}

// Peer multiplexes requests over one frame stream. A single reader goroutine
// resolves pending replies by correlation ID; when the stream ends every
// pending request fails with ErrTransportClosed.
type Peer struct {
	codec   Codec
	log     *slog.Logger
	onFault func(Frame)

	seq atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	closed  bool

	done chan struct{}
}

// NewPeer starts reading from codec. onFault receives fault frames: failures
// of fire-and-forget deliveries reported by the host. It may be nil.
func NewPeer(codec Codec, log *slog.Logger, onFault func(Frame)) *Peer {
	if log == nil {
		log = slog.Default()
	}
	p := &Peer{
		codec:   codec,
		log:     log,
		onFault: onFault,
		pending: make(map[uint64]*pendingRequest),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p
}

type pendingRequest struct {
	cb   ReplyFunc
	stop func() bool
}

// Done is closed once the stream has ended.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) Submit(ctx context.Context, f Frame, cb ReplyFunc) error {
	f.ID = p.seq.Add(1)
	req := &pendingRequest{cb: cb}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrTransportClosed
	}
	p.pending[f.ID] = req
	p.mu.Unlock()

	if err := p.codec.Encode(f); err != nil {
		p.take(f.ID)
		return fmt.Errorf("%w: write: %v", ErrTransportClosed, err)
	}

	// the caller gave up: forget the request, a late reply is dropped
	stop := context.AfterFunc(ctx, func() {
		if r := p.take(f.ID); r != nil {
			r.cb(Frame{}, ctx.Err())
		}
	})
	p.mu.Lock()
	if _, ok := p.pending[f.ID]; ok {
		req.stop = stop
	} else {
		stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Peer) Notify(_ context.Context, f Frame) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	f.ID = 0
	f.NoReply = true
	if err := p.codec.Encode(f); err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransportClosed, err)
	}
	return nil
}

// Close closes the stream and waits for the reader to finish.
func (p *Peer) Close() error {
	err := p.codec.Close()
	<-p.done
	return err
}

func (p *Peer) take(id uint64) *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.pending[id]
	if !ok {
		return nil
	}
	delete(p.pending, id)
	if r.stop != nil {
		r.stop()
	}
	return r
}

func (p *Peer) readLoop() {
	defer close(p.done)
	defer p.failPending()

	for {
		var f Frame
		if err := p.codec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.log.Debug("peer stream ended", slog.Any("error", err))
			}
			return
		}

		switch f.Kind {
		case FrameReply:
			if r := p.take(f.ID); r != nil {
				r.cb(f, nil)
			} else {
				p.log.Debug("dropping late reply", slog.Uint64("id", f.ID))
			}
		case FrameFault:
			if p.onFault != nil {
				p.onFault(f)
			}
		default:
			p.log.Warn("unexpected frame from host", slog.String("kind", string(f.Kind)))
		}
	}
}

func (p *Peer) failPending() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = make(map[uint64]*pendingRequest)
	p.mu.Unlock()

	for _, r := range pending {
		if r.stop != nil {
			r.stop()
		}
		r.cb(Frame{}, ErrTransportClosed)
	}
}

var _ Conn = (*Peer)(nil)
