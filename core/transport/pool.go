package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/salespaulo/fvi-actor-system/core/sf"
)

// Handshake exchanges hello frames and returns the host's hello reply.
func Handshake(ctx context.Context, c Conn) (Frame, error) {
	return RoundTrip(ctx, c, Frame{Kind: FrameHello})
}

// Connect dials addr and completes the handshake within timeout. There is
// no retry: any failure is reported as ErrConnectFailure.
func Connect(ctx context.Context, d Dialer, addr string, timeout time.Duration, onFault func(Frame)) (Conn, Frame, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := d.Dial(ctx, addr, onFault)
	if err != nil {
		if errors.Is(err, ErrConnectFailure) {
			return nil, Frame{}, err
		}
		return nil, Frame{}, fmt.Errorf("%w: %s: %w", ErrConnectFailure, addr, err)
	}
	hello, err := Handshake(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, Frame{}, fmt.Errorf("%w: %s: handshake: %w", ErrConnectFailure, addr, err)
	}
	return c, hello, nil
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Dialer         Dialer
	ConnectTimeout time.Duration
	// OnFault receives fault frames from every pooled connection.
	OnFault func(addr string, f Frame)
	Log     *slog.Logger
	Metrics TransportMetrics
}

// Pool shares one connection per host address between the endpoints placed
// on that host. Concurrent first uses of an address dial once.
type Pool struct {
	opt    PoolOptions
	log    *slog.Logger
	flight *sf.Group[*pooledConn]

	mu     sync.Mutex
	conns  map[string]*pooledConn
	closed bool
}

type pooledConn struct {
	addr  string
	conn  Conn
	hello Frame
	refs  int
}

func NewPool(opt PoolOptions) *Pool {
	if opt.Dialer == nil {
		opt.Dialer = TCPDialer{Log: opt.Log, Metrics: opt.Metrics}
	}
	if opt.ConnectTimeout <= 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.Log == nil {
		opt.Log = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NopTransportMetrics()
	}
	return &Pool{
		opt:    opt,
		log:    opt.Log.With(slog.String("component", "pool")),
		flight: sf.New[*pooledConn](),
		conns:  make(map[string]*pooledConn),
	}
}

// Acquire returns the connection to addr, dialing if needed, along with the
// host's hello frame. release must be called once the caller is done.
func (p *Pool) Acquire(ctx context.Context, addr string) (c Conn, hello Frame, release func(context.Context) error, err error) {
	var pc *pooledConn
	for pc == nil {
		got, err := p.flight.Do(ctx, addr, func(ctx context.Context) (*pooledConn, error) {
			return p.dial(ctx, addr)
		})
		if err != nil {
			return nil, Frame{}, nil, err
		}
		// the connection may have been released or lost in between
		p.mu.Lock()
		if p.conns[addr] == got {
			got.refs++
			pc = got
		}
		p.mu.Unlock()
	}

	var once sync.Once
	release = func(context.Context) (err error) {
		once.Do(func() { err = p.release(pc) })
		return err
	}
	return pc.conn, pc.hello, release, nil
}

func (p *Pool) dial(ctx context.Context, addr string) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if pc, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return pc, nil
	}
	p.mu.Unlock()

	conn, hello, err := Connect(ctx, p.opt.Dialer, addr, p.opt.ConnectTimeout, func(f Frame) {
		if p.opt.OnFault != nil {
			p.opt.OnFault(addr, f)
		}
	})
	if err != nil {
		p.opt.Metrics.TransportError("connect")
		return nil, err
	}
	pc := &pooledConn{addr: addr, conn: conn, hello: hello}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return nil, ErrTransportClosed
	}
	p.conns[addr] = pc
	p.log.Debug("connected", slog.String("addr", addr), slog.Int("pid", hello.PID))
	if d, ok := conn.(interface{ Done() <-chan struct{} }); ok {
		go p.evictOnDone(pc, d.Done())
	}
	return pc, nil
}

func (p *Pool) release(pc *pooledConn) error {
	p.mu.Lock()
	pc.refs--
	if pc.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	if p.conns[pc.addr] == pc {
		delete(p.conns, pc.addr)
	}
	p.mu.Unlock()
	return pc.conn.Close()
}

// evictOnDone drops a connection whose stream ended so the next Acquire
// dials again.
func (p *Pool) evictOnDone(pc *pooledConn, done <-chan struct{}) {
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[pc.addr] == pc {
		delete(p.conns, pc.addr)
		p.log.Warn("connection lost", slog.String("addr", pc.addr))
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = make(map[string]*pooledConn)
	p.mu.Unlock()

	var errs []error
	for _, pc := range conns {
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SchemeDialer routes Dial by the scheme of the address ("nats://node").
// Addresses without a registered scheme use Default, a TCPDialer when nil.
type SchemeDialer struct {
	Default Dialer
	Schemes map[string]Dialer
}

func (d SchemeDialer) Dial(ctx context.Context, addr string, onFault func(Frame)) (Conn, error) {
	if scheme, _, ok := strings.Cut(addr, "://"); ok {
		if sd, ok := d.Schemes[scheme]; ok {
			return sd.Dial(ctx, addr, onFault)
		}
	}
	if d.Default == nil {
		return TCPDialer{}.Dial(ctx, addr, onFault)
	}
	return d.Default.Dial(ctx, addr, onFault)
}
