package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPort is used for remote hosts given without a port.
	DefaultPort = 6161
	// DefaultConnectTimeout bounds dialing plus handshake.
	DefaultConnectTimeout = 5 * time.Second
)

// NormalizeAddr strips a tcp:// scheme and adds DefaultPort when the address
// has no port.
func NormalizeAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "tcp://")
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}

// TCPDialer dials hosts over plain TCP.
type TCPDialer struct {
	Log     *slog.Logger
	Metrics TransportMetrics
}

func (d TCPDialer) Dial(ctx context.Context, addr string, onFault func(Frame)) (Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, "tcp", NormalizeAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailure, addr, err)
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return NewPeer(NewStreamCodec(c), log.With(slog.String("remote", addr)), onFault), nil
}

// TCPListener hosts actors for remote clients.
type TCPListener struct {
	addr    string
	log     *slog.Logger
	metrics TransportMetrics

	mu       sync.Mutex
	ln       net.Listener
	sessions *sessionSet
	accepted chan struct{}
}

// NewTCPListener creates a listener for addr (host:port, port 0 picks a
// free one).
func NewTCPListener(addr string, log *slog.Logger, m TransportMetrics) *TCPListener {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = NopTransportMetrics()
	}
	return &TCPListener{
		addr:    NormalizeAddr(addr),
		log:     log.With(slog.String("listener", "tcp")),
		metrics: m,
	}
}

func (l *TCPListener) Start(ctx context.Context, h FrameHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return errors.New("tcp listener already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	l.ln = ln
	l.sessions = newSessionSet(l.metrics)
	l.accepted = make(chan struct{})

	go l.acceptLoop(ctx, ln, l.sessions, h)
	l.log.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (l *TCPListener) acceptLoop(ctx context.Context, ln net.Listener, sessions *sessionSet, h FrameHandler) {
	defer close(l.accepted)
	for {
		c, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Error("accept failed", slog.Any("error", err))
			}
			return
		}
		log := l.log.With(slog.String("remote", c.RemoteAddr().String()))
		sessions.serve(ctx, c, NewStreamCodec(c), h, log)
	}
}

func (l *TCPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

// Close stops accepting, ends every open session and waits for them.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	ln, sessions, accepted := l.ln, l.sessions, l.accepted
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	<-accepted
	sessions.closeAll()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

var (
	_ Dialer   = TCPDialer{}
	_ Listener = (*TCPListener)(nil)
)
