package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"

	"github.com/salespaulo/fvi-actor-system/core/logging"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// Scheme is the address scheme of hosts reached over NATS: nats://<node>.
const Scheme = "nats"

type TransportConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for host subjects, e.g. "fvi" -> fvi.host.<node>
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.Connect == nil {
		c.Connect = ConnectDefault()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = logging.Category(c.Log, logging.TransportCategory)
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "fvi"
	}
	return c
}

func (c TransportConfig) hostSubject(node string) string {
	return c.SubjectPrefix + ".host." + node
}

// NodeFromAddr returns the node name of a nats://<node> address.
func NodeFromAddr(addr string) string {
	return strings.TrimPrefix(addr, Scheme+"://")
}

// Dialer opens sessions to hosts listening on NATS. Register it with
// system.WithDialer(nats.Scheme, d).
type Dialer struct {
	cfg TransportConfig
}

func NewDialer(cfg TransportConfig) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial opens a session with the host at addr. Frames go to the host's
// subject; replies come back on a private inbox.
func (d *Dialer) Dial(ctx context.Context, addr string, onFault func(transport.Frame)) (transport.Conn, error) {
	node := NodeFromAddr(addr)
	if node == "" {
		return nil, fmt.Errorf("%w: empty nats node in %q", transport.ErrConnectFailure, addr)
	}

	nc, closeNc, err := d.cfg.Connect()
	if err != nil {
		return nil, fmt.Errorf("%w: nats: %w", transport.ErrConnectFailure, err)
	}

	inbox := d.cfg.SubjectPrefix + ".client." + gonanoid.Must(12)
	host := d.cfg.hostSubject(node)

	var sub *natsgo.Subscription
	codec := newMsgCodec(nc, host, inbox, func() {
		// tell the host the session is over
		msg := natsgo.NewMsg(host)
		msg.Reply = inbox
		msg.Header.Set(sessionHeader, sessionClose)
		_ = nc.PublishMsg(msg)
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		closeNc()
	})

	sub, err = nc.Subscribe(inbox, codec.push)
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("%w: nats: subscribe inbox: %w", transport.ErrConnectFailure, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		closeNc()
		return nil, fmt.Errorf("%w: nats: flush: %w", transport.ErrConnectFailure, err)
	}

	log := d.cfg.Log.With(slog.String("transport", "nats"), slog.String("remote", addr))
	return transport.NewPeer(codec, log, onFault), nil
}

// Listener hosts actors for peers that dial nats://<node>.
type Listener struct {
	cfg  TransportConfig
	node string
	log  *slog.Logger

	mu       sync.Mutex
	nc       *natsgo.Conn
	closeNc  closeFunc
	sub      *natsgo.Subscription
	sessions map[string]*msgCodec
	wg       sync.WaitGroup
	closed   bool
}

// NewListener creates a listener for node. An empty node gets a random name.
func NewListener(cfg TransportConfig, node string) *Listener {
	cfg = cfg.withDefaults()
	if node == "" {
		node = gonanoid.Must(8)
	}
	return &Listener{
		cfg:      cfg,
		node:     node,
		log:      cfg.Log.With(slog.String("transport", "nats"), slog.String("node", node)),
		sessions: make(map[string]*msgCodec),
	}
}

func (l *Listener) Addr() string { return Scheme + "://" + l.node }

func (l *Listener) Start(ctx context.Context, h transport.FrameHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nc != nil {
		return errors.New("nats listener already started")
	}

	nc, closeNc, err := l.cfg.Connect()
	if err != nil {
		return fmt.Errorf("nats: connect: %w", err)
	}
	sub, err := nc.Subscribe(l.cfg.hostSubject(l.node), func(msg *natsgo.Msg) {
		l.onMsg(ctx, nc, h, msg)
	})
	if err != nil {
		closeNc()
		return fmt.Errorf("nats: subscribe host: %w", err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		closeNc()
		return fmt.Errorf("nats: flush: %w", err)
	}

	l.nc, l.closeNc, l.sub = nc, closeNc, sub
	l.log.Info("listening", slog.String("subject", sub.Subject))
	return nil
}

// onMsg routes a message to the session of its reply inbox, opening the
// session on first contact.
func (l *Listener) onMsg(ctx context.Context, nc *natsgo.Conn, h transport.FrameHandler, msg *natsgo.Msg) {
	inbox := msg.Reply
	if inbox == "" {
		l.log.Warn("dropping message without reply inbox")
		return
	}

	l.mu.Lock()
	codec, ok := l.sessions[inbox]
	if msg.Header.Get(sessionHeader) == sessionClose {
		delete(l.sessions, inbox)
		l.mu.Unlock()
		if ok {
			_ = codec.Close()
		}
		return
	}
	if !ok {
		if l.closed {
			l.mu.Unlock()
			return
		}
		codec = newMsgCodec(nc, inbox, "", nil)
		l.sessions[inbox] = codec
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			transport.ServeStream(ctx, codec, h, l.log.With(slog.String("inbox", inbox)))
			l.mu.Lock()
			if l.sessions[inbox] == codec {
				delete(l.sessions, inbox)
			}
			l.mu.Unlock()
		}()
	}
	l.mu.Unlock()

	codec.push(msg)
}

// Close stops accepting sessions, ends the open ones and waits for them.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed || l.nc == nil {
		l.closed = true
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sub := l.sub
	sessions := l.sessions
	l.sessions = make(map[string]*msgCodec)
	l.mu.Unlock()

	err := sub.Unsubscribe()
	for _, c := range sessions {
		_ = c.Close()
	}
	l.wg.Wait()

	// the connection may be shared through ReuseConnection: flush, don't drain
	if ferr := l.nc.Flush(); ferr != nil && !errors.Is(ferr, natsgo.ErrConnectionClosed) {
		err = errors.Join(err, ferr)
	}
	l.closeNc()
	return err
}

var (
	_ transport.Dialer   = (*Dialer)(nil)
	_ transport.Listener = (*Listener)(nil)
)
