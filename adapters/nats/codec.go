package nats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/salespaulo/fvi-actor-system/core/transport"
)

const (
	// sessionHeader marks control messages of a session.
	sessionHeader = "Fvi-Session"
	sessionClose  = "close"
)

// msgCodec turns a pair of subjects into a frame stream. Frames are
// published to subject with reply set to the local inbox; incoming
// messages are pushed by a subscription callback.
type msgCodec struct {
	nc      *natsgo.Conn
	subject string
	reply   string

	in        chan *natsgo.Msg
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newMsgCodec(nc *natsgo.Conn, subject, reply string, onClose func()) *msgCodec {
	return &msgCodec{
		nc:      nc,
		subject: subject,
		reply:   reply,
		in:      make(chan *natsgo.Msg, 256),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

// push hands an incoming message to Decode. It drops the message once the
// codec is closed.
func (c *msgCodec) push(msg *natsgo.Msg) {
	select {
	case <-c.closed:
	case c.in <- msg:
	}
}

func (c *msgCodec) Encode(f transport.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	msg := natsgo.NewMsg(c.subject)
	msg.Reply = c.reply
	msg.Data = data
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

func (c *msgCodec) Decode(f *transport.Frame) error {
	select {
	case <-c.closed:
		return io.EOF
	case msg := <-c.in:
		if err := json.Unmarshal(msg.Data, f); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		return nil
	}
}

func (c *msgCodec) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

var _ transport.Codec = (*msgCodec)(nil)
