package transport

import (
	"encoding/json"
	"io"
	"sync"
)

// Codec reads and writes frames on a byte stream. Encode is safe for
// concurrent use; Decode must only be called from one goroutine.
type Codec interface {
	Encode(f Frame) error
	Decode(f *Frame) error
	Close() error
}

// jsonCodec frames are newline-delimited JSON documents.
type jsonCodec struct {
	wmu sync.Mutex
	enc *json.Encoder
	dec *json.Decoder
	c   io.Closer
}

// NewJSONCodec builds a codec from separate read and write halves, as used
// for the pipes of a forked process. c is closed by Close and may be nil.
func NewJSONCodec(r io.Reader, w io.Writer, c io.Closer) Codec {
	return &jsonCodec{
		enc: json.NewEncoder(w),
		dec: json.NewDecoder(r),
		c:   c,
	}
}

// NewStreamCodec builds a codec on a bidirectional stream (e.g. net.Conn).
func NewStreamCodec(rwc io.ReadWriteCloser) Codec { return NewJSONCodec(rwc, rwc, rwc) }

func (c *jsonCodec) Encode(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.enc.Encode(f)
}

func (c *jsonCodec) Decode(f *Frame) error { return c.dec.Decode(f) }

func (c *jsonCodec) Close() error {
	if c.c == nil {
		return nil
	}
	return c.c.Close()
}
