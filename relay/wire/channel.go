package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
)

var ErrShortWrite = errors.New("short write")

// ProtocolError is returned when the peer answers with anything but clear-to-send.
type ProtocolError struct {
	Got byte
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: expected clear-to-send byte %d, got %d", consts.AckClearToSend, e.Got)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Channel frames messages over a reliable byte stream. It is not safe for
// concurrent use: the pipeline goroutine is the only writer and reader.
type Channel struct {
	conn io.ReadWriter
	hdr  frameheader.FrameHeader
	bufs [2][]byte
	ack  [1]byte

	bytesOut atomic.Uint64
	messages atomic.Uint64
}

func NewChannel(conn io.ReadWriter) *Channel {
	return &Channel{
		conn: conn,
		hdr:  frameheader.NewFrameHeader(),
	}
}

// SendFrame writes the header followed by the payload. The header size field
// is taken from len(payload).
func (c *Channel) SendFrame(h frameheader.FrameHeader, payload []byte) error {
	copy(c.hdr, h)
	c.hdr.SetSize(len(payload))

	c.bufs[0], c.bufs[1] = c.hdr, payload
	bufs := net.Buffers(c.bufs[:])
	if len(payload) == 0 {
		// an empty write still blocks on synchronous streams until the peer reads
		bufs = bufs[:1]
	}
	want := int64(len(c.hdr) + len(payload))

	// WriteTo consumes bufs, the backing array is reused for the next message
	n, err := bufs.WriteTo(c.conn)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("send frame message: %w", err)
	}
	if n != want {
		return fmt.Errorf("send frame message: %w: %d of %d bytes", ErrShortWrite, n, want)
	}
	c.messages.Add(1)
	return nil
}

// SendEOF terminates the logical frame described by h with an empty payload.
func (c *Channel) SendEOF(h frameheader.FrameHeader) error {
	copy(c.hdr, h)
	c.hdr.SetEOF(true)
	return c.SendFrame(c.hdr, nil)
}

// AwaitAck blocks until the peer sends its single clear-to-send byte.
func (c *Channel) AwaitAck() error {
	_, err := io.ReadFull(c.conn, c.ack[:])
	if err != nil {
		return fmt.Errorf("await clear-to-send: %w", err)
	}
	if c.ack[0] != consts.AckClearToSend {
		return ProtocolError{Got: c.ack[0]}
	}
	return nil
}

// Interrupt unblocks a pending read or write when the underlying stream
// supports deadlines.
func (c *Channel) Interrupt() error {
	d, ok := c.conn.(deadliner)
	if !ok {
		return nil
	}
	return d.SetDeadline(time.Now())
}

func (c *Channel) BytesOut() uint64 { return c.bytesOut.Load() }
func (c *Channel) Messages() uint64 { return c.messages.Load() }
