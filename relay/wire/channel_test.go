package wire_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
	"github.com/ozontech/rrelay/relay/wire"
)

type rw struct {
	io.Reader
	io.Writer
}

func TestSendFrame(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	out := bytes.NewBuffer(nil)
	c := wire.NewChannel(rw{bytes.NewReader(nil), out})

	h := frameheader.NewFrameHeader()
	h.Fill(0, 64, 256, 64, 256, 128)
	h.SetSize(12345) // overwritten by the payload length
	payload := []byte("strip payload")
	a.NoError(c.SendFrame(h, payload))
	a.NoError(c.SendEOF(h))

	b := out.Bytes()
	a.Len(b, 2*consts.HeaderLen+len(payload))

	got := frameheader.FrameHeader(b[:consts.HeaderLen])
	a.Equal(len(payload), got.Size())
	a.Equal(64, got.Y())
	a.False(got.EOF())
	a.Equal(payload, b[consts.HeaderLen:consts.HeaderLen+len(payload)])

	eof := frameheader.FrameHeader(b[consts.HeaderLen+len(payload):])
	a.True(eof.EOF())
	a.Equal(0, eof.Size())
	a.Equal(256, eof.FrameWidth())

	a.Equal(uint64(len(b)), c.BytesOut())
	a.Equal(uint64(2), c.Messages())
	a.False(h.EOF(), "caller header is not modified")
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	if len(p) > 4 {
		return 4, nil
	}
	return len(p), nil
}

func TestShortWriteIsFatal(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c := wire.NewChannel(rw{bytes.NewReader(nil), shortWriter{}})
	err := c.SendFrame(frameheader.NewFrameHeader(), []byte("payload"))
	a.ErrorIs(err, wire.ErrShortWrite)
}

func TestAwaitAck(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c := wire.NewChannel(rw{bytes.NewReader([]byte{1, 0}), io.Discard})
	a.NoError(c.AwaitAck())

	err := c.AwaitAck()
	var protoErr wire.ProtocolError
	a.True(errors.As(err, &protoErr))
	a.Equal(byte(0), protoErr.Got)

	err = c.AwaitAck()
	a.ErrorIs(err, io.EOF)
}

func TestInterruptUnblocksAck(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := wire.NewChannel(client)
	done := make(chan error)
	go func() { done <- c.AwaitAck() }()

	time.Sleep(10 * time.Millisecond)
	a.NoError(c.Interrupt())
	select {
	case err := <-done:
		a.Error(err)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock AwaitAck")
	}
}

func TestFrameExchangeOverSynchronousStream(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	// the viewer reads exactly what the headers announce and acks on eof
	viewerErr := make(chan error, 1)
	go func() {
		for {
			h := frameheader.NewFrameHeader()
			if _, err := io.ReadFull(server, h); err != nil {
				viewerErr <- err
				return
			}
			if _, err := io.ReadFull(server, make([]byte, h.Size())); err != nil {
				viewerErr <- err
				return
			}
			if h.EOF() {
				_, err := server.Write([]byte{consts.AckClearToSend})
				viewerErr <- err
				return
			}
		}
	}()

	c := wire.NewChannel(client)
	h := frameheader.NewFrameHeader()
	h.Fill(0, 0, 4, 1, 4, 1)

	done := make(chan error, 1)
	go func() {
		if err := c.SendFrame(h, []byte{1, 2, 3, 4}); err != nil {
			done <- err
			return
		}
		if err := c.SendEOF(h); err != nil {
			done <- err
			return
		}
		done <- c.AwaitAck()
	}()

	select {
	case err := <-done:
		a.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("empty terminator payload blocked the exchange")
	}
	a.NoError(<-viewerErr)
	a.Equal(uint64(2*consts.HeaderLen+4), c.BytesOut())
}
