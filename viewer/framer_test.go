package viewer_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
	"github.com/ozontech/rrelay/relay/wire"
	"github.com/ozontech/rrelay/viewer"
)

type rw struct {
	io.Reader
	io.Writer
}

func TestFramer(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	f := new(viewer.Framer)

	buf := bytes.NewBuffer(nil)
	ch := wire.NewChannel(rw{bytes.NewReader(nil), buf})

	h := frameheader.NewFrameHeader()
	h.Fill(0, 16, 64, 16, 64, 32)
	payload1 := make([]byte, 512)
	_, err := rand.Read(payload1)
	a.NoError(err)
	a.NoError(ch.SendFrame(h, payload1))
	firstFrameLen := buf.Len()

	h.Fill(0, 0, 64, 16, 64, 32)
	payload2 := make([]byte, 512)
	_, err = rand.Read(payload2)
	a.NoError(err)
	a.NoError(ch.SendFrame(h, payload2))
	a.NoError(ch.SendEOF(h))

	const hl = consts.HeaderLen
	p := buf.Bytes()
	f.Fill(p[:1])
	b, status := f.Next()
	a.Nil(b)
	a.Equal(viewer.StatusHeaderIncomplete, status)

	f.Fill(p[1:hl])
	b, status = f.Next()
	a.Empty(b)
	a.Equal(viewer.StatusPayloadIncomplete, status)

	header := f.Header()
	a.Equal(512, header.Size())
	a.Equal(16, header.Y())
	a.Equal(32, header.FrameHeight())
	a.False(header.EOF())

	f.Fill(p[hl : hl+2])
	b, status = f.Next()
	a.Equal(p[hl:hl+2], b)
	a.Equal(viewer.StatusPayloadIncomplete, status)

	f.Fill(p[hl+2 : firstFrameLen+15])
	b, status = f.Next()
	a.Equal(p[hl+2:firstFrameLen], b)
	a.Equal(viewer.StatusFrameDone, status)

	b, status = f.Next()
	a.Nil(b)
	a.Equal(viewer.StatusHeaderIncomplete, status)

	f.Fill(p[firstFrameLen+15 : firstFrameLen+hl+10])
	b, status = f.Next()
	a.Equal(p[firstFrameLen+hl:firstFrameLen+hl+10], b)
	a.Equal(viewer.StatusPayloadIncomplete, status)
	a.Equal(0, f.Header().Y())

	f.Fill(p[firstFrameLen+hl+10:])
	b, status = f.Next()
	a.Equal(p[firstFrameLen+hl+10:len(p)-hl], b)
	a.Equal(viewer.StatusFrameDone, status)

	b, status = f.Next()
	a.Empty(b)
	a.Equal(viewer.StatusFrameDoneBufEmpty, status)
	a.True(f.Header().EOF())
	a.Equal(0, f.Header().Size())
}
