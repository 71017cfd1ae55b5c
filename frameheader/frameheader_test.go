package frameheader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
)

func TestFrameHeaderLayout(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	h := frameheader.NewFrameHeader()
	h.Fill(16, 64, 256, 64, 1024, 768)
	h.SetSize(0x01020304)
	h.SetCompression(2)
	h.SetQuality(95)
	h.SetSubsampling(4)
	h.SetFlags(frameheader.FlagBottomUp.WithPixelSize(4))
	h.SetEOF(true)

	a.Len(h, consts.HeaderLen)
	a.Equal([]byte{16, 0, 0, 0}, []byte(h[0:4]))
	a.Equal([]byte{0, 1, 0, 0}, []byte(h[8:12]))
	a.Equal([]byte{4, 3, 2, 1}, []byte(h[24:28]))
	a.Equal([]byte{2, 95, 4, 0x41, 1}, []byte(h[28:]))

	a.Equal(16, h.X())
	a.Equal(64, h.Y())
	a.Equal(256, h.Width())
	a.Equal(64, h.Height())
	a.Equal(1024, h.FrameWidth())
	a.Equal(768, h.FrameHeight())
	a.Equal(0x01020304, h.Size())
	a.True(h.Flags().Has(frameheader.FlagBottomUp))
	a.Equal(4, h.Flags().PixelSize())
	a.True(h.EOF())

	h.Fill(0, 0, 8, 8, 8, 8)
	a.False(h.EOF())
	a.Equal(0, h.Size())
}

func TestFrameHeaderValidate(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	h := frameheader.NewFrameHeader()
	h.Fill(0, 64, 256, 64, 256, 128)
	a.NoError(h.Validate())

	h.SetY(100)
	a.Error(h.Validate())

	h.SetY(0)
	h.SetSize(consts.MaxPayloadSize + 1)
	a.Error(h.Validate())

	a.Error(frameheader.FrameHeader(make([]byte, 9)).Validate())

	// 7680x4320 RGBA is accepted, a frame the viewer can't hold is not
	h.SetSize(0)
	h.Fill(0, 0, 16, 16, 7680, 4320)
	h.SetFlags(frameheader.Flags(0).WithPixelSize(4))
	a.NoError(h.Validate())

	h.Fill(0, 0, 1, 1, 1<<20, 1<<20)
	err := h.Validate()
	a.Error(err)
	a.Contains(err.Error(), "exceeds limit")

	h.Fill(0, 0, 1, 1, 16384, 16384)
	h.SetFlags(0)
	a.Error(h.Validate(), "missing pixel size counts as 4 bytes")
	a.Contains(h.String(), "/ flags=0/ eof=false")
}
