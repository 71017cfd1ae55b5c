package framepool

import (
	"bytes"

	"github.com/ozontech/rrelay/frameheader"
)

// FrameBuffer is one slot of the pool. Between Acquire and Submit it belongs to
// the producer, after that to the pipeline until Release.
//
// Pixels are kept in storage order. When BottomUp is set the first stored row is
// the bottom of the image; every accessor below works in visual (top-down) rows
// so callers never mirror coordinates themselves.
type FrameBuffer struct {
	Header    frameheader.FrameHeader
	Pixels    []byte
	PixelSize int
	BottomUp  bool

	pool  *FramePool
	index int
	inUse bool // guarded by pool.mu

	compressed       []byte
	compressedHeader frameheader.FrameHeader
	hasCompressed    bool
}

func (b *FrameBuffer) Width() int  { return b.Header.Width() }
func (b *FrameBuffer) Height() int { return b.Header.Height() }
func (b *FrameBuffer) Pitch() int  { return b.Header.Width() * b.PixelSize }

// Index is the slot number inside the pool.
func (b *FrameBuffer) Index() int { return b.index }

func (b *FrameBuffer) storageRow(y int) int {
	if b.BottomUp {
		return b.Height() - 1 - y
	}
	return y
}

// Row returns visual row y.
func (b *FrameBuffer) Row(y int) []byte {
	pitch := b.Pitch()
	off := b.storageRow(y) * pitch
	return b.Pixels[off : off+pitch]
}

func (b *FrameBuffer) sameLayout(o *FrameBuffer) bool {
	return o != nil &&
		o.Width() == b.Width() &&
		o.Height() == b.Height() &&
		o.PixelSize == b.PixelSize
}

// StripEquals reports whether visual rows [start, end) are byte-identical in b
// and prev. It only reads prev.
func (b *FrameBuffer) StripEquals(prev *FrameBuffer, start, end int) bool {
	if !b.sameLayout(prev) {
		return false
	}
	pitch := b.Pitch()
	if b.BottomUp == prev.BottomUp {
		lo, hi := start, end
		if b.BottomUp {
			lo, hi = b.Height()-end, b.Height()-start
		}
		return bytes.Equal(b.Pixels[lo*pitch:hi*pitch], prev.Pixels[lo*pitch:hi*pitch])
	}
	for y := start; y < end; y++ {
		if !bytes.Equal(b.Row(y), prev.Row(y)) {
			return false
		}
	}
	return true
}

// AppendStrip appends visual rows [start, end) to dst in top-down order.
func (b *FrameBuffer) AppendStrip(dst []byte, start, end int) []byte {
	pitch := b.Pitch()
	if !b.BottomUp {
		return append(dst, b.Pixels[start*pitch:end*pitch]...)
	}
	for y := start; y < end; y++ {
		dst = append(dst, b.Row(y)...)
	}
	return dst
}

// SetCompressed turns the buffer into a carrier for an already encoded image.
func (b *FrameBuffer) SetCompressed(h frameheader.FrameHeader, payload []byte) {
	copy(b.compressedHeader, h)
	b.compressed = append(b.compressed[:0], payload...)
	b.compressedHeader.SetSize(len(payload))
	b.hasCompressed = true
}

func (b *FrameBuffer) Compressed() (frameheader.FrameHeader, []byte, bool) {
	if !b.hasCompressed {
		return nil, nil, false
	}
	return b.compressedHeader, b.compressed, true
}

// Release hands the buffer back to its pool. Releasing twice is a no-op.
func (b *FrameBuffer) Release() {
	b.pool.release(b)
}

func (b *FrameBuffer) reset(width, height, pixelSize int) {
	b.Header.Fill(0, 0, width, height, width, height)
	b.Header.SetFlags(frameheader.Flags(0).WithPixelSize(pixelSize))
	b.PixelSize = pixelSize
	b.BottomUp = false
	b.compressed = b.compressed[:0]
	b.hasCompressed = false

	n := width * height * pixelSize
	if cap(b.Pixels) < n {
		b.Pixels = make([]byte, n)
	}
	b.Pixels = b.Pixels[:n]
}
