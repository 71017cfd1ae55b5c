package frameheader

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/ozontech/rrelay/consts"
)

// FrameHeader is the fixed-size wire record preceding every payload.
// Layout, little-endian:
//
//	0  x            int32
//	4  y            int32
//	8  width        int32
//	12 height       int32
//	16 frameWidth   int32
//	20 frameHeight  int32
//	24 size         uint32
//	28 compression  uint8
//	29 quality      uint8
//	30 subsampling  uint8
//	31 flags        uint8
//	32 eof          uint8
type FrameHeader []byte

type Flags uint8

const (
	FlagBottomUp Flags = 1 << 0

	pixelSizeShift = 4
)

// PixelSize returns bytes per pixel carried in the upper nibble.
func (f Flags) PixelSize() int { return int(f >> pixelSizeShift) }

func (f Flags) WithPixelSize(ps int) Flags {
	return f&(1<<pixelSizeShift-1) | Flags(ps&0x0f)<<pixelSizeShift
}

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

var le = binary.LittleEndian

func NewFrameHeader() FrameHeader { return make([]byte, consts.HeaderLen) }

// Fill sets the geometry part of the header, resetting payload related fields.
func (f FrameHeader) Fill(x, y, width, height, frameWidth, frameHeight int) {
	_ = f[consts.HeaderLen-1]
	le.PutUint32(f[0:], uint32(int32(x)))
	le.PutUint32(f[4:], uint32(int32(y)))
	le.PutUint32(f[8:], uint32(int32(width)))
	le.PutUint32(f[12:], uint32(int32(height)))
	le.PutUint32(f[16:], uint32(int32(frameWidth)))
	le.PutUint32(f[20:], uint32(int32(frameHeight)))
	le.PutUint32(f[24:], 0)
	f[32] = 0
}

func (f FrameHeader) X() int           { return int(int32(le.Uint32(f[0:]))) }
func (f FrameHeader) Y() int           { return int(int32(le.Uint32(f[4:]))) }
func (f FrameHeader) Width() int       { return int(int32(le.Uint32(f[8:]))) }
func (f FrameHeader) Height() int      { return int(int32(le.Uint32(f[12:]))) }
func (f FrameHeader) FrameWidth() int  { return int(int32(le.Uint32(f[16:]))) }
func (f FrameHeader) FrameHeight() int { return int(int32(le.Uint32(f[20:]))) }

func (f FrameHeader) SetX(x int)      { le.PutUint32(f[0:], uint32(int32(x))) }
func (f FrameHeader) SetY(y int)      { le.PutUint32(f[4:], uint32(int32(y))) }
func (f FrameHeader) SetWidth(w int)  { le.PutUint32(f[8:], uint32(int32(w))) }
func (f FrameHeader) SetHeight(h int) { le.PutUint32(f[12:], uint32(int32(h))) }

func (f FrameHeader) Size() int        { return int(le.Uint32(f[24:])) }
func (f FrameHeader) SetSize(size int) { le.PutUint32(f[24:], uint32(size)) }

func (f FrameHeader) Compression() uint8     { return f[28] }
func (f FrameHeader) SetCompression(k uint8) { f[28] = k }

func (f FrameHeader) Quality() uint8     { return f[29] }
func (f FrameHeader) SetQuality(q uint8) { f[29] = q }

func (f FrameHeader) Subsampling() uint8     { return f[30] }
func (f FrameHeader) SetSubsampling(s uint8) { f[30] = s }

func (f FrameHeader) Flags() Flags        { return Flags(f[31]) }
func (f FrameHeader) SetFlags(flag Flags) { f[31] = byte(flag) }

func (f FrameHeader) EOF() bool { return f[32] != 0 }
func (f FrameHeader) SetEOF(eof bool) {
	if eof {
		f[32] = 1
		return
	}
	f[32] = 0
}

// Validate checks that a header received from the wire is self consistent.
func (f FrameHeader) Validate() error {
	if len(f) != consts.HeaderLen {
		return fmt.Errorf("header length %d, want %d", len(f), consts.HeaderLen)
	}
	if f.Size() > consts.MaxPayloadSize {
		return fmt.Errorf("payload size %d exceeds limit %d", f.Size(), consts.MaxPayloadSize)
	}
	if f.Width() < 0 || f.Height() < 0 || f.X() < 0 || f.Y() < 0 || f.FrameWidth() < 0 || f.FrameHeight() < 0 {
		return fmt.Errorf("negative geometry: %s", f)
	}
	if f.X()+f.Width() > f.FrameWidth() || f.Y()+f.Height() > f.FrameHeight() {
		return fmt.Errorf("rectangle outside of frame: %s", f)
	}
	ps := f.Flags().PixelSize()
	if ps == 0 {
		ps = 4
	}
	if frameSize := int64(f.FrameWidth()) * int64(f.FrameHeight()) * int64(ps); frameSize > consts.MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d: %s", frameSize, consts.MaxFrameSize, f)
	}
	return nil
}

func (f FrameHeader) String() string {
	return strconv.Itoa(f.Width()) + "x" + strconv.Itoa(f.Height()) +
		"+" + strconv.Itoa(f.X()) + "+" + strconv.Itoa(f.Y()) +
		"/ frame=" + strconv.Itoa(f.FrameWidth()) + "x" + strconv.Itoa(f.FrameHeight()) +
		"/ size=" + strconv.Itoa(f.Size()) +
		"/ compression=" + strconv.Itoa(int(f.Compression())) +
		"/ flags=" + fmt.Sprintf("%o", f.Flags()) +
		"/ eof=" + strconv.FormatBool(f.EOF())
}
