// Package codec holds the strip encoders the relay can put on the wire.
// Every codec consumes and produces tightly packed top-down pixel rows.
package codec

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindRaw Kind = iota
	KindJPEG
	KindZstd
)

var kindNames = [...]string{
	KindRaw:  "raw",
	KindJPEG: "jpeg",
	KindZstd: "zstd",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + fmt.Sprint(uint8(k)) + ")"
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown compression kind %q", s)
}

var ErrGeometry = errors.New("pixel data does not match geometry")

type Image struct {
	Pixels    []byte
	Width     int
	Height    int
	PixelSize int
}

func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.PixelSize <= 0 {
		return fmt.Errorf("%w: %dx%d*%d", ErrGeometry, img.Width, img.Height, img.PixelSize)
	}
	if len(img.Pixels) != img.Width*img.Height*img.PixelSize {
		return fmt.Errorf(
			"%w: %d bytes for %dx%d*%d",
			ErrGeometry, len(img.Pixels), img.Width, img.Height, img.PixelSize,
		)
	}
	return nil
}

type Params struct {
	Quality     int
	Subsampling int
}

type Encoder interface {
	Kind() Kind
	// Encode appends the compressed image to dst.
	Encode(dst []byte, img Image, p Params) ([]byte, error)
}

type Decoder interface {
	Decode(payload []byte, width, height, pixelSize int) ([]byte, error)
}

type Codec interface {
	Encoder
	Decoder
}

func New(kind Kind) (Codec, error) {
	switch kind {
	case KindRaw:
		return Raw{}, nil
	case KindJPEG:
		return JPEG{}, nil
	case KindZstd:
		return NewZstd()
	default:
		return nil, fmt.Errorf("unknown compression kind %d", kind)
	}
}

// jpegSubsampling is 4:2:0, the only chroma layout image/jpeg writes.
const jpegSubsampling = 4

// AppliedSubsampling is the chroma subsampling factor payloads of kind really
// carry when requested is asked for. Lossless kinds keep requested as is.
func AppliedSubsampling(kind Kind, requested int) int {
	if kind == KindJPEG {
		return jpegSubsampling
	}
	return requested
}

// Lossless reports whether decoding reproduces the encoded bytes exactly.
func Lossless(kind Kind) bool { return kind != KindJPEG }
