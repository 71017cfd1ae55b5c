package codec

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd is a lossless codec. Quality selects the encoder level.
// Encoders and the decoder are safe for concurrent EncodeAll/DecodeAll calls,
// so one Zstd value is shared by every compression worker. Each encoder holds
// one state per GOMAXPROCS, so ranks never queue on each other.
type Zstd struct {
	mu          sync.Mutex
	encoders    map[zstd.EncoderLevel]*zstd.Encoder
	decoder     *zstd.Decoder
	concurrency int
}

func NewZstd() (*Zstd, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Zstd{
		encoders:    make(map[zstd.EncoderLevel]*zstd.Encoder, 4),
		decoder:     dec,
		concurrency: runtime.GOMAXPROCS(0),
	}, nil
}

func (*Zstd) Kind() Kind { return KindZstd }

func levelForQuality(q int) zstd.EncoderLevel {
	switch {
	case q <= 50:
		return zstd.SpeedFastest
	case q <= 80:
		return zstd.SpeedDefault
	case q <= 95:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (z *Zstd) encoder(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	enc, ok := z.encoders[level]
	if ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(z.concurrency))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder (%s): %w", level, err)
	}
	z.encoders[level] = enc
	return enc, nil
}

func (z *Zstd) Encode(dst []byte, img Image, p Params) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return dst, err
	}
	enc, err := z.encoder(levelForQuality(p.Quality))
	if err != nil {
		return dst, err
	}
	return enc.EncodeAll(img.Pixels, dst), nil
}

func (z *Zstd) Decode(payload []byte, width, height, pixelSize int) ([]byte, error) {
	want := width * height * pixelSize
	pixels, err := z.decoder.DecodeAll(payload, make([]byte, 0, want))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(pixels) != want {
		return nil, fmt.Errorf("%w: zstd payload decoded to %d bytes for %dx%d*%d",
			ErrGeometry, len(pixels), width, height, pixelSize)
	}
	return pixels, nil
}
