// Package viewer is the receiving side of the relay protocol: it rebuilds frames
// from strip messages and grants clear-to-send after each complete frame.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/rrelay/codec"
	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
)

// FrameInfo describes one reconstructed frame.
type FrameInfo struct {
	Seq     uint64
	Width   int
	Height  int
	Strips  int // messages carrying pixels
	Bytes   int // payload bytes of those messages
	Elapsed time.Duration
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Session reads one sender's stream. It is not safe for concurrent use.
type Session struct {
	conn io.ReadWriter
	log  *zap.Logger

	framer    Framer
	buf       []byte
	needRead  bool
	validated bool
	header    frameheader.FrameHeader
	payload   []byte

	canvas   Canvas
	decoders map[codec.Kind]codec.Decoder
	seq      uint64
	bytesIn  atomic.Uint64
	ack      [1]byte
}

func NewSession(conn io.ReadWriter, log *zap.Logger) *Session {
	return &Session{
		conn:     conn,
		log:      log.Named("viewer"),
		buf:      make([]byte, consts.RecieveBufferSize),
		needRead: true,
		header:   frameheader.NewFrameHeader(),
		decoders: make(map[codec.Kind]codec.Decoder, 3),
		ack:      [1]byte{consts.AckClearToSend},
	}
}

// Canvas is the last reconstructed frame. It is overwritten by ReadFrame.
func (s *Session) Canvas() *Canvas { return &s.canvas }

func (s *Session) BytesIn() uint64 { return s.bytesIn.Load() }

// ReadFrame applies messages to the canvas until the frame terminator.
// io.EOF is returned when the sender closed the stream between frames.
func (s *Session) ReadFrame() (FrameInfo, error) {
	begin := time.Now()
	info := FrameInfo{Seq: s.seq + 1}
	first := true
	for {
		h, payload, err := s.next()
		if err != nil {
			if first && errors.Is(err, io.EOF) {
				return info, io.EOF
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return info, fmt.Errorf("read frame %d: %w", info.Seq, err)
		}
		first = false

		if h.EOF() {
			s.seq++
			info.Width, info.Height = h.FrameWidth(), h.FrameHeight()
			info.Elapsed = time.Since(begin)
			return info, nil
		}
		if err := s.apply(h, payload); err != nil {
			return info, fmt.Errorf("frame %d: %w", info.Seq, err)
		}
		info.Strips++
		info.Bytes += len(payload)
	}
}

// Ack grants the sender clear-to-send for the next frame.
func (s *Session) Ack() error {
	if _, err := s.conn.Write(s.ack[:]); err != nil {
		return fmt.Errorf("send clear-to-send: %w", err)
	}
	return nil
}

// Run reads frames, hands each one to fn and acknowledges it, until the sender
// disconnects, fn fails or ctx is canceled.
func (s *Session) Run(ctx context.Context, fn func(FrameInfo, *Canvas) error) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-done:
		case <-ctx.Done():
			if d, ok := s.conn.(deadliner); ok {
				_ = d.SetDeadline(time.Now())
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		for {
			info, err := s.ReadFrame()
			if errors.Is(err, io.EOF) {
				s.log.Info("sender closed the stream", zap.Uint64("frames", s.seq))
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}

			if fn != nil {
				if err := fn(info, &s.canvas); err != nil {
					return err
				}
			}
			if err := s.Ack(); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

// next returns one complete message. payload is valid until the next call.
func (s *Session) next() (frameheader.FrameHeader, []byte, error) {
	s.payload = s.payload[:0]
	s.validated = false
	for {
		if s.needRead {
			n, err := s.conn.Read(s.buf)
			if n == 0 {
				if err == nil {
					continue
				}
				partial := s.validated || len(s.framer.currentHeader) != 0
				if errors.Is(err, io.EOF) && partial {
					err = io.ErrUnexpectedEOF
				}
				return nil, nil, err
			}
			s.bytesIn.Add(uint64(n))
			s.framer.Fill(s.buf[:n])
			s.needRead = false
		}

		b, status := s.framer.Next()
		if status == StatusHeaderIncomplete {
			s.needRead = true
			continue
		}
		if !s.validated {
			if err := s.framer.Header().Validate(); err != nil {
				return nil, nil, fmt.Errorf("invalid message header: %w", err)
			}
			s.validated = true
		}
		s.payload = append(s.payload, b...)

		switch status {
		case StatusPayloadIncomplete:
			s.needRead = true
			continue
		case StatusFrameDoneBufEmpty:
			s.needRead = true
		}
		copy(s.header, s.framer.Header())
		return s.header, s.payload, nil
	}
}

func (s *Session) apply(h frameheader.FrameHeader, payload []byte) error {
	kind := codec.Kind(h.Compression())
	dec, ok := s.decoders[kind]
	if !ok {
		c, err := codec.New(kind)
		if err != nil {
			return err
		}
		dec = c
		s.decoders[kind] = dec
	}

	ps := h.Flags().PixelSize()
	if ps == 0 {
		// precompressed images do not always carry a pixel size
		ps = 4
	}
	if s.canvas.Resize(h.FrameWidth(), h.FrameHeight(), ps) {
		s.log.Info("frame geometry changed",
			zap.Int("width", h.FrameWidth()),
			zap.Int("height", h.FrameHeight()),
			zap.Int("pixel_size", ps),
		)
	}

	pixels, err := dec.Decode(payload, h.Width(), h.Height(), ps)
	if err != nil {
		return fmt.Errorf("decode %s strip at y=%d: %w", kind, h.Y(), err)
	}
	return s.canvas.Blit(h, pixels)
}
