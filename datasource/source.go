// Package datasource produces pixel frames for the stream command.
package datasource

import (
	"fmt"
	"io"
	"sync"
)

// FrameSource fills a frame buffer of the geometry it was created for.
type FrameSource interface {
	Fill(dst []byte, frame int64) error
}

// RawFile replays a file of back-to-back raw frames in a loop.
type RawFile struct {
	r         io.Reader
	frameSize int
	mu        sync.Mutex
}

func NewRawFile(rs io.ReadSeeker, width, height, pixelSize int) (*RawFile, error) {
	frameSize := width * height * pixelSize
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d*%d", width, height, pixelSize)
	}
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek to end: %w", err)
	}
	if size < int64(frameSize) {
		return nil, fmt.Errorf("file holds %d bytes, one %dx%d*%d frame needs %d",
			size, width, height, pixelSize, frameSize)
	}
	if size%int64(frameSize) != 0 {
		return nil, fmt.Errorf("file size %d is not a multiple of frame size %d", size, frameSize)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	return &RawFile{r: NewCyclicReader(rs), frameSize: frameSize}, nil
}

func (f *RawFile) Fill(dst []byte, _ int64) error {
	if len(dst) != f.frameSize {
		return fmt.Errorf("buffer of %d bytes for %d byte frames", len(dst), f.frameSize)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.ReadFull(f.r, dst); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

// Pattern draws a static gradient with a horizontal bar moving down by Step
// rows per frame, so only the strips under the bar change between frames.
type Pattern struct {
	Width     int
	Height    int
	PixelSize int
	Bar       int
	Step      int
}

func NewPattern(width, height, pixelSize int) *Pattern {
	bar := height / 8
	if bar == 0 {
		bar = 1
	}
	return &Pattern{
		Width:     width,
		Height:    height,
		PixelSize: pixelSize,
		Bar:       bar,
		Step:      bar / 2,
	}
}

// BarTop is the first row of the bar in frame.
func (p *Pattern) BarTop(frame int64) int {
	if p.Step == 0 {
		return 0
	}
	return int(frame*int64(p.Step)) % p.Height
}

func (p *Pattern) Fill(dst []byte, frame int64) error {
	pitch := p.Width * p.PixelSize
	if len(dst) != pitch*p.Height {
		return fmt.Errorf("buffer of %d bytes for %dx%d*%d frames", len(dst), p.Width, p.Height, p.PixelSize)
	}

	top := p.BarTop(frame)
	for y := 0; y < p.Height; y++ {
		row := dst[y*pitch : (y+1)*pitch]
		onBar := (y-top+p.Height)%p.Height < p.Bar
		for x := 0; x < p.Width; x++ {
			px := row[x*p.PixelSize : (x+1)*p.PixelSize]
			for c := range px {
				switch {
				case onBar:
					px[c] = 0xff
				case c%3 == 0:
					px[c] = byte(x * 255 / p.Width)
				case c%3 == 1:
					px[c] = byte(y * 255 / p.Height)
				default:
					px[c] = 0x40
				}
			}
		}
	}
	return nil
}
