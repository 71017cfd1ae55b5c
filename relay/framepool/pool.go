package framepool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
)

var ErrClosed = errors.New("frame pool closed")

// FramePool is a fixed ring of frame buffers shared by the producer and the
// pipeline. Acquire blocks while every buffer is outstanding.
type FramePool struct {
	cond *sync.Cond
	bufs []*FrameBuffer

	next        int
	outstanding int
	closed      bool
}

func New(size int) (*FramePool, error) {
	if size < consts.MinPoolSize {
		return nil, fmt.Errorf("pool size %d, at least %d buffers required", size, consts.MinPoolSize)
	}
	p := &FramePool{
		cond: sync.NewCond(&sync.Mutex{}),
		bufs: make([]*FrameBuffer, size),
	}
	for i := range p.bufs {
		p.bufs[i] = &FrameBuffer{
			Header:           frameheader.NewFrameHeader(),
			compressedHeader: frameheader.NewFrameHeader(),
			pool:             p,
			index:            i,
		}
	}
	return p, nil
}

// Acquire returns the next free buffer in round-robin order, initialized for
// a width x height image of pixelSize bytes per pixel.
func (p *FramePool) Acquire(width, height, pixelSize int) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 || pixelSize <= 0 || pixelSize > 0x0f {
		return nil, fmt.Errorf("invalid frame geometry %dx%d*%d", width, height, pixelSize)
	}

	p.cond.L.Lock()
	var b *FrameBuffer
	for {
		if p.closed {
			p.cond.L.Unlock()
			return nil, ErrClosed
		}
		b = p.takeFree()
		if b != nil {
			break
		}
		p.cond.Wait()
	}
	p.cond.L.Unlock()

	// buffer is exclusively ours from here
	b.reset(width, height, pixelSize)
	return b, nil
}

// takeFree must be called with cond.L held.
func (p *FramePool) takeFree() *FrameBuffer {
	n := len(p.bufs)
	for i := 0; i < n; i++ {
		b := p.bufs[(p.next+i)%n]
		if b.inUse {
			continue
		}
		b.inUse = true
		p.outstanding++
		p.next = (b.index + 1) % n
		return b
	}
	return nil
}

func (p *FramePool) release(b *FrameBuffer) {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()

	if !b.inUse {
		return
	}
	b.inUse = false
	p.outstanding--
	p.cond.Broadcast()
}

// Close wakes every blocked Acquire with ErrClosed. Buffers still outstanding
// may be released afterwards.
func (p *FramePool) Close() {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()

	p.closed = true
	p.cond.Broadcast()
}

func (p *FramePool) Size() int { return len(p.bufs) }

func (p *FramePool) Outstanding() int {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	return p.outstanding
}

func (p *FramePool) WaitAllReleased() <-chan struct{} {
	ch := make(chan struct{})

	go func() {
		p.cond.L.Lock()
		defer p.cond.L.Unlock()

		for p.outstanding != 0 {
			p.cond.Wait()
		}

		close(ch)
	}()

	return ch
}
