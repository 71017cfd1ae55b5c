package supersimple

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/utils/pool"
)

type Reporter struct {
	out     io.Writer
	pool    *pool.SlicePool[*frameState]
	closeCh chan struct{}

	start   time.Time
	ok      atomic.Uint64
	nook    atomic.Uint64
	pixels  atomic.Uint64
	size    atomic.Uint64
	strips  atomic.Uint64
	spoiled atomic.Uint64

	last     counters
	lastTime time.Time
}

type counters struct {
	ok, nook, pixels, size, strips, spoiled uint64
}

func New(out io.Writer) *Reporter {
	now := time.Now()
	return &Reporter{
		out:      out,
		pool:     pool.NewSlicePoolSize[*frameState](16, nil),
		closeCh:  make(chan struct{}),
		start:    now,
		lastTime: now,
	}
}

func (a *Reporter) Run() error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	defer a.total()
	for {
		select {
		case now := <-t.C:
			a.report(now)
		case <-a.closeCh:
			return nil
		}
	}
}

func (a *Reporter) Close() error {
	close(a.closeCh)
	return nil
}

func (a *Reporter) Acquire(uint64) types.FrameState {
	fs, ok := a.pool.Acquire()
	if !ok {
		fs = &frameState{reporter: a}
	}
	fs.reset()
	return fs
}

func (a *Reporter) accept(s *frameState) {
	if s.failed {
		a.nook.Add(1)
	} else {
		a.ok.Add(1)
		a.pixels.Add(uint64(s.width) * uint64(s.height))
	}
	a.size.Add(uint64(s.size))
	a.strips.Add(uint64(s.strips))
	a.spoiled.Add(uint64(s.spoiled))

	a.pool.Release(s)
}

func (a *Reporter) load() counters {
	return counters{
		ok:      a.ok.Load(),
		nook:    a.nook.Load(),
		pixels:  a.pixels.Load(),
		size:    a.size.Load(),
		strips:  a.strips.Load(),
		spoiled: a.spoiled.Load(),
	}
}

func (a *Reporter) write(c counters, d time.Duration) {
	var spoiledRatio float64
	if all := c.strips + c.spoiled; all > 0 {
		spoiledRatio = float64(c.spoiled) / float64(all)
	}
	miliSeconds := d.Milliseconds()
	if miliSeconds > 0 {
		fmt.Fprintf(a.out,
			"frames=%d nook=%d frames/s=%.2f Mpix/s=%.2f bytes/s=%s spoiled=%.1f%%\n",
			c.ok, c.nook,
			float64(c.ok)*1000/float64(miliSeconds),
			float64(c.pixels)/1000/float64(miliSeconds),
			humanize.Bytes(c.size*1000/uint64(miliSeconds)),
			spoiledRatio*100,
		)
	} else {
		fmt.Fprintf(a.out, "frames=%d nook=%d size=%s spoiled=%.1f%%\n",
			c.ok, c.nook, humanize.Bytes(c.size), spoiledRatio*100)
	}
}

func (a *Reporter) total() {
	fmt.Fprintln(a.out, "total")
	a.write(a.load(), time.Since(a.start))
}

func (a *Reporter) report(now time.Time) {
	c := a.load()
	a.write(counters{
		ok:      c.ok - a.last.ok,
		nook:    c.nook - a.last.nook,
		pixels:  c.pixels - a.last.pixels,
		size:    c.size - a.last.size,
		strips:  c.strips - a.last.strips,
		spoiled: c.spoiled - a.last.spoiled,
	}, now.Sub(a.lastTime))
	a.last, a.lastTime = c, now
}

type frameState struct {
	reporter      *Reporter
	width, height int
	size          int
	strips        int
	spoiled       int
	failed        bool
}

func (s *frameState) reset() {
	s.width, s.height = 0, 0
	s.size, s.strips, s.spoiled = 0, 0, 0
	s.failed = false
}

func (s *frameState) SetSize(width, height int) { s.width, s.height = width, height }

func (s *frameState) OnStrip(size int) {
	s.strips++
	s.size += size
}

func (s *frameState) Spoiled(strips int) { s.spoiled += strips }
func (s *frameState) IoError(error)      { s.failed = true }

func (s *frameState) End() {
	s.reporter.accept(s)
}
