// Package jsonl reports every frame as one JSON object per line.
package jsonl

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/mailru/easyjson/jwriter"

	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/utils/pool"
)

var now = time.Now

type Reporter struct {
	w    *bufio.Writer
	jw   jwriter.Writer
	ch   chan *frameState
	pool *pool.SlicePool[*frameState]
}

func New(w io.Writer) *Reporter {
	return &Reporter{
		w:    bufio.NewWriter(w),
		ch:   make(chan *frameState, 256),
		pool: pool.NewSlicePoolSize[*frameState](256, nil),
	}
}

// Run writes objects until Close. A failed reporter keeps draining so that End
// never blocks, the first error is returned on Close.
func (r *Reporter) Run() (err error) {
	for s := range r.ch {
		if err == nil {
			err = r.write(s)
		}
		r.pool.Release(s)
	}
	if err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *Reporter) write(s *frameState) error {
	s.marshal(&r.jw)
	r.jw.RawByte('\n')
	if r.jw.Error != nil {
		return fmt.Errorf("marshal: %w", r.jw.Error)
	}
	if _, err := r.jw.DumpTo(r.w); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (r *Reporter) Close() error {
	close(r.ch)
	return nil
}

func (r *Reporter) Acquire(seq uint64) types.FrameState {
	fs, ok := r.pool.Acquire()
	if !ok {
		fs = &frameState{reporter: r}
	}
	fs.reset(seq)
	return fs
}

type frameState struct {
	reporter *Reporter

	seq           uint64
	width, height int
	strips        int
	spoiled       int
	size          int
	err           string

	startTime time.Time
	endTime   time.Time
}

func (s *frameState) reset(seq uint64) {
	s.seq = seq
	s.startTime = now()
	s.width, s.height = 0, 0
	s.strips, s.spoiled, s.size = 0, 0, 0
	s.err = ""
}

func (s *frameState) SetSize(width, height int) { s.width, s.height = width, height }

func (s *frameState) OnStrip(size int) {
	s.strips++
	s.size += size
}

func (s *frameState) Spoiled(strips int) { s.spoiled += strips }
func (s *frameState) IoError(err error)  { s.err = err.Error() }

func (s *frameState) End() {
	s.endTime = now()
	s.reporter.ch <- s
}

func (s *frameState) marshal(w *jwriter.Writer) {
	w.RawString(`{"ts":`)
	w.Int64(s.startTime.UnixMilli())
	w.RawString(`,"seq":`)
	w.Uint64(s.seq)
	w.RawString(`,"width":`)
	w.Int(s.width)
	w.RawString(`,"height":`)
	w.Int(s.height)
	w.RawString(`,"latency_us":`)
	w.Int64(s.endTime.Sub(s.startTime).Microseconds())
	w.RawString(`,"strips":`)
	w.Int(s.strips)
	w.RawString(`,"spoiled":`)
	w.Int(s.spoiled)
	w.RawString(`,"bytes":`)
	w.Int(s.size)
	if s.err != "" {
		w.RawString(`,"error":`)
		w.String(s.err)
	}
	w.RawByte('}')
}
