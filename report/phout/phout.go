package phout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"syscall"
	"time"

	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/utils/pool"
)

var now = time.Now

// Reporter writes one tab separated line per frame:
// time, seq, width x height, latency µs, strips, spoiled strips, bytes, errno.
type Reporter struct {
	w    *bufio.Writer
	ch   chan *frameState
	pool *pool.SlicePool[*frameState]
}

func New(w io.Writer) *Reporter {
	return &Reporter{
		bufio.NewWriter(w),
		make(chan *frameState, 256),
		pool.NewSlicePoolSize[*frameState](256, nil),
	}
}

// Run writes lines until Close. After a write error the remaining frames are
// discarded, End never blocks the pipeline, and the error is returned on Close.
func (r *Reporter) Run() (err error) {
	for s := range r.ch {
		if err == nil {
			if _, werr := r.w.Write(s.result()); werr != nil {
				err = fmt.Errorf("write: %w", werr)
			}
		}
		r.pool.Release(s)
	}
	if err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *Reporter) Close() error {
	close(r.ch)
	return nil
}

func (r *Reporter) Acquire(seq uint64) types.FrameState {
	fs, ok := r.pool.Acquire()
	if !ok {
		fs = &frameState{
			reportLine: make([]byte, 128),
			reporter:   r,
		}
	}
	fs.reset(seq)
	return fs
}

func (r *Reporter) accept(s *frameState) {
	r.ch <- s
}

type frameState struct {
	reportLine []byte
	reporter   *Reporter

	seq           uint64
	width, height int
	strips        int
	spoiled       int
	size          int
	ioErr         error

	startTime time.Time
	endTime   time.Time
}

func (s *frameState) reset(seq uint64) {
	s.seq = seq
	s.startTime = now()
	s.width, s.height = 0, 0
	s.strips, s.spoiled, s.size = 0, 0, 0
	s.ioErr = nil
}

func (s *frameState) SetSize(width, height int) {
	s.width, s.height = width, height
}

func (s *frameState) OnStrip(size int) {
	s.strips++
	s.size += size
}

func (s *frameState) Spoiled(strips int) { s.spoiled += strips }
func (s *frameState) IoError(err error)  { s.ioErr = err }

const tabChar = '\t'

func (s *frameState) result() []byte {
	s.reportLine = s.reportLine[:0]
	s.reportLine = strconv.AppendInt(s.reportLine, s.startTime.Unix(), 10)
	s.reportLine = append(s.reportLine, '.')
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.startTime.Nanosecond()/1e6), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = strconv.AppendUint(s.reportLine, s.seq, 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.width), 10)
	s.reportLine = append(s.reportLine, 'x')
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.height), 10)
	s.reportLine = append(s.reportLine, tabChar)

	// send to ack
	rtt := s.endTime.Sub(s.startTime).Microseconds()
	s.reportLine = strconv.AppendInt(s.reportLine, rtt, 10)
	s.reportLine = append(s.reportLine, tabChar)

	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.strips), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.spoiled), 10)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.size), 10)
	s.reportLine = append(s.reportLine, tabChar)

	var errNo syscall.Errno
	if s.ioErr != nil {
		if !errors.As(s.ioErr, &errNo) {
			errNo = 999
		}
		s.reportLine = strconv.AppendInt(s.reportLine, int64(errNo), 10)
	} else {
		s.reportLine = append(s.reportLine, '0')
	}
	s.reportLine = append(s.reportLine, '\n')
	return s.reportLine
}

func (s *frameState) End() {
	s.endTime = now()
	s.reporter.accept(s)
}
