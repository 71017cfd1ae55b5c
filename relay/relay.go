package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/rrelay/codec"
	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
	"github.com/ozontech/rrelay/relay/compressor"
	"github.com/ozontech/rrelay/relay/framepool"
	"github.com/ozontech/rrelay/relay/queue"
	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/relay/wire"
	"github.com/ozontech/rrelay/report/noop"
)

type runState uint8

const (
	stateCreated runState = iota
	stateRunning
	stateClosed // torn down without ever running
)

// ErrShutdown is returned to the producer after the pipeline stopped cleanly.
var ErrShutdown = errors.New("pipeline is shut down")

// Pipeline streams submitted frames to one peer. The producer side
// (AcquireFrame, SubmitFrame, PendingFrameCount) may be used from any goroutine;
// Run drives the wire from its own.
type Pipeline struct {
	conf     Config
	params   codec.Params
	session  string
	log      *zap.Logger
	reporter types.FrameReporter

	pool  *framepool.FramePool
	queue *queue.Queue
	wire  *wire.Channel
	sink  *reportingSink

	aggregator  *compressor.StripCompressor
	compressors []*compressor.StripCompressor
	workers     []*compressor.Worker

	// owned by the Run goroutine
	prev   *framepool.FrameBuffer
	eofHdr frameheader.FrameHeader
	seq    uint64

	mu        sync.Mutex // guards state and cancelRun
	state     runState
	cancelRun context.CancelFunc
	stopped   chan struct{}
	runErr    error

	teardownOnce sync.Once
	errMu        sync.RWMutex
	err          error

	// sync mode accounting
	syncCond  *sync.Cond
	submitted uint64
	done      uint64
	finished  bool
}

// New builds a pipeline writing to conn. Run must be called to start streaming.
func New(
	conn io.ReadWriter,
	reporter types.FrameReporter,
	conf Config,
	log *zap.Logger,
) (*Pipeline, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if reporter == nil {
		reporter = noop.New()
	}

	enc, err := codec.New(conf.Codec)
	if err != nil {
		return nil, err
	}
	pool, err := framepool.New(conf.PoolSize)
	if err != nil {
		return nil, err
	}

	session := uuid.NewString()
	log = log.Named("pipeline").With(zap.String("session", session))

	p := &Pipeline{
		conf:     conf,
		session:  session,
		log:      log,
		reporter: reporter,
		pool:     pool,
		queue:    queue.New(),
		wire:     wire.NewChannel(conn),
		eofHdr:   frameheader.NewFrameHeader(),
		stopped:  make(chan struct{}),
		syncCond: sync.NewCond(&sync.Mutex{}),
	}
	p.sink = &reportingSink{ch: p.wire}

	params := codec.Params{
		Quality:     conf.Quality,
		Subsampling: codec.AppliedSubsampling(conf.Codec, conf.Subsampling),
	}
	if params.Subsampling != conf.Subsampling {
		log.Warn("codec does not support the requested subsampling",
			zap.Stringer("codec", conf.Codec),
			zap.Int("requested", conf.Subsampling),
			zap.Int("applied", params.Subsampling),
		)
	}
	p.params = params
	for rank := 0; rank < conf.Workers; rank++ {
		cc := compressor.Config{
			Rank:        rank,
			Workers:     conf.Workers,
			StripHeight: conf.StripHeight,
			Encoder:     enc,
			Params:      params,
		}
		var sink types.Sink
		if rank == 0 {
			sink = p.sink
		}
		c, err := compressor.New(cc, sink, log)
		if err != nil {
			return nil, err
		}
		p.compressors = append(p.compressors, c)
		if rank == 0 {
			p.aggregator = c
			continue
		}
		p.workers = append(p.workers, compressor.NewWorker(c))
	}

	log.Info("pipeline created",
		zap.Int("workers", conf.Workers),
		zap.Int("strip_height", conf.StripHeight),
		zap.Int("pool_size", conf.PoolSize),
		zap.Stringer("codec", conf.Codec),
		zap.Int("quality", conf.Quality),
		zap.Int("subsampling", params.Subsampling),
		zap.Bool("sync", conf.Sync),
	)
	return p, nil
}

func (p *Pipeline) Session() string { return p.session }

// Err returns the error that terminated the pipeline, ErrShutdown after a clean
// stop, or nil while it is alive.
func (p *Pipeline) Err() error {
	p.errMu.RLock()
	defer p.errMu.RUnlock()
	return p.err
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// AcquireFrame returns a buffer for the producer to fill. It blocks while every
// buffer of the ring is in flight.
func (p *Pipeline) AcquireFrame(width, height, pixelSize int) (*framepool.FrameBuffer, error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	b, err := p.pool.Acquire(width, height, pixelSize)
	if errors.Is(err, framepool.ErrClosed) {
		if terr := p.Err(); terr != nil {
			return nil, terr
		}
		return nil, ErrShutdown
	}
	return b, err
}

// SubmitFrame queues a filled buffer for transmission. Ownership passes to the
// pipeline even when an error is returned. In sync mode the call returns once
// the peer acknowledged the frame.
func (p *Pipeline) SubmitFrame(b *framepool.FrameBuffer) error {
	if b == nil {
		return errors.New("nil frame submitted")
	}
	if err := p.Err(); err != nil {
		b.Release()
		return err
	}

	p.syncCond.L.Lock()
	err := p.queue.Push(b)
	if err != nil {
		p.syncCond.L.Unlock()
		b.Release()
		if terr := p.Err(); terr != nil {
			return terr
		}
		return ErrShutdown
	}
	p.submitted++
	seq := p.submitted
	if !p.conf.Sync {
		p.syncCond.L.Unlock()
		return nil
	}

	for p.done < seq && !p.finished {
		p.syncCond.Wait()
	}
	delivered := p.done >= seq
	p.syncCond.L.Unlock()

	if !delivered {
		if terr := p.Err(); terr != nil {
			return terr
		}
		return ErrShutdown
	}
	return nil
}

// SubmitCompressed queues an image that is already encoded. It is sent as a
// single message followed by the frame terminator and resets the delta
// baseline, so the next regular frame goes out in full.
func (p *Pipeline) SubmitCompressed(h frameheader.FrameHeader, payload []byte) error {
	if len(h) != consts.HeaderLen {
		return fmt.Errorf("compressed frame header has %d bytes", len(h))
	}
	hdr := append(frameheader.FrameHeader(nil), h...)
	hdr.SetSize(len(payload))
	hdr.SetEOF(false)
	if err := hdr.Validate(); err != nil {
		return fmt.Errorf("compressed frame header: %w", err)
	}

	b, err := p.AcquireFrame(1, 1, 1)
	if err != nil {
		return err
	}
	b.SetCompressed(hdr, payload)
	return p.SubmitFrame(b)
}

// PendingFrameCount is the number of frames waiting for the pipeline. Producers
// use it to drop frames while the pipeline is catching up.
func (p *Pipeline) PendingFrameCount() int { return p.queue.Len() }

// FrameReady reports whether nothing is waiting in the queue.
func (p *Pipeline) FrameReady() bool { return p.PendingFrameCount() == 0 }

// Run streams frames until the queue is closed by Shutdown, ctx is canceled
// or an error occurs. Closing the queue stops at a frame boundary; canceling
// ctx interrupts the frame in flight. Every buffer held by the pipeline is
// released on return.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	switch p.state {
	case stateRunning:
		p.mu.Unlock()
		return errors.New("pipeline already started")
	case stateClosed:
		p.mu.Unlock()
		return ErrShutdown
	}
	p.state = stateRunning
	p.cancelRun = cancel
	p.mu.Unlock()
	defer close(p.stopped)

	for _, w := range p.workers {
		go w.Run()
	}

	defer func() {
		p.teardown(err)
		p.runErr = err
		p.log.Info("pipeline stopped", zap.Uint64("frames", p.seq), zap.Error(err))
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		// wake a Pop on an empty queue and a blocked ack read
		p.queue.Close()
		if err := p.wire.Interrupt(); err != nil {
			p.log.Debug("interrupt connection", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return p.loop(ctx)
	})
	return g.Wait()
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		b, ok := p.queue.Pop()
		if !ok {
			p.log.Debug("queue closed")
			return nil
		}
		if ctx.Err() != nil {
			b.Release()
			return nil
		}

		if err := p.processFrame(ctx, b); err != nil {
			b.Release()
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("frame failed", zap.Uint64("seq", p.seq), zap.Error(err))
			return err
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, b *framepool.FrameBuffer) (err error) {
	p.seq++
	begin := time.Now()
	state := p.reporter.Acquire(p.seq)
	p.sink.state = state
	defer func() {
		if err != nil {
			state.IoError(err)
			state.End()
			return
		}
		state.End()
		p.frameDone()
	}()

	if h, payload, ok := b.Compressed(); ok {
		state.SetSize(h.FrameWidth(), h.FrameHeight())
		if err := p.sink.SendFrame(h, payload); err != nil {
			return err
		}
		if err := p.finishFrame(h); err != nil {
			return err
		}
		// the viewer now shows an image we hold no pixels for
		p.releasePrev()
		b.Release()
		return nil
	}

	state.SetSize(b.Width(), b.Height())
	res, err := p.compress(ctx, b)
	if err != nil {
		return err
	}
	state.Spoiled(res.Spoiled)

	copy(p.eofHdr, b.Header)
	p.eofHdr.SetCompression(uint8(p.conf.Codec))
	p.eofHdr.SetQuality(uint8(p.conf.Quality))
	p.eofHdr.SetSubsampling(uint8(p.params.Subsampling))
	if err := p.finishFrame(p.eofHdr); err != nil {
		return err
	}

	// the new frame is the delta baseline from now on
	p.releasePrev()
	p.prev = b

	if ce := p.log.Check(zap.DebugLevel, "frame sent"); ce != nil {
		ce.Write(
			zap.Uint64("seq", p.seq),
			zap.Int("width", b.Width()),
			zap.Int("height", b.Height()),
			zap.Int("encoded", res.Encoded),
			zap.Int("spoiled", res.Spoiled),
			zap.Int("bytes", res.Bytes),
			zap.Duration("took", time.Since(begin)),
		)
	}
	return nil
}

// compress fans the frame out to every rank and joins them. All ranks are
// waited for even when one fails, the frames must not be released while any
// worker still reads them.
func (p *Pipeline) compress(ctx context.Context, b *framepool.FrameBuffer) (compressor.Result, error) {
	for _, w := range p.workers {
		w.Go(ctx, b, p.prev)
	}

	res, err := p.aggregator.Compress(ctx, b, p.prev)
	if err != nil {
		err = fmt.Errorf("rank 0: %w", err)
	}
	for _, w := range p.workers {
		r, werr := w.Wait()
		res.Add(r)
		err = multierr.Append(err, werr)
	}
	if err != nil {
		for _, w := range p.workers {
			w.Compressor().Reset()
		}
		return res, err
	}

	if _, err := p.aggregator.Collect(p.compressors); err != nil {
		return res, err
	}
	return res, nil
}

// finishFrame sends the terminator and waits for clear-to-send.
func (p *Pipeline) finishFrame(h frameheader.FrameHeader) error {
	if err := p.wire.SendEOF(h); err != nil {
		return err
	}
	return p.wire.AwaitAck()
}

func (p *Pipeline) releasePrev() {
	if p.prev != nil {
		p.prev.Release()
		p.prev = nil
	}
}

func (p *Pipeline) frameDone() {
	p.syncCond.L.Lock()
	p.done++
	p.syncCond.L.Unlock()
	p.syncCond.Broadcast()
}

func (p *Pipeline) teardown(cause error) {
	p.teardownOnce.Do(func() {
		if cause != nil {
			p.setErr(cause)
		}
		p.setErr(ErrShutdown)

		for _, b := range p.queue.Drain() {
			b.Release()
		}
		p.releasePrev()
		for _, w := range p.workers {
			w.Stop()
		}
		p.pool.Close()

		p.syncCond.L.Lock()
		p.finished = true
		p.syncCond.L.Unlock()
		p.syncCond.Broadcast()
	})
}

// Shutdown stops accepting frames and waits for Run to drain the queued ones.
// Run may still be started after Shutdown was called. If ctx expires first Run
// is interrupted: a frame in flight is cut off without its terminator, the
// session is unusable afterwards and the frames still queued are dropped. A
// pipeline that was never run is torn down at that point and any later Run
// returns ErrShutdown. Safe to call more than once.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.queue.Close()

	select {
	case <-p.stopped:
		return p.runErr
	case <-ctx.Done():
	}

	p.mu.Lock()
	if p.state == stateCreated {
		p.state = stateClosed
		p.mu.Unlock()
		p.log.Info("pipeline closed without running", zap.Int("dropped", p.queue.Len()))
		p.teardown(nil)
		close(p.stopped)
		return nil
	}
	cancel := p.cancelRun
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-p.stopped
	return p.runErr
}

// Stopped is closed once Run has returned and every buffer was released.
func (p *Pipeline) Stopped() <-chan struct{} { return p.stopped }

// Outstanding is the number of ring buffers currently held by the producer or
// the pipeline.
func (p *Pipeline) Outstanding() int { return p.pool.Outstanding() }

type reportingSink struct {
	ch    *wire.Channel
	state types.FrameState
}

func (s *reportingSink) SendFrame(h frameheader.FrameHeader, payload []byte) error {
	if err := s.ch.SendFrame(h, payload); err != nil {
		return err
	}
	s.state.OnStrip(len(payload))
	return nil
}
