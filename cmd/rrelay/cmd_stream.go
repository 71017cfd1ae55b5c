package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/rrelay/codec"
	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/datasource"
	"github.com/ozontech/rrelay/relay"
	"github.com/ozontech/rrelay/relay/types"
	jsonlReporter "github.com/ozontech/rrelay/report/jsonl"
	"github.com/ozontech/rrelay/report/multi"
	phoutReporter "github.com/ozontech/rrelay/report/phout"
	supersimpleReporter "github.com/ozontech/rrelay/report/supersimple"
	"github.com/ozontech/rrelay/scheduler"
)

type FPSConst struct {
	Freq     uint64        `arg:"" required:"" help:"Value frames/s."`
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
}

func (r FPSConst) AfterApply(kongCtx *kong.Context) error {
	var sched scheduler.Scheduler
	sched, err := scheduler.NewConstant(r.Freq)
	if err != nil {
		return err
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	if r.Duration != 0 {
		kongCtx.Bind(DurationLimit{r.Duration})
	}
	return nil
}

type FPSLine struct {
	From     float64       `arg:"" required:"" help:"Starting frames/s."`
	To       float64       `arg:"" required:"" help:"Ending frames/s."`
	Duration time.Duration `arg:"" required:"" help:"Duration (10s, 2h...)."`
}

func (r FPSLine) AfterApply(kongCtx *kong.Context) error {
	sched, err := scheduler.NewLine(r.From, r.To, r.Duration)
	if err != nil {
		return err
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	kongCtx.Bind(DurationLimit{r.Duration})
	return nil
}

type FPSUnlimited struct {
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
	Count    uint64        `help:"Limit frames count."`
}

func (r FPSUnlimited) AfterApply(kongCtx *kong.Context) error {
	var sched scheduler.Scheduler = scheduler.Unlimited{}
	if r.Count != 0 {
		sched = scheduler.NewCountLimiter(sched, int64(r.Count))
	}
	if r.Duration != 0 {
		kongCtx.Bind(DurationLimit{r.Duration})
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	return nil
}

type FPS struct {
	Const     FPSConst     `cmd:"" group:"fps" help:"Const fps."`
	Line      FPSLine      `cmd:"" group:"fps" help:"Linear fps."`
	Unlimited FPSUnlimited `cmd:"" group:"fps" help:"Unlimited fps (default one)." default:""`
}

type DurationLimit struct {
	Duration time.Duration
}

type StreamCommand struct {
	Addr string `required:"" help:"Address of the viewer."`

	Workers     int    `default:"1" help:"Compression workers."`
	StripHeight int    `default:"64" help:"Lines per strip."`
	Pool        int    `default:"3" help:"Frame buffers in flight."`
	Sync        bool   `help:"Produce the next frame only after the viewer acknowledged the previous one."`
	NoSkip      bool   `help:"Never drop a frame while the pipeline is catching up."`
	Codec       string `group:"codec" enum:"raw,jpeg,zstd" default:"jpeg" help:"Strip compression. Available types: ${enum}"`
	Quality     int    `group:"codec" default:"95" help:"Compression quality 1..100."`
	Subsampling int    `group:"codec" default:"1" help:"JPEG chroma subsampling."`

	Width     int      `group:"frame" default:"640" help:"Frame width."`
	Height    int      `group:"frame" default:"480" help:"Frame height."`
	PixelSize int      `group:"frame" default:"4" help:"Bytes per pixel."`
	BottomUp  bool     `group:"frame" help:"Frames are stored bottom row first."`
	RawFile   *os.File `group:"frame" help:"File of back-to-back raw frames, replayed in a loop (default is a test pattern)."`

	Phout string `help:"Phout report file." type:"path"`
	JSONL string `name:"jsonl" help:"JSON lines report file." type:"path"`

	Verbose bool `help:"Verbose output"`

	FPS
}

func (c *StreamCommand) config() (relay.Config, error) {
	kind, err := codec.ParseKind(c.Codec)
	if err != nil {
		return relay.Config{}, err
	}
	conf := relay.DefaultConfig()
	conf.Workers = c.Workers
	conf.StripHeight = c.StripHeight
	conf.PoolSize = c.Pool
	conf.Codec = kind
	conf.Quality = c.Quality
	conf.Subsampling = c.Subsampling
	conf.Sync = c.Sync
	return conf, conf.Validate()
}

func (c *StreamCommand) source() (datasource.FrameSource, error) {
	if c.RawFile == nil {
		return datasource.NewPattern(c.Width, c.Height, c.PixelSize), nil
	}
	src, err := datasource.NewRawFile(c.RawFile, c.Width, c.Height, c.PixelSize)
	if err != nil {
		return nil, fmt.Errorf("raw frames file(%s): %w", c.RawFile.Name(), err)
	}
	return src, nil
}

func (c *StreamCommand) reporter() (types.Reporter, []*os.File, error) {
	var (
		reporters = []types.Reporter{supersimpleReporter.New(os.Stdout)}
		files     []*os.File
	)
	if c.Phout != "" {
		f, err := os.Create(c.Phout)
		if err != nil {
			return nil, files, fmt.Errorf("creating phout file(%s): %w", c.Phout, err)
		}
		files = append(files, f)
		reporters = append(reporters, phoutReporter.New(f))
	}
	if c.JSONL != "" {
		f, err := os.Create(c.JSONL)
		if err != nil {
			return nil, files, fmt.Errorf("creating jsonl file(%s): %w", c.JSONL, err)
		}
		files = append(files, f)
		reporters = append(reporters, jsonlReporter.New(f))
	}
	if len(reporters) == 1 {
		return reporters[0], files, nil
	}
	return multi.New(reporters...), files, nil
}

func (c *StreamCommand) Run(
	ctx context.Context,
	sched scheduler.Scheduler,
	d DurationLimit,
) (err error) {
	conf, err := c.config()
	if err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	src, err := c.source()
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}
	defer memStats(log)

	reporter, files, err := c.reporter()
	defer func() {
		for _, f := range files {
			err = multierr.Append(err, f.Close())
		}
	}()
	if err != nil {
		return err
	}

	conn, err := createConn(ctx, consts.DefaultTimeout, c.Addr)
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}
	defer func() { err = multierr.Append(err, ignoreClosed(conn.Close())) }()

	p, err := relay.New(conn, reporter, conf, log)
	if err != nil {
		return fmt.Errorf("pipeline setup: %w", err)
	}
	log.Info("streaming",
		zap.String("addr", c.Addr),
		zap.String("session", p.Session()),
		zap.Stringer("codec", conf.Codec),
		zap.Int("workers", conf.Workers),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(reporter.Run)
	g.Go(func() error { return p.Run(gCtx) })
	g.Go(func() error {
		<-p.Stopped()
		if err := reporter.Close(); err != nil {
			return fmt.Errorf("close reporter: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.DefaultTimeout)
			defer cancel()
			if err := p.Shutdown(shutdownCtx); err != nil {
				log.Warn("pipeline shutdown", zap.Error(err))
			}
		}()

		var skipped int64
		err := scheduler.Run(gCtx, scheduler.NewDurationLimiter(sched, d.Duration), func(frame int64) error {
			if !c.NoSkip && !c.Sync && !p.FrameReady() {
				skipped++
				return nil
			}
			b, err := p.AcquireFrame(c.Width, c.Height, c.PixelSize)
			if err != nil {
				return err
			}
			b.BottomUp = c.BottomUp
			if err := src.Fill(b.Pixels, frame); err != nil {
				b.Release()
				return err
			}
			return p.SubmitFrame(b)
		})
		log.Info("producer finished", zap.Int64("skipped", skipped))
		if errors.Is(err, relay.ErrShutdown) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func memStats(log *zap.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info(
		"memory stats",
		zap.Uint64("Alloc (MiB)", bToMb(m.Alloc)),
		zap.Uint64("TotalAlloc (MiB)", bToMb(m.TotalAlloc)),
		zap.Uint64("Sys (MiB)", bToMb(m.Sys)),
		zap.Uint64("HeapInuse (MiB)", bToMb(m.HeapInuse)),
		zap.Uint32("NumGC (count)", m.NumGC),
		zap.Uint64("Mallocs (count)", m.Mallocs),
		zap.Uint64("Frees (count)", m.Frees),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func createConn(ctx context.Context, timeout time.Duration, addr string) (net.Conn, error) {
	dialer := net.Dialer{}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpConn := conn.(*net.TCPConn)
	if err := tcpConn.SetNoDelay(true); err != nil {
		conn.Close()
		return nil, err
	}
	return tcpConn, nil
}
