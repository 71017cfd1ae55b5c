package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/rrelay/viewer"
)

type ViewCommand struct {
	Listen   string `default:":9000" help:"Address to accept the stream on."`
	Snapshot string `help:"Write the last frame of every session to this PNG file." type:"path"`
	Once     bool   `help:"Exit after the first session."`

	Verbose bool `help:"Verbose output"`
}

func (c *ViewCommand) Run(ctx context.Context) (err error) {
	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}

	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// one sender at a time, the protocol has a single clear-to-send stream
	ln = netutil.LimitListener(ln, 1)
	log.Info("waiting for sender", zap.Stringer("addr", ln.Addr()))

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return ln.Close()
	})
	g.Go(func() error {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if err := c.serve(ctx, conn, log); err != nil {
				log.Error("session failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			if c.Once || ctx.Err() != nil {
				return nil
			}
		}
	})
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *ViewCommand) serve(ctx context.Context, conn net.Conn, log *zap.Logger) (err error) {
	defer func() { err = multierr.Append(err, ignoreClosed(conn.Close())) }()

	log = log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Info("sender connected")
	s := viewer.NewSession(conn, log)

	var (
		frames, strips, lastFrames int
		lastBytes                  uint64
		last                       = time.Now()
	)
	err = s.Run(ctx, func(info viewer.FrameInfo, _ *viewer.Canvas) error {
		frames++
		strips += info.Strips
		if now := time.Now(); now.Sub(last) >= time.Second {
			d := now.Sub(last).Seconds()
			in := s.BytesIn()
			fmt.Printf("frames=%d %dx%d frames/s=%.2f bytes/s=%s\n",
				frames, info.Width, info.Height,
				float64(frames-lastFrames)/d,
				humanize.Bytes(uint64(float64(in-lastBytes)/d)),
			)
			last, lastFrames, lastBytes = now, frames, in
		}
		return nil
	})
	fmt.Printf("total: frames=%d strips=%d received=%s\n", frames, strips, humanize.Bytes(s.BytesIn()))

	if c.Snapshot != "" && frames > 0 {
		err = multierr.Append(err, c.snapshot(s.Canvas()))
	}
	return err
}

func (c *ViewCommand) snapshot(canvas *viewer.Canvas) (err error) {
	img, err := canvas.Image()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	f, err := os.Create(c.Snapshot)
	if err != nil {
		return fmt.Errorf("creating snapshot file(%s): %w", c.Snapshot, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
