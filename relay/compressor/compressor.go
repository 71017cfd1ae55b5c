package compressor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ozontech/rrelay/codec"
	"github.com/ozontech/rrelay/frameheader"
	"github.com/ozontech/rrelay/relay/framepool"
	"github.com/ozontech/rrelay/relay/types"
	"github.com/ozontech/rrelay/utils/pool"
)

type Config struct {
	Rank        int
	Workers     int
	StripHeight int
	Encoder     codec.Encoder
	Params      codec.Params
}

func (c Config) validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers count %d must be positive", c.Workers)
	case c.Rank < 0 || c.Rank >= c.Workers:
		return fmt.Errorf("rank %d out of range [0, %d)", c.Rank, c.Workers)
	case c.StripHeight < 1:
		return fmt.Errorf("strip height %d must be positive", c.StripHeight)
	case c.Encoder == nil:
		return errors.New("encoder is required")
	}
	return nil
}

// Result counts what one pass over a frame did.
type Result struct {
	Encoded int
	Spoiled int
	Bytes   int
}

func (r *Result) Add(o Result) {
	r.Encoded += o.Encoded
	r.Spoiled += o.Spoiled
	r.Bytes += o.Bytes
}

type storedStrip struct {
	header  frameheader.FrameHeader
	payload []byte
}

// StripCompressor owns the strips whose index % workers == rank.
//
// The aggregator (rank 0) writes its strips straight to the sink and later
// collects the strips stored by the other ranks. Every other rank keeps its
// encoded strips until Drain.
type StripCompressor struct {
	conf Config
	sink types.Sink
	log  *zap.Logger

	hdr     frameheader.FrameHeader
	raw     []byte
	out     []byte
	stored  []*storedStrip
	strips  *pool.SlicePool[*storedStrip]
	scratch *pool.SlicePool[[]byte]
}

// New creates the aggregator when sink is not nil.
func New(conf Config, sink types.Sink, log *zap.Logger) (*StripCompressor, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if sink != nil && conf.Rank != 0 {
		return nil, fmt.Errorf("only rank 0 may aggregate, got rank %d", conf.Rank)
	}
	return &StripCompressor{
		conf: conf,
		sink: sink,
		log:  log.Named("compressor").With(zap.Int("rank", conf.Rank)),
		hdr:  frameheader.NewFrameHeader(),
		strips: pool.NewSlicePool(func() *storedStrip {
			return &storedStrip{header: frameheader.NewFrameHeader()}
		}),
		scratch: pool.NewSlicePool(func() []byte { return nil }),
	}, nil
}

func (c *StripCompressor) Rank() int          { return c.conf.Rank }
func (c *StripCompressor) IsAggregator() bool { return c.sink != nil }

// Stored is the number of strips waiting for Drain.
func (c *StripCompressor) Stored() int { return len(c.stored) }

func StripCount(height, stripHeight int) int {
	return (height + stripHeight - 1) / stripHeight
}

// StripRange returns the visual line range of strip index.
func StripRange(index, stripHeight, height int) (start, end int) {
	start = index * stripHeight
	end = start + stripHeight
	if end > height {
		end = height
	}
	return start, end
}

// Owns reports whether strip index belongs to this rank.
func (c *StripCompressor) Owns(index int) bool {
	return index%c.conf.Workers == c.conf.Rank
}

// Compress encodes every owned strip of cur that differs from prev.
// prev may be nil, then every owned strip is encoded. Neither frame is modified.
func (c *StripCompressor) Compress(ctx context.Context, cur, prev *framepool.FrameBuffer) (res Result, err error) {
	height := cur.Height()
	n := StripCount(height, c.conf.StripHeight)
	for i := c.conf.Rank; i < n; i += c.conf.Workers {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start, end := StripRange(i, c.conf.StripHeight, height)
		if cur.StripEquals(prev, start, end) {
			res.Spoiled++
			continue
		}

		size, err := c.encodeStrip(cur, start, end)
		if err != nil {
			return res, fmt.Errorf("strip %d (lines %d-%d): %w", i, start, end, err)
		}
		res.Encoded++
		res.Bytes += size
	}

	if ce := c.log.Check(zap.DebugLevel, "compress pass done"); ce != nil {
		ce.Write(
			zap.Int("strips", n),
			zap.Int("encoded", res.Encoded),
			zap.Int("spoiled", res.Spoiled),
			zap.Int("bytes", res.Bytes),
		)
	}
	return res, nil
}

func (c *StripCompressor) encodeStrip(cur *framepool.FrameBuffer, start, end int) (int, error) {
	c.raw = cur.AppendStrip(c.raw[:0], start, end)
	img := codec.Image{
		Pixels:    c.raw,
		Width:     cur.Width(),
		Height:    end - start,
		PixelSize: cur.PixelSize,
	}

	if c.IsAggregator() {
		payload, err := c.conf.Encoder.Encode(c.out[:0], img, c.conf.Params)
		if err != nil {
			return 0, err
		}
		c.out = payload
		c.fillHeader(c.hdr, cur, start, end)
		c.hdr.SetSize(len(payload))
		return len(payload), c.sink.SendFrame(c.hdr, payload)
	}

	buf, _ := c.scratch.Acquire()
	payload, err := c.conf.Encoder.Encode(buf[:0], img, c.conf.Params)
	if err != nil {
		c.scratch.Release(buf)
		return 0, err
	}
	s, _ := c.strips.Acquire()
	c.fillHeader(s.header, cur, start, end)
	s.header.SetSize(len(payload))
	s.payload = payload
	c.stored = append(c.stored, s)
	return len(payload), nil
}

func (c *StripCompressor) fillHeader(h frameheader.FrameHeader, cur *framepool.FrameBuffer, start, end int) {
	h.Fill(0, start, cur.Width(), end-start, cur.Width(), cur.Height())
	h.SetCompression(uint8(c.conf.Encoder.Kind()))
	h.SetQuality(uint8(c.conf.Params.Quality))
	h.SetSubsampling(uint8(c.conf.Params.Subsampling))
	// payload rows are always top-down, so only the pixel size travels
	h.SetFlags(frameheader.Flags(0).WithPixelSize(cur.PixelSize))
}

// Drain sends stored strips to sink in the order they were encoded and
// recycles their buffers. On error the remaining strips are discarded.
func (c *StripCompressor) Drain(sink types.Sink) (sent int, err error) {
	defer c.Reset()
	for _, s := range c.stored {
		if err := sink.SendFrame(s.header, s.payload); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Reset drops stored strips without sending them.
func (c *StripCompressor) Reset() {
	for i, s := range c.stored {
		c.scratch.Release(s.payload)
		s.payload = nil
		c.strips.Release(s)
		c.stored[i] = nil
	}
	c.stored = c.stored[:0]
}

// Collect drains the other ranks into the aggregator's sink, lowest rank first.
func (c *StripCompressor) Collect(others []*StripCompressor) (sent int, err error) {
	if !c.IsAggregator() {
		return 0, fmt.Errorf("rank %d is not the aggregator", c.conf.Rank)
	}
	ranked := make([]*StripCompressor, 0, len(others))
	for _, o := range others {
		if o != c {
			ranked = append(ranked, o)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Rank() < ranked[j].Rank() })

	for i, o := range ranked {
		n, err := o.Drain(c.sink)
		sent += n
		if err != nil {
			for _, rest := range ranked[i+1:] {
				rest.Reset()
			}
			return sent, fmt.Errorf("collect rank %d: %w", o.Rank(), err)
		}
	}
	return sent, nil
}
