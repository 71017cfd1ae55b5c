package relay

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/ozontech/rrelay/codec"
	"github.com/ozontech/rrelay/consts"
)

type Config struct {
	Workers     int        // compression ranks, rank 0 runs on the pipeline goroutine
	StripHeight int        // lines per strip
	PoolSize    int        // frame buffers in the ring
	Codec       codec.Kind // compression of strip payloads
	Quality     int        // 1..100
	Subsampling int
	Sync        bool // SubmitFrame waits for the peer acknowledgment
}

func DefaultConfig() Config {
	return Config{
		Workers:     consts.DefaultWorkers,
		StripHeight: consts.DefaultStripHeight,
		PoolSize:    consts.DefaultPoolSize,
		Codec:       codec.KindJPEG,
		Quality:     consts.DefaultQuality,
		Subsampling: consts.DefaultSubsampling,
	}
}

func (c Config) Validate() (err error) {
	if c.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("workers %d must be positive", c.Workers))
	}
	if c.StripHeight < 1 {
		err = multierr.Append(err, fmt.Errorf("strip height %d must be positive", c.StripHeight))
	}
	if c.PoolSize < consts.MinPoolSize {
		err = multierr.Append(err, fmt.Errorf("pool size %d, at least %d required", c.PoolSize, consts.MinPoolSize))
	}
	if c.Quality < 1 || c.Quality > 100 {
		err = multierr.Append(err, fmt.Errorf("quality %d out of range [1, 100]", c.Quality))
	}
	if c.Subsampling < 0 || c.Subsampling > 0xff {
		err = multierr.Append(err, fmt.Errorf("subsampling %d does not fit the header", c.Subsampling))
	}
	if _, kindErr := codec.ParseKind(c.Codec.String()); kindErr != nil {
		err = multierr.Append(err, kindErr)
	}
	return err
}
