package supersimple

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReporter(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	out := new(bytes.Buffer)
	r := New(out)

	s := r.Acquire(1)
	s.SetSize(256, 128)
	s.OnStrip(1000)
	s.OnStrip(24)
	s.Spoiled(2)
	s.End()

	s = r.Acquire(2)
	s.SetSize(256, 128)
	s.IoError(errors.New("broken pipe"))
	s.End()

	c := r.load()
	a.Equal(uint64(1), c.ok)
	a.Equal(uint64(1), c.nook)
	a.Equal(uint64(256*128), c.pixels)
	a.Equal(uint64(1024), c.size)
	a.Equal(uint64(2), c.strips)
	a.Equal(uint64(2), c.spoiled)
	a.Equal(1, r.pool.Len(), "both states recycled into one slot")

	r.write(c, time.Second)
	line := out.String()
	a.True(strings.HasPrefix(line, "frames=1 nook=1 frames/s=1.00 Mpix/s=0.03 bytes/s=1.0 kB"), line)
	a.Contains(line, "spoiled=50.0%")

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run() }()
	a.NoError(r.Close())
	a.NoError(<-errCh)
	a.Contains(out.String(), "total\n")
}
