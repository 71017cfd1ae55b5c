package phout

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhout(t *testing.T) {
	a := assert.New(t)

	b := new(bytes.Buffer)
	r := New(b)
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	var expected string

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire(1)
		state.SetSize(256, 128)
		state.OnStrip(100)
		state.OnStrip(11)
		state.Spoiled(0)

		endTime := startTime.Add(1500 * time.Microsecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += fmt.Sprintf(
			"%d.%d	1	256x128	1500	2	0	111	0\n",
			startTime.UnixMilli()/1e3, startTime.UnixMilli()%1e3,
		)
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire(2)
		state.SetSize(256, 128)
		state.Spoiled(2)
		state.IoError(fmt.Errorf("await clear-to-send: %w", syscall.Errno(104)))

		endTime := startTime.Add(time.Millisecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += fmt.Sprintf(
			"%d.%d	2	256x128	1000	0	2	0	104\n",
			startTime.UnixMilli()/1e3, startTime.UnixMilli()%1e3,
		)
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire(3)
		state.SetSize(16, 16)
		state.OnStrip(5)
		state.IoError(errors.New("unknown error"))

		now = func() time.Time { return startTime }
		state.End()

		expected += fmt.Sprintf(
			"%d.%d	3	16x16	0	1	0	5	999\n",
			startTime.UnixMilli()/1e3, startTime.UnixMilli()%1e3,
		)
	}

	a.NoError(r.Close())
	a.NoError(<-errChan)
	a.Equal(expected, b.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFailedWriterKeepsDraining(t *testing.T) {
	a := assert.New(t)

	r := New(failingWriter{})
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	// many more frames than the channel holds, enough to overflow the bufio buffer
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for i := 0; i < 2000; i++ {
			state := r.Acquire(uint64(i))
			state.SetSize(1920, 1080)
			state.OnStrip(4096)
			state.End()
		}
	}()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("End blocked after the writer failed")
	}

	a.NoError(r.Close())
	err := <-errChan
	a.Error(err)
	a.Contains(err.Error(), "disk full")
}
