package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/rrelay/scheduler"
)

func TestConstant(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	_, err := scheduler.NewConstant(0)
	a.Error(err)

	s, err := scheduler.NewConstant(50)
	a.NoError(err)
	at, ok := s.Next(0)
	a.True(ok)
	a.Zero(at)
	at, _ = s.Next(25)
	a.Equal(500*time.Millisecond, at)
}

func TestCountLimiter(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s := scheduler.NewCountLimiter(scheduler.Unlimited{}, 2)
	_, ok := s.Next(1)
	a.True(ok)
	_, ok = s.Next(2)
	a.False(ok)
}

func TestDurationLimiter(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c, err := scheduler.NewConstant(10)
	a.NoError(err)
	s := scheduler.NewDurationLimiter(c, time.Second)
	at, ok := s.Next(10)
	a.True(ok)
	a.Equal(time.Second, at)
	_, ok = s.Next(11)
	a.False(ok)
}

func TestLine(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	_, err := scheduler.NewLine(0, 10, time.Second)
	a.Error(err)
	_, err = scheduler.NewLine(1, 10, 0)
	a.Error(err)

	// 10 -> 30 fps over 10s is 200 frames in total
	s, err := scheduler.NewLine(10, 30, 10*time.Second)
	a.NoError(err)
	at, _ := s.Next(200)
	a.InDelta(10*time.Second, at, float64(time.Millisecond))
	at, _ = s.Next(10)
	a.Less(at, time.Second)

	flat, err := scheduler.NewLine(20, 20, time.Second)
	a.NoError(err)
	at, _ = flat.Next(20)
	a.Equal(time.Second, at)
}

func TestRun(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	s, err := scheduler.NewConstant(100)
	a.NoError(err)

	var frames []int64
	begin := time.Now()
	err = scheduler.Run(context.Background(), scheduler.NewCountLimiter(s, 5), func(frame int64) error {
		frames = append(frames, frame)
		return nil
	})
	a.NoError(err)
	a.Equal([]int64{0, 1, 2, 3, 4}, frames)
	a.GreaterOrEqual(time.Since(begin), 40*time.Millisecond)

	errStop := errors.New("stop")
	err = scheduler.Run(context.Background(), scheduler.Unlimited{}, func(frame int64) error {
		if frame == 3 {
			return errStop
		}
		return nil
	})
	a.ErrorIs(err, errStop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow, err := scheduler.NewConstant(1)
	a.NoError(err)
	calls := 0
	err = scheduler.Run(ctx, slow, func(int64) error {
		calls++
		return nil
	})
	a.ErrorIs(err, context.Canceled)
	a.Zero(calls)
}
