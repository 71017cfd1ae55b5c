// Package scheduler paces frame production.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Scheduler decides when a frame is due.
type Scheduler interface {
	// Next returns the moment frame is due, relative to the start of the
	// stream. ok is false when no more frames should be produced.
	Next(frame int64) (at time.Duration, ok bool)
}

type CountLimiter struct {
	s     Scheduler
	limit int64
}

func NewCountLimiter(s Scheduler, limit int64) CountLimiter {
	return CountLimiter{s, limit}
}

func (cl CountLimiter) Next(frame int64) (time.Duration, bool) {
	if frame >= cl.limit {
		return 0, false
	}
	return cl.s.Next(frame)
}

// A Constant produces frames at a fixed rate.
type Constant struct {
	interval time.Duration
}

func NewConstant(fps uint64) (Constant, error) {
	if fps == 0 {
		return Constant{}, fmt.Errorf("fps must be positive")
	}
	return Constant{time.Second / time.Duration(fps)}, nil
}

func (cp Constant) Next(frame int64) (time.Duration, bool) {
	return time.Duration(frame) * cp.interval, true
}

// Unlimited produces frames as fast as the pipeline accepts them.
type Unlimited struct{}

func (Unlimited) Next(int64) (time.Duration, bool) {
	return 0, true
}

// Line ramps the frame rate linearly from one fps to another over d.
type Line struct {
	b          float64
	twoA       float64
	bSquare    float64
	bilionDivA float64
}

func NewLine(from, to float64, d time.Duration) (Line, error) {
	if from <= 0 || to <= 0 {
		return Line{}, fmt.Errorf("fps range [%g, %g] must be positive", from, to)
	}
	if d <= 0 {
		return Line{}, fmt.Errorf("ramp duration %s must be positive", d)
	}
	a := (to - from) / d.Seconds()
	b := from
	l := Line{b: b, bSquare: b * b}
	if a != 0 {
		l.twoA = 2 * a
		l.bilionDivA = 1e9 / a
	}
	return l, nil
}

func (cp Line) Next(frame int64) (time.Duration, bool) {
	if cp.twoA == 0 {
		return time.Duration(float64(frame) / cp.b * 1e9), true
	}
	// frames(t) = a*t^2/2 + b*t, solved for t
	return time.Duration((math.Sqrt(cp.twoA*float64(frame)+cp.bSquare) - cp.b) * cp.bilionDivA), true
}

// Run calls fn for every frame at the moment s makes it due. A frame that is
// already late runs immediately; the schedule is not shifted.
func Run(ctx context.Context, s Scheduler, fn func(frame int64) error) error {
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for frame := int64(0); ; frame++ {
		at, ok := s.Next(frame)
		if !ok {
			return nil
		}
		if wait := time.Until(start.Add(at)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(frame); err != nil {
			return err
		}
	}
}

// DurationLimiter stops the schedule once frames fall due after limit.
type DurationLimiter struct {
	s     Scheduler
	limit time.Duration
}

func NewDurationLimiter(s Scheduler, limit time.Duration) DurationLimiter {
	return DurationLimiter{s, limit}
}

func (dl DurationLimiter) Next(frame int64) (time.Duration, bool) {
	at, ok := dl.s.Next(frame)
	if !ok || at > dl.limit {
		return 0, false
	}
	return at, true
}
