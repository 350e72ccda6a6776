// Package hlc issues hybrid logical clock versions.
//
// A Version packs wall-clock milliseconds into the upper 48 bits and a logical
// counter into the lower 16 bits, so versions compare as plain integers.
// All versions of a process come out of a single Clock goroutine, which keeps
// them strictly increasing no matter how many writers ask concurrently.
package hlc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

const (
	logicalBits = 16
	logicalMask = 1<<logicalBits - 1
)

// ErrStopped is returned by Clock methods after the clock has been stopped.
var ErrStopped = errors.New("hlc: clock stopped")

// Version is a totally ordered hybrid logical timestamp. Zero means "none".
type Version uint64

func Make(physicalMillis int64, logical uint16) Version {
	if physicalMillis < 0 {
		panic("hlc: negative physical time")
	}
	return Version(uint64(physicalMillis)<<logicalBits | uint64(logical))
}

func FromTime(t time.Time) Version {
	return Make(t.UnixMilli(), 0)
}

func (v Version) Physical() int64 {
	return int64(uint64(v) >> logicalBits)
}

func (v Version) Logical() uint16 {
	return uint16(uint64(v) & logicalMask)
}

func (v Version) Time() time.Time {
	return time.UnixMilli(v.Physical()).UTC()
}

func (v Version) IsZero() bool {
	return v == 0
}

func (v Version) String() string {
	if v == 0 {
		return "v0"
	}
	return fmt.Sprintf("v%d.%d", v.Physical(), v.Logical())
}

type request struct {
	observe Version
	reply   chan Version
}

// Clock is the single actor that hands out versions.
type Clock struct {
	clk  clock.Clock
	reqs chan request
	tomb tomb.Tomb

	last Version // owned by the loop goroutine
}

// New starts a clock. A nil clk means the wall clock.
func New(clk clock.Clock) *Clock {
	if clk == nil {
		clk = clock.WallClock
	}
	c := &Clock{
		clk:  clk,
		reqs: make(chan request),
	}
	c.tomb.Go(c.loop)
	return c
}

func (c *Clock) loop() error {
	for {
		select {
		case <-c.tomb.Dying():
			return tomb.ErrDying
		case req := <-c.reqs:
			if req.observe != 0 {
				if req.observe > c.last {
					c.last = req.observe
				}
				req.reply <- c.last
				continue
			}
			c.last = c.tick(c.last)
			req.reply <- c.last
		}
	}
}

func (c *Clock) tick(last Version) Version {
	now := FromTime(c.clk.Now())
	if now > last {
		return now
	}
	// the wall clock is behind (or equal); a logical overflow carries into
	// the physical part, which is fine for ordering
	return last + 1
}

// Next returns a version strictly greater than every version returned or
// observed before.
func (c *Clock) Next(ctx context.Context) (Version, error) {
	return c.call(ctx, request{reply: make(chan Version, 1)})
}

// Observe moves the clock forward so that future versions are greater than v.
// Used when loading persisted records.
func (c *Clock) Observe(ctx context.Context, v Version) error {
	if v == 0 {
		return nil
	}
	_, err := c.call(ctx, request{observe: v, reply: make(chan Version, 1)})
	return err
}

func (c *Clock) call(ctx context.Context, req request) (Version, error) {
	select {
	case c.reqs <- req:
	case <-c.tomb.Dying():
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	// the loop always answers a request it has accepted
	return <-req.reply, nil
}

// Stop terminates the clock goroutine and waits for it to exit.
func (c *Clock) Stop() {
	c.tomb.Kill(nil)
	_ = c.tomb.Wait()
}
