package web

import (
	"context"
	"errors"
)

// ErrUnknownChannel is returned for a channel code that is not configured.
var ErrUnknownChannel = errors.New("unknown channel")

// Controller changes channel settings on behalf of HTTP clients.
type Controller interface {
	SetPower(ctx context.Context, code byte, on bool) error
	SetInterval(ctx context.Context, code byte, seconds uint32) error
}

// Command is a queued channel change. Exactly one of Power or Interval is
// set. The driver applies it and reports the outcome with Done.
type Command struct {
	Code     byte
	Power    *bool
	Interval uint32

	reply chan error
}

// Done reports the outcome to the waiting HTTP handler.
func (c Command) Done(err error) {
	c.reply <- err
}

// Queue is a Controller that hands commands to the driver loop, which owns
// the channels, and waits for each to be applied.
type Queue struct {
	ch chan Command
}

// NewQueue creates a Queue with room for size pending commands.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Command, size)}
}

// C is drained by the driver loop.
func (q *Queue) C() <-chan Command {
	return q.ch
}

// SetPower queues a power change and waits for it to be applied.
func (q *Queue) SetPower(ctx context.Context, code byte, on bool) error {
	return q.submit(ctx, Command{Code: code, Power: &on})
}

// SetInterval queues an interval change and waits for it to be applied.
func (q *Queue) SetInterval(ctx context.Context, code byte, seconds uint32) error {
	return q.submit(ctx, Command{Code: code, Interval: seconds})
}

func (q *Queue) submit(ctx context.Context, cmd Command) error {
	cmd.reply = make(chan error, 1)
	select {
	case q.ch <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
