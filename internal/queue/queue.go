// Package queue implements the identify queue: a serial ticket dispenser
// that guarantees at least QueueWait between successive dispenses, shared
// by every shard supervisor in the process.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// QueueWait is the minimum wall-clock gap the gateway's identify rate
// limit requires between successive identify attempts, plus a small
// safety margin (spec.md §4.1).
const QueueWait = 7 * time.Second

// ErrClosed names the closed-queue condition. Up does not return it: the
// run loop stops only when its context is cancelled, and Up reports
// cancellation through its own ctx.Err().
var ErrClosed = xerrors.New("identify queue is closed")

// ticket is the one-shot channel a waiting caller blocks on. Closing it
// (rather than sending a value) lets Run signal success without the
// caller racing a send against a receive.
type ticket chan struct{}

// Queue serialises identify attempts across every shard owned by this
// process. It is safe for concurrent use; Up may be called from any
// number of goroutines.
type Queue struct {
	logger zerolog.Logger

	requests chan ticket
	wait     time.Duration
}

// New creates a Queue. Run must be started in its own goroutine before
// any call to Up will make progress.
func New(logger zerolog.Logger) *Queue {
	return newWithWait(logger, QueueWait)
}

func newWithWait(logger zerolog.Logger, wait time.Duration) *Queue {
	return &Queue{
		logger:   logger.With().Str("component", "identify_queue").Logger(),
		requests: make(chan ticket),
		wait:     wait,
	}
}

// Up enqueues a request for this shard id and blocks until the queue
// dispenses its ticket. It returns ctx.Err() if ctx is done first; once
// the run loop has stopped, Up returns only when ctx is done.
func (q *Queue) Up(ctx context.Context, shardID uint16) error {
	t := make(ticket)

	select {
	case q.requests <- t:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t:
		q.logger.Debug().Uint16("shard", shardID).Msg("received identify ticket")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the queue's single long-lived task (spec.md §4.1 "Algorithm").
// It serves requests strictly in FIFO order of enqueue, sleeping
// QueueWait after every successful dispense so consecutive dispenses are
// never closer together than the gateway's identify rate limit allows.
//
// Run returns when ctx is cancelled. Pending and future callers to Up
// then observe ctx.Err() (via their own select) rather than a dedicated
// closed-queue error, since cancellation is the only way this
// implementation tears the loop down.
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info().Msg("identify queue starting")

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("identify queue stopping")

			return
		case t := <-q.requests:
			close(t)

			timer.Reset(q.wait)

			select {
			case <-timer.C:
			case <-ctx.Done():
				q.logger.Info().Msg("identify queue stopping mid-wait")

				return
			}
		}
	}
}
